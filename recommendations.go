package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	// How many ranked candidates a cache miss pulls before pagination.
	candidatePoolSize = 100

	defaultPageSize = 8
	maxPageSize     = 20
)

// RecommendedUser is one entry of a recommendation page, exactly as cached
// and served.
type RecommendedUser struct {
	ID                   int       `json:"id"`
	Username             string    `json:"username"`
	FullName             string    `json:"full_name"`
	Bio                  string    `json:"bio"`
	Age                  *int      `json:"age"`
	City                 string    `json:"city"`
	State                string    `json:"state"`
	Hashtags             []string  `json:"hashtags"`
	MatchPercentage      float64   `json:"match_percentage"`
	Distance             *float64  `json:"distance"`
	Scores               SubScores `json:"scores"`
	CompatibilityReasons []string  `json:"compatibility_reasons"`
	ConversationStarters []string  `json:"conversation_starters"`
	SharedInterests      []string  `json:"shared_interests"`
}

// Pagination metadata. On a cache hit it is rebuilt from the entry's stored
// total, never from a fresh scan.
type Pagination struct {
	Page              int  `json:"page"`
	PerPage           int  `json:"per_page"`
	TotalMatches      int  `json:"total_matches"`
	NextPageAvailable bool `json:"next_page_available"`
	TotalPages        int  `json:"total_pages"`
}

// RecommendationsResponse is the wire contract of GET /recommendations.
type RecommendationsResponse struct {
	Recommendations []RecommendedUser `json:"recommendations"`
	Pagination      Pagination        `json:"pagination"`
	Cached          bool              `json:"cached"`
	CacheCreatedAt  *time.Time        `json:"cache_created_at,omitempty"`
}

// RecommendationService orchestrates cache, ranker, follow-graph exclusion
// and commentary generation.
type RecommendationService struct {
	ranker  *Ranker
	cache   *RecommendationCache
	follows FollowStore
	textgen *MatchTextGenerator
}

func NewRecommendationService(ranker *Ranker, cache *RecommendationCache, follows FollowStore, textgen *MatchTextGenerator) *RecommendationService {
	return &RecommendationService{ranker: ranker, cache: cache, follows: follows, textgen: textgen}
}

// GetRecommendations serves one recommendation page, from cache when a valid
// entry matches the user's current state, otherwise computed fresh and
// cached. Out-of-range pagination parameters are corrected, not rejected.
func (s *RecommendationService) GetRecommendations(ctx context.Context, userID, page, perPage int) (*RecommendationsResponse, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPageSize {
		perPage = defaultPageSize
	}

	entry, err := s.cache.GetValid(ctx, userID, page, perPage)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if entry != nil {
		var recs []RecommendedUser
		if err := json.Unmarshal(entry.Payload, &recs); err != nil {
			return nil, fmt.Errorf("decode cached page: %w", err)
		}
		createdAt := entry.CreatedAt
		return &RecommendationsResponse{
			Recommendations: recs,
			Pagination:      paginationFor(page, perPage, entry.TotalMatches),
			Cached:          true,
			CacheCreatedAt:  &createdAt,
		}, nil
	}

	matches, err := s.ranker.TopMatches(ctx, userID, candidatePoolSize)
	if err != nil {
		return nil, err
	}
	matches, err = s.excludeFollowed(ctx, userID, matches)
	if err != nil {
		return nil, err
	}

	total := len(matches)
	start := (page - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	pageMatches := matches[start:end]

	requester, err := s.ranker.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}

	// Deterministic captions first; the generator may upgrade them, its
	// failures never surface.
	commentary, _ := s.textgen.Commentary(ctx, requester, pageMatches)
	recs := make([]RecommendedUser, 0, len(pageMatches))
	for _, m := range pageMatches {
		c, ok := commentary[m.Profile.ID]
		if !ok {
			c = fallbackCommentary(requester, m.Profile)
		}
		recs = append(recs, RecommendedUser{
			ID:                   m.Profile.ID,
			Username:             m.Profile.Username,
			FullName:             m.Profile.FullName(),
			Bio:                  m.Profile.Bio,
			Age:                  m.Profile.Age,
			City:                 m.Profile.City,
			State:                m.Profile.State,
			Hashtags:             m.Profile.Hashtags,
			MatchPercentage:      m.Result.Overall,
			Distance:             m.Result.Distance,
			Scores:               m.Result.Scores,
			CompatibilityReasons: c.CompatibilityReasons,
			ConversationStarters: c.ConversationStarters,
			SharedInterests:      c.SharedInterests,
		})
	}

	payload, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	if err := s.cache.Put(ctx, userID, page, perPage, payload, total); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	return &RecommendationsResponse{
		Recommendations: recs,
		Pagination:      paginationFor(page, perPage, total),
		Cached:          false,
	}, nil
}

// TopMatches is the discover-page variant: ranked, followed users excluded,
// no caching, trimmed to a short list.
func (s *RecommendationService) TopMatches(ctx context.Context, userID, limit int) ([]RecommendedUser, error) {
	matches, err := s.ranker.TopMatches(ctx, userID, candidatePoolSize)
	if err != nil {
		return nil, err
	}
	matches, err = s.excludeFollowed(ctx, userID, matches)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	recs := make([]RecommendedUser, 0, len(matches))
	for _, m := range matches {
		recs = append(recs, RecommendedUser{
			ID:              m.Profile.ID,
			Username:        m.Profile.Username,
			FullName:        m.Profile.FullName(),
			Bio:             m.Profile.Bio,
			Age:             m.Profile.Age,
			City:            m.Profile.City,
			State:           m.Profile.State,
			Hashtags:        m.Profile.Hashtags,
			MatchPercentage: m.Result.Overall,
			Distance:        m.Result.Distance,
			Scores:          m.Result.Scores,
		})
	}
	return recs, nil
}

func (s *RecommendationService) excludeFollowed(ctx context.Context, userID int, matches []Match) ([]Match, error) {
	filtered := matches[:0]
	for _, m := range matches {
		following, err := s.follows.IsFollowing(ctx, userID, m.Profile.ID)
		if err != nil {
			return nil, fmt.Errorf("follow check for %d: %w", m.Profile.ID, err)
		}
		if following {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered, nil
}

func paginationFor(page, perPage, total int) Pagination {
	return Pagination{
		Page:              page,
		PerPage:           perPage,
		TotalMatches:      total,
		NextPageAvailable: page*perPage < total,
		TotalPages:        (total + perPage - 1) / perPage,
	}
}

// GET /recommendations?page=1&per_page=8
func recommendationsHandler(db *sql.DB, svc *RecommendationService) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		// Gate by profile completion
		var isComplete bool
		err := db.QueryRow("SELECT COALESCE(is_completed, FALSE) FROM users WHERE id = $1", userID).Scan(&isComplete)
		if err == sql.ErrNoRows || (err == nil && !isComplete) {
			writeError(w, http.StatusForbidden, "incomplete_profile")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

		resp, err := svc.GetRecommendations(r.Context(), userID, page, perPage)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "recommendation_error")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// GET /recommendations/top - short ranked list for the discover page
func topMatchesHandler(svc *RecommendationService) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		recs, err := svc.TopMatches(r.Context(), userID, 6)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "recommendation_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]RecommendedUser{"matches": recs})
	})
}

// POST /recommendations/refresh - manual cache reset for the current user
func invalidateCacheHandler(cache *RecommendationCache) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		if err := cache.InvalidateUser(r.Context(), userID); err != nil {
			writeError(w, http.StatusInternalServerError, "cache_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": "recommendation cache invalidated",
			"user_id": userID,
		})
	})
}
