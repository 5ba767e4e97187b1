package main

import (
	"context"
	"encoding/json"
	"time"
)

// UserProfile is the read-only view of a user that matchmaking works on.
// Age and coordinates are optional; missing values score zero in their
// dimension rather than being skipped.
type UserProfile struct {
	ID        int      `json:"id"`
	Username  string   `json:"username"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Age       *int     `json:"age"`
	Bio       string   `json:"bio"`
	City      string   `json:"city"`
	State     string   `json:"state"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Hashtags  []string `json:"hashtags"`
	IsActive  bool     `json:"is_active"`
}

// FullName mirrors the profile serializer: "first last", or username if both empty.
func (p *UserProfile) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	default:
		return p.Username
	}
}

// UserSettings holds per-user preferences. Matchmaking reads LocationRadius,
// MinAge, MaxAge and ShowDistance; the rest is notification/privacy plumbing.
type UserSettings struct {
	UserID                int    `json:"user_id"`
	LikesNotifications    bool   `json:"likes_notifications"`
	SharesNotifications   bool   `json:"shares_notifications"`
	MatchesNotifications  bool   `json:"matches_notifications"`
	MessagesNotifications bool   `json:"messages_notifications"`
	ProfileVisibility     string `json:"profile_visibility"`
	ShowLocation          bool   `json:"show_location"`
	AllowMessages         string `json:"allow_messages"`
	ShowOnlineStatus      bool   `json:"show_online_status"`
	LocationRadius        int    `json:"location_radius"`
	MinAge                int    `json:"min_age"`
	MaxAge                int    `json:"max_age"`
	ShowDistance          bool   `json:"show_distance"`
	Theme                 string `json:"theme"`
	FontSize              string `json:"font_size"`
}

// defaultSettings is what GetOrCreateSettings materializes for users who have
// never touched their settings page.
func defaultSettings(userID int) *UserSettings {
	return &UserSettings{
		UserID:                userID,
		LikesNotifications:    true,
		SharesNotifications:   true,
		MatchesNotifications:  true,
		MessagesNotifications: true,
		ProfileVisibility:     "public",
		ShowLocation:          true,
		AllowMessages:         "friends",
		ShowOnlineStatus:      false,
		LocationRadius:        50,
		MinAge:                18,
		MaxAge:                65,
		ShowDistance:          true,
		Theme:                 "system",
		FontSize:              "medium",
	}
}

// SubScores are the per-dimension compatibility scores, already scaled to
// percentages (0-100, one decimal).
type SubScores struct {
	Age      float64 `json:"age"`
	Location float64 `json:"location"`
	Hashtags float64 `json:"hashtags"`
	Bio      float64 `json:"bio"`
}

// MatchResult is the outcome of scoring one candidate against the requester.
// It is computed fresh per call and never persisted; only the assembled
// recommendation page goes through the cache.
type MatchResult struct {
	UserID       int       `json:"user_id"`
	Overall      float64   `json:"overall_score"` // 0-100, one decimal
	Scores       SubScores `json:"scores"`
	Distance     *float64  `json:"distance"` // km, nil when either side has no coordinates
	IsCompatible bool      `json:"is_compatible"`
}

// Match pairs a candidate profile with its score for ranking.
type Match struct {
	Profile *UserProfile
	Result  MatchResult
}

// CacheEntry is one row of the recommendation cache. Invalidation clears
// IsValid instead of deleting so the sweeper can purge on its own schedule.
type CacheEntry struct {
	ID           int
	UserID       int
	CacheKey     string
	Fingerprint  string
	Payload      json.RawMessage
	Page         int
	PageSize     int
	TotalMatches int
	CreatedAt    time.Time
	ExpiresAt    time.Time
	IsValid      bool
}

// CandidateFilter narrows the population scan before any per-pair scoring
// happens. Age bounds come from the requester's settings; coordinates are
// only required when the requester has some.
type CandidateFilter struct {
	ExcludeUserID int
	MinAge        int
	MaxAge        int
	RequireCoords bool
}

// ProfileStore supplies user profiles to the matchmaking core.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID int) (*UserProfile, error)
	ListCandidates(ctx context.Context, f CandidateFilter) ([]*UserProfile, error)
}

// SettingsStore supplies preferences. GetOrCreateSettings never reports a
// missing row: absent settings materialize as defaults.
type SettingsStore interface {
	GetOrCreateSettings(ctx context.Context, userID int) (*UserSettings, error)
}

// FollowStore answers follow-graph questions; the core uses it only to drop
// already-followed users from recommendation pages.
type FollowStore interface {
	IsFollowing(ctx context.Context, followerID, followingID int) (bool, error)
}

// CacheStore is the durable backend of the recommendation cache. PutEntry
// must atomically invalidate every valid entry of entry.UserID and insert the
// new one; callers additionally serialize per user.
type CacheStore interface {
	FindValidEntry(ctx context.Context, userID int, cacheKey string, now time.Time) (*CacheEntry, error)
	PutEntry(ctx context.Context, entry *CacheEntry) error
	InvalidateUserEntries(ctx context.Context, userID int) error
	MarkExpiredEntries(ctx context.Context, now time.Time) (int, error)
	PurgeInvalidEntriesBefore(ctx context.Context, cutoff time.Time) (int, error)
}
