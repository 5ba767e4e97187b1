package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
)

func meHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)
		username, fullName, err := fetchBasicUserInfo(db, userID)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":        userID,
			"username":  username,
			"full_name": fullName,
		})
	})
}

// GET /me/profile - full own profile
func meProfileHandler(store *PostgresStore) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		profile, err := store.GetProfile(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusNotFound, "profile_not_found")
			return
		}

		var isCompleted bool
		_ = store.db.QueryRow("SELECT COALESCE(is_completed, FALSE) FROM users WHERE id = $1", userID).Scan(&isCompleted)

		resp := map[string]interface{}{
			"id":           profile.ID,
			"username":     profile.Username,
			"full_name":    profile.FullName(),
			"first_name":   profile.FirstName,
			"last_name":    profile.LastName,
			"bio":          profile.Bio,
			"city":         profile.City,
			"state":        profile.State,
			"hashtags":     profile.Hashtags,
			"is_completed": isCompleted,
		}
		if profile.Age != nil {
			resp["age"] = *profile.Age
		}
		if profile.Latitude != nil {
			resp["latitude"] = *profile.Latitude
		}
		if profile.Longitude != nil {
			resp["longitude"] = *profile.Longitude
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// POST/PATCH /me/profile - create or update the profile. Every field here
// can influence matching, so the cache is invalidated before responding.
func updateProfileHandler(db *sql.DB, cache *RecommendationCache) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		type ProfileRequest struct {
			FirstName string   `json:"first_name"`
			LastName  string   `json:"last_name"`
			Age       *int     `json:"age"`
			Bio       string   `json:"bio"`
			City      string   `json:"city"`
			State     string   `json:"state"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Hashtags  []string `json:"hashtags"`
		}
		var req ProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		if req.Hashtags == nil {
			req.Hashtags = []string{}
		}
		hashtags, _ := json.Marshal(req.Hashtags)

		_, err := db.Exec(`
            UPDATE users SET
                first_name = $2,
                last_name = $3,
                age = $4,
                bio = $5,
                city = $6,
                state = $7,
                latitude = $8,
                longitude = $9,
                hashtags = $10,
                is_completed = TRUE
            WHERE id = $1
        `, userID, req.FirstName, req.LastName, req.Age, req.Bio, req.City,
			req.State, req.Latitude, req.Longitude, hashtags)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "profile_save_error")
			log.Println("Error saving profile:", err)
			return
		}

		// Matching inputs changed; stale recommendation pages must not survive.
		if err := cache.InvalidateUser(r.Context(), userID); err != nil {
			writeError(w, http.StatusInternalServerError, "cache_error")
			log.Println("Error invalidating cache after profile update:", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Dispatcher for /users/* to route profile lookups
func usersDispatcher(db *sql.DB, store *PostgresStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		parts := strings.Split(path, "/")
		if len(parts) != 2 || parts[0] != "users" {
			http.NotFound(w, r)
			return
		}
		userProfileHandler(db, store).ServeHTTP(w, r)
	}
}

// GET /users/{id} - another user's public profile
func userProfileHandler(db *sql.DB, store *PostgresStore) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || parts[0] != "users" {
			http.NotFound(w, r)
			return
		}
		targetID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		requesterID := r.Context().Value(userIDKey).(int)

		profile, err := store.GetProfile(r.Context(), targetID)
		if err != nil || !profile.IsActive {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		isFollowing, err := store.IsFollowing(r.Context(), requesterID, targetID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		var followers, following, posts int
		_ = db.QueryRow("SELECT COUNT(*) FROM follows WHERE following_id = $1", targetID).Scan(&followers)
		_ = db.QueryRow("SELECT COUNT(*) FROM follows WHERE follower_id = $1", targetID).Scan(&following)
		_ = db.QueryRow("SELECT COUNT(*) FROM posts WHERE user_id = $1", targetID).Scan(&posts)

		resp := map[string]interface{}{
			"id":              profile.ID,
			"username":        profile.Username,
			"full_name":       profile.FullName(),
			"bio":             profile.Bio,
			"city":            profile.City,
			"state":           profile.State,
			"hashtags":        profile.Hashtags,
			"is_following":    isFollowing,
			"followers_count": followers,
			"following_count": following,
			"posts_count":     posts,
		}
		if profile.Age != nil {
			resp["age"] = *profile.Age
		}
		writeJSON(w, http.StatusOK, resp)
	})
}
