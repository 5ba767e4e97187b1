package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
)

// GET/PUT /me/settings. Settings are created lazily with defaults; updates
// that touch a matchmaking field invalidate the recommendation cache before
// the response goes out.
func meSettingsHandler(db *sql.DB, store *PostgresStore, cache *RecommendationCache) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		switch r.Method {
		case http.MethodGet:
			settings, err := store.GetOrCreateSettings(r.Context(), userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				log.Println("Error loading settings:", err)
				return
			}
			writeJSON(w, http.StatusOK, settings)

		case http.MethodPut, http.MethodPatch:
			current, err := store.GetOrCreateSettings(r.Context(), userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				log.Println("Error loading settings:", err)
				return
			}

			// Decode over the current values so a partial body only changes
			// the fields it names.
			updated := *current
			if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}
			updated.UserID = userID

			if updated.MinAge < 18 || updated.MaxAge < updated.MinAge || updated.LocationRadius < 1 {
				writeError(w, http.StatusBadRequest, "invalid_settings")
				return
			}

			_, err = db.Exec(`
                INSERT INTO user_settings (
                    user_id, likes_notifications, shares_notifications, matches_notifications,
                    messages_notifications, profile_visibility, show_location, allow_messages,
                    show_online_status, location_radius, min_age, max_age, show_distance,
                    theme, font_size, updated_at
                ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
                ON CONFLICT (user_id) DO UPDATE SET
                    likes_notifications = EXCLUDED.likes_notifications,
                    shares_notifications = EXCLUDED.shares_notifications,
                    matches_notifications = EXCLUDED.matches_notifications,
                    messages_notifications = EXCLUDED.messages_notifications,
                    profile_visibility = EXCLUDED.profile_visibility,
                    show_location = EXCLUDED.show_location,
                    allow_messages = EXCLUDED.allow_messages,
                    show_online_status = EXCLUDED.show_online_status,
                    location_radius = EXCLUDED.location_radius,
                    min_age = EXCLUDED.min_age,
                    max_age = EXCLUDED.max_age,
                    show_distance = EXCLUDED.show_distance,
                    theme = EXCLUDED.theme,
                    font_size = EXCLUDED.font_size,
                    updated_at = NOW()
            `, updated.UserID, updated.LikesNotifications, updated.SharesNotifications,
				updated.MatchesNotifications, updated.MessagesNotifications,
				updated.ProfileVisibility, updated.ShowLocation, updated.AllowMessages,
				updated.ShowOnlineStatus, updated.LocationRadius, updated.MinAge,
				updated.MaxAge, updated.ShowDistance, updated.Theme, updated.FontSize)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "settings_save_error")
				log.Println("Error saving settings:", err)
				return
			}

			if matchingSettingsChanged(current, &updated) {
				if err := cache.InvalidateUser(r.Context(), userID); err != nil {
					writeError(w, http.StatusInternalServerError, "cache_error")
					log.Println("Error invalidating cache after settings update:", err)
					return
				}
			}
			writeJSON(w, http.StatusOK, updated)

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

func matchingSettingsChanged(a, b *UserSettings) bool {
	return a.LocationRadius != b.LocationRadius ||
		a.MinAge != b.MinAge ||
		a.MaxAge != b.MaxAge ||
		a.ShowDistance != b.ShowDistance
}
