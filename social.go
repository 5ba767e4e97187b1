package main

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// createNotification records a notification row. Failures are logged, not
// surfaced; a missing notification never fails the action that caused it.
func createNotification(db *sql.DB, userID, fromUserID int, notificationType, content string) {
	_, err := db.Exec(`
        INSERT INTO notifications (user_id, from_user_id, notification_type, content)
        VALUES ($1, $2, $3, $4)
    `, userID, fromUserID, notificationType, content)
	if err != nil {
		log.Println("Error creating notification:", err)
	}
}

// POST /follow/{id} - toggle a follow edge. Following or unfollowing changes
// which users belong on the follower's recommendation pages, so the
// follower's cache is invalidated before the response.
func toggleFollowHandler(db *sql.DB, cache *RecommendationCache) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || parts[0] != "follow" {
			http.NotFound(w, r)
			return
		}
		targetID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		userID := r.Context().Value(userIDKey).(int)
		if targetID == userID {
			writeError(w, http.StatusBadRequest, "cannot_follow_self")
			return
		}

		var username string
		err = db.QueryRow("SELECT username FROM users WHERE id = $1 AND is_active = TRUE", targetID).Scan(&username)
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "not_found")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		var followerName string
		_ = db.QueryRow("SELECT username FROM users WHERE id = $1", userID).Scan(&followerName)

		isFollowing := false
		err = withTx(r.Context(), db, func(tx *sql.Tx) error {
			res, err := tx.Exec(`
                DELETE FROM follows WHERE follower_id = $1 AND following_id = $2
            `, userID, targetID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
			_, err = tx.Exec(`
                INSERT INTO follows (follower_id, following_id) VALUES ($1, $2)
                ON CONFLICT DO NOTHING
            `, userID, targetID)
			isFollowing = err == nil
			return err
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "follow_error")
			log.Println("Error toggling follow:", err)
			return
		}

		if isFollowing {
			createNotification(db, targetID, userID, "follow", followerName+" started following you")
		} else {
			createNotification(db, targetID, userID, "follow", followerName+" unfollowed you")
		}

		// Synchronous invalidation: the follower's discover page must refresh.
		if err := cache.InvalidateUser(r.Context(), userID); err != nil {
			writeError(w, http.StatusInternalServerError, "cache_error")
			log.Println("Error invalidating cache after follow toggle:", err)
			return
		}

		var followersCount int
		_ = db.QueryRow("SELECT COUNT(*) FROM follows WHERE following_id = $1", targetID).Scan(&followersCount)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"is_following":    isFollowing,
			"followers_count": followersCount,
		})
	})
}

type followListUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func queryFollowList(db *sql.DB, query string, userID int) ([]followListUser, error) {
	rows, err := db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []followListUser{}
	for rows.Next() {
		var u followListUser
		var first, last string
		if err := rows.Scan(&u.ID, &u.Username, &first, &last); err != nil {
			return nil, err
		}
		u.FullName = (&UserProfile{Username: u.Username, FirstName: first, LastName: last}).FullName()
		users = append(users, u)
	}
	return users, rows.Err()
}

// GET /followers/{id} and GET /following/{id}
func followListHandler(db *sql.DB, listFollowers bool) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		targetID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}

		var query string
		if listFollowers {
			query = `
                SELECT u.id, u.username, u.first_name, u.last_name
                FROM follows f JOIN users u ON u.id = f.follower_id
                WHERE f.following_id = $1
                ORDER BY f.created_at DESC`
		} else {
			query = `
                SELECT u.id, u.username, u.first_name, u.last_name
                FROM follows f JOIN users u ON u.id = f.following_id
                WHERE f.follower_id = $1
                ORDER BY f.created_at DESC`
		}

		users, err := queryFollowList(db, query, targetID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error listing follows:", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]followListUser{"users": users})
	})
}

type notificationRow struct {
	ID               int       `json:"id"`
	FromUserID       *int      `json:"from_user_id"`
	NotificationType string    `json:"notification_type"`
	Content          string    `json:"content"`
	IsRead           bool      `json:"is_read"`
	CreatedAt        time.Time `json:"created_at"`
}

// GET /notifications
func notificationsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		rows, err := db.Query(`
            SELECT id, from_user_id, notification_type, content, is_read, created_at
            FROM notifications
            WHERE user_id = $1
            ORDER BY created_at DESC
            LIMIT 100
        `, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		notifications := []notificationRow{}
		for rows.Next() {
			var n notificationRow
			var fromUser sql.NullInt64
			if err := rows.Scan(&n.ID, &fromUser, &n.NotificationType, &n.Content, &n.IsRead, &n.CreatedAt); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if fromUser.Valid {
				v := int(fromUser.Int64)
				n.FromUserID = &v
			}
			notifications = append(notifications, n)
		}
		writeJSON(w, http.StatusOK, map[string][]notificationRow{"notifications": notifications})
	})
}

// POST /notifications/{id}/read, DELETE /notifications/{id},
// POST /notifications/read-all, DELETE /notifications/all
func notificationsActionsRouter(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "notifications" {
			http.NotFound(w, r)
			return
		}

		switch {
		case parts[1] == "read-all" && r.Method == http.MethodPost:
			_, err := db.Exec("UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE", userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "all notifications marked as read"})

		case parts[1] == "all" && r.Method == http.MethodDelete:
			_, err := db.Exec("DELETE FROM notifications WHERE user_id = $1", userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "all notifications deleted"})

		case len(parts) == 3 && parts[2] == "read" && r.Method == http.MethodPost:
			id, err := strconv.Atoi(parts[1])
			if err != nil {
				http.NotFound(w, r)
				return
			}
			res, err := db.Exec("UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2", id, userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if n, _ := res.RowsAffected(); n == 0 {
				writeError(w, http.StatusNotFound, "not_found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "notification marked as read"})

		case len(parts) == 2 && r.Method == http.MethodDelete:
			id, err := strconv.Atoi(parts[1])
			if err != nil {
				http.NotFound(w, r)
				return
			}
			res, err := db.Exec("DELETE FROM notifications WHERE id = $1 AND user_id = $2", id, userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if n, _ := res.RowsAffected(); n == 0 {
				writeError(w, http.StatusNotFound, "not_found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "notification deleted"})

		default:
			http.NotFound(w, r)
		}
	})
}
