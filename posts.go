package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type postView struct {
	ID          int       `json:"id"`
	UserID      int       `json:"user_id"`
	Username    string    `json:"username"`
	FullName    string    `json:"full_name"`
	Content     string    `json:"content"`
	LikesCount  int       `json:"likes_count"`
	SharesCount int       `json:"shares_count"`
	IsLiked     bool      `json:"is_liked"`
	CreatedAt   time.Time `json:"created_at"`
}

// /posts: POST creates a post, GET lists the viewer's feed (own posts plus
// posts from followed users, newest first).
func postsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		switch r.Method {
		case http.MethodPost:
			var req struct {
				Content string `json:"content"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request")
				return
			}
			req.Content = strings.TrimSpace(req.Content)
			if req.Content == "" || len(req.Content) > 2000 {
				writeError(w, http.StatusBadRequest, "invalid_content")
				return
			}

			var id int
			var createdAt time.Time
			err := db.QueryRow(`
                INSERT INTO posts (user_id, content) VALUES ($1, $2)
                RETURNING id, created_at
            `, userID, req.Content).Scan(&id, &createdAt)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				log.Println("Error creating post:", err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]interface{}{
				"id":         id,
				"content":    req.Content,
				"created_at": createdAt,
			})

		case http.MethodGet:
			rows, err := db.Query(`
                SELECT p.id, p.user_id, u.username, u.first_name, u.last_name, p.content,
                       (SELECT COUNT(*) FROM post_likes pl WHERE pl.post_id = p.id),
                       (SELECT COUNT(*) FROM post_shares ps WHERE ps.post_id = p.id),
                       EXISTS (SELECT 1 FROM post_likes pl WHERE pl.post_id = p.id AND pl.user_id = $1),
                       p.created_at
                FROM posts p
                JOIN users u ON u.id = p.user_id
                WHERE p.user_id = $1
                   OR p.user_id IN (SELECT following_id FROM follows WHERE follower_id = $1)
                ORDER BY p.created_at DESC
                LIMIT 50
            `, userID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				log.Println("Error listing posts:", err)
				return
			}
			defer rows.Close()

			posts := []postView{}
			for rows.Next() {
				var p postView
				var first, last string
				if err := rows.Scan(&p.ID, &p.UserID, &p.Username, &first, &last, &p.Content,
					&p.LikesCount, &p.SharesCount, &p.IsLiked, &p.CreatedAt); err != nil {
					writeError(w, http.StatusInternalServerError, "db_error")
					return
				}
				p.FullName = (&UserProfile{Username: p.Username, FirstName: first, LastName: last}).FullName()
				posts = append(posts, p)
			}
			writeJSON(w, http.StatusOK, map[string][]postView{"posts": posts})

		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

// /posts/{id}, /posts/{id}/like, /posts/{id}/share
func postActionsRouter(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "posts" {
			http.NotFound(w, r)
			return
		}
		postID, err := strconv.Atoi(parts[1])
		if err != nil {
			http.NotFound(w, r)
			return
		}

		var ownerID int
		err = db.QueryRow("SELECT user_id FROM posts WHERE id = $1", postID).Scan(&ownerID)
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "not_found")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		switch {
		case len(parts) == 2 && r.Method == http.MethodDelete:
			if ownerID != userID {
				writeError(w, http.StatusForbidden, "not_post_owner")
				return
			}
			if _, err := db.Exec("DELETE FROM posts WHERE id = $1", postID); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "post deleted"})

		case len(parts) == 3 && parts[2] == "like" && r.Method == http.MethodPost:
			togglePostLike(db, w, r, postID, userID, ownerID)

		case len(parts) == 3 && parts[2] == "share" && r.Method == http.MethodPost:
			sharePost(db, w, postID, userID, ownerID)

		default:
			http.NotFound(w, r)
		}
	})
}

func togglePostLike(db *sql.DB, w http.ResponseWriter, r *http.Request, postID, userID, ownerID int) {
	liked := false
	err := withTx(r.Context(), db, func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2", postID, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.Exec("INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)", postID, userID)
		liked = err == nil
		return err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "like_error")
		log.Println("Error toggling like:", err)
		return
	}

	if liked && ownerID != userID {
		var likerName string
		_ = db.QueryRow("SELECT username FROM users WHERE id = $1", userID).Scan(&likerName)
		if notificationEnabled(db, ownerID, "likes_notifications") {
			createNotification(db, ownerID, userID, "like", likerName+" liked your post")
		}
	}

	var likesCount int
	_ = db.QueryRow("SELECT COUNT(*) FROM post_likes WHERE post_id = $1", postID).Scan(&likesCount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_liked":    liked,
		"likes_count": likesCount,
	})
}

func sharePost(db *sql.DB, w http.ResponseWriter, postID, userID, ownerID int) {
	res, err := db.Exec(`
        INSERT INTO post_shares (post_id, user_id) VALUES ($1, $2)
        ON CONFLICT DO NOTHING
    `, postID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "share_error")
		log.Println("Error sharing post:", err)
		return
	}

	if n, _ := res.RowsAffected(); n > 0 && ownerID != userID {
		var sharerName string
		_ = db.QueryRow("SELECT username FROM users WHERE id = $1", userID).Scan(&sharerName)
		if notificationEnabled(db, ownerID, "shares_notifications") {
			createNotification(db, ownerID, userID, "share", sharerName+" shared your post")
		}
	}

	var sharesCount int
	_ = db.QueryRow("SELECT COUNT(*) FROM post_shares WHERE post_id = $1", postID).Scan(&sharesCount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shares_count": sharesCount,
	})
}

// notificationEnabled checks a single settings column; users without a
// settings row get the default (enabled).
func notificationEnabled(db *sql.DB, userID int, column string) bool {
	enabled := true
	query := fmt.Sprintf("SELECT %s FROM user_settings WHERE user_id = $1", column)
	err := db.QueryRow(query, userID).Scan(&enabled)
	if err != nil && err != sql.ErrNoRows {
		log.Println("Error reading notification setting:", err)
	}
	return enabled
}
