package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

// JWT secret from environment variable or fallback
func getJWTSecret() []byte {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("your_secret_key_please_change_in_production")
}

var jwtSecret = getJWTSecret()

func main() {
	initDB()

	store := NewPostgresStore(db)
	cache := NewRecommendationCache(store, store, store)
	ranker := NewRanker(store, store)
	textgen := NewMatchTextGeneratorFromEnv()
	if textgen == nil {
		log.Println("OPENAI_API_KEY not set, using generated match commentary")
	}
	recommendations := NewRecommendationService(ranker, cache, store, textgen)

	// Hourly sweep: mark expired cache entries and purge old invalid ones.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			expired, purged, err := cache.Sweep(ctx)
			cancel()
			if err != nil {
				log.Println("Cache sweep error:", err)
				continue
			}
			if expired > 0 || purged > 0 {
				log.Printf("Cache sweep: %d expired, %d purged", expired, purged)
			}
		}
	}()

	mux := http.NewServeMux()

	// Core auth & user endpoints
	mux.Handle("/register", registerHandler(db))
	mux.Handle("/login", loginHandler(db))
	mux.Handle("/me", meHandler(db))
	mux.Handle("/me/profile", meProfileHandler(store))
	mux.Handle("/me/profile/update", updateProfileHandler(db, cache)) // PUT/PATCH
	mux.Handle("/me/settings", meSettingsHandler(db, store, cache))

	// Recommendations
	mux.Handle("/recommendations", recommendationsHandler(db, recommendations))
	mux.Handle("/recommendations/top", topMatchesHandler(recommendations))
	mux.Handle("/recommendations/refresh", invalidateCacheHandler(cache)) // POST

	// Follow graph
	mux.Handle("/follow/", toggleFollowHandler(db, cache))  // POST /follow/{id}
	mux.Handle("/followers/", followListHandler(db, true))  // GET /followers/{id}
	mux.Handle("/following/", followListHandler(db, false)) // GET /following/{id}
	mux.Handle("/notifications", notificationsHandler(db))  // GET
	mux.Handle("/notifications/", notificationsActionsRouter(db))

	// Posts
	mux.Handle("/posts", postsHandler(db))       // POST & GET
	mux.Handle("/posts/", postActionsRouter(db)) // DELETE /posts/{id}, POST .../like, .../share

	// Users dispatcher (public profiles)
	mux.Handle("/users/", usersDispatcher(db, store))

	// WebSocket chat endpoint
	mux.Handle("/ws/chat", wsChatHandler(db))

	// Conversation list + message history
	mux.Handle("/chats", chatsSummaryHandler(db))
	mux.Handle("/chats/", getChatHistoryHandler(db))

	// Health check endpoint for Docker
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Default().Println("Starting VibeLink Backend on port " + port + "...")
	http.ListenAndServe(":"+port, withCORS(mux))
}
