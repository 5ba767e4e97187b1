package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChatMessage represents a direct message with metadata
type ChatMessage struct {
	ID   int64     `json:"id"`   // DB message id
	Type string    `json:"type"` // "message"
	From int       `json:"from"`
	To   int       `json:"to,omitempty"`
	Body string    `json:"body,omitempty"`
	Ts   time.Time `json:"ts"` // created_at
}

// ServerEvent represents a server-sent event
type ServerEvent struct {
	Type string `json:"type"` // "message" | "typing" | "info" | "error"
	From int    `json:"from,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	userID int
	conn   *websocket.Conn
	send   chan ServerEvent
	db     *sql.DB
}

// Hub manages WebSocket client connections
type Hub struct {
	clientsByUser map[int]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByUser: make(map[int]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

func (h *Hub) sendToUser(userID int, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if peers, ok := h.clientsByUser[userID]; ok {
		for c := range peers {
			select {
			case c.send <- evt:
			default:
				// Drop message if user's buffer is full
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// For development: allow Vite dev origin ws://localhost:5173
	CheckOrigin: func(r *http.Request) bool { return true },
}

// global hub
var chatHub = newHub()

func wsChatHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromRequest(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WS upgrade error for user %d: %v", userID, err)
			return
		}

		client := &Client{
			userID: userID,
			conn:   conn,
			send:   make(chan ServerEvent, 16),
			db:     db,
		}
		chatHub.register(client)

		// Announce connection to this client
		client.send <- ServerEvent{Type: "info", Data: "connected"}

		// Start writer
		go clientWriter(client)
		// Start reader (blocks)
		clientReader(client)
	}
}

func clientReader(c *Client) {
	defer func() {
		chatHub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ChatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.send <- ServerEvent{Type: "error", Data: "invalid message format"}
			continue
		}

		switch msg.Type {
		case "message":
			if !canMessage(c.db, c.userID, msg.To) {
				c.send <- ServerEvent{Type: "error", Data: "recipient does not accept messages"}
				continue
			}

			id, ts, err := saveChatMsg(c.db, c.userID, msg.To, msg.Body)
			if err != nil {
				c.send <- ServerEvent{Type: "error", Data: "cannot send message"}
				continue
			}

			outMsg := ChatMessage{
				ID:   id,
				Type: "message",
				From: c.userID,
				To:   msg.To,
				Body: msg.Body,
				Ts:   ts,
			}
			// minimal relay: send to recipient and echo back to sender
			out := ServerEvent{
				Type: "message",
				From: c.userID,
				Data: outMsg,
			}
			chatHub.sendToUser(msg.To, out)
			chatHub.sendToUser(c.userID, out) // echo (so sender UI updates instantly)

			if notificationEnabled(c.db, msg.To, "messages_notifications") {
				var senderName string
				_ = c.db.QueryRow("SELECT username FROM users WHERE id = $1", c.userID).Scan(&senderName)
				createNotification(c.db, msg.To, c.userID, "message", senderName+" sent you a message")
			}

		case "typing":
			// notify recipient that sender is typing
			chatHub.sendToUser(msg.To, ServerEvent{Type: "typing", From: c.userID})

		default:
			c.send <- ServerEvent{Type: "error", Data: "unknown message type"}
		}
	}
}

func clientWriter(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			// ping to keep the connection alive
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// canMessage enforces the recipient's allow_messages preference:
// "everyone", "friends" (mutual follow) or "none". Missing settings fall
// back to "friends".
func canMessage(db *sql.DB, fromUserID, toUserID int) bool {
	if fromUserID == toUserID {
		return false
	}
	policy := "friends"
	err := db.QueryRow("SELECT allow_messages FROM user_settings WHERE user_id = $1", toUserID).Scan(&policy)
	if err != nil && err != sql.ErrNoRows {
		log.Println("Error reading allow_messages:", err)
		return false
	}

	switch policy {
	case "everyone":
		return true
	case "none":
		return false
	default:
		var mutual bool
		err := db.QueryRow(`
            SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND following_id = $2)
               AND EXISTS (SELECT 1 FROM follows WHERE follower_id = $2 AND following_id = $1)
        `, fromUserID, toUserID).Scan(&mutual)
		if err != nil {
			log.Println("Error checking mutual follow:", err)
			return false
		}
		return mutual
	}
}

// Helper function for saving the message history to database
func saveChatMsg(db *sql.DB, fromUserID int, toUserID int, body string) (int64, time.Time, error) {
	var msgID int64
	var createdAt time.Time
	err := db.QueryRow(`
		INSERT INTO messages (sender_id, recipient_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, fromUserID, toUserID, body).Scan(&msgID, &createdAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	return msgID, createdAt, nil
}

func getChatMessages(db *sql.DB, userID int, otherUserID int, limit int, beforeID *int64) ([]ChatMessage, error) {
	q := `
		SELECT id, sender_id, recipient_id, body, created_at
		FROM messages
		WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
			AND ($3::bigint IS NULL OR id < $3)
		ORDER BY id DESC
		LIMIT $4`

	var rows *sql.Rows
	var err error
	if beforeID != nil {
		rows, err = db.Query(q, userID, otherUserID, *beforeID, limit)
	} else {
		rows, err = db.Query(q, userID, otherUserID, nil, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var msgID int64
		var senderID, recipientID int
		var body string
		var createdAt time.Time
		if err := rows.Scan(&msgID, &senderID, &recipientID, &body, &createdAt); err != nil {
			return nil, err
		}

		msgs = append(msgs, ChatMessage{
			ID:   msgID,
			Type: "message",
			From: senderID,
			To:   recipientID,
			Body: body,
			Ts:   createdAt,
		})
	}

	// Check for errors after the last iteration
	if err := rows.Err(); err != nil {
		// Don't mark as read if the query failed
		return nil, err
	}

	// Mark everything the other user sent as read
	_, _ = db.Exec(`
		UPDATE messages
		SET is_read = TRUE
		WHERE sender_id = $2 AND recipient_id = $1 AND is_read IS FALSE
	`, userID, otherUserID)

	return msgs, nil
}

// GET /chats/{otherUserId}/messages?limit=50&before=<message id>
func getChatHistoryHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(userIDKey).(int)

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "chats" || parts[2] != "messages" {
			http.NotFound(w, r)
			return
		}
		otherID, err := strconv.Atoi(parts[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id")
			return
		}

		// query params
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		var beforePtr *int64
		if s := r.URL.Query().Get("before"); s != "" {
			if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
				beforePtr = &id
			}
		}

		msgs, err := getChatMessages(db, userID, otherID, limit, beforePtr)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error fetching messages:", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string][]ChatMessage{"messages": msgs})
	})
}

type chatSummary struct {
	UserID      int       `json:"user_id"`
	Username    string    `json:"username"`
	FullName    string    `json:"full_name"`
	LastMessage string    `json:"last_message"`
	LastAt      time.Time `json:"last_at"`
	UnreadCount int       `json:"unread_count"`
}

// GET /chats - one row per conversation partner, newest first.
func chatsSummaryHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		userID := r.Context().Value(userIDKey).(int)

		rows, err := db.Query(`
			WITH conv AS (
				SELECT DISTINCT ON (peer) peer, body, created_at
				FROM (
					SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS peer,
						   body, created_at
					FROM messages
					WHERE sender_id = $1 OR recipient_id = $1
				) m
				ORDER BY peer, created_at DESC
			)
			SELECT c.peer, u.username, u.first_name, u.last_name, c.body, c.created_at,
				   (SELECT COUNT(*) FROM messages
				    WHERE sender_id = c.peer AND recipient_id = $1 AND is_read IS FALSE)
			FROM conv c
			JOIN users u ON u.id = c.peer
			ORDER BY c.created_at DESC
		`, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			log.Println("Error listing chats:", err)
			return
		}
		defer rows.Close()

		chats := []chatSummary{}
		for rows.Next() {
			var s chatSummary
			var first, last string
			if err := rows.Scan(&s.UserID, &s.Username, &first, &last, &s.LastMessage, &s.LastAt, &s.UnreadCount); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			s.FullName = (&UserProfile{Username: s.Username, FirstName: first, LastName: last}).FullName()
			chats = append(chats, s)
		}
		writeJSON(w, http.StatusOK, map[string][]chatSummary{"chats": chats})
	})
}
