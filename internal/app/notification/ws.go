package notification

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients connect from arbitrary frontend origins behind the gateway.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConnection serializes writes. Gorilla connections allow at most one
// concurrent writer, and pushes can race with the ping responder.
type wsConnection struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConnection) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConnection) writeText(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// ServeWS upgrades GET /ws/{userID} and keeps the connection registered until
// the client goes away.
func ServeWS(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			http.Error(w, "user id required", http.StatusBadRequest)
			return
		}

		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade failed for user %s: %v", userID, err)
			return
		}

		conn := &wsConnection{conn: raw}
		connID := registry.Add(userID, conn)
		log.Printf("user %s connected (%s)", userID, connID)

		welcome := map[string]string{
			"type":      "connected",
			"message":   "Connected to notification service",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if err := conn.WriteJSON(welcome); err != nil {
			registry.Remove(userID, connID)
			_ = raw.Close()
			return
		}

		defer func() {
			registry.Remove(userID, connID)
			_ = raw.Close()
			log.Printf("user %s disconnected (%s)", userID, connID)
		}()

		for {
			messageType, message, err := raw.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.TextMessage && string(message) == "ping" {
				if err := conn.writeText("pong"); err != nil {
					return
				}
			}
		}
	}
}
