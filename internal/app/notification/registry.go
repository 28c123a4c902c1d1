// Package notification pushes event-derived messages to connected websocket
// clients. Delivery is best effort: a user with no open connection simply
// misses the push, and the event is still acknowledged.
package notification

import (
	"log"
	"sync"

	"github.com/nats-io/nuid"
)

// Conn is the minimal write surface a registered connection must offer.
type Conn interface {
	WriteJSON(v any) error
}

// Registry tracks live connections per user. All methods are safe for
// concurrent use.
type Registry struct {
	mu    sync.Mutex
	users map[string]map[string]Conn
	newID func() string
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[string]Conn),
		newID: nuid.Next,
	}
}

// Add registers conn under userID and returns its connection id, used to
// remove exactly this connection later.
func (r *Registry) Add(userID string, conn Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]Conn)
		r.users[userID] = set
	}
	set[id] = conn
	return id
}

func (r *Registry) Remove(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}

// SendToUser writes payload to every connection of userID and prunes the
// connections whose write failed. Returns the number of successful writes.
func (r *Registry) SendToUser(userID string, payload any) int {
	r.mu.Lock()
	conns := make(map[string]Conn, len(r.users[userID]))
	for id, conn := range r.users[userID] {
		conns[id] = conn
	}
	r.mu.Unlock()

	delivered := 0
	for id, conn := range conns {
		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("dropping connection %s of user %s: %v", id, userID, err)
			r.Remove(userID, id)
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast writes payload to every connected user.
func (r *Registry) Broadcast(payload any) int {
	r.mu.Lock()
	userIDs := make([]string, 0, len(r.users))
	for userID := range r.users {
		userIDs = append(userIDs, userID)
	}
	r.mu.Unlock()

	delivered := 0
	for _, userID := range userIDs {
		delivered += r.SendToUser(userID, payload)
	}
	return delivered
}

func (r *Registry) ConnectedUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *Registry) ActiveConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, set := range r.users {
		total += len(set)
	}
	return total
}
