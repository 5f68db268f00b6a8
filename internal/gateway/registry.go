// Package gateway provides the WebSocket streaming plane: per-connection
// authentication, session binding, audio segmentation, and reply
// forwarding.
package gateway

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks live WebSocket connections per user. A user may hold
// several simultaneous connections sharing one session; each gets its own
// connection id, engine state, and reply queue.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates a connection registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a live connection for a user.
func (r *Registry) Register(userID, connectionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[userID]; !exists {
		r.active[userID] = make(map[string]*websocket.Conn)
	}
	r.active[userID][connectionID] = conn
	slog.Info("Connection registered", "user_id", userID, "connection_id", connectionID, "active", len(r.active[userID]))
}

// Unregister removes a connection for a user.
func (r *Registry) Unregister(userID, connectionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.active[userID]; ok {
		if current, exists := conns[connectionID]; exists && current == conn {
			delete(conns, connectionID)
			if len(conns) == 0 {
				delete(r.active, userID)
			}
			slog.Info("Connection unregistered", "user_id", userID, "connection_id", connectionID)
		}
	}
}

// Active returns the number of live connections for a user.
func (r *Registry) Active(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[userID])
}
