package websocket

import (
	"sync"

	"github.com/samber/lo"
)

// Registry tracks every live WebSocket connection by session id
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic;
// channel membership lives in the router
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// Register tracks conn under sessionID
func (r *Registry) Register(sessionID string, conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[sessionID]; exists {
		return ErrDuplicateSession
	}
	r.connections[sessionID] = conn
	return nil
}

// Unregister stops tracking sessionID
// RACE CONDITION FIX: Only removes the connection if it matches the one currently registered
func (r *Registry) Unregister(sessionID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[sessionID]; exists && registered == conn {
		delete(r.connections, sessionID)
	}
}

// Get returns the connection of sessionID
func (r *Registry) Get(sessionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[sessionID]
	return conn, exists
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every live connection and returns how many were closed.
// Read loops observe the close and run their own cleanup.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	snapshot := lo.Values(r.connections)
	r.mu.RUnlock()

	for _, conn := range snapshot {
		_ = conn.Close()
	}
	return len(snapshot)
}
