package interfaces

// Connection represents one live client transport
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the session layer independent of WebSocket infrastructure
type Connection interface {
	// WriteJSON sends a JSON frame to the client (thread-safe, single-writer)
	WriteJSON(v interface{}) error

	// Close closes the connection and releases transport resources. Idempotent.
	Close() error

	// RemoteAddr identifies the peer for logging
	RemoteAddr() string
}
