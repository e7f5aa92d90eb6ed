package interfaces

import (
	"context"

	"directchat/pkg/types"
)

// MessageStore is the durable append-only record of direct messages
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations so
// the SQLite and Badger backends are interchangeable behind the session manager
type MessageStore interface {
	// Append validates and persists a message, assigning ID, CreatedAt and Seq.
	// The message is durable when Append returns without error.
	Append(ctx context.Context, sender, receiver, receiverName, body string) (*types.Message, error)

	// History returns every message exchanged between userA and userB in either
	// direction, oldest first (ties by insertion order). Unknown pairs yield an empty slice.
	History(ctx context.Context, userA, userB string) ([]*types.Message, error)

	// ScanInvolving returns every message sent or received by user, newest first
	// (ties by reverse insertion order).
	ScanInvolving(ctx context.Context, user string) ([]*types.Message, error)

	// HealthCheck verifies the backend is reachable
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the backend
	Close() error
}
