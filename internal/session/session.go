package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"directchat/pkg/interfaces"
	"directchat/pkg/types"
)

// State is a position in the session lifecycle
type State int

// Session lifecycle: Connected -> Identified -> InChannel, terminal Disconnected
const (
	StateConnected State = iota
	StateIdentified
	StateInChannel
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateInChannel:
		return "in_channel"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is one live client connection
// ARCHITECTURAL DISCOVERY: One Session per connection; the active channel is
// explicit state rather than transport-level room membership
type Session struct {
	id   string
	conn interfaces.Connection

	ctx    context.Context
	cancel context.CancelFunc

	// TECHNICAL DISCOVERY: mu orders join against disconnect so a late join can
	// never re-subscribe a session that has already been cleaned up
	mu          sync.Mutex
	participant string
	channelID   string
	state       State
}

func newSession(conn interfaces.Connection, participant string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.New().String(),
		conn:        conn,
		ctx:         ctx,
		cancel:      cancel,
		participant: participant,
		state:       StateConnected,
	}
	if participant != "" {
		s.state = StateIdentified
	}
	return s
}

// ID returns the connection identity
func (s *Session) ID() string {
	return s.id
}

// Deliver queues an outbound envelope on the connection writer
func (s *Session) Deliver(envelope types.Envelope) error {
	return s.conn.WriteJSON(envelope)
}

// Context is cancelled when the session disconnects
func (s *Session) Context() context.Context {
	return s.ctx
}

// Participant returns the identified participant, or "" before identification
func (s *Session) Participant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

// ChannelID returns the active channel, or "" when not in a channel
func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr identifies the peer for logging
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

var _ interfaces.Subscriber = (*Session)(nil)
