package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"directchat/internal/router"
	"directchat/pkg/interfaces"
	"directchat/pkg/types"
)

// channelLockStripes bounds the number of mutexes serializing append+publish
const channelLockStripes = 256

// Router is the channel router as the session manager uses it
type Router interface {
	interfaces.ChannelRouter
	Allow(sender string) bool
}

// Manager owns the session state machine and dispatches inbound events
// ARCHITECTURAL DISCOVERY: Persist-then-route; the store is the only blocking
// dependency and the router is pure in-memory fan-out
type Manager struct {
	store         interfaces.MessageStore
	router        Router
	maxBodyLength int
	log           *slog.Logger

	// FUNCTIONAL DISCOVERY: Broadcast order must equal persistence order within
	// a channel, so append+publish for one channel runs under one stripe
	channelLocks [channelLockStripes]sync.Mutex
}

// NewManager creates a session manager. maxBodyLength <= 0 disables the body length check.
func NewManager(store interfaces.MessageStore, router Router, maxBodyLength int, log *slog.Logger) *Manager {
	return &Manager{
		store:         store,
		router:        router,
		maxBodyLength: maxBodyLength,
		log:           log.With("component", "session_manager"),
	}
}

// OnConnect creates a session for conn. A non-empty participant identifies
// the session immediately.
func (m *Manager) OnConnect(conn interfaces.Connection, participant string) (*Session, error) {
	if participant != "" && !types.IsValidParticipantID(participant) {
		return nil, types.ErrInvalidParticipant
	}

	s := newSession(conn, participant)
	m.log.Info("session connected", "session", s.ID(), "participant", participant, "remote", conn.RemoteAddr(), "state", s.state)
	return s, nil
}

// OnJoinChat subscribes s to the sender/receiver channel and pushes the
// conversation history to s only
func (m *Manager) OnJoinChat(ctx context.Context, s *Session, req types.JoinChatRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	channelID := m.router.ChannelID(req.Sender, req.Receiver)

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.participant != "" && s.participant != req.Sender {
		s.mu.Unlock()
		return types.ErrIdentityMismatch
	}
	s.participant = req.Sender
	m.router.Subscribe(s, channelID)
	s.channelID = channelID
	s.state = StateInChannel
	s.mu.Unlock()

	m.log.Debug("joined channel", "session", s.ID(), "participant", req.Sender, "channel", channelID)

	return m.pushHistory(ctx, s, req.Sender, req.Receiver)
}

// OnSendMessage validates, persists and publishes one message. The returned
// message carries the server-assigned id and timestamp.
func (m *Manager) OnSendMessage(ctx context.Context, s *Session, req types.SendMessageRequest) (*types.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := types.ValidateBody(req.Message, m.maxBodyLength); err != nil {
		return nil, err
	}

	s.mu.Lock()
	state, participant := s.state, s.participant
	s.mu.Unlock()

	switch {
	case state == StateDisconnected:
		return nil, ErrSessionClosed
	case participant == "":
		return nil, types.ErrNotIdentified
	case participant != req.Sender:
		return nil, types.ErrIdentityMismatch
	}

	if !m.router.Allow(req.Sender) {
		return nil, router.ErrRateLimitExceeded
	}

	channelID := m.router.ChannelID(req.Sender, req.Receiver)
	lock := m.lockFor(channelID)
	lock.Lock()
	defer lock.Unlock()

	// TECHNICAL DISCOVERY: A disconnect mid-send must not abandon the write
	message, err := m.store.Append(context.WithoutCancel(ctx), req.Sender, req.Receiver, req.ReceiverName, req.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	delivered := m.router.Publish(channelID, types.Envelope{
		Event: types.EventReceiveMessage,
		Data:  types.ReceivedMessage{Sender: message.Sender, Message: message.Body},
	})

	m.log.Debug("message routed", "id", message.ID, "channel", channelID, "delivered", delivered)
	return message, nil
}

// OnLoadMessages pushes the conversation history to s only, whether or not s
// is subscribed to that conversation
func (m *Manager) OnLoadMessages(ctx context.Context, s *Session, req types.LoadMessagesRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if s.State() == StateDisconnected {
		return ErrSessionClosed
	}
	return m.pushHistory(ctx, s, req.Sender, req.Receiver)
}

// OnDisconnect releases every channel membership of s. Idempotent.
func (m *Manager) OnDisconnect(s *Session) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	m.router.UnsubscribeAll(s)
	s.channelID = ""
	s.state = StateDisconnected
	s.mu.Unlock()

	s.cancel()
	m.log.Info("session disconnected", "session", s.ID(), "participant", s.Participant())
}

// Dispatch decodes one inbound envelope and runs its handler. Failures are
// reported to s as an error event; the session stays open.
func (m *Manager) Dispatch(ctx context.Context, s *Session, envelope types.InboundEnvelope) {
	var err error

	switch envelope.Event {
	case types.EventJoinChat:
		var req types.JoinChatRequest
		if err = decode(envelope.Data, &req); err == nil {
			err = m.OnJoinChat(ctx, s, req)
		}

	case types.EventSendMessage:
		var req types.SendMessageRequest
		if err = decode(envelope.Data, &req); err == nil {
			_, err = m.OnSendMessage(ctx, s, req)
		}

	case types.EventLoadMessages:
		var req types.LoadMessagesRequest
		if err = decode(envelope.Data, &req); err == nil {
			err = m.OnLoadMessages(ctx, s, req)
		}

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}

	if err == nil || errors.Is(err, ErrSessionClosed) {
		return
	}

	code := ErrorCode(err)
	if code == types.CodePersistenceUnavailable || code == types.CodeInternal {
		m.log.Error("event failed", "session", s.ID(), "event", envelope.Event, "error", err)
	} else {
		m.log.Debug("event rejected", "session", s.ID(), "event", envelope.Event, "error", err)
	}

	if deliverErr := s.Deliver(types.Envelope{Event: types.EventError, Data: NewErrorEvent(envelope.Event, err)}); deliverErr != nil {
		m.log.Warn("failed to report error", "session", s.ID(), "error", deliverErr)
	}
}

// ErrorCode classifies err into an outbound error code
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, router.ErrRateLimitExceeded):
		return types.CodeRateLimited
	case errors.Is(err, ErrUnknownEvent):
		return types.CodeBadRequest
	case errors.Is(err, types.ErrValidation):
		return types.CodeValidation
	case errors.Is(err, types.ErrPersistenceUnavailable):
		return types.CodePersistenceUnavailable
	default:
		return types.CodeInternal
	}
}

// NewErrorEvent builds the error payload for a failed event. Internal details
// of storage failures are not exposed to clients.
func NewErrorEvent(event string, err error) types.ErrorEvent {
	code := ErrorCode(err)

	message := err.Error()
	switch code {
	case types.CodePersistenceUnavailable:
		message = "message store unavailable, please retry"
	case types.CodeInternal:
		message = "internal error"
	}

	return types.ErrorEvent{Event: event, Code: code, Message: message}
}

func (m *Manager) pushHistory(ctx context.Context, s *Session, userA, userB string) error {
	history, err := m.store.History(ctx, userA, userB)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	return s.Deliver(types.Envelope{Event: types.EventChatHistory, Data: history})
}

func (m *Manager) lockFor(channelID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channelID))
	return &m.channelLocks[h.Sum32()%channelLockStripes]
}

func decode(data json.RawMessage, into interface{}) error {
	if len(data) == 0 {
		return types.ErrMalformedPayload
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	return nil
}
