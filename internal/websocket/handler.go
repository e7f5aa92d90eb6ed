package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"directchat/internal/hub"
	"directchat/internal/session"
	"directchat/pkg/interfaces"
	"directchat/pkg/types"
)

// Options tune the WebSocket transport
type Options struct {
	SendBuffer       int           // queued outbound frames per connection
	WriteTimeout     time.Duration // per-frame write deadline
	PongWait         time.Duration // read deadline extended by every pong
	PingInterval     time.Duration // must be shorter than PongWait
	MaxMessageSize   int64         // inbound frame limit in bytes
	HandshakeTimeout time.Duration
}

// DefaultOptions returns production transport settings
// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
// provides reliable connection health monitoring on mobile networks
func DefaultOptions() Options {
	return Options{
		SendBuffer:       100,
		WriteTimeout:     5 * time.Second,
		PongWait:         60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		HandshakeTimeout: 10 * time.Second,
	}
}

// SessionFactory creates sessions for new connections
type SessionFactory interface {
	OnConnect(conn interfaces.Connection, participant string) (*session.Session, error)
}

// EventQueue orders inbound events per session
type EventQueue interface {
	Attach(s *session.Session) error
	Enqueue(sessionID string, envelope types.InboundEnvelope) error
	Detach(sessionID string) error
}

// Handler upgrades HTTP requests and runs each connection's read loop
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// decoded envelopes go to the event queue, never straight to the session manager
type Handler struct {
	registry *Registry
	sessions SessionFactory
	events   EventQueue
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, sessions SessionFactory, events EventQueue, opts Options, log *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		sessions: sessions,
		events:   events,
		opts:     opts,
		log:      log.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// FUNCTIONAL DISCOVERY: Mobile clients send no stable Origin; CORS is open like the HTTP API
				return true
			},
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// HandleWebSocket handles WebSocket connection requests.
// The optional query parameter user identifies the session at connect time.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	participant := r.URL.Query().Get("user")
	if participant != "" && !types.IsValidParticipantID(participant) {
		http.Error(w, "Invalid user format", http.StatusBadRequest)
		return
	}

	// FUNCTIONAL DISCOVERY: WebSocket upgrade after validation prevents resource waste
	// on invalid requests while providing proper HTTP error responses
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	wsConn := NewConnection(conn, h.opts.SendBuffer, h.opts.WriteTimeout)

	s, err := h.sessions.OnConnect(wsConn, participant)
	if err != nil {
		h.log.Warn("session creation failed", "remote", wsConn.RemoteAddr(), "error", err)
		_ = wsConn.Close()
		return
	}

	if err := h.registry.Register(s.ID(), wsConn); err != nil {
		h.log.Error("failed to register connection", "session", s.ID(), "error", err)
		_ = wsConn.Close()
		return
	}

	if err := h.events.Attach(s); err != nil {
		h.log.Error("failed to attach session", "session", s.ID(), "error", err)
		h.registry.Unregister(s.ID(), wsConn)
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(s, wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: Read pump plus a ticker goroutine per connection; the
// writer goroutine lives in Connection
func (h *Handler) handleConnection(s *session.Session, conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup ensures resources are released
		// even if connection handling exits unexpectedly
		if err := h.events.Detach(s.ID()); err != nil && !errors.Is(err, hub.ErrSessionNotAttached) {
			h.log.Warn("failed to detach session", "session", s.ID(), "error", err)
		}
		h.registry.Unregister(s.ID(), conn)
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait)); err != nil {
		h.log.Warn("failed to set read deadline", "session", s.ID(), "error", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket closed unexpectedly", "session", s.ID(), "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var envelope types.InboundEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
			h.reject(conn, envelope.Event, types.CodeBadRequest, "frame must be a JSON object with an event name")
			continue
		}

		switch err := h.events.Enqueue(s.ID(), envelope); {
		case err == nil:
		case errors.Is(err, hub.ErrInboxFull):
			h.reject(conn, envelope.Event, types.CodeRateLimited, "too many pending events")
		default:
			h.log.Warn("failed to enqueue event", "session", s.ID(), "event", envelope.Event, "error", err)
			return
		}
	}
}

// pingLoop sends heartbeat pings until the connection closes
// TECHNICAL DISCOVERY: WriteControl is safe to call concurrently with the writer goroutine
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) reject(conn *Connection, event, code, message string) {
	envelope := types.Envelope{
		Event: types.EventError,
		Data:  types.ErrorEvent{Event: event, Code: code, Message: message},
	}
	if err := conn.WriteJSON(envelope); err != nil {
		h.log.Debug("failed to send error event", "remote", conn.RemoteAddr(), "error", err)
	}
}
