package hub

import (
	"context"
	"log/slog"
	"sync"

	"directchat/internal/session"
	"directchat/pkg/types"
)

// Dispatcher handles decoded inbound events and session teardown
type Dispatcher interface {
	Dispatch(ctx context.Context, s *session.Session, envelope types.InboundEnvelope)
	OnDisconnect(s *session.Session)
}

// Hub coordinates inbound event processing for every live session
// ARCHITECTURAL DISCOVERY: One worker goroutine per session keeps each
// session's events in arrival order while different sessions run concurrently
type Hub struct {
	dispatcher Dispatcher
	inboxSize  int
	log        *slog.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent Enqueue while attach/detach are rare
	workers map[string]*worker
	running bool
	mu      sync.RWMutex

	// tracks every attached worker until its teardown completes
	wg sync.WaitGroup
}

// worker owns the ordered inbox of one session
type worker struct {
	session  *session.Session
	inbox    chan types.InboundEnvelope
	done     chan struct{} // closed to stop the worker; queued events are dropped
	finished chan struct{} // closed when the in-flight event (if any) has completed
}

// NewHub creates a new hub whose per-session inboxes hold inboxSize events
func NewHub(dispatcher Dispatcher, inboxSize int, log *slog.Logger) *Hub {
	return &Hub{
		dispatcher: dispatcher,
		inboxSize:  inboxSize,
		log:        log.With("component", "hub"),
		workers:    make(map[string]*worker),
	}
}

// Start begins accepting sessions. The hub stops when ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.log.Info("starting event hub", "inbox_size", h.inboxSize)

	go func() {
		<-ctx.Done()
		_ = h.Stop()
	}()

	return nil
}

// Stop detaches every session and refuses new work
// TECHNICAL DISCOVERY: Workers finish their in-flight event before the session
// is torn down, so no write is abandoned halfway
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	workers := h.workers
	h.workers = make(map[string]*worker)
	h.mu.Unlock()

	h.log.Info("stopping event hub", "sessions", len(workers))

	for _, w := range workers {
		h.teardown(w)
	}

	// Sessions detached concurrently finish their own teardown first
	h.wg.Wait()
	return nil
}

// Attach starts the worker for s
func (h *Hub) Attach(s *session.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	if _, exists := h.workers[s.ID()]; exists {
		return ErrSessionAttached
	}

	w := &worker{
		session:  s,
		inbox:    make(chan types.InboundEnvelope, h.inboxSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	h.workers[s.ID()] = w
	h.wg.Add(1)
	go w.run(h.dispatcher)

	return nil
}

// Enqueue queues an inbound event for sessionID
// TECHNICAL DISCOVERY: Non-blocking send; a flooded inbox is reported to the
// caller instead of stalling the connection's read loop
func (h *Hub) Enqueue(sessionID string, envelope types.InboundEnvelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return ErrHubNotRunning
	}
	w, exists := h.workers[sessionID]
	if !exists {
		return ErrSessionNotAttached
	}

	select {
	case w.inbox <- envelope:
		return nil
	default:
		return ErrInboxFull
	}
}

// Detach stops the worker of sessionID and runs the disconnect transition.
// Events still queued are dropped; the in-flight event completes first.
func (h *Hub) Detach(sessionID string) error {
	h.mu.Lock()
	w, exists := h.workers[sessionID]
	delete(h.workers, sessionID)
	h.mu.Unlock()

	if !exists {
		return ErrSessionNotAttached
	}

	h.teardown(w)
	return nil
}

// Sessions returns the number of attached sessions
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workers)
}

// IsRunning reports whether the hub accepts sessions
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) teardown(w *worker) {
	defer h.wg.Done()

	close(w.done)
	<-w.finished

	if dropped := len(w.inbox); dropped > 0 {
		h.log.Debug("dropped queued events", "session", w.session.ID(), "dropped", dropped)
	}
	h.dispatcher.OnDisconnect(w.session)
}

// run processes the inbox in arrival order until done is closed
func (w *worker) run(dispatcher Dispatcher) {
	defer close(w.finished)

	for {
		select {
		case <-w.done:
			return
		case envelope := <-w.inbox:
			// Prefer stopping over draining when both are ready
			select {
			case <-w.done:
				return
			default:
			}
			dispatcher.Dispatch(w.session.Context(), w.session, envelope)
		}
	}
}
