package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"directchat/pkg/interfaces"
	"directchat/pkg/types"
)

// RecentChatsProvider computes the recent-conversation digest of a participant
type RecentChatsProvider interface {
	RecentChats(ctx context.Context, user string, limit int) ([]types.RecentChat, error)
}

// StatsSource reports live connection and channel counters for /health
type StatsSource interface {
	ConnectionStats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	store      interfaces.MessageStore
	aggregator RecentChatsProvider
	stats      StatsSource
	websocket  http.Handler
	router     chi.Router
	log        *slog.Logger
	startedAt  time.Time
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Uptime      string         `json:"uptime"`
}

// NewServer builds the HTTP surface. websocket may be nil, in which case /ws is not mounted.
func NewServer(store interfaces.MessageStore, aggregator RecentChatsProvider, stats StatsSource, websocket http.Handler, log *slog.Logger) *Server {
	s := &Server{
		store:      store,
		aggregator: aggregator,
		stats:      stats,
		websocket:  websocket,
		router:     chi.NewRouter(),
		log:        log.With("component", "http"),
		startedAt:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: CORS applies to every route for mobile and web client compatibility;
// the JSON content type only to REST routes so the WebSocket upgrade response stays untouched
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware)

	if s.websocket != nil {
		s.router.Handle("/ws", s.websocket)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(jsonMiddleware)

		r.Get("/health", s.healthCheck)
		r.Get("/recent-chats/{user}", s.recentChats)
		r.Get("/api/conversations/{userA}/{userB}/messages", s.conversationHistory)
	})
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// GET /recent-chats/{user}[?limit=N]
func (s *Server) recentChats(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if !types.IsValidParticipantID(user) {
		s.sendError(w, types.ErrInvalidParticipant.Error(), http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	chats, err := s.aggregator.RecentChats(r.Context(), user, limit)
	if err != nil {
		s.sendStoreError(w, "recent chats", err)
		return
	}

	s.sendJSON(w, http.StatusOK, chats)
}

// GET /api/conversations/{userA}/{userB}/messages
func (s *Server) conversationHistory(w http.ResponseWriter, r *http.Request) {
	userA := chi.URLParam(r, "userA")
	userB := chi.URLParam(r, "userB")

	req := types.LoadMessagesRequest{Sender: userA, Receiver: userB}
	if err := req.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := s.store.History(r.Context(), userA, userB)
	if err != nil {
		s.sendStoreError(w, "conversation history", err)
		return
	}

	s.sendJSON(w, http.StatusOK, history)
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	var connections map[string]int
	if s.stats != nil {
		connections = s.stats.ConnectionStats()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: connections,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, types.ErrPersistenceUnavailable) {
		s.log.Error("store unavailable", "operation", what, "error", err)
		s.sendError(w, "message store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.log.Error("request failed", "operation", what, "error", err)
	s.sendError(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// requestLogger logs one structured line per request
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins, matching the open WebSocket origin policy
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
