package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"directchat/internal/aggregator"
	"directchat/internal/api"
	"directchat/internal/config"
	"directchat/internal/database"
	"directchat/internal/hub"
	"directchat/internal/router"
	"directchat/internal/session"
	"directchat/internal/websocket"
	"directchat/pkg/interfaces"
)

// rateLimiterCleanupInterval controls how often idle sender windows are evicted
const rateLimiterCleanupInterval = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	log        *slog.Logger
	store      interfaces.MessageStore
	router     *router.Router
	sessions   *session.Manager
	hub        *hub.Hub
	registry   *websocket.Registry
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
}

// NewLogger builds the process logger from the configured level
func NewLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Router → Session → Hub → Registry/WebSocket → Aggregator → API → HTTP
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	// STEP 1: Open the message store (foundation layer); SQLite also applies migrations
	store, err := database.Open(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}

	app := &Application{config: cfg, log: log, store: store}

	// STEP 2: Channel router with per-sender rate limiting
	app.router = router.NewRouter(cfg.Chat.RateLimitPerMinute, log)

	// STEP 3: Session manager drives the per-connection state machine
	app.sessions = session.NewManager(store, app.router, cfg.Chat.MaxBodyLength, log)

	// STEP 4: Hub orders each session's inbound events
	app.hub = hub.NewHub(app.sessions, cfg.Chat.InboxSize, log)

	// STEP 5: Registry and WebSocket handler
	app.registry = websocket.NewRegistry()
	wsHandler := websocket.NewHandler(app.registry, app.sessions, app.hub, websocketOptions(cfg.WebSocket), log)

	// STEP 6: API server mounts REST routes and /ws on one chi router
	app.apiServer = api.NewServer(store, aggregator.New(store, log), app, http.HandlerFunc(wsHandler.HandleWebSocket), log)

	app.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

func websocketOptions(c *config.WebSocketConfig) websocket.Options {
	return websocket.Options{
		SendBuffer:       c.SendBuffer,
		WriteTimeout:     c.WriteTimeout,
		PongWait:         c.PongWait,
		PingInterval:     c.PingInterval,
		MaxMessageSize:   c.MaxMessageSize,
		HandshakeTimeout: c.HandshakeTimeout,
	}
}

// Start binds the listener and begins serving
// Hub starts first to handle events, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Background work is owned by the application and ends in Stop, so the
	// shutdown order below holds regardless of the caller's context
	runCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	// STEP 1: Start event hub (background event processing)
	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	go app.router.RunCleanup(runCtx, rateLimiterCleanupInterval)

	// STEP 2: Bind before returning so startup errors surface to the caller
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("HTTP server error", "error", err)
		}
	}()

	app.log.Info("directchat started", "addr", listener.Addr().String(), "driver", app.config.Database.Driver)
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → WebSocket connections → Hub → Store
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down directchat")

	// STEP 1: Stop accepting new connections; hijacked WebSocket connections are not tracked by Shutdown
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn("HTTP server shutdown error", "error", err)
	}

	// STEP 2: Close live WebSocket connections
	closed := app.registry.CloseAll()

	// STEP 3: Stop event processing; in-flight events finish, each session disconnects
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.log.Warn("event hub shutdown error", "error", err)
	}
	if app.cancel != nil {
		app.cancel()
	}

	// STEP 4: Close the store last, after every write has completed
	if err := app.store.Close(); err != nil {
		return fmt.Errorf("failed to close message store: %w", err)
	}

	app.log.Info("directchat shutdown complete", "connections_closed", closed)
	return nil
}

// ConnectionStats reports live counters for the health endpoint
func (app *Application) ConnectionStats() map[string]int {
	stats := app.router.Stats()
	return map[string]int{
		"connections": app.registry.Count(),
		"sessions":    app.hub.Sessions(),
		"channels":    stats.Channels,
		"subscribers": stats.Subscribers,
	}
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
