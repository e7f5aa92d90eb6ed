package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "directchat/pkg/database"
	"directchat/pkg/types"
)

// Manager is the SQLite implementation of interfaces.MessageStore
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	stopped      chan struct{} // closed once writeLoop has returned
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status

	// Owned by writeLoop only
	lastCreatedAt time.Time
	clockLoaded   bool
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the single writer goroutine.
// Schema migrations are applied separately (see Open).
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log.With("component", "sqlite_store"),
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	// and gives appends a total order for createdAt assignment
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			for attempt := 1; err != nil && attempt <= m.config.WriteRetries; attempt++ {
				m.log.Warn("database write failed, retrying", "attempt", attempt, "delay", m.config.RetryDelay, "error", err)
				time.Sleep(m.config.RetryDelay)
				err = op.operation(m.db)
			}
			if err != nil {
				m.log.Error("database write failed", "error", err)
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion. Only
// queueing is bounded by WriteTimeout.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// FUNCTIONAL DISCOVERY: A queued write always runs, so its outcome is awaited
	// without a deadline. busy_timeout and the retry budget bound the wait.
	select {
	case err := <-result:
		return err
	case <-m.stopped:
		// The loop sends every result before it returns
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// Append validates and persists a message
// FUNCTIONAL DISCOVERY: ID, createdAt and seq are assigned inside the writer
// goroutine so createdAt never decreases in insertion order
func (m *Manager) Append(ctx context.Context, sender, receiver, receiverName, body string) (*types.Message, error) {
	if err := validateAppend(sender, receiver, body); err != nil {
		return nil, err
	}

	message := &types.Message{
		ID:           uuid.New().String(),
		Sender:       sender,
		Receiver:     receiver,
		ReceiverName: receiverName,
		Body:         body,
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		if err := m.loadClock(ctx, db); err != nil {
			return err
		}

		createdAt := time.Now().UTC()
		if createdAt.Before(m.lastCreatedAt) {
			createdAt = m.lastCreatedAt
		}

		res, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, sender, receiver, receiver_name, body, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			message.ID,
			message.Sender,
			message.Receiver,
			message.ReceiverName,
			message.Body,
			createdAt.UnixNano(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				// A retried insert whose first attempt committed
				return m.reloadSeq(ctx, db, message, createdAt)
			}
			return fmt.Errorf("failed to insert message: %w", err)
		}

		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message sequence: %w", err)
		}

		message.Seq = seq
		message.CreatedAt = createdAt
		m.lastCreatedAt = createdAt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceUnavailable, err)
	}

	return message, nil
}

// History retrieves the conversation between two participants, oldest first
func (m *Manager) History(ctx context.Context, userA, userB string) ([]*types.Message, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	rows, err := m.db.QueryContext(ctx, `
		SELECT seq, id, sender, receiver, receiver_name, body, created_at
		FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY created_at ASC, seq ASC
	`, userA, userB, userB, userA)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query history: %w", types.ErrPersistenceUnavailable, err)
	}
	return scanMessages(rows)
}

// ScanInvolving retrieves every message sent or received by user, newest first
func (m *Manager) ScanInvolving(ctx context.Context, user string) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT seq, id, sender, receiver, receiver_name, body, created_at
		FROM messages
		WHERE sender = ? OR receiver = ?
		ORDER BY created_at DESC, seq DESC
	`, user, user)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan messages: %w", types.ErrPersistenceUnavailable, err)
	}
	return scanMessages(rows)
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the writer and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// loadClock seeds lastCreatedAt from the newest stored message once per process
func (m *Manager) loadClock(ctx context.Context, db *sql.DB) error {
	if m.clockLoaded {
		return nil
	}

	var newest sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM messages").Scan(&newest); err != nil {
		return fmt.Errorf("failed to read message clock: %w", err)
	}
	if newest.Valid {
		m.lastCreatedAt = time.Unix(0, newest.Int64).UTC()
	}
	m.clockLoaded = true
	return nil
}

// reloadSeq fills seq and createdAt for a message that is already stored
func (m *Manager) reloadSeq(ctx context.Context, db *sql.DB, message *types.Message, fallback time.Time) error {
	var seq, createdAt int64
	err := db.QueryRowContext(ctx, "SELECT seq, created_at FROM messages WHERE id = ?", message.ID).Scan(&seq, &createdAt)
	if err != nil {
		return fmt.Errorf("failed to reload message %s: %w", message.ID, err)
	}
	message.Seq = seq
	message.CreatedAt = time.Unix(0, createdAt).UTC()
	if message.CreatedAt.After(fallback) {
		m.lastCreatedAt = message.CreatedAt
	}
	return nil
}

// scanMessages drains rows into messages and closes them
func scanMessages(rows *sql.Rows) ([]*types.Message, error) {
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		var message types.Message
		var createdAt int64

		if err := rows.Scan(
			&message.Seq,
			&message.ID,
			&message.Sender,
			&message.Receiver,
			&message.ReceiverName,
			&message.Body,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan message row: %w", types.ErrPersistenceUnavailable, err)
		}

		message.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating message rows: %w", types.ErrPersistenceUnavailable, err)
	}

	return messages, nil
}

// validateAppend enforces the store-level invariants shared by every backend
func validateAppend(sender, receiver, body string) error {
	if sender == "" || receiver == "" {
		return types.ErrMissingParticipant
	}
	if sender == receiver {
		return types.ErrSelfAddressed
	}
	return types.ValidateBody(body, 0)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
