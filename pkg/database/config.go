package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Supported storage drivers
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all storage settings
// needed for production deployment without hardcoded values
type Config struct {
	Driver          string        `json:"driver" split_words:"true"`
	Path            string        `json:"path" split_words:"true"`
	MaxConnections  int           `json:"max_connections" split_words:"true"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" split_words:"true"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" split_words:"true"`
	WriteQueueSize  int           `json:"write_queue_size" split_words:"true"`
	WriteTimeout    time.Duration `json:"write_timeout" split_words:"true"`
	WriteRetries    int           `json:"write_retries" split_words:"true"`
	RetryDelay      time.Duration `json:"retry_delay" split_words:"true"`
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: SQLite performs well with 10 pooled readers and one writer
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		Path:            "./data/directchat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteQueueSize:  100,
		WriteTimeout:    30 * time.Second,
		WriteRetries:    1,
		RetryDelay:      time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Driver != DriverSQLite && c.Driver != DriverBadger {
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.WriteRetries < 0 {
		return errors.New("write retries cannot be negative")
	}
	if c.WriteRetries > 0 && c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	return nil
}

// DSN returns the go-sqlite3 connection string for the configured path
func (c *Config) DSN() string {
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// SQLite optimization pragmas
// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent reads while the manager
// keeps a single writer goroutine
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// ApplySQLiteOptimizations applies performance pragmas to the database connection
func ApplySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
