package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	dbconfig "directchat/pkg/database"
	"directchat/pkg/interfaces"
)

// Open builds the message store selected by config.Driver. For SQLite it
// also applies pending migrations and validates the resulting schema.
func Open(config *dbconfig.Config, log *slog.Logger) (interfaces.MessageStore, error) {
	switch config.Driver {
	case dbconfig.DriverBadger:
		store, err := NewBadgerStore(config, log)
		if err != nil {
			return nil, err
		}
		log.Info("message store ready", "driver", config.Driver, "path", config.Path)
		return store, nil

	case dbconfig.DriverSQLite:
		// go-sqlite3 creates the file but not its parent directory
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}

		manager, err := NewManager(config, log)
		if err != nil {
			return nil, err
		}

		// ARCHITECTURAL DISCOVERY: Migrations run before any read or write is served
		if err := dbconfig.NewMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		if err := dbconfig.NewSchemaValidator(manager.GetDB()).Validate(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}

		log.Info("message store ready", "driver", config.Driver, "path", config.Path)
		return manager, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
}
