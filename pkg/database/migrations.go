package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/samber/lo"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager handles database migrations
// FUNCTIONAL DISCOVERY: Manager pattern encapsulates migration state so schema
// evolution is identical across development and production
type MigrationManager struct {
	db     *sql.DB
	source fs.FS
}

// NewMigrationManager creates a migration manager over the embedded migrations
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return NewMigrationManagerFromFS(db, embeddedMigrations)
}

// NewMigrationManagerFromFS creates a migration manager reading *.sql files
// from the migrations/ directory of source
func NewMigrationManagerFromFS(db *sql.DB, source fs.FS) *MigrationManager {
	return &MigrationManager{
		db:     db,
		source: source,
	}
}

// ApplyMigrations applies all pending migrations in version order, each in its
// own transaction
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if lo.Contains(applied, migration.Version) {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// LoadMigrations reads and orders the migration files
// TECHNICAL DISCOVERY: "001_create_messages.sql" -> version "001", description "create_messages"
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	files, err := fs.ReadDir(m.source, "migrations")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() || path.Ext(file.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.source, path.Join("migrations", file.Name()))
		if err != nil {
			return nil, err
		}

		parts := strings.Split(file.Name(), "_")
		migrations = append(migrations, Migration{
			Version:     parts[0],
			Description: strings.TrimSuffix(strings.Join(parts[1:], "_"), ".sql"),
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// AppliedVersions returns the already applied migration versions in order
func (m *MigrationManager) AppliedVersions() ([]string, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// applyMigration applies a single migration within a transaction
func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}
