package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against what the store expects
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and returns the first failure
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"messages":          "Message data storage",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies the messages column types
// TECHNICAL DISCOVERY: created_at is stored as INTEGER unix nanoseconds so
// ordering never depends on driver time formatting
func (v *SchemaValidator) ValidateTableStructure() error {
	messageColumns := map[string]string{
		"seq":           "INTEGER",
		"id":            "TEXT",
		"sender":        "TEXT",
		"receiver":      "TEXT",
		"receiver_name": "TEXT",
		"body":          "TEXT",
		"created_at":    "INTEGER",
	}

	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that the history and scan indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_messages_sender_time":   "Pair history and sender scans",
		"idx_messages_receiver_time": "Receiver scans",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that the database rejects invalid and mutating writes
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO messages (id, sender, receiver, body, created_at)
		VALUES ('constraint-self', 'x', 'x', 'hi', 0)
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: sender <> receiver")
	}

	_, err = v.db.Exec(`
		INSERT INTO messages (id, sender, receiver, body, created_at)
		VALUES ('constraint-empty', 'x', 'y', '   ', 0)
	`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: non-empty body")
	}

	exists, err := v.objectExists("trigger", "messages_no_update")
	if err != nil {
		return fmt.Errorf("error checking immutability trigger: %w", err)
	}
	if !exists {
		return fmt.Errorf("immutability trigger messages_no_update does not exist")
	}

	return nil
}

// objectExists checks sqlite_master for an object of the given type and name
func (v *SchemaValidator) objectExists(objectType, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		objectType, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
