package store

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
)

const currentSchemaVersion = 1

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const indexesTable = `
CREATE TABLE IF NOT EXISTS indexes (
	name TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	metric TEXT NOT NULL,
	embed_model TEXT NOT NULL,
	text_field TEXT NOT NULL,
	cloud TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	created_at TEXT DEFAULT (datetime('now'))
);
`

const recordsTable = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	index_name TEXT NOT NULL REFERENCES indexes(name) ON DELETE CASCADE,
	namespace TEXT NOT NULL,
	external_id TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT DEFAULT (datetime('now')),
	UNIQUE(index_name, namespace, external_id)
);

CREATE INDEX IF NOT EXISTS idx_records_namespace ON records(index_name, namespace);
`

// vectorTableName returns the vec0 table holding vectors of one dimension.
// Indexes of equal dimension share a table; rows are keyed by record id.
func vectorTableName(dimensions int) string {
	return fmt.Sprintf("record_vectors_%d", dimensions)
}

// initSchema initializes the database schema.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		version = 0
	} else if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		log.Debug("Schema is up to date", "version", version)
		return nil
	}

	log.Debug("Migrating schema", "from", version, "to", currentSchemaVersion)

	if version < 1 {
		if err := migrateV1(db); err != nil {
			return fmt.Errorf("failed to migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the initial schema. Vector tables are created per
// dimension when an index first needs one.
func migrateV1(db *sql.DB) error {
	log.Debug("Applying migration v1")

	for _, table := range []string{indexesTable, recordsTable} {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

// ensureVectorTable creates the vec0 table for dimensions if it is missing.
func ensureVectorTable(db *sql.DB, dimensions int) error {
	name := vectorTableName(dimensions)

	var existing string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name=?
	`, name).Scan(&existing)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check vector table: %w", err)
	}

	log.Debug("Creating vector table", "table", name, "dimensions", dimensions)
	_, err = db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			record_id INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, name, dimensions))
	return err
}
