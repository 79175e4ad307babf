package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 2

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// If database is empty (version 0), create fresh schema
	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds the session and iteration history tables.
func migrateToVersion2(db *sql.DB) error {
	for _, stmt := range historyTables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", stmt, err)
		}
	}
	return nil
}

//nolint:gochecknoglobals // static DDL
var kvTables = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
}

//nolint:gochecknoglobals // static DDL
var historyTables = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id     TEXT PRIMARY KEY,
		query          TEXT NOT NULL,
		status         TEXT NOT NULL,
		final_score    REAL NOT NULL DEFAULT 0,
		best_iteration INTEGER NOT NULL DEFAULT 0,
		iterations     INTEGER NOT NULL DEFAULT 0,
		error          TEXT,
		started_at     DATETIME NOT NULL,
		ended_at       DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS iterations (
		session_id      TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		iteration       INTEGER NOT NULL,
		prompt          TEXT NOT NULL,
		chart_spec      TEXT,
		heuristic_score REAL NOT NULL,
		model_score     REAL NOT NULL,
		final_score     REAL NOT NULL,
		should_continue INTEGER NOT NULL,
		reason          TEXT,
		record_json     TEXT NOT NULL,
		PRIMARY KEY (session_id, iteration)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC)`,
}

// createSchema creates every table at the current version.
func createSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := append(append([]string{}, kvTables...), historyTables...)
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO schema_version (version) VALUES (?)
	`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	// First ensure the schema_version table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil // No version set yet
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
