// Package persistence provides SQLite-based storage: a small key/value table used by the
// pattern store backend and the session history written after each run.
package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"promptsmith/pkg/logx"
)

// DB wraps one SQLite connection pool. SQLite has a single writer so the pool is capped at one.
type DB struct {
	db     *sql.DB
	path   string
	logger *logx.Logger

	closeOnce sync.Once
}

// Open opens (creating if needed) the database at path and brings its schema up to date.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger := logx.NewLogger("persistence")
	logger.Debug("📦 Database opened: %s", path)
	return &DB{db: db, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// SQL exposes the underlying handle for callers that need raw queries.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Close closes the database connection. Safe to call more than once.
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if cerr := d.db.Close(); cerr != nil {
			err = fmt.Errorf("failed to close database: %w", cerr)
		}
	})
	return err
}
