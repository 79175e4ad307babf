package patterns

import (
	"context"
	"errors"

	"promptsmith/pkg/persistence"
)

// DefaultSQLiteKey is the kv row holding the store.
const DefaultSQLiteKey = "pattern_store"

// SQLiteBackend keeps the store in one row of the persistence kv table.
type SQLiteBackend struct {
	db    *persistence.DB
	key   string
	owned bool
}

// NewSQLiteBackend opens (or creates) the database at path. The backend owns the handle.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := persistence.Open(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // persistence errors already carry context
	}
	return &SQLiteBackend{db: db, key: DefaultSQLiteKey, owned: true}, nil
}

// NewSQLiteBackendWithDB shares an already open database. Close leaves it open.
func NewSQLiteBackendWithDB(db *persistence.DB, key string) *SQLiteBackend {
	if key == "" {
		key = DefaultSQLiteKey
	}
	return &SQLiteBackend{db: db, key: key}
}

// DB returns the underlying database.
func (b *SQLiteBackend) DB() *persistence.DB { return b.db }

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite:" + b.db.Path() }

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := b.db.Get(ctx, b.key)
	if errors.Is(err, persistence.ErrKeyNotFound) {
		return nil, nil
	}
	return data, err //nolint:wrapcheck // persistence errors already carry context
}

// Persist implements Backend.
func (b *SQLiteBackend) Persist(ctx context.Context, data []byte) error {
	return b.db.Put(ctx, b.key, data) //nolint:wrapcheck // persistence errors already carry context
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close() //nolint:wrapcheck // persistence errors already carry context
}
