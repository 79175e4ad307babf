package patterns

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"promptsmith/pkg/utils"
)

// Backend persists the serialized store. Load returns (nil, nil) when nothing has been stored yet.
type Backend interface {
	Name() string
	Load(ctx context.Context) ([]byte, error)
	Persist(ctx context.Context, data []byte) error
	Close() error
}

// FileBackend keeps the store in one JSON file, replaced atomically on every persist.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file:" + b.path }

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file %s: %w", b.path, err)
	}
	return data, nil
}

// Persist implements Backend.
func (b *FileBackend) Persist(_ context.Context, data []byte) error {
	if err := utils.WriteFileAtomic(b.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write store file %s: %w", b.path, err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// MemoryBackend keeps the serialized store in memory. Useful for tests and --store memory.
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, nil
	}
	return append([]byte(nil), b.data...), nil
}

// Persist implements Backend.
func (b *MemoryBackend) Persist(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append([]byte(nil), data...)
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }
