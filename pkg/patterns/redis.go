package patterns

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps the store under one Redis string key.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend parses url (redis://...) or, failing that, treats it as a host:port address.
// No connection is made until the first Load or Persist.
func NewRedisBackend(url, key string) *RedisBackend {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	return NewRedisBackendWithClient(redis.NewClient(opt), key)
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = "promptsmith:patterns"
	}
	return &RedisBackend{client: client, key: key}
}

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis:" + b.key }

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from redis: %w", b.key, err)
	}
	return data, nil
}

// Persist implements Backend.
func (b *RedisBackend) Persist(ctx context.Context, data []byte) error {
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s to redis: %w", b.key, err)
	}
	return nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
