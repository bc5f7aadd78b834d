package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/corvuspay/bioguard/internal/domain"
)

// RedisSecureStore implements domain.SecureStore on top of Redis. This is the
// default backend: every engine key lives under a single namespace so a
// device wipe is one SCAN away.
type RedisSecureStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSecureStore creates a new store instance.
func NewRedisSecureStore(client *redis.Client) *RedisSecureStore {
	return &RedisSecureStore{client: client, prefix: "bioguard:"}
}

// Get retrieves the value for a key, or domain.ErrNotFound if absent.
func (s *RedisSecureStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a value durably. Keys have no TTL; expiry semantics (token
// lifetime, lockout windows) belong to the engine, not the store.
func (s *RedisSecureStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *RedisSecureStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
