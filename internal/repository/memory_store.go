// Package repository provides the storage adapters behind the engine's
// ports: the secure key/value store (Redis, Postgres, or in-memory) and the
// best-effort remote token service client.
package repository

import (
	"context"
	"sync"

	"github.com/corvuspay/bioguard/internal/domain"
)

// MemorySecureStore is a thread-safe in-memory domain.SecureStore. It backs
// tests and zero-infrastructure runs; the engine holds fewer than a dozen
// keys, so a mutex-guarded map is all the structure needed.
type MemorySecureStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemorySecureStore creates an empty, ready-to-use store.
func NewMemorySecureStore() *MemorySecureStore {
	return &MemorySecureStore{data: make(map[string][]byte)}
}

// Get retrieves the value for a key, or domain.ErrNotFound if absent.
func (s *MemorySecureStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	// Copy so callers cannot mutate the stored slice.
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Set stores a copy of the value.
func (s *MemorySecureStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *MemorySecureStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Len returns the number of stored keys.
func (s *MemorySecureStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
