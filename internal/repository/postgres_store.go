package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/corvuspay/bioguard/internal/domain"
)

// PostgresSecureStore implements domain.SecureStore on a single key/value
// table. It is the backend of choice when the deployment already runs
// Postgres and wants the engine state under the same backup regime.
//
// Expected schema:
//
//	CREATE TABLE IF NOT EXISTS secure_store (
//	    key        TEXT PRIMARY KEY,
//	    value      BYTEA NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type PostgresSecureStore struct {
	db *sql.DB
}

// NewPostgresSecureStore creates a new store instance.
func NewPostgresSecureStore(db *sql.DB) *PostgresSecureStore {
	return &PostgresSecureStore{db: db}
}

// Get retrieves the value for a key, or domain.ErrNotFound if absent.
func (s *PostgresSecureStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM secure_store WHERE key = $1", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a value. The single-row upsert gives the per-key durability the
// engine assumes; there are no cross-key transactions.
func (s *PostgresSecureStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO secure_store (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *PostgresSecureStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM secure_store WHERE key = $1", key); err != nil {
		return fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return nil
}
