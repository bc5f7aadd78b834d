package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuspay/bioguard/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemorySecureStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v")))

	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreMissingKey(t *testing.T) {
	store := NewMemorySecureStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemorySecureStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, store.Delete(ctx, "k"))
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemorySecureStore()
	ctx := context.Background()

	original := []byte("immutable")
	require.NoError(t, store.Set(ctx, "k", original))
	original[0] = 'X'

	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), val)

	// Mutating the returned slice must not leak back into the store.
	val[0] = 'Y'
	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), again)
}
