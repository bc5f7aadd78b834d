package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuspay/bioguard/internal/domain"
)

func TestTokenMintPersistsAndRegistersRemotely(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	token, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)

	assert.NotEmpty(t, token.Token)
	assert.Equal(t, "user-1", token.UserID)
	assert.Equal(t, "device-1", token.DeviceID)
	assert.Equal(t, testStart, token.CreatedAt)
	assert.Equal(t, testStart.Add(tokenLifetime), token.ExpiresAt)
	assert.Equal(t, 1, f.remote.mintCalls)

	loaded, err := f.tokens.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, token.Token, loaded.Token)
}

func TestTokenMintSurvivesRemoteFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.remote.mintErr = errStorage
	ctx := context.Background()

	token, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)

	loaded, err := f.tokens.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}

func TestTokenLoadAbsent(t *testing.T) {
	f := newEngineFixture(t)

	token, err := f.tokens.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestTokenLoadDeletesExpired(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)

	f.clock.Advance(tokenLifetime + time.Minute)

	token, err := f.tokens.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, token)

	_, err = f.store.Get(ctx, domain.KeyBiometricToken)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenLoadDeletesOnDeviceMismatch(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)

	moved := physicalFingerprint()
	moved.DeviceID = "device-2"
	f.device.fp = moved

	token, err := f.tokens.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, token)

	_, err = f.store.Get(ctx, domain.KeyBiometricToken)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenValidateRemotelyRefreshesWhenAsked(t *testing.T) {
	f := newEngineFixture(t)
	f.remote.validation = domain.RemoteValidation{Valid: true, ShouldRefresh: true}
	ctx := context.Background()

	minted, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)

	f.tokens.ValidateRemotely(ctx, minted)
	assert.Equal(t, 1, f.remote.refreshCalls)

	current, err := f.tokens.Peek(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.NotEqual(t, minted.Token, current.Token)
	assert.Equal(t, minted.UserID, current.UserID)
	assert.Equal(t, minted.DeviceID, current.DeviceID)
}

func TestTokenValidateRemotelyToleratesOutage(t *testing.T) {
	f := newEngineFixture(t)
	f.remote.validateErr = errStorage
	ctx := context.Background()

	minted, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)

	f.tokens.ValidateRemotely(ctx, minted)
	assert.Zero(t, f.remote.refreshCalls)

	current, err := f.tokens.Peek(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, minted.Token, current.Token)
}

func TestTokenRefreshKeepsOldTokenWhenRemoteSwapFails(t *testing.T) {
	f := newEngineFixture(t)
	f.remote.validation = domain.RemoteValidation{Valid: true, ShouldRefresh: true}
	f.remote.refreshErr = errStorage
	ctx := context.Background()

	minted, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)

	f.tokens.ValidateRemotely(ctx, minted)

	current, err := f.tokens.Peek(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, minted.Token, current.Token)
}

func TestTokenRevokeAllPassesUserID(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, f.tokens.Revoke(ctx, true))
	assert.Equal(t, "user-1", f.remote.revokeUserID)

	token, err := f.tokens.Peek(ctx)
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestTokenRevokeDeviceOnlyOmitsUserID(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.tokens.Mint(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, f.tokens.Revoke(ctx, false))
	assert.Empty(t, f.remote.revokeUserID)
}
