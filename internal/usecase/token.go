package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
	"github.com/corvuspay/bioguard/pkg/security"
)

const (
	tokenLifetime  = 7 * 24 * time.Hour
	tokenBytes     = 32
	tokenTypeLocal = "biometric"
)

// TokenManager owns the lifecycle of the local biometric token: mint on
// enrollment, load/validate on every authentication, replace on refresh,
// delete on disable, expiry, or device-binding mismatch.
//
// Remote calls are strictly best-effort with a bounded wait: the remote
// service being down never blocks a locally-valid authentication.
type TokenManager struct {
	store         domain.SecureStore
	remote        domain.RemoteTokenService
	device        domain.DeviceInfoProvider
	logger        *zap.Logger
	now           func() time.Time
	remoteTimeout time.Duration
}

// NewTokenManager creates a token manager. remoteTimeout bounds every call
// to the remote service.
func NewTokenManager(store domain.SecureStore, remote domain.RemoteTokenService, device domain.DeviceInfoProvider, remoteTimeout time.Duration, logger *zap.Logger) *TokenManager {
	if remoteTimeout <= 0 {
		remoteTimeout = 3 * time.Second
	}
	return &TokenManager{
		store:         store,
		remote:        remote,
		device:        device,
		logger:        logger,
		now:           time.Now,
		remoteTimeout: remoteTimeout,
	}
}

// Mint generates an unguessable token bound to the user and the current
// device, persists it, and best-effort registers it with the remote service.
func (m *TokenManager) Mint(ctx context.Context, userID string) (*domain.BiometricToken, error) {
	value, err := security.GenerateOpaqueToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	snapshot, err := m.device.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("device snapshot: %w", err)
	}

	now := m.now()
	token := &domain.BiometricToken{
		Token:     value,
		UserID:    userID,
		DeviceID:  snapshot.DeviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(tokenLifetime),
	}

	if err := m.persist(ctx, token); err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()
	if err := m.remote.MintToken(rctx, tokenTypeLocal, token.DeviceID, token.Token); err != nil {
		m.logger.Warn("remote token registration failed, continuing locally", zap.Error(err))
	}

	return token, nil
}

// Load returns the persisted token, or nil when there is none. A token past
// its expiry, or bound to a different device than the current one, is
// deleted and treated as absent: tokens do not transfer across devices.
func (m *TokenManager) Load(ctx context.Context) (*domain.BiometricToken, error) {
	data, err := m.store.Get(ctx, domain.KeyBiometricToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	var token domain.BiometricToken
	if err := json.Unmarshal(data, &token); err != nil {
		m.logger.Error("stored token corrupt, deleting", zap.Error(err))
		m.deleteLocal(ctx)
		return nil, nil
	}

	if token.Expired(m.now()) {
		m.logger.Info("biometric token expired, deleting")
		m.deleteLocal(ctx)
		return nil, nil
	}

	snapshot, err := m.device.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("device snapshot: %w", err)
	}
	if token.DeviceID != snapshot.DeviceID {
		m.logger.Warn("biometric token bound to another device, deleting",
			zap.String("bound_device", token.DeviceID))
		m.deleteLocal(ctx)
		return nil, nil
	}

	return &token, nil
}

// ValidateRemotely checks the token against the remote service and rotates
// it when the remote signals a refresh. Any remote failure degrades to
// "continue locally": the local validation result stands.
func (m *TokenManager) ValidateRemotely(ctx context.Context, token *domain.BiometricToken) {
	rctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()

	verdict, err := m.remote.ValidateToken(rctx, token.Token, token.DeviceID)
	if err != nil {
		m.logger.Warn("remote token validation unavailable, continuing locally", zap.Error(err))
		return
	}
	if !verdict.Valid {
		// Remote disagreement is logged but not acted on; the local token is
		// the authority when the remote copy has drifted.
		m.logger.Warn("remote service reports token invalid")
		return
	}
	if !verdict.ShouldRefresh {
		return
	}

	m.refresh(ctx, token)
}

// refresh mints a replacement, swaps it with the remote service, and
// persists it in place. If the remote swap fails the old token stays: the
// two sides must not diverge on which token is current.
func (m *TokenManager) refresh(ctx context.Context, old *domain.BiometricToken) {
	value, err := security.GenerateOpaqueToken(tokenBytes)
	if err != nil {
		m.logger.Error("generate replacement token", zap.Error(err))
		return
	}

	now := m.now()
	replacement := &domain.BiometricToken{
		Token:     value,
		UserID:    old.UserID,
		DeviceID:  old.DeviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(tokenLifetime),
	}

	rctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()
	if err := m.remote.RefreshToken(rctx, old.Token, replacement.Token, old.DeviceID); err != nil {
		m.logger.Warn("remote token refresh failed, keeping current token", zap.Error(err))
		return
	}

	if err := m.persist(ctx, replacement); err != nil {
		m.logger.Error("persist refreshed token", zap.Error(err))
		return
	}
	m.logger.Info("biometric token refreshed")
}

// Revoke deletes the local token and best-effort revokes the server-side
// copy, either for this device only or for all of the user's devices.
func (m *TokenManager) Revoke(ctx context.Context, all bool) error {
	token, err := m.Load(ctx)
	if err != nil {
		return err
	}

	if err := m.store.Delete(ctx, domain.KeyBiometricToken); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	userID := ""
	deviceID := ""
	if token != nil {
		deviceID = token.DeviceID
		if all {
			userID = token.UserID
		}
	} else if snapshot, serr := m.device.Snapshot(ctx); serr == nil {
		deviceID = snapshot.DeviceID
	}

	rctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()
	if err := m.remote.RevokeTokens(rctx, userID, deviceID); err != nil {
		m.logger.Warn("remote token revocation failed", zap.Error(err))
	}
	return nil
}

// Peek reads the raw persisted token without any expiry or device-binding
// side effects. Used by reporting, which must not mutate engine state.
func (m *TokenManager) Peek(ctx context.Context) (*domain.BiometricToken, error) {
	data, err := m.store.Get(ctx, domain.KeyBiometricToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	var token domain.BiometricToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &token, nil
}

func (m *TokenManager) persist(ctx context.Context, token *domain.BiometricToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := m.store.Set(ctx, domain.KeyBiometricToken, data); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

func (m *TokenManager) deleteLocal(ctx context.Context) {
	if err := m.store.Delete(ctx, domain.KeyBiometricToken); err != nil {
		m.logger.Error("delete stale token", zap.Error(err))
	}
}
