package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by SecureStore implementations when a key is
// absent. Callers rely on it to tell "no value yet" apart from a storage
// failure; the two cases drive opposite policies in the engine.
var ErrNotFound = errors.New("key not found")

// Secure store keys. The secure on-device store is the engine's only
// persistence; each key has a single writer at any instant.
const (
	KeyFingerprint       = "security:fingerprint"
	KeyRateLimitPrefix   = "security:ratelimit:" // + action
	KeyEventLog          = "security:events"
	KeyThreatSnapshot    = "security:threat"
	KeyBiometricToken    = "biometric:token"
	KeyBiometricEnabled  = "biometric:enabled"
	KeyFailedAttempts    = "security:failed_attempts"
	KeyLastPasswordLogin = "security:last_password_login"
	KeyPasswordHash      = "auth:password_hash"
	KeyStepUpSecret      = "auth:stepup_secret"
	KeyStepUpPending     = "auth:stepup_pending"
)

// SecureStore is the durable, tamper-resistant key/value store backing all
// engine persistence. Implementations provide per-key durability but no
// cross-key transactions.
type SecureStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// PromptFailureReason classifies a failed hardware prompt.
type PromptFailureReason string

const (
	PromptCancelled PromptFailureReason = "cancelled"
	PromptFailed    PromptFailureReason = "failed"
	PromptLockout   PromptFailureReason = "lockout"
)

// PromptRequest configures the platform biometric prompt.
type PromptRequest struct {
	Message         string
	Subtitle        string
	CancelLabel     string
	DisableFallback bool
}

// PromptResult is the outcome of a single hardware prompt.
type PromptResult struct {
	Success bool
	Reason  PromptFailureReason
}

// BiometricHardware is the platform capability query plus the single blocking
// "prompt and verify" operation. Key exchange with the sensor is delegated
// entirely to the platform.
type BiometricHardware interface {
	HasHardware(ctx context.Context) (bool, error)
	IsEnrolled(ctx context.Context) (bool, error)
	SupportedTypes(ctx context.Context) ([]string, error)
	Prompt(ctx context.Context, req PromptRequest) (PromptResult, error)
}

// RemoteValidation is the remote service's verdict on a token.
type RemoteValidation struct {
	Valid         bool `json:"valid"`
	ShouldRefresh bool `json:"should_refresh"`
}

// RemoteTokenService is the opaque network peer holding server-side copies of
// biometric tokens. It is strictly best-effort: unavailability must never
// block a locally-valid authentication.
type RemoteTokenService interface {
	MintToken(ctx context.Context, tokenType, deviceID, localToken string) error
	ValidateToken(ctx context.Context, token, deviceID string) (RemoteValidation, error)
	RefreshToken(ctx context.Context, oldToken, newToken, deviceID string) error
	RevokeTokens(ctx context.Context, userID, deviceID string) error
	AppendAudit(ctx context.Context, action, tokenType, deviceID string, success bool, errMsg string) error
}

// ConnectionType reported by network introspection.
type ConnectionType string

const (
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionNone     ConnectionType = "none"
)

// DeviceInfoProvider reads the device-identity signals that make up a
// fingerprint.
type DeviceInfoProvider interface {
	Snapshot(ctx context.Context) (DeviceFingerprint, error)
}

// NetworkInfoProvider reports the current connectivity type.
type NetworkInfoProvider interface {
	ConnectionType(ctx context.Context) (ConnectionType, error)
}
