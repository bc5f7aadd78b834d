package domain

import (
	"time"
)

// SecurityEventType classifies entries in the security event log.
type SecurityEventType string

const (
	EventAuthAttempt    SecurityEventType = "auth_attempt"
	EventAuthSuccess    SecurityEventType = "auth_success"
	EventAuthFailure    SecurityEventType = "auth_failure"
	EventSetupAttempt   SecurityEventType = "setup_attempt"
	EventDeviceChange   SecurityEventType = "device_change"
	EventThreatDetected SecurityEventType = "threat_detected"
)

// RiskLevel labels for threat score bands.
const (
	RiskLow      = "low"      // 0-24
	RiskMedium   = "medium"   // 25-49
	RiskHigh     = "high"     // 50-74
	RiskCritical = "critical" // 75-100
)

// Authentication actions gated by the threat assessment.
const (
	ActionBiometric = "biometric_auth"
	ActionPassword  = "password_auth"
	ActionSensitive = "sensitive_operations"
)

// RateLimitAction identifies a rate-limited action category.
type RateLimitAction string

const (
	RateLimitAuth       RateLimitAction = "auth"
	RateLimitEnrollment RateLimitAction = "enrollment"
)

// Error codes surfaced to the caller in AuthResult.ErrorCode.
const (
	ErrCodeHardwareUnavailable = "hardware_unavailable"
	ErrCodeNotEnrolled         = "not_enrolled"
	ErrCodeNoToken             = "no_token"
	ErrCodeCancelled           = "cancelled"
	ErrCodeAuthFailed          = "auth_failed"
	ErrCodeTooManyAttempts     = "too_many_attempts"
	ErrCodeRateLimited         = "rate_limited"
	ErrCodePasswordRequired    = "password_required"
	ErrCodeThreatBlocked       = "threat_blocked"
	ErrCodeReEnrollRequired    = "reenroll_required"
	ErrCodeInternal            = "internal_error"
)

// DeviceFingerprint is a snapshot of device-identity signals used to detect
// device substitution or cloning. Exactly one fingerprint is retained at a
// time; each comparison replaces it with the newest observation.
type DeviceFingerprint struct {
	DeviceID     string    `json:"device_id"`
	DeviceName   string    `json:"device_name"`
	ModelName    string    `json:"model_name"`
	OSName       string    `json:"os_name"`
	OSVersion    string    `json:"os_version"`
	Manufacturer string    `json:"manufacturer"`
	IsEmulator   bool      `json:"is_emulator"`
	ScreenWidth  int       `json:"screen_width"`
	ScreenHeight int       `json:"screen_height"`
	Timezone     string    `json:"timezone"`
	CreatedAt    time.Time `json:"created_at"`
}

// FingerprintDiff is the outcome of comparing the stored fingerprint with a
// fresh one.
type FingerprintDiff struct {
	HasChanged    bool     `json:"has_changed"`
	ChangedFields []string `json:"changed_fields"`
	ThreatScore   int      `json:"threat_score"`
}

// RateLimitRecord tracks attempts for one action category within a rolling
// one-hour window. LockoutUntil, once set, is cleared only by time expiry.
type RateLimitRecord struct {
	Attempts       int        `json:"attempts"`
	FirstAttemptAt time.Time  `json:"first_attempt_at"`
	LastAttemptAt  time.Time  `json:"last_attempt_at"`
	LockoutUntil   *time.Time `json:"lockout_until,omitempty"`
}

// RateLimitDecision is the result of a rate-limit check.
type RateLimitDecision struct {
	Allowed      bool       `json:"allowed"`
	Remaining    int        `json:"remaining"`
	ResetAt      time.Time  `json:"reset_at"`
	LockoutUntil *time.Time `json:"lockout_until,omitempty"`
}

// SecurityEvent is one entry in the bounded security audit log.
type SecurityEvent struct {
	ID          string            `json:"id"`
	Type        SecurityEventType `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	DeviceID    string            `json:"device_id"`
	Details     string            `json:"details"`
	ThreatScore int               `json:"threat_score"`
}

// ThreatAssessment is the composite risk verdict gating authentication
// actions. It is a derived value; only the last computed snapshot is kept.
type ThreatAssessment struct {
	Score                  int       `json:"score"` // 0-100
	Factors                []string  `json:"factors"`
	Risk                   string    `json:"risk"`
	AllowedActions         []string  `json:"allowed_actions"`
	RequiresAdditionalAuth bool      `json:"requires_additional_auth"`
	AssessedAt             time.Time `json:"assessed_at"`
}

// ActionAllowed reports whether the assessment permits the given action.
func (a *ThreatAssessment) ActionAllowed(action string) bool {
	for _, allowed := range a.AllowedActions {
		if allowed == action {
			return true
		}
	}
	return false
}

// BiometricToken is the opaque, device-bound, time-limited credential that
// stands in for a full password login.
type BiometricToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token's lifetime has elapsed at the given time.
func (t *BiometricToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// AuthResult is returned by every façade authentication operation. Failures
// carry a human-readable Error, a machine ErrorCode, and flags the caller
// must honor (RequiresPasswordLogin routes to password authentication).
type AuthResult struct {
	Success                bool   `json:"success"`
	UserID                 string `json:"user_id,omitempty"`
	AccessToken            string `json:"access_token,omitempty"`
	ExpiresIn              int64  `json:"expires_in,omitempty"`
	Error                  string `json:"error,omitempty"`
	ErrorCode              string `json:"error_code,omitempty"`
	RemainingAttempts      *int   `json:"remaining_attempts,omitempty"`
	RequiresPasswordLogin  bool   `json:"requires_password_login,omitempty"`
	RequiresEnrollment     bool   `json:"requires_enrollment,omitempty"`
	RequiresAdditionalAuth bool   `json:"requires_additional_auth,omitempty"`
}

// Availability describes the biometric capability of the current device.
type Availability struct {
	HasHardware    bool     `json:"has_hardware"`
	Enrolled       bool     `json:"enrolled"`
	SupportedTypes []string `json:"supported_types"`
	Enabled        bool     `json:"enabled"`
	HasToken       bool     `json:"has_token"`
}

// SecurityReport is a point-in-time export of the engine's security state.
type SecurityReport struct {
	GeneratedAt     time.Time                             `json:"generated_at"`
	Assessment      *ThreatAssessment                     `json:"assessment,omitempty"`
	Fingerprint     *DeviceFingerprint                    `json:"fingerprint,omitempty"`
	RecentEvents    []SecurityEvent                       `json:"recent_events"`
	EventCounts     map[SecurityEventType]int             `json:"event_counts"`
	RateLimits      map[RateLimitAction]RateLimitDecision `json:"rate_limits"`
	FailedAttempts  int                                   `json:"failed_attempts"`
	BiometricActive bool                                  `json:"biometric_active"`
	TokenExpiresAt  *time.Time                            `json:"token_expires_at,omitempty"`
}
