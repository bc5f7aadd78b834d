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

var (
	ErrPasswordNotSet    = errors.New("password login not configured")
	ErrStepUpNotPending  = errors.New("no pending step-up enrollment")
	ErrInvalidStepUpCode = errors.New("invalid verification code")
)

const (
	sessionTokenTTL        = 15 * time.Minute
	sessionTokenTTLSeconds = int64(sessionTokenTTL / time.Second)
)

// passwordRecord is the locally provisioned password verifier.
type passwordRecord struct {
	UserID string `json:"user_id"`
	Hash   string `json:"hash"`
}

// Coordinator is the façade orchestrating the engine components around the
// authenticate/enroll/disable calls. All collaborators are injected at
// construction; there are no ambient singletons.
type Coordinator struct {
	fingerprints *FingerprintTracker
	limiter      *RateLimiter
	events       *EventLog
	assessor     *ThreatAssessor
	tokens       *TokenManager
	lockout      *LockoutController
	hardware     domain.BiometricHardware
	remote       domain.RemoteTokenService
	store        domain.SecureStore
	device       domain.DeviceInfoProvider
	logger       *zap.Logger
	jwtSecret    string

	remoteTimeout time.Duration
}

// CoordinatorDeps lists the collaborators a Coordinator needs.
type CoordinatorDeps struct {
	Fingerprints  *FingerprintTracker
	Limiter       *RateLimiter
	Events        *EventLog
	Assessor      *ThreatAssessor
	Tokens        *TokenManager
	Lockout       *LockoutController
	Hardware      domain.BiometricHardware
	Remote        domain.RemoteTokenService
	Store         domain.SecureStore
	Device        domain.DeviceInfoProvider
	Logger        *zap.Logger
	JWTSecret     string
	RemoteTimeout time.Duration
}

// NewCoordinator wires the façade.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	if deps.RemoteTimeout <= 0 {
		deps.RemoteTimeout = 3 * time.Second
	}
	return &Coordinator{
		fingerprints:  deps.Fingerprints,
		limiter:       deps.Limiter,
		events:        deps.Events,
		assessor:      deps.Assessor,
		tokens:        deps.Tokens,
		lockout:       deps.Lockout,
		hardware:      deps.Hardware,
		remote:        deps.Remote,
		store:         deps.Store,
		device:        deps.Device,
		logger:        deps.Logger,
		jwtSecret:     deps.JWTSecret,
		remoteTimeout: deps.RemoteTimeout,
	}
}

// CheckAvailability reports the device's biometric capability and the
// engine's enablement state.
func (c *Coordinator) CheckAvailability(ctx context.Context) (domain.Availability, error) {
	hasHardware, err := c.hardware.HasHardware(ctx)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("query hardware: %w", err)
	}
	enrolled, err := c.hardware.IsEnrolled(ctx)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("query enrollment: %w", err)
	}
	types, err := c.hardware.SupportedTypes(ctx)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("query supported types: %w", err)
	}

	token, err := c.tokens.Peek(ctx)
	if err != nil {
		return domain.Availability{}, err
	}

	return domain.Availability{
		HasHardware:    hasHardware,
		Enrolled:       enrolled,
		SupportedTypes: types,
		Enabled:        c.biometricEnabled(ctx),
		HasToken:       token != nil,
	}, nil
}

// Authenticate runs the full biometric authentication state machine:
// policy checks, rate limit, device drift, attempt counter, token load,
// hardware prompt, then success/failure bookkeeping.
func (c *Coordinator) Authenticate(ctx context.Context) domain.AuthResult {
	// 1. Policy checks, cheapest first. The cadence check touches one key
	// and can short-circuit without any scoring side effects.
	if c.lockout.CadenceExpired(ctx) {
		return domain.AuthResult{
			Error:                 "password login required every 30 days",
			ErrorCode:             domain.ErrCodePasswordRequired,
			RequiresPasswordLogin: true,
		}
	}

	assessment := c.assessor.Assess(ctx)
	if !assessment.ActionAllowed(domain.ActionBiometric) {
		result := domain.AuthResult{
			Error:                  fmt.Sprintf("biometric authentication blocked: threat level %s", assessment.Risk),
			ErrorCode:              domain.ErrCodeThreatBlocked,
			RequiresAdditionalAuth: assessment.RequiresAdditionalAuth,
		}
		if assessment.ActionAllowed(domain.ActionPassword) {
			result.RequiresPasswordLogin = true
		}
		return result
	}

	// 2. Rate limit.
	if decision := c.limiter.Check(ctx, domain.RateLimitAuth); !decision.Allowed {
		return domain.AuthResult{
			Error:     fmt.Sprintf("too many authentication attempts, locked until %s", decision.ResetAt.Format(time.RFC3339)),
			ErrorCode: domain.ErrCodeRateLimited,
		}
	}

	// 3. Device drift.
	diff, err := c.fingerprints.DetectChanges(ctx)
	if err != nil {
		return c.internalError("device check failed", err)
	}
	if diff.ThreatScore > 50 {
		return domain.AuthResult{
			Error:              "significant device change detected, re-enrollment required",
			ErrorCode:          domain.ErrCodeReEnrollRequired,
			RequiresEnrollment: true,
		}
	}

	// 4. Attempt counter.
	if c.lockout.FailedAttempts(ctx) >= maxFailedAttempts {
		return domain.AuthResult{
			Error:                 "too many failed attempts, password login required",
			ErrorCode:             domain.ErrCodeTooManyAttempts,
			RequiresPasswordLogin: true,
		}
	}

	// 5. Token. No token means biometrics were never set up on this device;
	// the hardware prompt is never shown in that case.
	token, err := c.tokens.Load(ctx)
	if err != nil {
		return c.internalError("token load failed", err)
	}
	if token == nil {
		return domain.AuthResult{
			Error:              "no biometric token, set up biometrics first",
			ErrorCode:          domain.ErrCodeNoToken,
			RequiresEnrollment: true,
		}
	}

	// 6. Hardware prompt.
	if result, ok := c.hardwareReady(ctx); !ok {
		return result
	}
	prompt, err := c.hardware.Prompt(ctx, domain.PromptRequest{
		Message:         "Verify your identity",
		Subtitle:        "Confirm it's you to continue",
		CancelLabel:     "Use password",
		DisableFallback: true,
	})
	if err != nil {
		return c.internalError("biometric prompt failed", err)
	}

	if prompt.Success {
		return c.finishSuccess(ctx, token)
	}
	return c.finishFailure(ctx, token, prompt.Reason)
}

// finishSuccess performs the post-success bookkeeping and mints the session.
func (c *Coordinator) finishSuccess(ctx context.Context, token *domain.BiometricToken) domain.AuthResult {
	c.lockout.RecordSuccess(ctx)
	c.limiter.Record(ctx, domain.RateLimitAuth, true)
	c.tokens.ValidateRemotely(ctx, token)
	c.appendRemoteAudit(ctx, "login", token.DeviceID, true, "")

	accessToken, err := security.GenerateAccessToken(token.UserID, token.DeviceID, "biometric", c.jwtSecret, sessionTokenTTL)
	if err != nil {
		return c.internalError("session token generation failed", err)
	}

	c.logger.Info("biometric authentication succeeded", zap.String("user_id", token.UserID))
	return domain.AuthResult{
		Success:     true,
		UserID:      token.UserID,
		AccessToken: accessToken,
		ExpiresIn:   sessionTokenTTLSeconds,
	}
}

// finishFailure maps the hardware failure reason to a caller-facing error.
// Cancellation is reported distinctly and never counts as a failure.
func (c *Coordinator) finishFailure(ctx context.Context, token *domain.BiometricToken, reason domain.PromptFailureReason) domain.AuthResult {
	if reason == domain.PromptCancelled {
		c.events.Record(ctx, domain.EventAuthAttempt, "biometric prompt cancelled", 0)
		return domain.AuthResult{
			Error:     "authentication cancelled",
			ErrorCode: domain.ErrCodeCancelled,
		}
	}

	count := c.lockout.RecordFailure(ctx)
	c.limiter.Record(ctx, domain.RateLimitAuth, false)
	c.appendRemoteAudit(ctx, "login", token.DeviceID, false, string(reason))

	if reason == domain.PromptLockout {
		return domain.AuthResult{
			Error:     "biometric sensor temporarily locked",
			ErrorCode: domain.ErrCodeRateLimited,
		}
	}
	if count >= maxFailedAttempts {
		return domain.AuthResult{
			Error:                 "too many failed attempts, password login required",
			ErrorCode:             domain.ErrCodeTooManyAttempts,
			RequiresPasswordLogin: true,
		}
	}

	remaining := maxFailedAttempts - count
	return domain.AuthResult{
		Error:             "authentication failed",
		ErrorCode:         domain.ErrCodeAuthFailed,
		RemainingAttempts: &remaining,
	}
}

// Enroll runs the enrollment flow: policy checks, enrollment rate limit,
// hardware confirmation, token mint, and activation.
func (c *Coordinator) Enroll(ctx context.Context, userID string) domain.AuthResult {
	if userID == "" {
		return domain.AuthResult{Error: "user id required", ErrorCode: domain.ErrCodeInternal}
	}

	if c.lockout.CadenceExpired(ctx) {
		return domain.AuthResult{
			Error:                 "password login required every 30 days",
			ErrorCode:             domain.ErrCodePasswordRequired,
			RequiresPasswordLogin: true,
		}
	}

	assessment := c.assessor.Assess(ctx)
	if !assessment.ActionAllowed(domain.ActionBiometric) {
		return domain.AuthResult{
			Error:                  fmt.Sprintf("enrollment blocked: threat level %s", assessment.Risk),
			ErrorCode:              domain.ErrCodeThreatBlocked,
			RequiresAdditionalAuth: assessment.RequiresAdditionalAuth,
		}
	}

	if decision := c.limiter.Check(ctx, domain.RateLimitEnrollment); !decision.Allowed {
		return domain.AuthResult{
			Error:     fmt.Sprintf("too many enrollment attempts, locked until %s", decision.ResetAt.Format(time.RFC3339)),
			ErrorCode: domain.ErrCodeRateLimited,
		}
	}

	if result, ok := c.hardwareReady(ctx); !ok {
		return result
	}
	prompt, err := c.hardware.Prompt(ctx, domain.PromptRequest{
		Message:         "Enable biometric unlock",
		Subtitle:        "Confirm to enroll this device",
		CancelLabel:     "Cancel",
		DisableFallback: true,
	})
	if err != nil {
		return c.internalError("biometric prompt failed", err)
	}

	if !prompt.Success {
		if prompt.Reason == domain.PromptCancelled {
			c.events.Record(ctx, domain.EventAuthAttempt, "enrollment cancelled", 0)
			return domain.AuthResult{Error: "enrollment cancelled", ErrorCode: domain.ErrCodeCancelled}
		}
		c.limiter.Record(ctx, domain.RateLimitEnrollment, false)
		c.appendRemoteAudit(ctx, "setup", "", false, string(prompt.Reason))
		return domain.AuthResult{Error: "enrollment failed", ErrorCode: domain.ErrCodeAuthFailed}
	}

	token, err := c.tokens.Mint(ctx, userID)
	if err != nil {
		return c.internalError("token mint failed", err)
	}

	if err := c.store.Set(ctx, domain.KeyBiometricEnabled, []byte("true")); err != nil {
		return c.internalError("persist enabled flag", err)
	}
	c.lockout.EnsureCadenceMarker(ctx)
	c.limiter.Record(ctx, domain.RateLimitEnrollment, true)
	c.appendRemoteAudit(ctx, "setup", token.DeviceID, true, "")

	c.logger.Info("biometric enrollment completed", zap.String("user_id", userID))
	return domain.AuthResult{Success: true, UserID: userID}
}

// Disable revokes the local token, clears the enabled flag and attempt
// counter, and notifies the remote service. It performs no policy checks:
// turning biometrics off is always allowed.
func (c *Coordinator) Disable(ctx context.Context) error {
	if err := c.tokens.Revoke(ctx, false); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, domain.KeyBiometricEnabled); err != nil {
		return fmt.Errorf("clear enabled flag: %w", err)
	}
	c.lockout.RecordSuccess(ctx)
	c.events.Record(ctx, domain.EventSetupAttempt, "biometric authentication disabled", 0)
	c.appendRemoteAudit(ctx, "disable", "", true, "")
	c.logger.Info("biometric authentication disabled")
	return nil
}

// AssessThreat exposes the threat assessor on the façade.
func (c *Coordinator) AssessThreat(ctx context.Context) domain.ThreatAssessment {
	return c.assessor.Assess(ctx)
}

// GenerateSecurityReport assembles a read-only view of the engine's state.
// It reads the persisted assessment snapshot rather than re-assessing:
// assessment extends rate-limit bookkeeping, and a report must not mutate
// engine state.
func (c *Coordinator) GenerateSecurityReport(ctx context.Context) (domain.SecurityReport, error) {
	report := domain.SecurityReport{
		GeneratedAt: time.Now(),
		EventCounts: make(map[domain.SecurityEventType]int),
		RateLimits:  make(map[domain.RateLimitAction]domain.RateLimitDecision),
	}

	assessment, err := c.assessor.LastAssessment(ctx)
	if err != nil {
		return domain.SecurityReport{}, err
	}
	report.Assessment = assessment

	fingerprint, err := c.fingerprints.Stored(ctx)
	if err != nil {
		return domain.SecurityReport{}, err
	}
	report.Fingerprint = fingerprint

	events, err := c.events.Recent(ctx, 24)
	if err != nil {
		return domain.SecurityReport{}, err
	}
	report.RecentEvents = events
	for _, ev := range events {
		report.EventCounts[ev.Type]++
	}

	report.RateLimits[domain.RateLimitAuth] = c.limiter.Status(ctx, domain.RateLimitAuth)
	report.RateLimits[domain.RateLimitEnrollment] = c.limiter.Status(ctx, domain.RateLimitEnrollment)
	report.FailedAttempts = c.lockout.FailedAttempts(ctx)
	report.BiometricActive = c.biometricEnabled(ctx)

	if token, err := c.tokens.Peek(ctx); err == nil && token != nil {
		expires := token.ExpiresAt
		report.TokenExpiresAt = &expires
	}

	return report, nil
}

// ClearAllSecurityData wipes every engine key and revokes all of the user's
// remote tokens. Used on logout/account removal.
func (c *Coordinator) ClearAllSecurityData(ctx context.Context) error {
	if err := c.tokens.Revoke(ctx, true); err != nil {
		c.logger.Warn("token revocation during clear failed", zap.Error(err))
	}

	keys := []string{
		domain.KeyFingerprint,
		domain.KeyRateLimitPrefix + string(domain.RateLimitAuth),
		domain.KeyRateLimitPrefix + string(domain.RateLimitEnrollment),
		domain.KeyEventLog,
		domain.KeyThreatSnapshot,
		domain.KeyBiometricToken,
		domain.KeyBiometricEnabled,
		domain.KeyFailedAttempts,
		domain.KeyLastPasswordLogin,
		domain.KeyPasswordHash,
		domain.KeyStepUpSecret,
		domain.KeyStepUpPending,
	}
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
	}

	c.logger.Info("all security data cleared")
	return nil
}

// SetPassword provisions the local password verifier used by the cadence
// reset path.
func (c *Coordinator) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := security.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	record := passwordRecord{UserID: userID, Hash: hash}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal password record: %w", err)
	}
	if err := c.store.Set(ctx, domain.KeyPasswordHash, data); err != nil {
		return fmt.Errorf("persist password record: %w", err)
	}
	return nil
}

// PasswordLogin verifies the local password, demands the TOTP step-up code
// when the last assessment requires additional auth, and on success restarts
// the 30-day cadence and resets the failure counter.
func (c *Coordinator) PasswordLogin(ctx context.Context, password, stepUpCode string) domain.AuthResult {
	record, err := c.passwordRecord(ctx)
	if err != nil {
		if errors.Is(err, ErrPasswordNotSet) {
			return domain.AuthResult{Error: err.Error(), ErrorCode: domain.ErrCodeAuthFailed}
		}
		return c.internalError("password record unreadable", err)
	}

	match, err := security.ComparePassword(password, record.Hash)
	if err != nil || !match {
		c.events.Record(ctx, domain.EventAuthFailure, "password login failed", authFailureScore)
		c.appendRemoteAudit(ctx, "password_login", "", false, "invalid password")
		return domain.AuthResult{Error: "invalid password", ErrorCode: domain.ErrCodeAuthFailed}
	}

	if result, ok := c.checkStepUp(ctx, stepUpCode); !ok {
		return result
	}

	if err := c.lockout.MarkPasswordLogin(ctx); err != nil {
		return c.internalError("cadence marker update failed", err)
	}
	c.events.Record(ctx, domain.EventAuthSuccess, "password login", 0)
	c.appendRemoteAudit(ctx, "password_login", "", true, "")

	deviceID := ""
	if snapshot, serr := c.device.Snapshot(ctx); serr == nil {
		deviceID = snapshot.DeviceID
	}
	accessToken, err := security.GenerateAccessToken(record.UserID, deviceID, "password", c.jwtSecret, sessionTokenTTL)
	if err != nil {
		return c.internalError("session token generation failed", err)
	}

	return domain.AuthResult{
		Success:     true,
		UserID:      record.UserID,
		AccessToken: accessToken,
		ExpiresIn:   sessionTokenTTLSeconds,
	}
}

// checkStepUp enforces the TOTP second factor when the last assessment
// demands additional auth. Returns ok=false with the result to surface.
func (c *Coordinator) checkStepUp(ctx context.Context, code string) (domain.AuthResult, bool) {
	assessment, err := c.assessor.LastAssessment(ctx)
	if err != nil || assessment == nil || !assessment.RequiresAdditionalAuth {
		return domain.AuthResult{}, true
	}

	secret, err := c.store.Get(ctx, domain.KeyStepUpSecret)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// No second factor enrolled; demanding one would lock the user
			// out entirely at elevated tiers.
			c.logger.Warn("additional auth required but no step-up factor enrolled")
			return domain.AuthResult{}, true
		}
		return c.internalError("step-up secret unreadable", err), false
	}

	if code == "" {
		return domain.AuthResult{
			Error:                  "verification code required",
			ErrorCode:              domain.ErrCodeThreatBlocked,
			RequiresAdditionalAuth: true,
		}, false
	}
	if !security.VerifyStepUpCode(code, string(secret)) {
		c.events.Record(ctx, domain.EventAuthFailure, "step-up verification failed", authFailureScore)
		return domain.AuthResult{
			Error:                  ErrInvalidStepUpCode.Error(),
			ErrorCode:              domain.ErrCodeAuthFailed,
			RequiresAdditionalAuth: true,
		}, false
	}
	return domain.AuthResult{}, true
}

// StepUpSetup generates a pending TOTP secret and returns it with its
// provisioning URI. The factor activates only after StepUpEnable verifies a
// first code.
func (c *Coordinator) StepUpSetup(ctx context.Context) (secret, uri string, err error) {
	secret, err = security.GenerateStepUpSecret()
	if err != nil {
		return "", "", fmt.Errorf("generate step-up secret: %w", err)
	}
	if err := c.store.Set(ctx, domain.KeyStepUpPending, []byte(secret)); err != nil {
		return "", "", fmt.Errorf("persist pending secret: %w", err)
	}

	account := "device"
	if record, rerr := c.passwordRecord(ctx); rerr == nil {
		account = record.UserID
	}
	return secret, security.StepUpQRCodeURI(account, secret), nil
}

// StepUpEnable verifies the first code against the pending secret and
// activates the step-up factor.
func (c *Coordinator) StepUpEnable(ctx context.Context, code string) error {
	pending, err := c.store.Get(ctx, domain.KeyStepUpPending)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrStepUpNotPending
		}
		return fmt.Errorf("read pending secret: %w", err)
	}

	if !security.VerifyStepUpCode(code, string(pending)) {
		return ErrInvalidStepUpCode
	}

	if err := c.store.Set(ctx, domain.KeyStepUpSecret, pending); err != nil {
		return fmt.Errorf("activate step-up secret: %w", err)
	}
	if err := c.store.Delete(ctx, domain.KeyStepUpPending); err != nil {
		c.logger.Warn("clear pending step-up secret", zap.Error(err))
	}
	c.events.Record(ctx, domain.EventSetupAttempt, "step-up factor enabled", 0)
	return nil
}

func (c *Coordinator) passwordRecord(ctx context.Context) (*passwordRecord, error) {
	data, err := c.store.Get(ctx, domain.KeyPasswordHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrPasswordNotSet
		}
		return nil, fmt.Errorf("read password record: %w", err)
	}
	var record passwordRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode password record: %w", err)
	}
	return &record, nil
}

// hardwareReady verifies sensor presence and platform enrollment. Both are
// terminal for the session when missing: no retry will grow a sensor.
func (c *Coordinator) hardwareReady(ctx context.Context) (domain.AuthResult, bool) {
	hasHardware, err := c.hardware.HasHardware(ctx)
	if err != nil {
		return c.internalError("hardware query failed", err), false
	}
	if !hasHardware {
		return domain.AuthResult{
			Error:     "no biometric hardware available",
			ErrorCode: domain.ErrCodeHardwareUnavailable,
		}, false
	}
	enrolled, err := c.hardware.IsEnrolled(ctx)
	if err != nil {
		return c.internalError("enrollment query failed", err), false
	}
	if !enrolled {
		return domain.AuthResult{
			Error:     "no biometrics enrolled on this device",
			ErrorCode: domain.ErrCodeNotEnrolled,
		}, false
	}
	return domain.AuthResult{}, true
}

func (c *Coordinator) biometricEnabled(ctx context.Context) bool {
	data, err := c.store.Get(ctx, domain.KeyBiometricEnabled)
	return err == nil && string(data) == "true"
}

// appendRemoteAudit reports an outcome to the remote audit trail. Failures
// convert to a logged event, never an error on the local path.
func (c *Coordinator) appendRemoteAudit(ctx context.Context, action, deviceID string, success bool, errMsg string) {
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()
	if err := c.remote.AppendAudit(rctx, action, tokenTypeLocal, deviceID, success, errMsg); err != nil {
		c.logger.Warn("remote audit append failed", zap.String("action", action), zap.Error(err))
	}
}

func (c *Coordinator) internalError(msg string, err error) domain.AuthResult {
	c.logger.Error(msg, zap.Error(err))
	return domain.AuthResult{
		Error:     msg,
		ErrorCode: domain.ErrCodeInternal,
	}
}
