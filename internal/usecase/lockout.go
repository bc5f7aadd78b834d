package usecase

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
)

const (
	// maxFailedAttempts is the consecutive-failure threshold after which
	// biometric authentication is refused until a password login resets it.
	maxFailedAttempts = 3

	// passwordCadence is the mandatory password re-authentication interval.
	passwordCadence = 30 * 24 * time.Hour
)

// LockoutController enforces the attempt-count-based fallback-to-password
// rule and the 30-day password re-authentication cadence. The failure
// counter is independent of the rate limiter: it is reset only by success,
// never by time.
type LockoutController struct {
	store  domain.SecureStore
	logger *zap.Logger
	now    func() time.Time
}

// NewLockoutController creates a controller.
func NewLockoutController(store domain.SecureStore, logger *zap.Logger) *LockoutController {
	return &LockoutController{store: store, logger: logger, now: time.Now}
}

// FailedAttempts returns the current consecutive-failure count. Storage
// errors read as zero, the same availability tradeoff as the rate limiter.
func (c *LockoutController) FailedAttempts(ctx context.Context) int {
	data, err := c.store.Get(ctx, domain.KeyFailedAttempts)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Error("read failed-attempt counter, assuming zero", zap.Error(err))
		}
		return 0
	}
	n, err := strconv.Atoi(string(data))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// RecordFailure increments the counter and returns the new count.
func (c *LockoutController) RecordFailure(ctx context.Context) int {
	n := c.FailedAttempts(ctx) + 1
	if err := c.store.Set(ctx, domain.KeyFailedAttempts, []byte(strconv.Itoa(n))); err != nil {
		c.logger.Error("persist failed-attempt counter", zap.Error(err))
	}
	return n
}

// RecordSuccess resets the counter to zero.
func (c *LockoutController) RecordSuccess(ctx context.Context) {
	if err := c.store.Set(ctx, domain.KeyFailedAttempts, []byte("0")); err != nil {
		c.logger.Error("reset failed-attempt counter", zap.Error(err))
	}
}

// CadenceExpired reports whether more than 30 days have elapsed since the
// last password login. An absent marker reads as not expired: the marker is
// written at enrollment and on every password login, and a fresh install
// must not start life locked to a password that was never set.
func (c *LockoutController) CadenceExpired(ctx context.Context) bool {
	data, err := c.store.Get(ctx, domain.KeyLastPasswordLogin)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Error("read password cadence marker", zap.Error(err))
		}
		return false
	}
	last, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		c.logger.Error("password cadence marker corrupt", zap.Error(err))
		return false
	}
	return c.now().Sub(last) > passwordCadence
}

// RequiresPasswordLogin reports whether biometric authentication must be
// refused in favor of a password login, and why.
func (c *LockoutController) RequiresPasswordLogin(ctx context.Context) (bool, string) {
	if c.CadenceExpired(ctx) {
		return true, "password login required every 30 days"
	}
	if c.FailedAttempts(ctx) >= maxFailedAttempts {
		return true, "too many failed biometric attempts"
	}
	return false, ""
}

// MarkPasswordLogin records a successful password login: the cadence clock
// restarts and the failure counter resets.
func (c *LockoutController) MarkPasswordLogin(ctx context.Context) error {
	stamp := c.now().Format(time.RFC3339)
	if err := c.store.Set(ctx, domain.KeyLastPasswordLogin, []byte(stamp)); err != nil {
		return err
	}
	c.RecordSuccess(ctx)
	return nil
}

// EnsureCadenceMarker writes the cadence marker if none exists yet, starting
// the 30-day clock at enrollment time.
func (c *LockoutController) EnsureCadenceMarker(ctx context.Context) {
	_, err := c.store.Get(ctx, domain.KeyLastPasswordLogin)
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.Error("read password cadence marker", zap.Error(err))
		return
	}
	stamp := c.now().Format(time.RFC3339)
	if err := c.store.Set(ctx, domain.KeyLastPasswordLogin, []byte(stamp)); err != nil {
		c.logger.Error("initialize password cadence marker", zap.Error(err))
	}
}
