package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
)

const (
	rateLimitWindow  = time.Hour
	lockoutDuration  = time.Hour
	maxAuthAttempts  = 10
	maxSetupAttempts = 5

	rateLimitBreachScore = 60
	authFailureScore     = 15
)

// RateLimiter is a sliding-window attempt counter with lockout, keyed by
// action category. State machine per action:
//
//	Open -> (attempts reach max) -> Locked -> (lockoutUntil elapses) -> Open
//
// Storage failures follow FailOpen: a storage glitch must never permanently
// lock a user out. This is a deliberate availability-over-strictness
// tradeoff; do not change it to fail-closed.
type RateLimiter struct {
	store  domain.SecureStore
	events *EventLog
	logger *zap.Logger
	now    func() time.Time

	// StorageErrorPolicy is FailOpen. Exposed as a field so tests can assert
	// the policy rather than infer it from behavior.
	StorageErrorPolicy FailurePolicy

	// One mutex per action category makes check/record an atomic
	// read-modify-write on the persisted record. The observable allow/deny
	// outcome for any individual call is unchanged; only the lost-update
	// window is closed.
	mu map[domain.RateLimitAction]*sync.Mutex
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(store domain.SecureStore, events *EventLog, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		store:              store,
		events:             events,
		logger:             logger,
		now:                time.Now,
		StorageErrorPolicy: FailOpen,
		mu: map[domain.RateLimitAction]*sync.Mutex{
			domain.RateLimitAuth:       {},
			domain.RateLimitEnrollment: {},
		},
	}
}

func maxAttemptsFor(action domain.RateLimitAction) int {
	if action == domain.RateLimitEnrollment {
		return maxSetupAttempts
	}
	return maxAuthAttempts
}

// Check evaluates whether another attempt is allowed right now. Every check
// persists the record, even when nothing changed: checks extend bookkeeping.
// Hitting the limit sets a one-hour lockout immediately and records a
// threat_detected event.
func (r *RateLimiter) Check(ctx context.Context, action domain.RateLimitAction) domain.RateLimitDecision {
	lock := r.lockFor(action)
	lock.Lock()
	defer lock.Unlock()

	now := r.now()
	max := maxAttemptsFor(action)

	record, err := r.load(ctx, action)
	if err != nil {
		// FailOpen: allow and log.
		r.logger.Error("rate limit state unreadable, failing open",
			zap.String("action", string(action)),
			zap.String("policy", r.StorageErrorPolicy.String()),
			zap.Error(err))
		return domain.RateLimitDecision{Allowed: true, Remaining: max, ResetAt: now.Add(rateLimitWindow)}
	}

	if record.LockoutUntil != nil {
		if now.Before(*record.LockoutUntil) {
			until := *record.LockoutUntil
			r.persist(ctx, action, record)
			return domain.RateLimitDecision{
				Allowed:      false,
				Remaining:    0,
				ResetAt:      until,
				LockoutUntil: &until,
			}
		}
		// Lockout elapsed: back to Open with a fresh window, otherwise the
		// stale count would re-trigger the lockout on the next check.
		record = domain.RateLimitRecord{FirstAttemptAt: now, LastAttemptAt: now}
	}

	if now.Sub(record.FirstAttemptAt) > rateLimitWindow {
		record = domain.RateLimitRecord{FirstAttemptAt: now, LastAttemptAt: now}
	}

	allowed := record.Attempts < max
	if !allowed {
		until := now.Add(lockoutDuration)
		record.LockoutUntil = &until
		r.events.Record(ctx, domain.EventThreatDetected,
			fmt.Sprintf("rate limit exceeded for %s", action), rateLimitBreachScore)
		r.logger.Warn("rate limit lockout engaged",
			zap.String("action", string(action)),
			zap.Time("until", until))
	}

	r.persist(ctx, action, record)

	remaining := max - record.Attempts
	if remaining < 0 {
		remaining = 0
	}
	decision := domain.RateLimitDecision{
		Allowed:      allowed,
		Remaining:    remaining,
		ResetAt:      record.FirstAttemptAt.Add(rateLimitWindow),
		LockoutUntil: record.LockoutUntil,
	}
	if record.LockoutUntil != nil {
		decision.ResetAt = *record.LockoutUntil
	}
	return decision
}

// Record books one attempt against the action's window and emits the
// matching security event ("login"/"failure" for auth, "setup" for
// enrollment).
func (r *RateLimiter) Record(ctx context.Context, action domain.RateLimitAction, success bool) {
	lock := r.lockFor(action)
	lock.Lock()
	defer lock.Unlock()

	now := r.now()
	record, err := r.load(ctx, action)
	if err != nil {
		r.logger.Error("rate limit state unreadable on record, failing open",
			zap.String("action", string(action)),
			zap.Error(err))
		record = domain.RateLimitRecord{FirstAttemptAt: now}
	}

	if record.Attempts == 0 || now.Sub(record.FirstAttemptAt) > rateLimitWindow {
		record = domain.RateLimitRecord{FirstAttemptAt: now, LockoutUntil: record.LockoutUntil}
	}
	record.Attempts++
	record.LastAttemptAt = now

	r.persist(ctx, action, record)

	eventType, details, score := attemptEvent(action, success)
	r.events.Record(ctx, eventType, details, score)
}

// Status is a read-only view of the current decision for reporting. Unlike
// Check it never persists, never sets a lockout, and never emits events.
func (r *RateLimiter) Status(ctx context.Context, action domain.RateLimitAction) domain.RateLimitDecision {
	now := r.now()
	max := maxAttemptsFor(action)

	record, err := r.load(ctx, action)
	if err != nil {
		return domain.RateLimitDecision{Allowed: true, Remaining: max, ResetAt: now.Add(rateLimitWindow)}
	}

	if record.LockoutUntil != nil && now.Before(*record.LockoutUntil) {
		until := *record.LockoutUntil
		return domain.RateLimitDecision{Allowed: false, ResetAt: until, LockoutUntil: &until}
	}
	if now.Sub(record.FirstAttemptAt) > rateLimitWindow {
		return domain.RateLimitDecision{Allowed: true, Remaining: max, ResetAt: now.Add(rateLimitWindow)}
	}

	remaining := max - record.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   record.Attempts < max,
		Remaining: remaining,
		ResetAt:   record.FirstAttemptAt.Add(rateLimitWindow),
	}
}

func attemptEvent(action domain.RateLimitAction, success bool) (domain.SecurityEventType, string, int) {
	if action == domain.RateLimitEnrollment {
		if success {
			return domain.EventSetupAttempt, "setup", 0
		}
		return domain.EventSetupAttempt, "setup failed", authFailureScore
	}
	if success {
		return domain.EventAuthSuccess, "login", 0
	}
	return domain.EventAuthFailure, "failure", authFailureScore
}

func (r *RateLimiter) lockFor(action domain.RateLimitAction) *sync.Mutex {
	if m, ok := r.mu[action]; ok {
		return m
	}
	// Unknown actions share the auth mutex; better serialized than racy.
	return r.mu[domain.RateLimitAuth]
}

// load returns the persisted record, a zero-value record when none exists,
// or an error on storage failure.
func (r *RateLimiter) load(ctx context.Context, action domain.RateLimitAction) (domain.RateLimitRecord, error) {
	now := r.now()
	data, err := r.store.Get(ctx, domain.KeyRateLimitPrefix+string(action))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RateLimitRecord{FirstAttemptAt: now, LastAttemptAt: now}, nil
		}
		return domain.RateLimitRecord{}, fmt.Errorf("read rate limit record: %w", err)
	}

	var record domain.RateLimitRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.RateLimitRecord{}, fmt.Errorf("decode rate limit record: %w", err)
	}
	return record, nil
}

// persist writes the record back. A write failure follows the same FailOpen
// policy as reads: log it, keep the decision already made.
func (r *RateLimiter) persist(ctx context.Context, action domain.RateLimitAction, record domain.RateLimitRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		r.logger.Error("marshal rate limit record", zap.Error(err))
		return
	}
	if err := r.store.Set(ctx, domain.KeyRateLimitPrefix+string(action), data); err != nil {
		r.logger.Error("persist rate limit record, failing open",
			zap.String("action", string(action)),
			zap.Error(err))
	}
}
