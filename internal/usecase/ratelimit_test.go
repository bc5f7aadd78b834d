package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
)

func TestRateLimitAllowsUnderLimit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < maxAuthAttempts-1; i++ {
		f.limiter.Record(ctx, domain.RateLimitAuth, true)
	}

	decision := f.limiter.Check(ctx, domain.RateLimitAuth)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)
	assert.Nil(t, decision.LockoutUntil)
}

func TestRateLimitLockoutAfterMaxAttempts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < maxAuthAttempts; i++ {
		f.limiter.Record(ctx, domain.RateLimitAuth, true)
	}

	decision := f.limiter.Check(ctx, domain.RateLimitAuth)
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.Remaining)
	require.NotNil(t, decision.LockoutUntil)
	assert.Equal(t, testStart.Add(lockoutDuration), *decision.LockoutUntil)
	assert.Equal(t, *decision.LockoutUntil, decision.ResetAt)

	// Engaging the lockout records a threat event.
	recent, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)
	var found bool
	for _, ev := range recent {
		if ev.Type == domain.EventThreatDetected {
			found = true
			assert.Equal(t, rateLimitBreachScore, ev.ThreatScore)
		}
	}
	assert.True(t, found)
}

func TestRateLimitEnrollmentHasTighterLimit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < maxSetupAttempts; i++ {
		f.limiter.Record(ctx, domain.RateLimitEnrollment, true)
	}

	assert.False(t, f.limiter.Check(ctx, domain.RateLimitEnrollment).Allowed)
	// The auth window is independent of the enrollment window.
	assert.True(t, f.limiter.Check(ctx, domain.RateLimitAuth).Allowed)
}

func TestRateLimitWindowResetsAfterAnHour(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < maxAuthAttempts; i++ {
		f.limiter.Record(ctx, domain.RateLimitAuth, true)
	}

	f.clock.Advance(rateLimitWindow + time.Minute)

	decision := f.limiter.Check(ctx, domain.RateLimitAuth)
	assert.True(t, decision.Allowed)
	assert.Equal(t, maxAuthAttempts, decision.Remaining)
}

func TestRateLimitLockoutExpiryStartsFreshWindow(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < maxAuthAttempts; i++ {
		f.limiter.Record(ctx, domain.RateLimitAuth, false)
	}
	require.False(t, f.limiter.Check(ctx, domain.RateLimitAuth).Allowed)

	f.clock.Advance(lockoutDuration + time.Minute)

	// The stale attempt count must not immediately re-trigger the lockout.
	decision := f.limiter.Check(ctx, domain.RateLimitAuth)
	assert.True(t, decision.Allowed)
	assert.Equal(t, maxAuthAttempts, decision.Remaining)
}

func TestRateLimitFailsOpenOnStorageError(t *testing.T) {
	logger := zap.NewNop()
	device := &fakeDevice{fp: physicalFingerprint()}
	events := NewEventLog(failingStore{}, device, logger)
	limiter := NewRateLimiter(failingStore{}, events, logger)
	limiter.now = func() time.Time { return testStart }

	assert.Equal(t, FailOpen, limiter.StorageErrorPolicy)

	decision := limiter.Check(context.Background(), domain.RateLimitAuth)
	assert.True(t, decision.Allowed)
	assert.Equal(t, maxAuthAttempts, decision.Remaining)
}

func TestRateLimitRecordEmitsAttemptEvents(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.limiter.Record(ctx, domain.RateLimitAuth, true)
	f.limiter.Record(ctx, domain.RateLimitAuth, false)
	f.limiter.Record(ctx, domain.RateLimitEnrollment, true)

	recent, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	assert.Equal(t, domain.EventAuthSuccess, recent[0].Type)
	assert.Equal(t, "login", recent[0].Details)
	assert.Equal(t, domain.EventAuthFailure, recent[1].Type)
	assert.Equal(t, "failure", recent[1].Details)
	assert.Equal(t, authFailureScore, recent[1].ThreatScore)
	assert.Equal(t, domain.EventSetupAttempt, recent[2].Type)
	assert.Equal(t, "setup", recent[2].Details)
}

func TestRateLimitStatusDoesNotMutate(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < maxAuthAttempts; i++ {
		f.limiter.Record(ctx, domain.RateLimitAuth, true)
	}

	before, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)

	status := f.limiter.Status(ctx, domain.RateLimitAuth)
	assert.False(t, status.Allowed)
	assert.Nil(t, status.LockoutUntil)

	after, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}
