package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
)

// Threat score contributions.
const (
	scoreAuthRateLimited   = 30
	scoreSetupRateLimited  = 25
	scoreCellularNetwork   = 5
	scoreNoNetwork         = 10
	scoreEmulator          = 40
	scorePerRecentFailure  = 5
	recentFailureFreeCount = 3
)

// Risk tier thresholds.
const (
	thresholdMedium   = 25
	thresholdHigh     = 50
	thresholdCritical = 75
)

// ThreatAssessor combines fingerprint drift, rate-limit state, network
// signals, emulator detection, and recent failures into a single 0-100 risk
// verdict. Sub-checks run synchronously in sequence: each already persists
// its own side effects, and a fixed order keeps the result deterministic.
//
// Internal failures follow FailClosed: the assessor returns the
// maximal-restriction verdict. This is the opposite policy from the rate
// limiter, and the asymmetry is intentional.
type ThreatAssessor struct {
	fingerprints *FingerprintTracker
	limiter      *RateLimiter
	events       *EventLog
	network      domain.NetworkInfoProvider
	device       domain.DeviceInfoProvider
	store        domain.SecureStore
	logger       *zap.Logger
	now          func() time.Time

	// ScoringErrorPolicy is FailClosed; exposed so tests can assert it.
	ScoringErrorPolicy FailurePolicy
}

// NewThreatAssessor creates an assessor.
func NewThreatAssessor(
	fingerprints *FingerprintTracker,
	limiter *RateLimiter,
	events *EventLog,
	network domain.NetworkInfoProvider,
	device domain.DeviceInfoProvider,
	store domain.SecureStore,
	logger *zap.Logger,
) *ThreatAssessor {
	return &ThreatAssessor{
		fingerprints:       fingerprints,
		limiter:            limiter,
		events:             events,
		network:            network,
		device:             device,
		store:              store,
		logger:             logger,
		now:                time.Now,
		ScoringErrorPolicy: FailClosed,
	}
}

// Assess computes the current threat verdict and persists it as the
// last-computed snapshot.
func (a *ThreatAssessor) Assess(ctx context.Context) domain.ThreatAssessment {
	score := 0
	var factors []string

	// 1. Device-identity drift.
	diff, err := a.fingerprints.DetectChanges(ctx)
	if err != nil {
		return a.failClosed(ctx, err)
	}
	if diff.ThreatScore > 0 {
		score += diff.ThreatScore
		factors = append(factors, fmt.Sprintf("device fingerprint changed (+%d)", diff.ThreatScore))
	}

	// 2. Active rate limits.
	if dec := a.limiter.Check(ctx, domain.RateLimitAuth); !dec.Allowed {
		score += scoreAuthRateLimited
		factors = append(factors, fmt.Sprintf("authentication rate limit active (+%d)", scoreAuthRateLimited))
	}
	if dec := a.limiter.Check(ctx, domain.RateLimitEnrollment); !dec.Allowed {
		score += scoreSetupRateLimited
		factors = append(factors, fmt.Sprintf("enrollment rate limit active (+%d)", scoreSetupRateLimited))
	}

	// 3. Network signal. Query failures contribute nothing.
	if conn, err := a.network.ConnectionType(ctx); err == nil {
		switch conn {
		case domain.ConnectionCellular:
			score += scoreCellularNetwork
			factors = append(factors, fmt.Sprintf("cellular network (+%d)", scoreCellularNetwork))
		case domain.ConnectionNone:
			score += scoreNoNetwork
			factors = append(factors, fmt.Sprintf("no network connectivity (+%d)", scoreNoNetwork))
		}
	}

	// 4. Emulator / non-physical device.
	snapshot, err := a.device.Snapshot(ctx)
	if err != nil {
		return a.failClosed(ctx, err)
	}
	if snapshot.IsEmulator {
		score += scoreEmulator
		factors = append(factors, fmt.Sprintf("running on emulator (+%d)", scoreEmulator))
	}

	// 5. Recent failures. The first few are free; past the gate every
	// failure in the window is charged.
	recent, err := a.events.Recent(ctx, 24)
	if err != nil {
		return a.failClosed(ctx, err)
	}
	failures := 0
	for _, ev := range recent {
		if ev.Type == domain.EventAuthFailure {
			failures++
		}
	}
	if failures > recentFailureFreeCount {
		delta := failures * scorePerRecentFailure
		score += delta
		factors = append(factors, fmt.Sprintf("%d authentication failures in 24h (+%d)", failures, delta))
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	assessment := assessmentForScore(score, factors, a.now())
	a.persistSnapshot(ctx, assessment)
	return assessment
}

// LastAssessment returns the persisted snapshot of the most recent
// assessment, or nil when none has been computed yet.
func (a *ThreatAssessor) LastAssessment(ctx context.Context) (*domain.ThreatAssessment, error) {
	data, err := a.store.Get(ctx, domain.KeyThreatSnapshot)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read threat snapshot: %w", err)
	}

	var assessment domain.ThreatAssessment
	if err := json.Unmarshal(data, &assessment); err != nil {
		return nil, fmt.Errorf("decode threat snapshot: %w", err)
	}
	return &assessment, nil
}

func assessmentForScore(score int, factors []string, at time.Time) domain.ThreatAssessment {
	assessment := domain.ThreatAssessment{
		Score:      score,
		Factors:    factors,
		AssessedAt: at,
	}

	switch {
	case score < thresholdMedium:
		assessment.Risk = domain.RiskLow
		assessment.AllowedActions = []string{domain.ActionBiometric, domain.ActionPassword, domain.ActionSensitive}
	case score < thresholdHigh:
		assessment.Risk = domain.RiskMedium
		assessment.AllowedActions = []string{domain.ActionBiometric, domain.ActionPassword}
	case score < thresholdCritical:
		assessment.Risk = domain.RiskHigh
		assessment.AllowedActions = []string{domain.ActionPassword}
		assessment.RequiresAdditionalAuth = true
	default:
		assessment.Risk = domain.RiskCritical
		assessment.AllowedActions = []string{}
		assessment.RequiresAdditionalAuth = true
	}

	return assessment
}

// failClosed returns the maximal-restriction verdict. A scoring failure is
// treated as more suspicious than storage unavailability.
func (a *ThreatAssessor) failClosed(ctx context.Context, cause error) domain.ThreatAssessment {
	a.logger.Error("threat assessment failed, denying maximally",
		zap.String("policy", a.ScoringErrorPolicy.String()),
		zap.Error(cause))

	assessment := domain.ThreatAssessment{
		Score:                  100,
		Factors:                []string{"threat assessment failure"},
		Risk:                   domain.RiskCritical,
		AllowedActions:         []string{},
		RequiresAdditionalAuth: true,
		AssessedAt:             a.now(),
	}
	a.persistSnapshot(ctx, assessment)
	return assessment
}

// persistSnapshot stores the point-in-time score for display. A persist
// failure does not change the verdict already computed.
func (a *ThreatAssessor) persistSnapshot(ctx context.Context, assessment domain.ThreatAssessment) {
	data, err := json.Marshal(assessment)
	if err != nil {
		a.logger.Error("marshal threat snapshot", zap.Error(err))
		return
	}
	if err := a.store.Set(ctx, domain.KeyThreatSnapshot, data); err != nil {
		a.logger.Warn("persist threat snapshot", zap.Error(err))
	}
}
