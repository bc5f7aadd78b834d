package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
)

// Field weights for fingerprint drift scoring. Fields not listed here are
// still reported as changed but contribute nothing to the score.
const (
	weightDeviceName = 30
	weightIdentity   = 15 // model name, OS name, OS version
	weightEmulator   = 40
	weightScreen     = 10
)

// FingerprintTracker snapshots device-identity signals and detects drift
// between snapshots. Exactly one fingerprint is retained; every comparison
// replaces it, so drift is always measured against the most recent
// observation rather than the enrollment baseline. That limits false
// positives from one-time changes, at the cost of never flagging a sequence
// of small gradual changes.
type FingerprintTracker struct {
	store  domain.SecureStore
	device domain.DeviceInfoProvider
	events *EventLog
	logger *zap.Logger
	now    func() time.Time
}

// NewFingerprintTracker creates a tracker.
func NewFingerprintTracker(store domain.SecureStore, device domain.DeviceInfoProvider, events *EventLog, logger *zap.Logger) *FingerprintTracker {
	return &FingerprintTracker{
		store:  store,
		device: device,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Generate reads the device introspection signals, persists the resulting
// fingerprint (overwriting any prior value), and returns it.
func (t *FingerprintTracker) Generate(ctx context.Context) (domain.DeviceFingerprint, error) {
	fp, err := t.device.Snapshot(ctx)
	if err != nil {
		return domain.DeviceFingerprint{}, fmt.Errorf("device snapshot: %w", err)
	}
	fp.CreatedAt = t.now()

	if err := t.persist(ctx, fp); err != nil {
		return domain.DeviceFingerprint{}, err
	}
	return fp, nil
}

// Stored returns the currently persisted fingerprint, or nil if none exists.
func (t *FingerprintTracker) Stored(ctx context.Context) (*domain.DeviceFingerprint, error) {
	data, err := t.store.Get(ctx, domain.KeyFingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read fingerprint: %w", err)
	}

	var fp domain.DeviceFingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	return &fp, nil
}

// DetectChanges compares a fresh fingerprint against the stored one and
// computes a weighted drift score. On first run (no stored fingerprint) it
// generates the reference and reports no change. The fresh fingerprint
// always becomes the reference for the next call.
func (t *FingerprintTracker) DetectChanges(ctx context.Context) (domain.FingerprintDiff, error) {
	previous, err := t.Stored(ctx)
	if err != nil {
		return domain.FingerprintDiff{}, err
	}

	if previous == nil {
		if _, err := t.Generate(ctx); err != nil {
			return domain.FingerprintDiff{}, err
		}
		return domain.FingerprintDiff{}, nil
	}

	current, err := t.device.Snapshot(ctx)
	if err != nil {
		return domain.FingerprintDiff{}, fmt.Errorf("device snapshot: %w", err)
	}
	current.CreatedAt = t.now()

	diff := compareFingerprints(*previous, current)

	if err := t.persist(ctx, current); err != nil {
		return domain.FingerprintDiff{}, err
	}

	if diff.ThreatScore > 0 {
		t.events.Record(ctx, domain.EventDeviceChange,
			"device fingerprint changed: "+strings.Join(diff.ChangedFields, ", "),
			diff.ThreatScore)
		t.logger.Warn("device fingerprint drift detected",
			zap.Strings("fields", diff.ChangedFields),
			zap.Int("score", diff.ThreatScore))
	}

	return diff, nil
}

func (t *FingerprintTracker) persist(ctx context.Context, fp domain.DeviceFingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	if err := t.store.Set(ctx, domain.KeyFingerprint, data); err != nil {
		return fmt.Errorf("persist fingerprint: %w", err)
	}
	return nil
}

// compareFingerprints diffs two fingerprints field by field and sums the
// weights of the changed ones.
func compareFingerprints(old, new domain.DeviceFingerprint) domain.FingerprintDiff {
	var diff domain.FingerprintDiff
	add := func(field string, weight int) {
		diff.ChangedFields = append(diff.ChangedFields, field)
		diff.ThreatScore += weight
	}

	if old.DeviceID != new.DeviceID {
		add("deviceId", 0)
	}
	if old.DeviceName != new.DeviceName {
		add("deviceName", weightDeviceName)
	}
	if old.ModelName != new.ModelName {
		add("modelName", weightIdentity)
	}
	if old.OSName != new.OSName {
		add("osName", weightIdentity)
	}
	if old.OSVersion != new.OSVersion {
		add("osVersion", weightIdentity)
	}
	if old.Manufacturer != new.Manufacturer {
		add("manufacturer", 0)
	}
	if old.IsEmulator != new.IsEmulator {
		add("isEmulator", weightEmulator)
	}
	if old.ScreenWidth != new.ScreenWidth || old.ScreenHeight != new.ScreenHeight {
		add("screenResolution", weightScreen)
	}
	if old.Timezone != new.Timezone {
		add("timezone", 0)
	}

	diff.HasChanged = len(diff.ChangedFields) > 0
	return diff
}
