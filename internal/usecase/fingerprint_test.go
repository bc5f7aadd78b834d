package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuspay/bioguard/internal/domain"
)

func TestDetectChangesFirstRunGeneratesReference(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	diff, err := f.fingerprints.DetectChanges(ctx)
	require.NoError(t, err)
	assert.False(t, diff.HasChanged)
	assert.Zero(t, diff.ThreatScore)

	stored, err := f.fingerprints.Stored(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "device-1", stored.DeviceID)
	assert.Equal(t, testStart, stored.CreatedAt)
}

func TestCompareFingerprintsIdentical(t *testing.T) {
	fp := physicalFingerprint()

	diff := compareFingerprints(fp, fp)
	assert.False(t, diff.HasChanged)
	assert.Zero(t, diff.ThreatScore)
	assert.Empty(t, diff.ChangedFields)
}

func TestCompareFingerprintsWeights(t *testing.T) {
	base := physicalFingerprint()

	cases := []struct {
		name   string
		mutate func(*domain.DeviceFingerprint)
		field  string
		score  int
	}{
		{"device name", func(fp *domain.DeviceFingerprint) { fp.DeviceName = "Pixel of Mallory" }, "deviceName", 30},
		{"model", func(fp *domain.DeviceFingerprint) { fp.ModelName = "Pixel 8" }, "modelName", 15},
		{"os name", func(fp *domain.DeviceFingerprint) { fp.OSName = "ios" }, "osName", 15},
		{"os version", func(fp *domain.DeviceFingerprint) { fp.OSVersion = "16" }, "osVersion", 15},
		{"emulator flip", func(fp *domain.DeviceFingerprint) { fp.IsEmulator = true }, "isEmulator", 40},
		{"screen", func(fp *domain.DeviceFingerprint) { fp.ScreenWidth = 720 }, "screenResolution", 10},
		{"device id", func(fp *domain.DeviceFingerprint) { fp.DeviceID = "device-2" }, "deviceId", 0},
		{"manufacturer", func(fp *domain.DeviceFingerprint) { fp.Manufacturer = "Samsung" }, "manufacturer", 0},
		{"timezone", func(fp *domain.DeviceFingerprint) { fp.Timezone = "America/Sao_Paulo" }, "timezone", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current := base
			tc.mutate(&current)

			diff := compareFingerprints(base, current)
			assert.True(t, diff.HasChanged)
			assert.Equal(t, []string{tc.field}, diff.ChangedFields)
			assert.Equal(t, tc.score, diff.ThreatScore)
		})
	}
}

func TestDetectChangesEmitsEventAndReplacesReference(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.fingerprints.DetectChanges(ctx)
	require.NoError(t, err)

	changed := physicalFingerprint()
	changed.DeviceName = "Pixel of Mallory"
	f.device.fp = changed

	diff, err := f.fingerprints.DetectChanges(ctx)
	require.NoError(t, err)
	assert.True(t, diff.HasChanged)
	assert.Equal(t, 30, diff.ThreatScore)

	recent, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.EventDeviceChange, recent[0].Type)
	assert.Equal(t, 30, recent[0].ThreatScore)

	// The new observation is now the reference, so the same device compares
	// clean on the next run.
	diff, err = f.fingerprints.DetectChanges(ctx)
	require.NoError(t, err)
	assert.False(t, diff.HasChanged)
}

func TestDetectChangesZeroWeightFieldsEmitNoEvent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.fingerprints.DetectChanges(ctx)
	require.NoError(t, err)

	changed := physicalFingerprint()
	changed.Timezone = "America/Sao_Paulo"
	f.device.fp = changed

	diff, err := f.fingerprints.DetectChanges(ctx)
	require.NoError(t, err)
	assert.True(t, diff.HasChanged)
	assert.Zero(t, diff.ThreatScore)

	recent, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
