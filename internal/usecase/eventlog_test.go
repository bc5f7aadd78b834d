package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvuspay/bioguard/internal/domain"
)

func TestEventLogRecordAndRecent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.events.Record(ctx, domain.EventAuthSuccess, "login", 0)
	f.events.Record(ctx, domain.EventAuthFailure, "failure", 15)

	recent, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, domain.EventAuthSuccess, recent[0].Type)
	assert.Equal(t, domain.EventAuthFailure, recent[1].Type)
	assert.Equal(t, "device-1", recent[0].DeviceID)
	assert.NotEmpty(t, recent[0].ID)
	assert.Equal(t, 15, recent[1].ThreatScore)
}

func TestEventLogEvictsOldestBeyondCap(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < maxLogEntries+10; i++ {
		f.events.Record(ctx, domain.EventAuthAttempt, fmt.Sprintf("attempt %d", i), 0)
	}

	recent, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, maxLogEntries)

	// The ten oldest entries are gone; the newest survives.
	assert.Equal(t, "attempt 10", recent[0].Details)
	assert.Equal(t, fmt.Sprintf("attempt %d", maxLogEntries+9), recent[len(recent)-1].Details)
}

func TestEventLogRecentFiltersByAge(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.events.Record(ctx, domain.EventAuthFailure, "old", 15)
	f.clock.Advance(2 * time.Hour)
	f.events.Record(ctx, domain.EventAuthFailure, "new", 15)

	recent, err := f.events.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].Details)

	all, err := f.events.Recent(ctx, 24)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEventLogResetsCorruptLog(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, domain.KeyEventLog, []byte("not json")))

	recent, err := f.events.Recent(ctx, 24)
	require.NoError(t, err)
	assert.Empty(t, recent)

	f.events.Record(ctx, domain.EventAuthSuccess, "login", 0)
	recent, err = f.events.Recent(ctx, 24)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
