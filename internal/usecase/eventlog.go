package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
)

// maxLogEntries caps the persisted security event log. Newest entries are
// appended; anything beyond the cap is evicted oldest-first.
const maxLogEntries = 100

// EventLog is the bounded append log of security-relevant events. It feeds
// the threat assessor and doubles as the local audit trail. Appends are not
// transactional across processes; the engine's single-caller model makes
// that acceptable.
type EventLog struct {
	store  domain.SecureStore
	device domain.DeviceInfoProvider
	logger *zap.Logger
	now    func() time.Time
}

// NewEventLog creates an event log backed by the secure store.
func NewEventLog(store domain.SecureStore, device domain.DeviceInfoProvider, logger *zap.Logger) *EventLog {
	return &EventLog{
		store:  store,
		device: device,
		logger: logger,
		now:    time.Now,
	}
}

// Append reads the current list, pushes the event, truncates to the newest
// maxLogEntries, and writes back.
func (l *EventLog) Append(ctx context.Context, event domain.SecurityEvent) error {
	events, err := l.load(ctx)
	if err != nil {
		return err
	}

	events = append(events, event)
	if len(events) > maxLogEntries {
		events = events[len(events)-maxLogEntries:]
	}

	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal event log: %w", err)
	}
	if err := l.store.Set(ctx, domain.KeyEventLog, data); err != nil {
		return fmt.Errorf("persist event log: %w", err)
	}
	return nil
}

// Record builds and appends an event. The audit trail is best-effort: a
// failed append is logged, never propagated, so it cannot break an
// authentication flow.
func (l *EventLog) Record(ctx context.Context, eventType domain.SecurityEventType, details string, threatScore int) {
	event := domain.SecurityEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   l.now(),
		DeviceID:    l.deviceID(ctx),
		Details:     details,
		ThreatScore: threatScore,
	}
	if err := l.Append(ctx, event); err != nil {
		l.logger.Warn("failed to record security event",
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

// Recent returns the events from the last given number of hours, newest last.
func (l *EventLog) Recent(ctx context.Context, hours int) ([]domain.SecurityEvent, error) {
	events, err := l.load(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := l.now().Add(-time.Duration(hours) * time.Hour)
	var recent []domain.SecurityEvent
	for _, ev := range events {
		if ev.Timestamp.After(cutoff) {
			recent = append(recent, ev)
		}
	}
	return recent, nil
}

func (l *EventLog) load(ctx context.Context) ([]domain.SecurityEvent, error) {
	data, err := l.store.Get(ctx, domain.KeyEventLog)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read event log: %w", err)
	}

	var events []domain.SecurityEvent
	if err := json.Unmarshal(data, &events); err != nil {
		// A corrupt log is dropped rather than wedging every append.
		l.logger.Error("security event log corrupt, resetting", zap.Error(err))
		return nil, nil
	}
	return events, nil
}

func (l *EventLog) deviceID(ctx context.Context) string {
	snap, err := l.device.Snapshot(ctx)
	if err != nil {
		return ""
	}
	return snap.DeviceID
}
