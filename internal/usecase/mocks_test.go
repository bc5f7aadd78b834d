package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/domain"
	"github.com/corvuspay/bioguard/internal/repository"
)

var testStart = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// testClock is a controllable time source shared by every component under
// test.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeDevice struct {
	fp  domain.DeviceFingerprint
	err error
}

func (d *fakeDevice) Snapshot(context.Context) (domain.DeviceFingerprint, error) {
	return d.fp, d.err
}

type fakeNetwork struct {
	conn domain.ConnectionType
	err  error
}

func (n *fakeNetwork) ConnectionType(context.Context) (domain.ConnectionType, error) {
	return n.conn, n.err
}

type fakeHardware struct {
	hasHardware bool
	enrolled    bool
	types       []string
	result      domain.PromptResult
	promptErr   error
	promptCount int
}

func (h *fakeHardware) HasHardware(context.Context) (bool, error) { return h.hasHardware, nil }
func (h *fakeHardware) IsEnrolled(context.Context) (bool, error)  { return h.enrolled, nil }
func (h *fakeHardware) SupportedTypes(context.Context) ([]string, error) {
	return h.types, nil
}
func (h *fakeHardware) Prompt(context.Context, domain.PromptRequest) (domain.PromptResult, error) {
	h.promptCount++
	return h.result, h.promptErr
}

type fakeRemote struct {
	mintErr     error
	validation  domain.RemoteValidation
	validateErr error
	refreshErr  error
	revokeErr   error
	auditErr    error

	mintCalls    int
	refreshCalls int
	revokeUserID string
	auditActions []string
}

func (r *fakeRemote) MintToken(context.Context, string, string, string) error {
	r.mintCalls++
	return r.mintErr
}
func (r *fakeRemote) ValidateToken(context.Context, string, string) (domain.RemoteValidation, error) {
	return r.validation, r.validateErr
}
func (r *fakeRemote) RefreshToken(context.Context, string, string, string) error {
	r.refreshCalls++
	return r.refreshErr
}
func (r *fakeRemote) RevokeTokens(_ context.Context, userID, _ string) error {
	r.revokeUserID = userID
	return r.revokeErr
}
func (r *fakeRemote) AppendAudit(_ context.Context, action, _, _ string, _ bool, _ string) error {
	r.auditActions = append(r.auditActions, action)
	return r.auditErr
}

// failingStore errors on every operation, for fail-open/fail-closed tests.
type failingStore struct{}

var errStorage = errors.New("storage unavailable")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStorage }
func (failingStore) Set(context.Context, string, []byte) error   { return errStorage }
func (failingStore) Delete(context.Context, string) error        { return errStorage }

func physicalFingerprint() domain.DeviceFingerprint {
	return domain.DeviceFingerprint{
		DeviceID:     "device-1",
		DeviceName:   "Pixel of Carol",
		ModelName:    "Pixel 9",
		OSName:       "android",
		OSVersion:    "15",
		Manufacturer: "Google",
		IsEmulator:   false,
		ScreenWidth:  1080,
		ScreenHeight: 2400,
		Timezone:     "Europe/Lisbon",
	}
}

// engineFixture wires the full component graph over an in-memory store with
// a shared controllable clock.
type engineFixture struct {
	store        *repository.MemorySecureStore
	clock        *testClock
	device       *fakeDevice
	network      *fakeNetwork
	hardware     *fakeHardware
	remote       *fakeRemote
	events       *EventLog
	fingerprints *FingerprintTracker
	limiter      *RateLimiter
	assessor     *ThreatAssessor
	tokens       *TokenManager
	lockout      *LockoutController
	coordinator  *Coordinator
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		store:    repository.NewMemorySecureStore(),
		clock:    &testClock{t: testStart},
		device:   &fakeDevice{fp: physicalFingerprint()},
		network:  &fakeNetwork{conn: domain.ConnectionWifi},
		hardware: &fakeHardware{hasHardware: true, enrolled: true, types: []string{"fingerprint"}, result: domain.PromptResult{Success: true}},
		remote:   &fakeRemote{validation: domain.RemoteValidation{Valid: true}},
	}

	logger := zap.NewNop()
	f.events = NewEventLog(f.store, f.device, logger)
	f.fingerprints = NewFingerprintTracker(f.store, f.device, f.events, logger)
	f.limiter = NewRateLimiter(f.store, f.events, logger)
	f.assessor = NewThreatAssessor(f.fingerprints, f.limiter, f.events, f.network, f.device, f.store, logger)
	f.tokens = NewTokenManager(f.store, f.remote, f.device, time.Second, logger)
	f.lockout = NewLockoutController(f.store, logger)

	f.events.now = f.clock.Now
	f.fingerprints.now = f.clock.Now
	f.limiter.now = f.clock.Now
	f.assessor.now = f.clock.Now
	f.tokens.now = f.clock.Now
	f.lockout.now = f.clock.Now

	f.coordinator = NewCoordinator(CoordinatorDeps{
		Fingerprints: f.fingerprints,
		Limiter:      f.limiter,
		Events:       f.events,
		Assessor:     f.assessor,
		Tokens:       f.tokens,
		Lockout:      f.lockout,
		Hardware:     f.hardware,
		Remote:       f.remote,
		Store:        f.store,
		Device:       f.device,
		Logger:       logger,
		JWTSecret:    "test-secret",
	})
	return f
}
