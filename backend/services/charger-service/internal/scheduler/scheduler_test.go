package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/apperrors"
	"ampease/backend/services/charger-service/internal/models"
)

type fakeDevice struct {
	mu        sync.Mutex
	on        bool
	toggleErr error
	isOnErr   error
	offErr    error
	toggles   int
	powerOns  int
	powerOffs int
	isOnCalls int
}

func (d *fakeDevice) Alias() string { return "Garage" }

func (d *fakeDevice) IsOn(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.isOnCalls++
	if d.isOnErr != nil {
		return false, d.isOnErr
	}
	return d.on, nil
}

func (d *fakeDevice) PowerOn(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerOns++
	d.on = true
	return nil
}

func (d *fakeDevice) PowerOff(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerOffs++
	if d.offErr != nil {
		return d.offErr
	}
	d.on = false
	return nil
}

func (d *fakeDevice) Toggle(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toggles++
	if d.toggleErr != nil {
		return d.toggleErr
	}
	d.on = !d.on
	return nil
}

func (d *fakeDevice) counts() (toggles, ons, offs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.toggles, d.powerOns, d.powerOffs
}

func (d *fakeDevice) set(on bool) {
	d.mu.Lock()
	d.on = on
	d.mu.Unlock()
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	deletes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]models.Session)}
}

func (s *fakeStore) Save(ctx context.Context, alias string, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[alias] = session
	return nil
}

func (s *fakeStore) Load(ctx context.Context, alias string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[alias]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *fakeStore) Delete(ctx context.Context, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.sessions, alias)
	return nil
}

func (s *fakeStore) has(alias string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[alias]
	return ok
}

type manualTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.stopped = true
	return true
}

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{delay: d, fire: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) scheduled() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*manualTimer{}, c.timers...)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(device *fakeDevice, store Store) (*Scheduler, *manualClock) {
	clock := &manualClock{now: t0}
	s := New(device, store, Options{Now: clock.Now, AfterFunc: clock.AfterFunc}, zap.NewNop())
	return s, clock
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestActivateOneHour(t *testing.T) {
	device := &fakeDevice{}
	store := newFakeStore()
	s, clock := newTestScheduler(device, store)

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	session, activated, err := s.Activate(context.Background(), time.Hour, "pay_1")
	if err != nil || !activated {
		t.Fatalf("activate: %v activated=%t", err, activated)
	}
	if session.State() != models.StateActive || !session.DesiredPowerState {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected expiry at %s, got %s", t0.Add(time.Hour), session.ExpiresAt)
	}
	if toggles, ons, offs := device.counts(); toggles != 1 || ons != 0 || offs != 0 {
		t.Fatalf("expected a single toggle, got toggles=%d on=%d off=%d", toggles, ons, offs)
	}
	if timers := clock.scheduled(); len(timers) != 1 || timers[0].delay != time.Hour {
		t.Fatalf("expected one expiry in 1h, got %+v", timers)
	}
	if !store.has("Garage") {
		t.Fatalf("expected session to be persisted")
	}
	if len(events) != 1 || events[0].Type != EventActivated {
		t.Fatalf("expected activated event, got %+v", events)
	}
}

func TestActivateWhileActiveKeepsExpiry(t *testing.T) {
	device := &fakeDevice{}
	s, clock := newTestScheduler(device, nil)

	first, _, err := s.Activate(context.Background(), time.Hour, "pay_1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	clock.mu.Lock()
	clock.now = t0.Add(10 * time.Minute)
	clock.mu.Unlock()

	second, activated, err := s.Activate(context.Background(), 3*time.Hour, "pay_2")
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if activated {
		t.Fatalf("second activation must be a no-op")
	}
	if !second.ExpiresAt.Equal(first.ExpiresAt) || second.PaymentRef != "pay_1" {
		t.Fatalf("session changed: %+v", second)
	}
	if len(clock.scheduled()) != 1 {
		t.Fatalf("expiry scheduled twice")
	}
	if toggles, _, _ := device.counts(); toggles != 1 {
		t.Fatalf("expected one toggle, got %d", toggles)
	}
}

func TestActivateToggleFailureStaysIdle(t *testing.T) {
	device := &fakeDevice{toggleErr: apperrors.External(apperrors.ServiceDevice, "toggle", errors.New("cloud down"))}
	store := newFakeStore()
	s, clock := newTestScheduler(device, store)

	_, activated, err := s.Activate(context.Background(), time.Hour, "pay_1")
	if !apperrors.IsExternal(err) || activated {
		t.Fatalf("expected external error, got %v activated=%t", err, activated)
	}
	if s.Snapshot().Active {
		t.Fatalf("session must stay idle after a failed toggle")
	}
	if len(clock.scheduled()) != 0 || store.has("Garage") {
		t.Fatalf("nothing may be scheduled or persisted")
	}
}

func TestActivateRejectsNonPositiveDuration(t *testing.T) {
	device := &fakeDevice{}
	s, _ := newTestScheduler(device, nil)
	_, _, err := s.Activate(context.Background(), 0, "pay")
	var vErr *apperrors.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if toggles, _, _ := device.counts(); toggles != 0 {
		t.Fatalf("device must not be touched")
	}
}

func TestExpiryFiresOnce(t *testing.T) {
	device := &fakeDevice{}
	store := newFakeStore()
	s, clock := newTestScheduler(device, store)

	expired := 0
	s.Subscribe(func(ev Event) {
		if ev.Type == EventExpired {
			expired++
		}
	})

	if _, _, err := s.Activate(context.Background(), time.Hour, "pay_1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	timer := clock.scheduled()[0]
	timer.fire()
	timer.fire()

	if s.Snapshot().Active || s.Snapshot().DesiredPowerState {
		t.Fatalf("expected idle with desired off, got %+v", s.Snapshot())
	}
	if _, _, offs := device.counts(); offs != 1 {
		t.Fatalf("expected one power off, got %d", offs)
	}
	if store.has("Garage") || store.deletes != 1 {
		t.Fatalf("expected persisted session removed once")
	}
	if expired != 1 {
		t.Fatalf("expected one expired event, got %d", expired)
	}
}

func TestStaleExpiryDoesNotEndNextSession(t *testing.T) {
	device := &fakeDevice{}
	s, clock := newTestScheduler(device, nil)

	if _, _, err := s.Activate(context.Background(), time.Hour, "pay_1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	stale := clock.scheduled()[0]
	stale.fire()

	if _, _, err := s.Activate(context.Background(), time.Hour, "pay_2"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	stale.fire()

	if snap := s.Snapshot(); !snap.Active || snap.PaymentRef != "pay_2" {
		t.Fatalf("stale expiry ended the new session: %+v", snap)
	}
}

func TestExpiryPowerOffFailureStillClearsSession(t *testing.T) {
	device := &fakeDevice{offErr: errors.New("offline")}
	s, clock := newTestScheduler(device, nil)

	if _, _, err := s.Activate(context.Background(), time.Hour, "pay_1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	clock.scheduled()[0].fire()

	if s.Snapshot().Active {
		t.Fatalf("session must end at expiry even if the device is unreachable")
	}
}

func TestReconcileIdleDeviceOnIssuesPowerOff(t *testing.T) {
	device := &fakeDevice{on: true}
	s, _ := newTestScheduler(device, nil)

	result, err := s.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	toggles, ons, offs := device.counts()
	if offs != 1 || toggles != 0 || ons != 0 {
		t.Fatalf("expected exactly one power off, got toggles=%d on=%d off=%d", toggles, ons, offs)
	}
	if !result.Corrected || result.Desired || result.PhysicalOn {
		t.Fatalf("unexpected result %+v", result)
	}
	if s.Snapshot().Active {
		t.Fatalf("reconciliation must not change state")
	}
	if last, ok := s.LastReconcile(); !ok || !last.Corrected {
		t.Fatalf("expected last reconcile to be recorded")
	}
}

func TestReconcileActiveDeviceOffIssuesPowerOn(t *testing.T) {
	device := &fakeDevice{}
	s, _ := newTestScheduler(device, nil)

	if _, _, err := s.Activate(context.Background(), time.Hour, "pay_1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	device.set(false)

	if _, err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	toggles, ons, offs := device.counts()
	if toggles != 1 || ons != 1 || offs != 0 {
		t.Fatalf("expected activation toggle plus one power on, got toggles=%d on=%d off=%d", toggles, ons, offs)
	}
	if !s.Snapshot().Active {
		t.Fatalf("session must stay active")
	}
}

func TestReconcileWithoutDriftSendsNoCommand(t *testing.T) {
	device := &fakeDevice{}
	s, _ := newTestScheduler(device, nil)

	result, err := s.Reconcile(context.Background())
	if err != nil || result.Corrected {
		t.Fatalf("unexpected reconcile outcome %+v %v", result, err)
	}
	if toggles, ons, offs := device.counts(); toggles+ons+offs != 0 {
		t.Fatalf("expected no commands")
	}
}

func TestReconcileFailureIsDriftCorrectionError(t *testing.T) {
	device := &fakeDevice{isOnErr: errors.New("timeout")}
	s, _ := newTestScheduler(device, nil)

	var failed int
	s.Subscribe(func(ev Event) {
		if ev.Type == EventDriftCorrectionFailed {
			failed++
		}
	})

	result, err := s.Reconcile(context.Background())
	var driftErr *apperrors.DriftCorrectionError
	if !errors.As(err, &driftErr) || driftErr.Desired {
		t.Fatalf("expected drift correction error, got %v", err)
	}
	if result.Error == "" || failed != 1 {
		t.Fatalf("expected failure to be reported, got %+v events=%d", result, failed)
	}
}

func TestRestoreAdoptsUnexpiredSession(t *testing.T) {
	device := &fakeDevice{}
	store := newFakeStore()
	store.sessions["Garage"] = models.Session{
		Active:            true,
		StartedAt:         t0.Add(-30 * time.Minute),
		ExpiresAt:         t0.Add(30 * time.Minute),
		DesiredPowerState: true,
		PaymentRef:        "pay_1",
	}
	s, clock := newTestScheduler(device, store)

	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if snap := s.Snapshot(); !snap.Active || snap.PaymentRef != "pay_1" {
		t.Fatalf("expected restored session, got %+v", snap)
	}
	if timers := clock.scheduled(); len(timers) != 1 || timers[0].delay != 30*time.Minute {
		t.Fatalf("expected expiry for the remaining 30m, got %+v", timers)
	}
	if toggles, _, _ := device.counts(); toggles != 0 {
		t.Fatalf("restore must not toggle the device")
	}
}

func TestRestoreDropsExpiredSession(t *testing.T) {
	device := &fakeDevice{}
	store := newFakeStore()
	store.sessions["Garage"] = models.Session{Active: true, ExpiresAt: t0.Add(-time.Minute), DesiredPowerState: true}
	s, _ := newTestScheduler(device, store)

	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if s.Snapshot().Active || store.has("Garage") {
		t.Fatalf("expired session must be dropped")
	}
}

func TestExpiryWithRealTimer(t *testing.T) {
	device := &fakeDevice{}
	s := New(device, nil, Options{}, zap.NewNop())
	defer s.Stop()

	if _, _, err := s.Activate(context.Background(), 20*time.Millisecond, "pay_1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !s.Snapshot().Active })
	if _, _, offs := device.counts(); offs != 1 {
		t.Fatalf("expected power off at expiry, got %d", offs)
	}
}

func TestRunReconcilesUntilCancelled(t *testing.T) {
	device := &fakeDevice{on: true}
	s := New(device, nil, Options{ReconcileInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool {
		_, _, offs := device.counts()
		return offs == 1
	})
	device.set(true)
	waitFor(t, time.Second, func() bool {
		_, _, offs := device.counts()
		return offs == 2
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
