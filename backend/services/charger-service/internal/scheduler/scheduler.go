package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ampease/backend/services/charger-service/internal/apperrors"
	"ampease/backend/services/charger-service/internal/models"
)

// Device is the outlet the scheduler drives.
type Device interface {
	Alias() string
	IsOn(ctx context.Context) (bool, error)
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	Toggle(ctx context.Context) error
}

// Store persists the running session across restarts.
type Store interface {
	Save(ctx context.Context, alias string, session models.Session) error
	Load(ctx context.Context, alias string) (*models.Session, error)
	Delete(ctx context.Context, alias string) error
}

// Timer is the handle of a scheduled expiry.
type Timer interface {
	Stop() bool
}

// EventType names a scheduler notification.
type EventType string

const (
	EventActivated             EventType = "activated"
	EventExpired               EventType = "expired"
	EventRestored              EventType = "restored"
	EventDriftCorrected        EventType = "drift_corrected"
	EventDriftCorrectionFailed EventType = "drift_correction_failed"
)

// Event is delivered to subscribers after a transition or a reconciliation pass.
type Event struct {
	Type    EventType
	Session models.Session
	At      time.Time
	Err     error
}

// ReconcileResult describes one reconciliation pass.
type ReconcileResult struct {
	At         time.Time `json:"at"`
	Desired    bool      `json:"desired_power_state"`
	PhysicalOn bool      `json:"physical_on"`
	Corrected  bool      `json:"corrected"`
	Error      string    `json:"error,omitempty"`
}

// Options tunes the scheduler. Now and AfterFunc exist for tests.
type Options struct {
	ReconcileInterval time.Duration
	CommandTimeout    time.Duration
	// OnReconcile, when set, sees every pass including the ones without drift.
	OnReconcile func(ReconcileResult)
	Now         func() time.Time
	AfterFunc   func(time.Duration, func()) Timer
}

func (o Options) withDefaults() Options {
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 30 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return o
}

// Scheduler owns the single charging session. Transitions and device commands are
// serialized by transition; mu guards the snapshot so page reads never wait on device I/O.
type Scheduler struct {
	device Device
	store  Store
	opts   Options
	logger *zap.Logger

	transition sync.Mutex

	mu            sync.RWMutex
	session       models.Session
	generation    uint64
	timer         Timer
	lastReconcile *ReconcileResult

	listenersMu sync.RWMutex
	listeners   []func(Event)
}

// New builds a scheduler. store may be nil.
func New(device Device, store Store, opts Options, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		device: device,
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Subscribe registers fn for every event. fn runs on the goroutine that caused the event.
func (s *Scheduler) Subscribe(fn func(Event)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Scheduler) emit(ev Event) {
	s.listenersMu.RLock()
	listeners := append([]func(Event){}, s.listeners...)
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Snapshot returns a copy of the current session.
func (s *Scheduler) Snapshot() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// LastReconcile returns the most recent reconciliation result, if any ran.
func (s *Scheduler) LastReconcile() (ReconcileResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastReconcile == nil {
		return ReconcileResult{}, false
	}
	return *s.lastReconcile, true
}

// Activate starts a session of length d by toggling the outlet. When a session is already
// running it is returned unchanged with activated=false. A failed toggle leaves the
// scheduler Idle and returns the device error.
func (s *Scheduler) Activate(ctx context.Context, d time.Duration, paymentRef string) (models.Session, bool, error) {
	if d <= 0 {
		return models.Session{}, false, &apperrors.ValidationError{Field: "duration", Reason: "must be positive"}
	}

	s.transition.Lock()
	session, activated, err := s.activateLocked(ctx, d, paymentRef)
	s.transition.Unlock()

	if activated {
		s.emit(Event{Type: EventActivated, Session: session, At: session.StartedAt})
	}
	return session, activated, err
}

func (s *Scheduler) activateLocked(ctx context.Context, d time.Duration, paymentRef string) (models.Session, bool, error) {
	if current := s.Snapshot(); current.Active {
		s.logger.Info("activation ignored, session already active", zap.Time("expires_at", current.ExpiresAt))
		return current, false, nil
	}

	if err := s.device.Toggle(ctx); err != nil {
		s.logger.Error("device toggle failed, session stays idle", zap.Error(err))
		return models.Session{}, false, err
	}

	now := s.opts.Now()
	session := models.Session{
		Active:            true,
		StartedAt:         now,
		ExpiresAt:         now.Add(d),
		DesiredPowerState: true,
		PaymentRef:        paymentRef,
	}
	s.commit(session, d)
	s.persist(ctx, session)

	s.logger.Info("session activated",
		zap.Time("expires_at", session.ExpiresAt),
		zap.String("payment_ref", paymentRef),
	)
	return session, true, nil
}

// commit installs session and schedules its expiry. Caller holds transition.
func (s *Scheduler) commit(session models.Session, remaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.generation++
	gen := s.generation
	s.session = session
	s.timer = s.opts.AfterFunc(remaining, func() { s.expire(gen) })
}

func (s *Scheduler) persist(ctx context.Context, session models.Session) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, s.device.Alias(), session); err != nil {
		s.logger.Warn("failed to persist session", zap.Error(err))
	}
}

// expire ends the session of generation gen. Stale or repeated fires are no-ops.
func (s *Scheduler) expire(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CommandTimeout)
	defer cancel()

	s.transition.Lock()
	ended, ok := s.expireLocked(ctx, gen)
	s.transition.Unlock()

	if ok {
		s.emit(Event{Type: EventExpired, Session: ended, At: s.opts.Now()})
	}
}

func (s *Scheduler) expireLocked(ctx context.Context, gen uint64) (models.Session, bool) {
	s.mu.Lock()
	if !s.session.Active || s.generation != gen {
		s.mu.Unlock()
		return models.Session{}, false
	}
	ended := s.session
	s.session = models.Session{}
	s.timer = nil
	s.mu.Unlock()

	if err := s.device.PowerOff(ctx); err != nil {
		s.logger.Error("power off at expiry failed, reconciliation will retry", zap.Error(err))
	}
	if s.store != nil {
		if err := s.store.Delete(ctx, s.device.Alias()); err != nil {
			s.logger.Warn("failed to delete persisted session", zap.Error(err))
		}
	}
	s.logger.Info("session expired", zap.Time("started_at", ended.StartedAt))
	return ended, true
}

// Restore adopts a persisted session that has not yet expired. Expired records are
// dropped and the outlet is left to reconciliation.
func (s *Scheduler) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	alias := s.device.Alias()
	stored, err := s.store.Load(ctx, alias)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if stored == nil || !stored.Active {
		return nil
	}

	s.transition.Lock()
	now := s.opts.Now()
	if !now.Before(stored.ExpiresAt) {
		s.transition.Unlock()
		s.logger.Info("discarding expired session", zap.Time("expires_at", stored.ExpiresAt))
		if err := s.store.Delete(ctx, alias); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	}
	if s.Snapshot().Active {
		s.transition.Unlock()
		return nil
	}
	session := *stored
	session.DesiredPowerState = true
	s.commit(session, session.ExpiresAt.Sub(now))
	s.transition.Unlock()

	s.logger.Info("session restored", zap.Time("expires_at", session.ExpiresAt))
	s.emit(Event{Type: EventRestored, Session: session, At: now})
	return nil
}

// Reconcile makes the outlet match the desired power state with one explicit command.
// It never changes the session. A failed pass returns a *apperrors.DriftCorrectionError.
func (s *Scheduler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	s.transition.Lock()
	result, err := s.reconcileLocked(ctx)
	s.mu.Lock()
	s.lastReconcile = &result
	s.mu.Unlock()
	s.transition.Unlock()

	if s.opts.OnReconcile != nil {
		s.opts.OnReconcile(result)
	}
	switch {
	case err != nil:
		s.emit(Event{Type: EventDriftCorrectionFailed, Session: s.Snapshot(), At: result.At, Err: err})
	case result.Corrected:
		s.emit(Event{Type: EventDriftCorrected, Session: s.Snapshot(), At: result.At})
	}
	return result, err
}

func (s *Scheduler) reconcileLocked(ctx context.Context) (ReconcileResult, error) {
	desired := s.Snapshot().DesiredPowerState
	result := ReconcileResult{At: s.opts.Now(), Desired: desired}

	on, err := s.device.IsOn(ctx)
	if err != nil {
		return s.driftFailed(result, err)
	}
	result.PhysicalOn = on
	if on == desired {
		return result, nil
	}

	s.logger.Warn("device state drifted", zap.Bool("physical_on", on), zap.Bool("desired", desired))
	if desired {
		err = s.device.PowerOn(ctx)
	} else {
		err = s.device.PowerOff(ctx)
	}
	if err != nil {
		return s.driftFailed(result, err)
	}
	result.PhysicalOn = desired
	result.Corrected = true
	return result, nil
}

func (s *Scheduler) driftFailed(result ReconcileResult, err error) (ReconcileResult, error) {
	driftErr := &apperrors.DriftCorrectionError{Desired: result.Desired, Err: err}
	result.Error = driftErr.Error()
	s.logger.Warn("reconciliation failed, retrying next interval", zap.Error(driftErr))
	return result, driftErr
}

// Run reconciles immediately and then every ReconcileInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()

	s.reconcileWithTimeout(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileWithTimeout(ctx)
		}
	}
}

func (s *Scheduler) reconcileWithTimeout(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()
	_, _ = s.Reconcile(callCtx)
}

// Stop cancels a pending expiry. The session itself is kept for Restore on next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
