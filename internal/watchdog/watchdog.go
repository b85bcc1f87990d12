package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"tokenwatch/internal/fingerprint"
	"tokenwatch/internal/logging"
	"tokenwatch/internal/supervisor"
)

// Locker reports whether the shared lock is held by a live process.
type Locker interface {
	IsLocked() (bool, error)
}

// Sampler fingerprints the watch target.
type Sampler interface {
	Sample() (fingerprint.Fingerprint, error)
	Changed(prev, cur fingerprint.Fingerprint) bool
	Rebase(prev, cur fingerprint.Fingerprint) (fingerprint.Fingerprint, bool)
}

// Restarter replaces the running worker.
type Restarter interface {
	Restart(ctx context.Context, reason string) (supervisor.RestartResult, error)
}

const (
	reasonChange = "data file change"
	reasonManual = "manual request"
)

// Snapshot is a point-in-time view of the watchdog.
type Snapshot struct {
	State        State
	LastSeen     fingerprint.Fingerprint
	Pending      fingerprint.Fingerprint
	PendingSince time.Time
	LockHeld     bool
	Ticks        int64
	Restarts     int
	Failures     int
	Suspensions  int
	LastRestart  time.Time
	LastError    string
	Manual       bool
}

// Watchdog drives worker restarts from fingerprint changes.
type Watchdog struct {
	locks     Locker
	sampler   Sampler
	restarter Restarter
	observers []Observer
	logger    *slog.Logger
	interval  time.Duration
	cooldown  time.Duration
	now       func() time.Time

	machine *fsm.FSM
	wake    chan struct{}
	tickMu  sync.Mutex

	mu           sync.Mutex
	lastSeen     fingerprint.Fingerprint
	pending      fingerprint.Fingerprint
	pendingSince time.Time
	lockHeld     bool
	manual       bool
	ticks        int64
	restarts     int
	failures     int
	suspensions  int
	lastRestart  time.Time
	lastErr      string

	// set while a tick runs so the enter_state hook can publish with its ctx
	tickCtx context.Context
}

// Option customises a Watchdog.
type Option func(*Watchdog)

// WithInterval sets the polling interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithCooldown sets the minimum time between two restarts. A change that
// arrives sooner stays pending until the cooldown elapses.
func WithCooldown(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.cooldown = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watchdog) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(w *Watchdog) {
		if o != nil {
			w.observers = append(w.observers, o)
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(w *Watchdog) {
		if fn != nil {
			w.now = fn
		}
	}
}

// New builds a watchdog in IDLE with the current fingerprint of the watch
// target as its baseline.
func New(locks Locker, sampler Sampler, restarter Restarter, opts ...Option) (*Watchdog, error) {
	if locks == nil || sampler == nil || restarter == nil {
		return nil, errors.New("watchdog: locker, sampler and restarter are required")
	}
	w := &Watchdog{
		locks:     locks,
		sampler:   sampler,
		restarter: restarter,
		logger:    logging.NewNop(),
		interval:  time.Second,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "watchdog")
	w.machine = newMachine(w.onEnter)

	baseline, err := sampler.Sample()
	if err != nil {
		return nil, fmt.Errorf("initial fingerprint: %w", err)
	}
	w.lastSeen = baseline
	return w, nil
}

// State returns the current state.
func (w *Watchdog) State() State {
	return State(w.machine.Current())
}

// Interval returns the polling interval used by Run.
func (w *Watchdog) Interval() time.Duration {
	return w.interval
}

// Snapshot returns the current state and counters.
func (w *Watchdog) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		State:        w.State(),
		LastSeen:     w.lastSeen,
		Pending:      w.pending,
		PendingSince: w.pendingSince,
		LockHeld:     w.lockHeld,
		Ticks:        w.ticks,
		Restarts:     w.restarts,
		Failures:     w.failures,
		Suspensions:  w.suspensions,
		LastRestart:  w.lastRestart,
		LastError:    w.lastErr,
		Manual:       w.manual,
	}
}

// Wake asks Run to tick now instead of waiting for the next interval.
func (w *Watchdog) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// RequestRestart treats the next idle tick as a change regardless of the
// fingerprint. The lock still gates the restart.
func (w *Watchdog) RequestRestart() {
	w.mu.Lock()
	w.manual = true
	w.mu.Unlock()
	w.Wake()
}

// Run ticks until ctx is cancelled. Tick errors are logged and retried on
// the next tick.
func (w *Watchdog) Run(ctx context.Context) error {
	w.publish(ctx, Event{Kind: EventStarted, To: w.State(), Fingerprint: w.Snapshot().LastSeen})
	w.logger.Info("watchdog started",
		logging.String(logging.FieldEventType, "watchdog_started"),
		logging.Duration("interval", w.interval),
		logging.String(logging.FieldFingerprint, w.Snapshot().LastSeen.String()),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stopCtx := context.WithoutCancel(ctx)
			w.publish(stopCtx, Event{Kind: EventStopped, From: w.State()})
			w.logger.Info("watchdog stopped", logging.String(logging.FieldEventType, "watchdog_stopped"))
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
		_ = w.Tick(ctx)
	}
}

// Tick performs one evaluation step. In IDLE the target is sampled; a change
// moves to CHANGE_DETECTED and the lock is evaluated in the same tick. In
// CHANGE_DETECTED and RESTART_SUSPENDED only the lock is checked.
func (w *Watchdog) Tick(ctx context.Context) error {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	w.mu.Lock()
	w.ticks++
	w.tickCtx = ctx
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.tickCtx = nil
		w.mu.Unlock()
	}()
	w.publish(ctx, Event{Kind: EventTick, To: w.State()})

	switch w.State() {
	case StateIdle:
		changed, err := w.detect(ctx)
		if err != nil || !changed {
			return err
		}
		return w.evaluate(ctx)
	case StateChangeDetected, StateRestartSuspended:
		return w.evaluate(ctx)
	default:
		return nil
	}
}

func (w *Watchdog) detect(ctx context.Context) (bool, error) {
	cur, err := w.sampler.Sample()
	if err != nil {
		w.recordError(err)
		w.publish(ctx, Event{Kind: EventSampleError, From: w.State(), Err: err})
		logging.WarnWithContext(w.logger, "fingerprint failed", "sample_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the watch file is readable"),
			logging.String(logging.FieldImpact, "changes are not detected until sampling succeeds"),
		)
		return false, err
	}

	w.mu.Lock()
	manual := w.manual
	prev := w.lastSeen
	changed := w.sampler.Changed(prev, cur)
	if !changed && !manual {
		if rebased, ok := w.sampler.Rebase(prev, cur); ok {
			w.lastSeen = rebased
		}
		w.mu.Unlock()
		return false, nil
	}
	w.pending = cur
	w.pendingSince = w.now()
	w.mu.Unlock()

	w.logger.Info("watch target changed",
		logging.String(logging.FieldEventType, "change_detected"),
		logging.String("previous", prev.String()),
		logging.String(logging.FieldFingerprint, cur.String()),
		logging.Bool("manual", manual && !changed),
	)
	w.publish(ctx, Event{Kind: EventChangeDetected, Fingerprint: cur, Reason: w.reason()})
	return true, w.fire(ctx, eventChange)
}

func (w *Watchdog) evaluate(ctx context.Context) error {
	held, err := w.locks.IsLocked()
	if err != nil {
		w.recordError(err)
		w.publish(ctx, Event{Kind: EventLockError, From: w.State(), Err: err})
		logging.WarnWithContext(w.logger, "lock check failed; restart deferred", "lock_check_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the lock directory"),
			logging.String(logging.FieldImpact, "restart retried on the next tick"),
		)
		return err
	}

	w.mu.Lock()
	w.lockHeld = held
	w.mu.Unlock()

	if held {
		if w.State() == StateChangeDetected {
			w.mu.Lock()
			w.suspensions++
			pending := w.pending
			w.mu.Unlock()
			if err := w.fire(ctx, eventSuspend); err != nil {
				return err
			}
			logging.InfoEvent(w.logger, "restart suspended: process lock held", "restart_suspended",
				logging.String(logging.FieldFingerprint, pending.String()),
			)
			w.publish(ctx, Event{Kind: EventRestartSuspended, Fingerprint: pending, Reason: w.reason()})
		}
		return nil
	}

	if remaining := w.cooldownRemaining(); remaining > 0 {
		w.logger.Debug("restart deferred by cooldown", logging.Duration("remaining", remaining))
		return nil
	}

	if err := w.fire(ctx, eventRestart); err != nil {
		return err
	}
	return w.restart(ctx)
}

func (w *Watchdog) restart(ctx context.Context) error {
	reason := w.reason()
	result, err := w.restarter.Restart(ctx, reason)
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.lastErr = err.Error()
		pending := w.pending
		w.mu.Unlock()
		if fireErr := w.fire(ctx, eventFail); fireErr != nil {
			return errors.Join(err, fireErr)
		}
		w.logger.Error("worker restart failed",
			logging.String(logging.FieldEventType, "restart_failed"),
			logging.String(logging.FieldErrorHint, "check worker_command and the worker log"),
			logging.String(logging.FieldImpact, "restart retried on the next tick"),
			logging.Error(err),
		)
		w.publish(ctx, Event{Kind: EventRestartFailed, Fingerprint: pending, OldPID: result.OldPID, Reason: reason, Err: err})
		return fmt.Errorf("restart worker: %w", err)
	}

	fresh, sampleErr := w.sampler.Sample()
	w.mu.Lock()
	if sampleErr != nil {
		fresh = w.pending
	}
	w.lastSeen = fresh
	w.pending = fingerprint.Fingerprint{}
	w.pendingSince = time.Time{}
	w.manual = false
	w.restarts++
	w.lastRestart = w.now()
	w.lastErr = ""
	w.mu.Unlock()

	if err := w.fire(ctx, eventSettle); err != nil {
		return err
	}
	w.logger.Info("worker restarted",
		logging.String(logging.FieldEventType, "worker_restarted"),
		logging.Int("old_pid", result.OldPID),
		logging.Int("new_pid", result.NewPID),
		logging.String("reason", reason),
		logging.String(logging.FieldFingerprint, fresh.String()),
	)
	w.publish(ctx, Event{Kind: EventRestarted, Fingerprint: fresh, OldPID: result.OldPID, NewPID: result.NewPID, Reason: reason})
	return nil
}

func (w *Watchdog) fire(ctx context.Context, event string) error {
	if err := w.machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		return fmt.Errorf("watchdog %s from %s: %w", event, w.State(), err)
	}
	return nil
}

func (w *Watchdog) onEnter(from, to State, event string) {
	w.logger.Debug("state transition",
		logging.String("from", string(from)),
		logging.String("to", string(to)),
		logging.String("event", event),
	)
	w.mu.Lock()
	ctx := w.tickCtx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	w.publish(ctx, Event{Kind: EventTransition, From: from, To: to, Reason: event})
}

func (w *Watchdog) publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = w.now()
	}
	for _, o := range w.observers {
		o.Observe(ctx, ev)
	}
}

func (w *Watchdog) cooldownRemaining() time.Duration {
	if w.cooldown <= 0 {
		return 0
	}
	w.mu.Lock()
	last := w.lastRestart
	w.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	return w.cooldown - w.now().Sub(last)
}

func (w *Watchdog) reason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.manual && !w.sampler.Changed(w.lastSeen, w.pending) {
		return reasonManual
	}
	return reasonChange
}

func (w *Watchdog) recordError(err error) {
	w.mu.Lock()
	w.lastErr = err.Error()
	w.mu.Unlock()
}
