package watchdog

import (
	"context"
	"time"

	"tokenwatch/internal/fingerprint"
)

// EventKind classifies watchdog events delivered to observers.
type EventKind string

const (
	EventStarted          EventKind = "watchdog_started"
	EventStopped          EventKind = "watchdog_stopped"
	EventTick             EventKind = "tick"
	EventTransition       EventKind = "transition"
	EventChangeDetected   EventKind = "change_detected"
	EventRestartSuspended EventKind = "restart_suspended"
	EventRestarted        EventKind = "restarted"
	EventRestartFailed    EventKind = "restart_failed"
	EventLockError        EventKind = "lock_error"
	EventSampleError      EventKind = "sample_error"
)

// Event is something the watchdog observed or did.
type Event struct {
	Kind        EventKind
	At          time.Time
	From        State
	To          State
	Fingerprint fingerprint.Fingerprint
	OldPID      int
	NewPID      int
	Reason      string
	Err         error
}

// Observer receives watchdog events. Observe runs on the tick goroutine and
// should return quickly.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }
