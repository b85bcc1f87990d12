package watchdogrun

import (
	"context"
	"log/slog"
	"sync"

	"tokenwatch/internal/journal"
	"tokenwatch/internal/logging"
	"tokenwatch/internal/notifications"
	"tokenwatch/internal/watchdog"
)

// journalObserver persists lifecycle events. Ticks, transitions and
// per-tick errors are left to the log.
type journalObserver struct {
	journal   *journal.Journal
	sessionID string
	logger    *slog.Logger
}

func (o journalObserver) Observe(ctx context.Context, ev watchdog.Event) {
	switch ev.Kind {
	case watchdog.EventStarted, watchdog.EventStopped, watchdog.EventChangeDetected,
		watchdog.EventRestartSuspended, watchdog.EventRestarted, watchdog.EventRestartFailed:
	default:
		return
	}
	entry := journal.Entry{
		Kind:       string(ev.Kind),
		RecordedAt: ev.At,
		SessionID:  o.sessionID,
		State:      string(ev.To),
		OldPID:     ev.OldPID,
		NewPID:     ev.NewPID,
		Reason:     ev.Reason,
	}
	if entry.State == "" {
		entry.State = string(ev.From)
	}
	if ev.Fingerprint.Exists {
		entry.Fingerprint = ev.Fingerprint.String()
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	if _, err := o.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		logging.WarnWithContext(o.logger, "journal write failed", "journal_write_failed",
			logging.Error(err),
			logging.String("kind", entry.Kind),
			logging.String(logging.FieldImpact, "event missing from tokenwatch history"),
		)
	}
}

// notifyObserver publishes restarts, suspensions and failures without
// blocking the tick loop.
type notifyObserver struct {
	service notifications.Service
	worker  string
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func (o *notifyObserver) Observe(ctx context.Context, ev watchdog.Event) {
	var (
		event   notifications.Event
		payload notifications.Payload
	)
	switch ev.Kind {
	case watchdog.EventRestarted:
		event = notifications.EventWorkerRestarted
		payload = notifications.Payload{"worker": o.worker, "pid": ev.NewPID, "reason": ev.Reason}
	case watchdog.EventRestartSuspended:
		event = notifications.EventRestartSuspended
		payload = notifications.Payload{"worker": o.worker}
	case watchdog.EventRestartFailed:
		event = notifications.EventRestartFailed
		payload = notifications.Payload{"worker": o.worker, "error": ev.Err}
	default:
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.service.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
			logging.WarnWithContext(o.logger, "notification failed", "notification_failed",
				logging.Error(err),
				logging.String("event", string(event)),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "push notification not delivered"),
			)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (o *notifyObserver) Wait() {
	o.wg.Wait()
}
