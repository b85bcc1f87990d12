package watchdogrun

import (
	"context"
	"os"
	"strings"
	"time"

	"tokenwatch/internal/config"
	"tokenwatch/internal/ipc"
	"tokenwatch/internal/journal"
	"tokenwatch/internal/lockstore"
	"tokenwatch/internal/notifications"
	"tokenwatch/internal/supervisor"
	"tokenwatch/internal/watchdog"
)

// controller backs the IPC server for one watchdog run.
type controller struct {
	cfg       *config.Config
	sessionID string
	startedAt time.Time
	logPath   string

	watchdog   *watchdog.Watchdog
	supervisor *supervisor.Supervisor
	locks      *lockstore.Store
	journal    *journal.Journal
	notifier   notifications.Service
	stop       context.CancelFunc
}

func (c *controller) Status(context.Context) ipc.StatusResponse {
	snap := c.watchdog.Snapshot()
	worker := c.supervisor.Status()
	spec := c.supervisor.Spec()

	resp := ipc.StatusResponse{
		PID:             os.Getpid(),
		SessionID:       c.sessionID,
		StartedAt:       c.startedAt,
		State:           string(snap.State),
		WatchFile:       c.cfg.Watchdog.WatchFile,
		FingerprintMode: c.cfg.Watchdog.Fingerprint,
		LastSeen:        snap.LastSeen.String(),
		PendingSince:    snap.PendingSince,
		Ticks:           snap.Ticks,
		Restarts:        snap.Restarts,
		Failures:        snap.Failures,
		Suspensions:     snap.Suspensions,
		LastRestart:     snap.LastRestart,
		LastError:       snap.LastError,
		ManualPending:   snap.Manual,
		Lock:            ipc.LockStatusFrom(c.locks.Inspect()),
		Worker: ipc.WorkerStatus{
			Command:   spec.Label(),
			PID:       worker.PID,
			Running:   worker.Running,
			StartedAt: worker.StartedAt,
			Launches:  worker.Launches,
			LastExit:  worker.LastExit,
			LogPath:   spec.LogPath,
		},
		LogPath:     c.logPath,
		JournalPath: c.journal.Path(),
	}
	if !snap.PendingSince.IsZero() {
		resp.Pending = snap.Pending.String()
	}
	return resp
}

func (c *controller) RequestRestart() string {
	c.watchdog.RequestRestart()
	return string(c.watchdog.State())
}

func (c *controller) Stop() {
	c.stop()
}

func (c *controller) History(ctx context.Context, limit int, kind string) ([]ipc.HistoryEntry, error) {
	entries, err := c.journal.Recent(ctx, limit, kind)
	if err != nil {
		return nil, err
	}
	return ipc.HistoryFrom(entries), nil
}

func (c *controller) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(c.cfg.Notifications.NtfyTopic) == "" {
		return false, "notifications not configured (set notifications.ntfy_topic)", nil
	}
	if err := c.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "", err
	}
	return true, "test notification sent", nil
}
