package watchdogctl

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"tokenwatch/internal/config"
	"tokenwatch/internal/fileutil"
	"tokenwatch/internal/ipc"
	"tokenwatch/internal/journal"
	"tokenwatch/internal/lockstore"
	"tokenwatch/internal/preflight"
	"tokenwatch/internal/procutil"
)

// Snapshot is the combined status view rendered by the CLI.
type Snapshot struct {
	Running bool
	Status  ipc.StatusResponse
	Checks  []preflight.Result
}

// BuildStatusSnapshot asks the running watchdog for its status. When it is
// offline the lock, worker pid file and journal are read directly.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	if client, err := ipc.Dial(cfg.SocketPath()); err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snap.Running = true
			snap.Status = *resp
		}
	}

	if !snap.Running {
		snap.Status = offlineStatus(ctx, cfg)
	}
	snap.Checks = preflight.RunAll(ctx, cfg)
	return snap, nil
}

func offlineStatus(ctx context.Context, cfg *config.Config) ipc.StatusResponse {
	status := ipc.StatusResponse{
		WatchFile:       cfg.Watchdog.WatchFile,
		FingerprintMode: cfg.Watchdog.Fingerprint,
		JournalPath:     cfg.JournalPath(),
	}
	status.Lock = ipc.LockStatusFrom(lockstore.New(cfg.LockPath()).Inspect())

	status.Worker = ipc.WorkerStatus{
		Command: cfg.Watchdog.WorkerCommand,
		LogPath: cfg.Watchdog.WorkerLog,
	}
	if pid, err := fileutil.ReadPIDFile(cfg.WorkerPIDPath()); err == nil {
		status.Worker.PID = pid
		status.Worker.Running = procutil.PIDAlive(pid)
	}

	if _, err := os.Stat(cfg.JournalPath()); errors.Is(err, fs.ErrNotExist) {
		return status
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return status
	}
	defer j.Close()
	if counts, err := j.Counts(queryCtx); err == nil {
		status.Restarts = counts["restarted"]
		status.Failures = counts["restart_failed"]
		status.Suspensions = counts["restart_suspended"]
	}
	if recent, err := j.Recent(queryCtx, 1, "restarted"); err == nil && len(recent) > 0 {
		status.LastRestart = recent[0].RecordedAt
	}
	return status
}
