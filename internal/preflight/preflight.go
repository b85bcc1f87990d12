package preflight

import (
	"context"
	"path/filepath"
	"strings"

	"tokenwatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Lock directory", cfg.Lock.Dir),
		CheckDirectoryAccess("Watch directory", filepath.Dir(cfg.Watchdog.WatchFile)),
		CheckWatchTarget(cfg.Watchdog.WatchFile),
		CheckWorkerCommand(cfg.Watchdog.WorkerCommand, cfg.Watchdog.WorkerArgs, cfg.Watchdog.WorkerDir),
	}

	// Worker directory only matters when it differs from the watch directory.
	if dir := cfg.Watchdog.WorkerDir; dir != "" && dir != filepath.Dir(cfg.Watchdog.WatchFile) {
		results = append(results, CheckDirectoryAccess("Worker directory", dir))
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
