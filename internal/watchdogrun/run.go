package watchdogrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"tokenwatch/internal/config"
	"tokenwatch/internal/fileutil"
	"tokenwatch/internal/fingerprint"
	"tokenwatch/internal/ipc"
	"tokenwatch/internal/journal"
	"tokenwatch/internal/lockstore"
	"tokenwatch/internal/logging"
	"tokenwatch/internal/metrics"
	"tokenwatch/internal/notifications"
	"tokenwatch/internal/preflight"
	"tokenwatch/internal/supervisor"
	"tokenwatch/internal/watchdog"
)

// ErrAlreadyRunning is returned when another watchdog holds the instance lock.
var ErrAlreadyRunning = errors.New("another tokenwatch watchdog is already running")

// Options configures watchdog process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the watchdog and blocks until a signal, a Stop request over IPC,
// or ctx cancellation. The worker is stopped before Run returns.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	instance := flock.New(cfg.InstanceLockPath())
	ok, err := instance.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() { _ = instance.Unlock() }()

	startedAt := time.Now()
	runID := startedAt.UTC().Format("20060102T150405.000Z")
	sessionID := uuid.NewString()
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("tokenwatch-%s.log", runID))
	logger, err := logging.NewRunLogger(cfg, logPath, sessionID)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.CurrentLogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update tokenwatch.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "tokenwatch-*.log", Exclude: []string{logPath}},
	)

	if err := fileutil.WritePIDFile(cfg.PIDPath(), os.Getpid()); err != nil {
		return err
	}
	defer os.Remove(cfg.PIDPath())

	logPreflight(signalCtx, logger, cfg)

	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logger.Error("open journal", logging.Error(err))
		return err
	}
	defer j.Close()
	if cfg.Logging.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Logging.RetentionDays)
		if removed, err := j.Prune(signalCtx, cutoff); err == nil && removed > 0 {
			logging.InfoEvent(logger, "journal pruned", "journal_pruned", logging.Int64("removed", removed))
		}
	}

	mode, err := fingerprint.ParseMode(cfg.Watchdog.Fingerprint)
	if err != nil {
		return err
	}
	sampler := fingerprint.NewSampler(cfg.Watchdog.WatchFile, mode)
	locks := lockstore.FromConfig(cfg, logger)
	sup := supervisor.New(supervisor.SpecFromConfig(cfg), logger)
	if pid, err := sup.CleanupPrevious(signalCtx); err != nil {
		logging.WarnWithContext(logger, "previous worker cleanup failed", "worker_orphan_cleanup_failed",
			logging.Int(logging.FieldPID, pid),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the old worker manually"),
			logging.String(logging.FieldImpact, "two workers may run until the old one exits"),
		)
	}

	notifier := notifications.NewService(cfg)
	notify := &notifyObserver{service: notifier, worker: sup.Spec().Name(), logger: logger}
	collector := metrics.New()

	wd, err := watchdog.New(locks, sampler, sup,
		watchdog.WithInterval(cfg.WatchdogPollInterval()),
		watchdog.WithCooldown(cfg.RestartCooldown()),
		watchdog.WithLogger(logger),
		watchdog.WithObserver(collector),
		watchdog.WithObserver(journalObserver{journal: j, sessionID: sessionID, logger: logger}),
		watchdog.WithObserver(notify),
	)
	if err != nil {
		return fmt.Errorf("create watchdog: %w", err)
	}

	runCtx, stop := context.WithCancel(signalCtx)
	defer stop()

	ctrl := &controller{
		cfg:        cfg,
		sessionID:  sessionID,
		startedAt:  startedAt,
		logPath:    logPath,
		watchdog:   wd,
		supervisor: sup,
		locks:      locks,
		journal:    j,
		notifier:   notifier,
		stop:       stop,
	}
	ipcServer, err := ipc.NewServer(runCtx, cfg.SocketPath(), ctrl, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := watchTarget(runCtx, cfg.Watchdog.WatchFile, wd.Wake, logger); err != nil {
		logging.WarnWithContext(logger, "file watcher unavailable; polling only", "watcher_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "changes detected on the next poll"),
		)
	}

	if bind := strings.TrimSpace(cfg.Watchdog.MetricsBind); bind != "" {
		go func() {
			if err := collector.Serve(runCtx, bind, logger); err != nil {
				logging.WarnWithContext(logger, "metrics endpoint failed", "metrics_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check watchdog.metrics_bind"),
					logging.String(logging.FieldImpact, "metrics not exported"),
				)
			}
		}()
	}

	if cfg.Watchdog.LaunchOnStart {
		if _, err := sup.Start("watchdog start"); err != nil {
			logging.ErrorWithContext(logger, "initial worker launch failed", "worker_launch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check worker_command and worker_dir"),
			)
		}
	}

	runErr := wd.Run(runCtx)

	logger.Info("tokenwatch watchdog shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(cmdCtx), cfg.TerminateGrace()+supervisorKillWait)
	defer cancelShutdown()
	if pid, err := sup.Stop(shutdownCtx); err != nil {
		logging.WarnWithContext(logger, "worker stop failed", "worker_stop_failed",
			logging.Int(logging.FieldPID, pid),
			logging.Error(err),
			logging.String(logging.FieldImpact, "worker may still be running"),
		)
	}
	notify.Wait()
	return runErr
}

// supervisorKillWait bounds the wait after SIGKILL during shutdown.
const supervisorKillWait = 5 * time.Second

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path or command"),
			logging.String(logging.FieldImpact, "worker restarts may fail"),
		)
	}
	logging.InfoEvent(logger, "watchdog configuration", "watchdog_config",
		logging.String("watch_file", cfg.Watchdog.WatchFile),
		logging.String("fingerprint", cfg.Watchdog.Fingerprint),
		logging.String(logging.FieldLockPath, cfg.LockPath()),
		logging.String("worker", supervisor.SpecFromConfig(cfg).Label()),
		logging.Int("checks_failed", len(preflight.Failed(results))),
	)
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
