package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tokenwatch/internal/config"
	"tokenwatch/internal/fileutil"
	"tokenwatch/internal/logging"
	"tokenwatch/internal/procutil"
)

const (
	// DefaultTerminateGrace is the SIGTERM to SIGKILL window.
	DefaultTerminateGrace = 5 * time.Second
	probeInterval         = 500 * time.Millisecond
	killWait              = 5 * time.Second
)

// Spec describes how to run the worker.
type Spec struct {
	Command        string
	Args           []string
	Dir            string
	Env            []string
	LogPath        string
	PIDPath        string
	TerminateGrace time.Duration
}

// SpecFromConfig builds the worker spec from the [watchdog] section. The
// worker is told which file is watched through TOKEN_RISK_ANALYSIS_CSV.
func SpecFromConfig(cfg *config.Config) Spec {
	return Spec{
		Command:        cfg.Watchdog.WorkerCommand,
		Args:           append([]string(nil), cfg.Watchdog.WorkerArgs...),
		Dir:            cfg.Watchdog.WorkerDir,
		Env:            []string{"TOKEN_RISK_ANALYSIS_CSV=" + cfg.Watchdog.WatchFile},
		LogPath:        cfg.Watchdog.WorkerLog,
		PIDPath:        cfg.WorkerPIDPath(),
		TerminateGrace: cfg.TerminateGrace(),
	}
}

// Label is the human readable command line.
func (s Spec) Label() string {
	return strings.TrimSpace(strings.Join(append([]string{s.Command}, s.Args...), " "))
}

// Name is the short worker name used in log banners: the script when the
// command runs one, otherwise the command itself.
func (s Spec) Name() string {
	if len(s.Args) > 0 {
		return filepath.Base(s.Args[len(s.Args)-1])
	}
	return filepath.Base(s.Command)
}

// Status describes the current worker.
type Status struct {
	PID       int
	Running   bool
	StartedAt time.Time
	Launches  int
	LastExit  string
}

// RestartResult reports the pids involved in a restart. OldPID is zero when
// no worker was running.
type RestartResult struct {
	OldPID int
	NewPID int
}

// Supervisor owns at most one worker process at a time.
type Supervisor struct {
	spec   Spec
	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	done      chan struct{}
	startedAt time.Time
	launches  int
	lastExit  string
}

// New returns a supervisor for spec.
func New(spec Spec, logger *slog.Logger) *Supervisor {
	if spec.TerminateGrace <= 0 {
		spec.TerminateGrace = DefaultTerminateGrace
	}
	return &Supervisor{
		spec:   spec,
		logger: logging.NewComponentLogger(logger, "supervisor"),
	}
}

// Spec returns the worker spec.
func (s *Supervisor) Spec() Spec {
	return s.spec
}

// CleanupPrevious terminates a worker recorded in the pid file by an
// earlier watchdog and removes the pid file. It returns the terminated pid,
// or zero when there was none.
func (s *Supervisor) CleanupPrevious(ctx context.Context) (int, error) {
	if s.spec.PIDPath == "" {
		return 0, nil
	}
	rec, err := fileutil.ReadPIDRecord(s.spec.PIDPath)
	if errors.Is(err, fileutil.ErrNoPID) {
		return 0, fileutil.RemoveIfExists(s.spec.PIDPath)
	}
	if err != nil {
		return 0, err
	}
	defer func() { _ = fileutil.RemoveIfExists(s.spec.PIDPath) }()

	pid := rec.PID
	if pid == os.Getpid() {
		return 0, nil
	}
	if !procutil.Alive(procutil.Identity{PID: pid, StartTime: rec.Started}) {
		if procutil.Exists(pid) {
			logging.InfoEvent(s.logger, "worker pid reused by another process; leaving it", "worker_pid_reused",
				logging.Int(logging.FieldPID, pid),
			)
		}
		return 0, nil
	}
	logging.InfoEvent(s.logger, "terminating worker left by previous watchdog", "worker_orphan_cleanup",
		logging.Int(logging.FieldPID, pid),
	)
	if err := s.terminatePID(ctx, pid, nil); err != nil {
		return pid, err
	}
	return pid, nil
}

// Start launches a new worker. reason is written to the worker log banner.
// It fails with a *LaunchError when the process cannot be created.
func (s *Supervisor) Start(reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningLocked() {
		return s.cmd.Process.Pid, fmt.Errorf("worker already running (pid %d)", s.cmd.Process.Pid)
	}

	logFile, err := s.openLog(reason)
	if err != nil {
		return 0, &LaunchError{Command: s.spec.Label(), Err: err}
	}
	defer logFile.Close()

	cmd := exec.Command(s.spec.Command, s.spec.Args...)
	cmd.Dir = s.spec.Dir
	cmd.Env = append(os.Environ(), s.spec.Env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return 0, &LaunchError{Command: s.spec.Label(), Err: err}
	}

	pid := cmd.Process.Pid
	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.startedAt = time.Now()
	s.launches++
	go s.reap(cmd, done)

	if s.spec.PIDPath != "" {
		rec := fileutil.PIDRecord{PID: pid}
		if started, err := procutil.StartTime(pid); err == nil {
			rec.Started = started
		}
		if err := fileutil.WritePIDRecord(s.spec.PIDPath, rec); err != nil {
			logging.WarnWithContext(s.logger, "worker pid file not written", "worker_pid_file_failed",
				logging.Int(logging.FieldPID, pid),
				logging.Error(err),
				logging.String(logging.FieldImpact, "a restarted watchdog will not find this worker"),
			)
		}
	}
	logging.InfoEvent(s.logger, "worker started", "worker_started",
		logging.Int(logging.FieldPID, pid),
		logging.String("command", s.spec.Label()),
		logging.String("reason", reason),
	)
	return pid, nil
}

// Stop terminates the running worker, if any, and returns its pid.
func (s *Supervisor) Stop(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.runningLocked() {
		s.mu.Unlock()
		return 0, nil
	}
	pid := s.cmd.Process.Pid
	done := s.done
	s.mu.Unlock()

	if err := s.terminatePID(ctx, pid, done); err != nil {
		return pid, err
	}
	if s.spec.PIDPath != "" {
		_ = fileutil.RemoveIfExists(s.spec.PIDPath)
	}
	return pid, nil
}

// Restart stops the current worker and launches a new one. The old worker
// is confirmed gone before the new one starts.
func (s *Supervisor) Restart(ctx context.Context, reason string) (RestartResult, error) {
	oldPID, err := s.Stop(ctx)
	if err != nil {
		return RestartResult{OldPID: oldPID}, fmt.Errorf("stop worker: %w", err)
	}
	newPID, err := s.Start(reason)
	if err != nil {
		return RestartResult{OldPID: oldPID}, err
	}
	return RestartResult{OldPID: oldPID, NewPID: newPID}, nil
}

// Status reports the current worker.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{Launches: s.launches, LastExit: s.lastExit}
	if s.cmd != nil && s.cmd.Process != nil {
		status.PID = s.cmd.Process.Pid
		status.StartedAt = s.startedAt
		status.Running = s.runningLocked()
	}
	return status
}

// Done returns a channel closed when the current worker exits, or nil when
// no worker was started.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Supervisor) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	exit := "exit 0"
	if err != nil {
		exit = err.Error()
	}
	s.mu.Lock()
	s.lastExit = exit
	s.mu.Unlock()
	close(done)
	s.logger.Info("worker exited",
		logging.String(logging.FieldEventType, "worker_exited"),
		logging.Int(logging.FieldPID, cmd.Process.Pid),
		logging.String("exit", exit),
	)
}

// terminatePID sends SIGTERM, probes every 500ms until the grace period
// ends, then sends SIGKILL. For own children done signals the reaped exit.
func (s *Supervisor) terminatePID(ctx context.Context, pid int, done <-chan struct{}) error {
	gone := func() bool {
		if done != nil {
			select {
			case <-done:
				return true
			default:
				return false
			}
		}
		return !procutil.PIDAlive(pid)
	}

	if err := procutil.Terminate(pid); err != nil {
		return fmt.Errorf("signal worker %d: %w", pid, err)
	}
	if waitGone(ctx, gone, s.spec.TerminateGrace) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logging.WarnWithContext(s.logger, "worker ignored SIGTERM; killing", "worker_killed",
		logging.Int(logging.FieldPID, pid),
		logging.Duration("grace", s.spec.TerminateGrace),
		logging.String(logging.FieldImpact, "worker cycle interrupted without cleanup"),
		logging.String(logging.FieldErrorHint, "make the worker exit promptly on SIGTERM"),
	)
	if err := procutil.Kill(pid); err != nil {
		return fmt.Errorf("kill worker %d: %w", pid, err)
	}
	if waitGone(context.WithoutCancel(ctx), gone, killWait) {
		return nil
	}
	return fmt.Errorf("worker %d still running after SIGKILL", pid)
}

func waitGone(ctx context.Context, gone func() bool, limit time.Duration) bool {
	if gone() {
		return true
	}
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return gone()
		case <-deadline.C:
			return gone()
		case <-ticker.C:
			if gone() {
				return true
			}
		}
	}
}

func (s *Supervisor) openLog(reason string) (*os.File, error) {
	path := s.spec.LogPath
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create worker log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}
	banner := fmt.Sprintf("\n--- Launching %s at %s due to %s ---\n",
		s.spec.Name(), time.Now().Format(time.ANSIC), reason)
	if _, err := file.WriteString(banner); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write worker log banner: %w", err)
	}
	return file, nil
}
