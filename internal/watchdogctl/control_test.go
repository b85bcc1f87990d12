//go:build !windows

package watchdogctl_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"tokenwatch/internal/fileutil"
	"tokenwatch/internal/journal"
	"tokenwatch/internal/lockstore"
	"tokenwatch/internal/testsupport"
	"tokenwatch/internal/watchdogctl"
)

func TestStopWithoutWatchdogReportsNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := watchdogctl.StopAndTerminate(cfg, time.Second); !errors.Is(err, watchdogctl.ErrWatchdogNotRunning) {
		t.Fatalf("expected ErrWatchdogNotRunning, got %v", err)
	}
}

func TestProcessInfoOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	alive, pid, err := watchdogctl.ProcessInfo(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if alive || pid != 0 {
		t.Fatalf("expected offline, got alive=%v pid=%d", alive, pid)
	}
}

func TestForceKillProcessUsesPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := fileutil.WritePIDFile(cfg.PIDPath(), cmd.Process.Pid); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	killed, err := watchdogctl.ForceKillProcess(cfg.PIDPath(), 0)
	if err != nil {
		t.Fatalf("ForceKillProcess: %v", err)
	}
	if killed != cmd.Process.Pid {
		t.Fatalf("killed pid %d, want %d", killed, cmd.Process.Pid)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived SIGKILL")
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err=%v", err)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.WriteFile(cfg.PIDPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := watchdogctl.ForceKillProcess(cfg.PIDPath(), 0); err == nil {
		t.Fatal("expected refusal to kill current process")
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	locks := lockstore.New(cfg.LockPath())
	if err := locks.Acquire("scanner"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = locks.Release() })

	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	ctx := context.Background()
	for _, kind := range []string{"restarted", "restarted", "restart_suspended"} {
		if _, err := j.Record(ctx, journal.Entry{Kind: kind}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	_ = j.Close()

	snap, err := watchdogctl.BuildStatusSnapshot(ctx, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Running {
		t.Fatal("expected offline snapshot")
	}
	lock := snap.Status.Lock
	if !lock.Held || lock.HolderPID != os.Getpid() || lock.HolderName != "scanner" {
		t.Fatalf("unexpected lock status: %+v", lock)
	}
	if snap.Status.Restarts != 2 || snap.Status.Suspensions != 1 {
		t.Fatalf("unexpected journal counts: %+v", snap.Status)
	}
	if snap.Status.LastRestart.IsZero() {
		t.Fatal("expected last restart time from journal")
	}
	if len(snap.Checks) == 0 {
		t.Fatal("expected preflight checks")
	}
}
