package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"tokenwatch/internal/ipc"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Worker", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Worker:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Worker", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestStateLabel(t *testing.T) {
	tests := map[string]string{
		"IDLE":              "Idle",
		"CHANGE_DETECTED":   "Change Detected",
		"RESTART_SUSPENDED": "Restart Suspended",
		"":                  "Unknown",
	}
	for in, want := range tests {
		if got := stateLabel(in); got != want {
			t.Errorf("stateLabel(%q) = %q, want %q", in, got, want)
		}
	}
	if stateKind("RESTART_SUSPENDED") != statusWarn || stateKind("IDLE") != statusOK {
		t.Fatal("unexpected state colouring")
	}
}

func TestLockSummary(t *testing.T) {
	tests := []struct {
		status ipc.LockStatus
		want   string
	}{
		{ipc.LockStatus{}, "Not held"},
		{ipc.LockStatus{Present: true, Held: true, HolderPID: 42}, "Held by pid 42"},
		{ipc.LockStatus{Present: true, HolderPID: 42}, "Stale (pid 42 is gone)"},
		{ipc.LockStatus{Present: true, Held: true, Foreign: true}, "Held from another host"},
		{ipc.LockStatus{Present: true, Held: true, Corrupt: true}, "Held (artifact still being written)"},
		{ipc.LockStatus{Held: true, Error: "permission denied"}, "Unreadable: permission denied"},
	}
	for _, tc := range tests {
		if got := lockSummary(tc.status); got != tc.want {
			t.Errorf("lockSummary(%+v) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestHistoryRows(t *testing.T) {
	rows := historyRows([]ipc.HistoryEntry{
		{ID: 3, Kind: "restart_failed", RecordedAt: time.Unix(1_700_000_000, 0), OldPID: 10, Error: "exec failed"},
		{ID: 2, Kind: "restarted", OldPID: 9, NewPID: 10, Reason: "data file change"},
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][4] != "-" || rows[0][5] != "exec failed" {
		t.Fatalf("unexpected failure row: %v", rows[0])
	}
	if rows[1][1] != "-" || rows[1][5] != "data file change" {
		t.Fatalf("unexpected restart row: %v", rows[1])
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
