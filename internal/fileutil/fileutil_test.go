package fileutil_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tokenwatch/internal/fileutil"
)

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.txt")
	if err := fileutil.WriteFileAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := fileutil.WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("unexpected content %q", data)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up, found %d entries", len(entries))
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.pid")
	if _, err := fileutil.ReadPIDFile(path); !errors.Is(err, fileutil.ErrNoPID) {
		t.Fatalf("expected ErrNoPID for missing file, got %v", err)
	}
	if err := fileutil.WritePIDFile(path, 4321); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := fileutil.ReadPIDFile(path)
	if err != nil || pid != 4321 {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := fileutil.ReadPIDFile(path); !errors.Is(err, fileutil.ErrNoPID) {
		t.Fatalf("expected ErrNoPID for garbage, got %v", err)
	}
}

func TestPIDRecordKeepsStartTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.pid")
	started := time.UnixMilli(1_700_000_123_456)
	if err := fileutil.WritePIDRecord(path, fileutil.PIDRecord{PID: 99, Started: started}); err != nil {
		t.Fatalf("WritePIDRecord: %v", err)
	}
	rec, err := fileutil.ReadPIDRecord(path)
	if err != nil {
		t.Fatalf("ReadPIDRecord: %v", err)
	}
	if rec.PID != 99 || !rec.Started.Equal(started) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if pid, err := fileutil.ReadPIDFile(path); err != nil || pid != 99 {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}

	if err := fileutil.WritePIDFile(path, 42); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	rec, err = fileutil.ReadPIDRecord(path)
	if err != nil || rec.PID != 42 || !rec.Started.IsZero() {
		t.Fatalf("plain pid file read as %+v, %v", rec, err)
	}
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone")
	if err := fileutil.RemoveIfExists(path); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fileutil.RemoveIfExists(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected file removed")
	}
}
