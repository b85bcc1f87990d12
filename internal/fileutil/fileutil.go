// Package fileutil holds small file helpers shared by the watchdog and CLI.
package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoPID is returned when a pid file is missing or empty.
var ErrNoPID = errors.New("no pid recorded")

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// WritePIDFile records pid at path.
func WritePIDFile(path string, pid int) error {
	if err := WriteFileAtomic(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file %q: %w", path, err)
	}
	return nil
}

// ReadPIDFile returns the pid stored at path. A missing, empty, or
// unparsable file yields ErrNoPID.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNoPID
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return 0, ErrNoPID
	}
	return pid, nil
}

// PIDRecord is a pid file entry. A zero Started means no start time was
// recorded.
type PIDRecord struct {
	PID     int
	Started time.Time
}

const startedPrefix = "process_start="

// WritePIDRecord records the pid on the first line, so ReadPIDFile still
// reads it, followed by the process start time in unix milliseconds.
func WritePIDRecord(path string, rec PIDRecord) error {
	content := strconv.Itoa(rec.PID) + "\n"
	if !rec.Started.IsZero() {
		content += startedPrefix + strconv.FormatInt(rec.Started.UnixMilli(), 10) + "\n"
	}
	if err := WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write pid file %q: %w", path, err)
	}
	return nil
}

// ReadPIDRecord reads a file written by WritePIDRecord or WritePIDFile.
func ReadPIDRecord(path string) (PIDRecord, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return PIDRecord{}, err
	}
	rec := PIDRecord{PID: pid}
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), startedPrefix)
		if !ok {
			continue
		}
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
			rec.Started = time.UnixMilli(ms)
		}
	}
	return rec, nil
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
