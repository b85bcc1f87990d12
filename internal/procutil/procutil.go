package procutil

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// StartTolerance absorbs clock-tick rounding in OS start time reporting.
const StartTolerance = time.Second

// ErrInvalidPID is returned for non-positive process ids.
var ErrInvalidPID = errors.New("invalid pid")

// Identity pairs a pid with the start time the OS reported for it.
// A zero StartTime means the start time was not recorded.
type Identity struct {
	PID       int
	StartTime time.Time
}

// Self returns the identity of the calling process.
func Self() Identity {
	pid := os.Getpid()
	start, err := StartTime(pid)
	if err != nil {
		return Identity{PID: pid}
	}
	return Identity{PID: pid, StartTime: start}
}

// StartTime reports when the OS started pid.
func StartTime(pid int) (time.Time, error) {
	if pid <= 0 {
		return time.Time{}, ErrInvalidPID
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}, fmt.Errorf("lookup process %d: %w", pid, err)
	}
	ms, err := proc.CreateTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("process %d start time: %w", pid, err)
	}
	return time.UnixMilli(ms), nil
}

// Alive reports whether id still names a running process: the pid exists,
// it is not a zombie, and when a start time was recorded the OS start time
// matches it.
func Alive(id Identity) bool {
	if !Exists(id.PID) {
		return false
	}
	proc, err := process.NewProcess(int32(id.PID))
	if err != nil {
		// Exists said yes but the process table does not list it; it exited
		// in between.
		return false
	}
	if status, err := proc.Status(); err == nil && slices.Contains(status, process.Zombie) {
		return false
	}
	if id.StartTime.IsZero() {
		return true
	}
	ms, err := proc.CreateTime()
	if err != nil {
		// Permission problems hide start times of foreign processes; the
		// pid exists, so keep treating it as the holder.
		return true
	}
	diff := time.UnixMilli(ms).Sub(id.StartTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= StartTolerance
}

// PIDAlive is Alive for records that carry no start time.
func PIDAlive(pid int) bool {
	return Alive(Identity{PID: pid})
}
