//go:build !windows

package procutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Exists probes pid with signal 0. EPERM means the process exists but
// belongs to another user.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate asks pid to exit.
func Terminate(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// Kill forcibly stops pid.
func Kill(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
