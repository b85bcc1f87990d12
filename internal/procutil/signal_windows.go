//go:build windows

package procutil

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// Exists reports whether pid is present in the process table.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Terminate stops pid. Windows has no polite termination signal for
// console-less children, so this is the same as Kill.
func Terminate(pid int) error {
	return Kill(pid)
}

// Kill forcibly stops pid.
func Kill(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && Exists(pid) {
		return err
	}
	return nil
}
