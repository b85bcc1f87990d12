//go:build !windows

package watchdogctl

import "syscall"

// detachedAttrs starts the watchdog in its own session so it outlives the
// invoking terminal.
func detachedAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
