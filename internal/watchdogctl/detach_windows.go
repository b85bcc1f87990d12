//go:build windows

package watchdogctl

import "syscall"

func detachedAttrs() *syscall.SysProcAttr {
	return nil
}
