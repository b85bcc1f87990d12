// Package watchdogctl launches, stops and inspects the background watchdog
// on behalf of the CLI. Everything goes through the IPC socket; the pid file
// is only used to force-kill a watchdog that ignores a stop request.
package watchdogctl
