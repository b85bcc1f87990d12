// Package main hosts the tokenwatch CLI entrypoint and command graph.
//
// The Cobra command tree covers the shared process lock (lock status, run,
// release, clean), the pause gate used by collaborating scripts (gate check,
// wait, exec), and the watchdog that restarts the monitoring worker when the
// token risk file changes (watchdog, start, stop, restart, status,
// restart-worker, history, test-notify). Configuration resolution and
// control socket discovery live here so subcommands stay small.
package main
