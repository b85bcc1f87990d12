// Package supervisor runs the worker process on behalf of the watchdog.
//
// It launches the configured command with output appended to the worker
// log, records the worker pid in a pid file, notices when the worker exits,
// and terminates it with SIGTERM followed by SIGKILL after a grace period.
// A worker left behind by a previous watchdog is found through the pid file
// and terminated before the first launch.
package supervisor
