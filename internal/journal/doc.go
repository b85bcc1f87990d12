// Package journal persists watchdog history in SQLite so restarts and
// suspensions survive daemon restarts and can be listed from the CLI.
package journal
