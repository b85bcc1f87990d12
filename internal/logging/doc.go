// Package logging assembles structured slog loggers for the tokenwatch CLI and
// watchdog.
//
// It owns the console and JSON handlers, level and output plumbing, the
// session handler that stamps every record of one watchdog run, and the field
// names shared by all components. Pausing at the gate is an ordinary event and
// is logged at INFO through these helpers, never as an error.
package logging
