// Package logs reads the watchdog run logs for `tokenwatch logs`.
//
// Last returns the final lines of a log with bounded memory. Follow streams
// lines appended after an offset and re-opens the file when the
// tokenwatch.log pointer moves to a new run.
package logs
