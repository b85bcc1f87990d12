// Package notifications delivers watchdog events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Each event kind can be switched off in
// config.toml; suppressed events return nil without touching the network.
package notifications
