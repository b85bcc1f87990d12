// Package config loads, normalizes, and validates tokenwatch configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours environment fallbacks such as
// TOKEN_RISK_ANALYSIS_CSV. The resulting Config is the single object handed to
// the lock store, pause gate, and watchdog at startup; nothing in the module
// reads settings from package-level state.
package config
