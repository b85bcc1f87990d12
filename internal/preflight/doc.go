// Package preflight provides readiness checks for the paths and commands the
// watchdog depends on.
//
// These checks run in two contexts:
//   - The watchdog runs RunAll at startup and logs every failure as a warning.
//   - The CLI "tokenwatch status" command renders the same results when the
//     watchdog is offline.
package preflight
