// Package ipc exposes the running watchdog over JSON-RPC on a Unix socket and
// ships the matching client used by the CLI.
//
// The server delegates to a Controller so it carries no watchdog wiring of
// its own. Request and response types live in types.go; add new endpoints
// there to keep the protocol stable for existing commands.
package ipc
