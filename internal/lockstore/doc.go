// Package lockstore owns the shared process lock: a single file whose
// presence means "a token is being processed".
//
// Acquisition is an exclusive create (a fully written temp file hard-linked
// onto the lock name), so concurrent acquirers on one host never both win.
// A lock whose recorded owner is no longer running is stale and reads as
// unlocked; it is removed opportunistically. Filesystem failures surface as
// *StorageError and are never mistaken for lock state.
//
// The file format keeps the owner pid on the first line so older
// collaborators that only read that line keep working.
package lockstore
