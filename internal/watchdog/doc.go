// Package watchdog restarts the worker when the watch target changes and no
// live process holds the shared lock.
//
// The watchdog is a four-state machine driven by polling ticks:
//
//	IDLE -> CHANGE_DETECTED       fingerprint differs from last seen
//	CHANGE_DETECTED -> RESTARTING lock clear when evaluated (same tick)
//	CHANGE_DETECTED -> RESTART_SUSPENDED lock held by a live process
//	RESTART_SUSPENDED -> RESTARTING first tick the lock is clear
//	RESTARTING -> IDLE            worker replaced, or restart failed
//
// While suspended only the lock is re-checked. The last-seen fingerprint is
// replaced only after a successful restart, with a fresh sample taken at that
// moment, so changes made while suspended or restarting coalesce into the
// one restart. A failed restart returns to IDLE without updating it and the
// change is retried on the next tick.
package watchdog
