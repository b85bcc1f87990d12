package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (lock_acquired, restart_suspended, ...).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCaller carries the caller identity evaluated by the pause gate.
	FieldCaller = "caller"
	// FieldPID is an OS process id.
	FieldPID = "pid"
	// FieldState is the watchdog state.
	FieldState = "state"
	// FieldLockPath is the lock artifact path.
	FieldLockPath = "lock_path"
	// FieldFingerprint is the rendered fingerprint of the watch target.
	FieldFingerprint = "fingerprint"
	// FieldSessionID is the standardized structured logging key for watchdog run identifiers.
	FieldSessionID = "session_id"
)
