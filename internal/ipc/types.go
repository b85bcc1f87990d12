package ipc

import "time"

// serviceName is the RPC receiver name; methods are called as
// "Tokenwatch.<Method>".
const serviceName = "Tokenwatch"

// StatusRequest fetches watchdog status.
type StatusRequest struct{}

// LockStatus describes the shared process lock.
type LockStatus struct {
	Path       string `json:"path"`
	Present    bool   `json:"present"`
	Held       bool   `json:"held"`
	Corrupt    bool   `json:"corrupt"`
	Foreign    bool   `json:"foreign"`
	HolderPID  int    `json:"holder_pid"`
	HolderName string `json:"holder_name"`
	AgeSeconds int64  `json:"age_seconds"`
	Error      string `json:"error,omitempty"`
}

// WorkerStatus describes the supervised worker process.
type WorkerStatus struct {
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	Launches  int       `json:"launches"`
	LastExit  string    `json:"last_exit"`
	LogPath   string    `json:"log_path"`
}

// StatusResponse represents combined watchdog, lock and worker status.
type StatusResponse struct {
	PID             int          `json:"pid"`
	SessionID       string       `json:"session_id"`
	StartedAt       time.Time    `json:"started_at"`
	State           string       `json:"state"`
	WatchFile       string       `json:"watch_file"`
	FingerprintMode string       `json:"fingerprint_mode"`
	LastSeen        string       `json:"last_seen"`
	Pending         string       `json:"pending"`
	PendingSince    time.Time    `json:"pending_since"`
	Ticks           int64        `json:"ticks"`
	Restarts        int          `json:"restarts"`
	Failures        int          `json:"failures"`
	Suspensions     int          `json:"suspensions"`
	LastRestart     time.Time    `json:"last_restart"`
	LastError       string       `json:"last_error"`
	ManualPending   bool         `json:"manual_pending"`
	Lock            LockStatus   `json:"lock"`
	Worker          WorkerStatus `json:"worker"`
	LogPath         string       `json:"log_path"`
	JournalPath     string       `json:"journal_path"`
}

// RestartWorkerRequest asks for a restart on the next tick. The lock still
// gates it.
type RestartWorkerRequest struct{}

// RestartWorkerResponse reports the state when the request was queued.
type RestartWorkerResponse struct {
	Queued  bool   `json:"queued"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// StopRequest shuts the watchdog down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// HistoryRequest lists journal entries.
type HistoryRequest struct {
	Limit int    `json:"limit"`
	Kind  string `json:"kind"`
}

// HistoryEntry is one journal entry on the wire.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	RecordedAt  time.Time `json:"recorded_at"`
	State       string    `json:"state"`
	Fingerprint string    `json:"fingerprint"`
	OldPID      int       `json:"old_pid"`
	NewPID      int       `json:"new_pid"`
	Reason      string    `json:"reason"`
	Error       string    `json:"error"`
}

// HistoryResponse contains journal entries, newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse indicates whether notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
