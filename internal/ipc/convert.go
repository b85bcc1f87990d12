package ipc

import (
	"tokenwatch/internal/journal"
	"tokenwatch/internal/lockstore"
)

// LockStatusFrom converts an inspected lock into its wire form. A non-nil
// err is reported as held, matching how the gate treats unreadable locks.
func LockStatusFrom(status lockstore.Status, err error) LockStatus {
	out := LockStatus{
		Path:       status.Path,
		Present:    status.Present,
		Held:       status.Held,
		Corrupt:    status.Corrupt,
		Foreign:    status.ForeignHost,
		HolderPID:  status.Artifact.PID,
		HolderName: status.Artifact.Holder,
		AgeSeconds: int64(status.Age.Seconds()),
	}
	if err != nil {
		out.Held = true
		out.Error = err.Error()
	}
	return out
}

// HistoryFrom converts journal entries into their wire form.
func HistoryFrom(entries []journal.Entry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{
			ID:          e.ID,
			Kind:        e.Kind,
			RecordedAt:  e.RecordedAt,
			State:       e.State,
			Fingerprint: e.Fingerprint,
			OldPID:      e.OldPID,
			NewPID:      e.NewPID,
			Reason:      e.Reason,
			Error:       e.Error,
		})
	}
	return out
}
