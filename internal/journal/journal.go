package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout keeps stored timestamps lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded watchdog event.
type Entry struct {
	ID          int64
	Kind        string
	RecordedAt  time.Time
	SessionID   string
	State       string
	Fingerprint string
	OldPID      int
	NewPID      int
	Reason      string
	Error       string
}

// Journal stores watchdog events in SQLite.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the journal database at path and applies
// migrations.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends an entry. A zero RecordedAt is stamped with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Kind == "" {
		return 0, errors.New("journal entry kind is empty")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO watchdog_events (
            kind, recorded_at, session_id, state, fingerprint,
            old_pid, new_pid, reason, error_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind,
		e.RecordedAt.UTC().Format(timeLayout),
		nullableString(e.SessionID),
		nullableString(e.State),
		nullableString(e.Fingerprint),
		nullableInt(e.OldPID),
		nullableInt(e.NewPID),
		nullableString(e.Reason),
		nullableString(e.Error),
	)
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first. An empty kind matches
// every entry.
func (j *Journal) Recent(ctx context.Context, limit int, kind string) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, kind, recorded_at, session_id, state, fingerprint,
            old_pid, new_pid, reason, error_message
        FROM watchdog_events`
	args := []any{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Counts returns the number of entries per kind.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(1) FROM watchdog_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("journal counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many were
// removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM watchdog_events WHERE recorded_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry                                        Entry
		recordedAt                                   string
		session, state, fingerprint, reason, message sql.NullString
		oldPID, newPID                               sql.NullInt64
	)
	if err := row.Scan(&entry.ID, &entry.Kind, &recordedAt, &session, &state, &fingerprint,
		&oldPID, &newPID, &reason, &message); err != nil {
		return Entry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
		entry.RecordedAt = ts
	}
	entry.SessionID = session.String
	entry.State = state.String
	entry.Fingerprint = fingerprint.String
	entry.OldPID = int(oldPID.Int64)
	entry.NewPID = int(newPID.Int64)
	entry.Reason = reason.String
	entry.Error = message.String
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}
