package lockstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"tokenwatch/internal/config"
	"tokenwatch/internal/logging"
	"tokenwatch/internal/procutil"
)

// DefaultCorruptGrace is how long an unparsable artifact counts as held.
// Writers that create the file before filling it (O_EXCL then write) are
// briefly observable with empty content.
const DefaultCorruptGrace = 5 * time.Second

// Status is a point-in-time view of the lock artifact.
type Status struct {
	Path       string
	Present    bool
	Corrupt    bool
	Artifact   Artifact
	Age        time.Duration
	OwnerAlive bool
	// ForeignHost is set when the artifact was written on another host; its
	// pid cannot be probed from here.
	ForeignHost bool
	Held        bool
}

// Stale reports whether an artifact exists but no live owner backs it.
func (s Status) Stale() bool {
	return s.Present && !s.Held
}

// Store manages one named lock artifact.
type Store struct {
	path         string
	guardPath    string
	corruptGrace time.Duration
	logger       *slog.Logger
	alive        func(procutil.Identity) bool
	self         func() procutil.Identity
	now          func() time.Time
	hostname     string
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for stale-lock and acquisition events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCorruptGrace overrides DefaultCorruptGrace.
func WithCorruptGrace(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.corruptGrace = d
		}
	}
}

// WithLivenessProbe replaces the OS liveness probe.
func WithLivenessProbe(fn func(procutil.Identity) bool) Option {
	return func(s *Store) {
		if fn != nil {
			s.alive = fn
		}
	}
}

// WithIdentity replaces the identity recorded on acquire.
func WithIdentity(fn func() procutil.Identity) Option {
	return func(s *Store) {
		if fn != nil {
			s.self = fn
		}
	}
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New returns a Store for the artifact at path.
func New(path string, opts ...Option) *Store {
	host, _ := os.Hostname()
	s := &Store{
		path:         path,
		guardPath:    filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".guard"),
		corruptGrace: DefaultCorruptGrace,
		logger:       logging.NewNop(),
		alive:        procutil.Alive,
		self:         procutil.Self,
		now:          time.Now,
		hostname:     host,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.String(logging.FieldLockPath, path))
	return s
}

// FromConfig builds the Store described by cfg.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Store {
	return New(cfg.LockPath(),
		WithLogger(logging.NewComponentLogger(logger, "lockstore")),
		WithCorruptGrace(cfg.CorruptGrace()),
	)
}

// Path returns the artifact location.
func (s *Store) Path() string {
	return s.path
}

// Acquire creates the artifact for the calling process. It fails with
// ErrAlreadyLocked when a live holder exists. A stale artifact is replaced.
func (s *Store) Acquire(holder string) error {
	art := s.newArtifact(holder)
	err := s.create(art)
	if err == nil {
		s.logAcquired(art)
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return err
	}

	return s.withGuard("acquire", func() error {
		status, err := s.Inspect()
		if err != nil {
			return err
		}
		if status.Held {
			return fmt.Errorf("%w by pid %d", ErrAlreadyLocked, status.Artifact.PID)
		}
		if status.Present {
			s.logStale(status)
			if err := s.removeArtifact(); err != nil {
				return err
			}
		}
		if err := s.create(art); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return ErrAlreadyLocked
			}
			return err
		}
		s.logAcquired(art)
		return nil
	})
}

// AcquireWait retries Acquire every interval until it succeeds, fails with a
// non-lock error, or ctx ends.
func (s *Store) AcquireWait(ctx context.Context, holder string, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := s.Acquire(holder)
		if err == nil || !errors.Is(err, ErrAlreadyLocked) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release removes the artifact regardless of who wrote it. Missing
// artifacts are not an error.
func (s *Store) Release() error {
	err := s.withGuard("release", s.removeArtifact)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil {
		s.logger.Debug("lock released", logging.String(logging.FieldEventType, "lock_released"))
	}
	return err
}

// WithLock runs fn while holding the lock. The lock is released on every
// exit path of fn, including a panic.
func (s *Store) WithLock(ctx context.Context, holder string, fn func(context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Acquire(holder); err != nil {
		return err
	}
	defer func() {
		if relErr := s.Release(); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()
	return fn(ctx)
}

// IsLocked reports whether the artifact exists and its owner is alive. A
// stale artifact reads as unlocked and is removed.
func (s *Store) IsLocked() (bool, error) {
	status, err := s.Inspect()
	if err != nil {
		return false, err
	}
	if status.Stale() {
		s.cleanup(status)
	}
	return status.Held, nil
}

// OwnerAlive probes pid without a recorded start time.
func (s *Store) OwnerAlive(pid int) bool {
	return s.alive(procutil.Identity{PID: pid})
}

// Inspect reads the artifact without modifying it.
func (s *Store) Inspect() (Status, error) {
	status := Status{Path: s.path}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return status, nil
	}
	if err != nil {
		return Status{}, storageErr("read", s.path, err)
	}
	status.Present = true

	art, parseErr := decodeArtifact(data)
	if parseErr != nil {
		status.Corrupt = true
		info, err := os.Stat(s.path)
		if errors.Is(err, fs.ErrNotExist) {
			return Status{Path: s.path}, nil
		}
		if err != nil {
			return Status{}, storageErr("stat", s.path, err)
		}
		status.Age = s.now().Sub(info.ModTime())
		status.Held = status.Age < s.corruptGrace
		return status, nil
	}

	status.Artifact = art
	if !art.CreatedAt.IsZero() {
		status.Age = s.now().Sub(art.CreatedAt)
	} else if info, err := os.Stat(s.path); err == nil {
		status.Age = s.now().Sub(info.ModTime())
	}
	if art.Hostname != "" && s.hostname != "" && art.Hostname != s.hostname {
		status.ForeignHost = true
		status.Held = true
		return status, nil
	}
	status.OwnerAlive = s.alive(art.Owner())
	status.Held = status.OwnerAlive
	return status, nil
}

// CleanStale removes the artifact when it is stale and reports whether it did.
func (s *Store) CleanStale() (bool, error) {
	removed := false
	err := s.withGuard("clean", func() error {
		status, err := s.Inspect()
		if err != nil {
			return err
		}
		if !status.Stale() {
			return nil
		}
		s.logStale(status)
		if err := s.removeArtifact(); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return removed, err
}

func (s *Store) cleanup(status Status) {
	if _, err := s.CleanStale(); err != nil {
		logging.WarnWithContext(s.logger, "stale lock cleanup failed", "stale_lock_cleanup_failed",
			logging.Int(logging.FieldPID, status.Artifact.PID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the lock directory"),
			logging.String(logging.FieldImpact, "stale lock file stays on disk but is ignored"),
		)
	}
}

func (s *Store) newArtifact(holder string) Artifact {
	self := s.self()
	return Artifact{
		PID:          self.PID,
		CreatedAt:    s.now(),
		ProcessStart: self.StartTime,
		Hostname:     s.hostname,
		Holder:       holder,
	}
}

// create publishes art at the lock path. The content is written to a temp
// file first and hard-linked into place, so readers never see a partial
// artifact and the link fails with fs.ErrExist when the lock exists.
func (s *Store) create(art Artifact) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return storageErr("create", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(art.encode()); err != nil {
		_ = tmp.Close()
		return storageErr("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return storageErr("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return storageErr("close", tmpName, err)
	}

	err = os.Link(tmpName, s.path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return err
	}
	// Some filesystems refuse hard links; fall back to an exclusive create.
	return s.createExclusive(art)
}

func (s *Store) createExclusive(art Artifact) error {
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return storageErr("create", s.path, err)
	}
	if _, err := file.Write(art.encode()); err != nil {
		_ = file.Close()
		_ = os.Remove(s.path)
		return storageErr("write", s.path, err)
	}
	if err := file.Close(); err != nil {
		return storageErr("close", s.path, err)
	}
	return nil
}

func (s *Store) removeArtifact() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("remove", s.path, err)
	}
	return nil
}

// withGuard serializes stale-lock replacement and removal across processes
// with an advisory lock on a sidecar file. Without it two acquirers could
// both judge the same artifact stale and one would delete the other's fresh
// lock.
func (s *Store) withGuard(op string, fn func() error) error {
	guard := flock.New(s.guardPath)
	if err := guard.Lock(); err != nil {
		return storageErr(op+" guard", s.guardPath, err)
	}
	defer func() { _ = guard.Unlock() }()
	return fn()
}

func (s *Store) logAcquired(art Artifact) {
	s.logger.Debug("lock acquired",
		logging.String(logging.FieldEventType, "lock_acquired"),
		logging.Int(logging.FieldPID, art.PID),
		logging.String("holder", art.Holder),
	)
}

func (s *Store) logStale(status Status) {
	attrs := []logging.Attr{
		logging.Int(logging.FieldPID, status.Artifact.PID),
		logging.Duration("age", status.Age),
	}
	if status.Corrupt {
		attrs = append(attrs, logging.Bool("corrupt", true))
	}
	logging.InfoEvent(s.logger, "stale lock detected; treating as unlocked", "stale_lock_detected", attrs...)
}
