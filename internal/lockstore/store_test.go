package lockstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"tokenwatch/internal/lockstore"
	"tokenwatch/internal/procutil"
)

func newStore(t *testing.T, opts ...lockstore.Option) (*lockstore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "process.lock")
	return lockstore.New(path, opts...), path
}

func aliveExcept(dead ...int) lockstore.Option {
	return lockstore.WithLivenessProbe(func(id procutil.Identity) bool {
		for _, pid := range dead {
			if id.PID == pid {
				return false
			}
		}
		return true
	})
}

func writeArtifact(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	store, path := newStore(t)

	for i := 0; i < 3; i++ {
		if err := store.Acquire("monitoring"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		locked, err := store.IsLocked()
		if err != nil {
			t.Fatalf("IsLocked: %v", err)
		}
		if !locked {
			t.Fatalf("expected lock held after acquire %d", i)
		}
		if err := store.Release(); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected artifact removed, stat err=%v", err)
		}
	}
}

func TestArtifactRecordsOwner(t *testing.T) {
	store, path := newStore(t)
	if err := store.Acquire("monitoring"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	firstLine, _, _ := strings.Cut(string(data), "\n")
	if firstLine != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected pid on first line, got %q", firstLine)
	}

	status, err := store.Inspect()
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !status.Held || !status.OwnerAlive {
		t.Fatalf("expected held by live owner: %+v", status)
	}
	if status.Artifact.Holder != "monitoring" {
		t.Fatalf("unexpected holder %q", status.Artifact.Holder)
	}
	if status.Artifact.ProcessStart.IsZero() {
		t.Fatal("expected process start time recorded")
	}
	if time.Since(status.Artifact.CreatedAt) > time.Minute {
		t.Fatalf("unexpected created_at %v", status.Artifact.CreatedAt)
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.lock")
	const contenders = 24

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		winners int
		others  []error
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate stores stand in for separate processes.
			store := lockstore.New(path)
			<-start
			err := store.Acquire("worker")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			others = append(others, err)
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	for _, err := range others {
		if !errors.Is(err, lockstore.ErrAlreadyLocked) {
			t.Fatalf("expected ErrAlreadyLocked for losers, got %v", err)
		}
	}
}

func TestSecondAcquireFailsWhileHeld(t *testing.T) {
	store, path := newStore(t)
	if err := store.Acquire("monitoring"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	other := lockstore.New(path)
	err := other.Acquire("risk_detector")
	if !errors.Is(err, lockstore.ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
	if !strings.Contains(err.Error(), strconv.Itoa(os.Getpid())) {
		t.Fatalf("expected holder pid in error, got %v", err)
	}
}

func TestWithLockReleasesAfterFailure(t *testing.T) {
	store, path := newStore(t)
	boom := errors.New("cycle failed")

	err := store.WithLock(context.Background(), "monitoring", func(context.Context) error {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact during cycle: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected artifact removed after failed cycle, stat err=%v", err)
	}
	if err := store.Acquire("monitoring"); err != nil {
		t.Fatalf("lock should be reusable after failure: %v", err)
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	store, path := newStore(t)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = store.WithLock(context.Background(), "monitoring", func(context.Context) error {
			panic("boom")
		})
	}()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected artifact removed after panic, stat err=%v", err)
	}
}

func TestWithLockSkipsCancelledContext(t *testing.T) {
	store, path := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := store.WithLock(ctx, "monitoring", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancelled context to skip fn, err=%v called=%v", err, called)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected no artifact")
	}
}

func TestStaleLockReadsUnlockedAndIsCleaned(t *testing.T) {
	store, path := newStore(t, aliveExcept(999999))
	writeArtifact(t, path, "999999\n1700000000.5")

	locked, err := store.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatal("expected stale artifact to read as unlocked")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected stale artifact cleaned, stat err=%v", err)
	}
}

func TestAcquireReplacesStaleLock(t *testing.T) {
	store, path := newStore(t, aliveExcept(424242))
	writeArtifact(t, path, "424242\n")

	if err := store.Acquire("monitoring"); err != nil {
		t.Fatalf("expected stale lock replaced, got %v", err)
	}
	status, err := store.Inspect()
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if status.Artifact.PID != os.Getpid() {
		t.Fatalf("expected new owner, got pid %d", status.Artifact.PID)
	}
}

func TestReusedPIDIsStale(t *testing.T) {
	store, path := newStore(t)
	self := procutil.Self()
	if self.StartTime.IsZero() {
		t.Skip("process start time unavailable")
	}
	earlier := self.StartTime.Add(-time.Hour).UnixMilli()
	writeArtifact(t, path, strconv.Itoa(self.PID)+"\n1700000000\nprocess_start="+strconv.Itoa(int(earlier))+"\n")

	locked, err := store.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatal("expected artifact with mismatched start time to be stale")
	}
}

func TestLegacyArtifactFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
		created bool
	}{
		{name: "pid only", content: "1234"},
		{name: "pid and time", content: "1234\n1700000000.25", created: true},
		{name: "trailing whitespace", content: "1234 \n1700000000\n\n", created: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, path := newStore(t)
			writeArtifact(t, path, tt.content)
			status, err := store.Inspect()
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if status.Corrupt || status.Artifact.PID != 1234 {
				t.Fatalf("unexpected status %+v", status)
			}
			if tt.created != !status.Artifact.CreatedAt.IsZero() {
				t.Fatalf("created_at parsed=%v, want %v", !status.Artifact.CreatedAt.IsZero(), tt.created)
			}
		})
	}
}

func TestCorruptArtifactHeldDuringGrace(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store, path := newStore(t, lockstore.WithClock(func() time.Time { return clock() }), lockstore.WithCorruptGrace(5*time.Second))
	writeArtifact(t, path, "")

	locked, err := store.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatal("expected freshly created empty artifact to count as held")
	}

	clock = func() time.Time { return now.Add(time.Minute) }
	locked, err = store.IsLocked()
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatal("expected corrupt artifact past grace to be stale")
	}
}

func TestForeignHostArtifactIsHeld(t *testing.T) {
	store, path := newStore(t, aliveExcept(77))
	writeArtifact(t, path, "77\n1700000000\nhostname=some-other-host.invalid\n")
	status, err := store.Inspect()
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !status.ForeignHost || !status.Held {
		t.Fatalf("expected foreign artifact held, got %+v", status)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	store, _ := newStore(t)
	for i := 0; i < 2; i++ {
		if err := store.Release(); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	missingDir := lockstore.New(filepath.Join(t.TempDir(), "absent", "process.lock"))
	if err := missingDir.Release(); err != nil {
		t.Fatalf("release in missing dir: %v", err)
	}
}

func TestReleaseRemovesForeignArtifact(t *testing.T) {
	store, path := newStore(t)
	writeArtifact(t, path, "1\n")
	if err := store.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected unconditional release")
	}
}

func TestStorageErrorsPropagate(t *testing.T) {
	dir := t.TempDir()
	notDir := filepath.Join(dir, "file")
	writeArtifact(t, notDir, "x")
	store := lockstore.New(filepath.Join(notDir, "process.lock"))

	err := store.Acquire("monitoring")
	var storageErr *lockstore.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError from acquire, got %v", err)
	}
	if _, err := store.IsLocked(); !lockstore.IsStorageError(err) {
		t.Fatalf("expected StorageError from IsLocked, got %v", err)
	}
	if err := store.Release(); !lockstore.IsStorageError(err) {
		t.Fatalf("expected StorageError from Release, got %v", err)
	}
}

func TestAcquireWait(t *testing.T) {
	store, path := newStore(t)
	if err := store.Acquire("monitoring"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = store.Release()
	}()

	waiter := lockstore.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := waiter.AcquireWait(ctx, "risk_detector", 10*time.Millisecond); err != nil {
		t.Fatalf("AcquireWait: %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	if err := store.AcquireWait(short, "monitoring", 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error while held, got %v", err)
	}
}

func TestCleanStale(t *testing.T) {
	store, path := newStore(t, aliveExcept(31337))
	removed, err := store.CleanStale()
	if err != nil || removed {
		t.Fatalf("expected nothing to clean, removed=%v err=%v", removed, err)
	}
	writeArtifact(t, path, "31337\n")
	removed, err = store.CleanStale()
	if err != nil || !removed {
		t.Fatalf("expected stale artifact cleaned, removed=%v err=%v", removed, err)
	}
}
