package watchdog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tokenwatch/internal/fingerprint"
	"tokenwatch/internal/lockstore"
	"tokenwatch/internal/supervisor"
	"tokenwatch/internal/watchdog"
)

type fakeLock struct {
	mu   sync.Mutex
	held bool
	err  error
}

func (f *fakeLock) IsLocked() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held, f.err
}

func (f *fakeLock) set(held bool) {
	f.mu.Lock()
	f.held = held
	f.mu.Unlock()
}

type fakeRestarter struct {
	mu      sync.Mutex
	calls   int
	reasons []string
	err     error
	onCall  func()
}

func (f *fakeRestarter) Restart(_ context.Context, reason string) (supervisor.RestartResult, error) {
	f.mu.Lock()
	f.calls++
	f.reasons = append(f.reasons, reason)
	hook := f.onCall
	err := f.err
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return supervisor.RestartResult{OldPID: 10}, err
	}
	return supervisor.RestartResult{OldPID: 10, NewPID: 11}, nil
}

func (f *fakeRestarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu     sync.Mutex
	events []watchdog.Event
}

func (r *recorder) Observe(_ context.Context, ev watchdog.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds(filter ...watchdog.EventKind) []watchdog.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := map[watchdog.EventKind]bool{}
	for _, k := range filter {
		keep[k] = true
	}
	var out []watchdog.EventKind
	for _, ev := range r.events {
		if len(keep) == 0 || keep[ev.Kind] {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newWatchdog(t *testing.T, lock watchdog.Locker, restarter watchdog.Restarter, opts ...watchdog.Option) (*watchdog.Watchdog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token_risk_analysis.csv")
	writeFile(t, path, "token,score\n")
	sampler := fingerprint.NewSampler(path, fingerprint.ModeContent)
	w, err := watchdog.New(lock, sampler, restarter, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, path
}

func tick(t *testing.T, w *watchdog.Watchdog) {
	t.Helper()
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func TestUnchangedTargetNeverRestarts(t *testing.T) {
	restarter := &fakeRestarter{}
	w, _ := newWatchdog(t, &fakeLock{}, restarter)

	for i := 0; i < 20; i++ {
		tick(t, w)
	}
	if restarter.count() != 0 {
		t.Fatalf("expected no restarts, got %d", restarter.count())
	}
	if w.State() != watchdog.StateIdle {
		t.Fatalf("expected IDLE, got %s", w.State())
	}
	if got := w.Snapshot().Ticks; got != 20 {
		t.Fatalf("expected 20 ticks, got %d", got)
	}
}

func TestChangeWithLockClearRestartsInSameTick(t *testing.T) {
	restarter := &fakeRestarter{}
	rec := &recorder{}
	w, path := newWatchdog(t, &fakeLock{}, restarter, watchdog.WithObserver(rec))

	writeFile(t, path, "token,score\nabc,0.9\n")
	tick(t, w)

	if restarter.count() != 1 {
		t.Fatalf("expected one restart, got %d", restarter.count())
	}
	if w.State() != watchdog.StateIdle {
		t.Fatalf("expected IDLE after restart, got %s", w.State())
	}
	want := []watchdog.EventKind{watchdog.EventChangeDetected, watchdog.EventRestarted}
	got := rec.kinds(watchdog.EventChangeDetected, watchdog.EventRestartSuspended, watchdog.EventRestarted)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected events %v", got)
	}

	tick(t, w)
	if restarter.count() != 1 {
		t.Fatalf("settled change restarted again: %d", restarter.count())
	}
}

func TestLockHeldSuspendsUntilCleared(t *testing.T) {
	lock := &fakeLock{held: true}
	restarter := &fakeRestarter{}
	rec := &recorder{}
	w, path := newWatchdog(t, lock, restarter, watchdog.WithObserver(rec))

	writeFile(t, path, "token,score\nabc,0.9\n")
	tick(t, w)
	if w.State() != watchdog.StateRestartSuspended {
		t.Fatalf("expected RESTART_SUSPENDED, got %s", w.State())
	}
	for i := 0; i < 5; i++ {
		tick(t, w)
	}
	if restarter.count() != 0 {
		t.Fatalf("restart while lock held: %d", restarter.count())
	}
	if got := rec.kinds(watchdog.EventRestartSuspended); len(got) != 1 {
		t.Fatalf("expected one suspension event, got %d", len(got))
	}

	lock.set(false)
	tick(t, w)
	if restarter.count() != 1 {
		t.Fatalf("expected restart after lock cleared, got %d", restarter.count())
	}
	if w.State() != watchdog.StateIdle {
		t.Fatalf("expected IDLE, got %s", w.State())
	}
	if s := w.Snapshot(); s.Suspensions != 1 || s.Restarts != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
}

func TestChangeDuringSuspensionCoalesces(t *testing.T) {
	lock := &fakeLock{held: true}
	restarter := &fakeRestarter{}
	w, path := newWatchdog(t, lock, restarter)

	writeFile(t, path, "token,score\nabc,0.9\n")
	tick(t, w)
	writeFile(t, path, "token,score\nabc,0.9\ndef,0.1\n")
	tick(t, w)
	writeFile(t, path, "token,score\nabc,0.9\ndef,0.1\nghi,0.5\n")
	tick(t, w)

	lock.set(false)
	tick(t, w)
	if restarter.count() != 1 {
		t.Fatalf("expected a single restart, got %d", restarter.count())
	}

	sampler := fingerprint.NewSampler(path, fingerprint.ModeContent)
	latest, err := sampler.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got := w.Snapshot().LastSeen; got != latest {
		t.Fatalf("last seen %s, want latest %s", got, latest)
	}
	for i := 0; i < 3; i++ {
		tick(t, w)
	}
	if restarter.count() != 1 {
		t.Fatalf("coalesced change restarted again: %d", restarter.count())
	}
}

func TestChangeDuringRestartCoalesces(t *testing.T) {
	restarter := &fakeRestarter{}
	w, path := newWatchdog(t, &fakeLock{}, restarter)
	restarter.onCall = func() {
		writeFile(t, path, "token,score\nlate,1\n")
	}

	writeFile(t, path, "token,score\nabc,0.9\n")
	tick(t, w)
	tick(t, w)
	if restarter.count() != 1 {
		t.Fatalf("expected one restart, got %d", restarter.count())
	}
}

func TestFailedRestartRetriesNextTick(t *testing.T) {
	restarter := &fakeRestarter{err: errors.New("exec: not found")}
	rec := &recorder{}
	w, path := newWatchdog(t, &fakeLock{}, restarter, watchdog.WithObserver(rec))
	baseline := w.Snapshot().LastSeen

	writeFile(t, path, "token,score\nabc,0.9\n")
	if err := w.Tick(context.Background()); err == nil {
		t.Fatal("expected restart error")
	}
	if w.State() != watchdog.StateIdle {
		t.Fatalf("expected IDLE after failure, got %s", w.State())
	}
	snap := w.Snapshot()
	if snap.LastSeen != baseline {
		t.Fatalf("fingerprint updated after failed restart")
	}
	if snap.Failures != 1 || snap.LastError == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	restarter.mu.Lock()
	restarter.err = nil
	restarter.mu.Unlock()
	tick(t, w)
	if restarter.count() != 2 {
		t.Fatalf("expected retry, got %d calls", restarter.count())
	}
	if got := rec.kinds(watchdog.EventRestartFailed, watchdog.EventRestarted); len(got) != 2 {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestLockErrorDefersRestart(t *testing.T) {
	lock := &fakeLock{err: &lockstore.StorageError{Op: "read", Path: "/x", Err: os.ErrPermission}}
	restarter := &fakeRestarter{}
	w, path := newWatchdog(t, lock, restarter)

	writeFile(t, path, "token,score\nabc,0.9\n")
	if err := w.Tick(context.Background()); !lockstore.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if restarter.count() != 0 {
		t.Fatal("restarted despite lock error")
	}
	if w.State() != watchdog.StateChangeDetected {
		t.Fatalf("expected CHANGE_DETECTED, got %s", w.State())
	}

	lock.mu.Lock()
	lock.err = nil
	lock.mu.Unlock()
	tick(t, w)
	if restarter.count() != 1 {
		t.Fatalf("expected restart once lock readable, got %d", restarter.count())
	}
}

func TestCooldownDefersSecondRestart(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	restarter := &fakeRestarter{}
	w, path := newWatchdog(t, &fakeLock{}, restarter, watchdog.WithCooldown(time.Minute), watchdog.WithClock(clock))

	writeFile(t, path, "token,score\na,1\n")
	tick(t, w)
	writeFile(t, path, "token,score\nb,2\n")
	tick(t, w)
	if restarter.count() != 1 {
		t.Fatalf("cooldown ignored: %d restarts", restarter.count())
	}
	if w.State() != watchdog.StateChangeDetected {
		t.Fatalf("expected pending change, got %s", w.State())
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	tick(t, w)
	if restarter.count() != 2 {
		t.Fatalf("expected restart after cooldown, got %d", restarter.count())
	}
}

func TestRequestRestartWithoutChange(t *testing.T) {
	lock := &fakeLock{held: true}
	restarter := &fakeRestarter{}
	w, _ := newWatchdog(t, lock, restarter)

	w.RequestRestart()
	tick(t, w)
	if w.State() != watchdog.StateRestartSuspended {
		t.Fatalf("manual restart ignored the lock: %s", w.State())
	}
	lock.set(false)
	tick(t, w)
	if restarter.count() != 1 || restarter.reasons[0] != "manual request" {
		t.Fatalf("unexpected restarts %v", restarter.reasons)
	}
	if w.Snapshot().Manual {
		t.Fatal("manual flag not cleared")
	}
	tick(t, w)
	if restarter.count() != 1 {
		t.Fatalf("manual request repeated: %d", restarter.count())
	}
}

func TestMissingTargetAppearingIsAChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.csv")
	restarter := &fakeRestarter{}
	w, err := watchdog.New(&fakeLock{}, fingerprint.NewSampler(path, fingerprint.ModeContent), restarter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tick(t, w)
	if restarter.count() != 0 {
		t.Fatal("absent target restarted worker")
	}
	writeFile(t, path, "token\n")
	tick(t, w)
	if restarter.count() != 1 {
		t.Fatalf("expected restart when target appears, got %d", restarter.count())
	}
}

func TestRunWakesAndStops(t *testing.T) {
	restarter := &fakeRestarter{}
	rec := &recorder{}
	w, path := newWatchdog(t, &fakeLock{}, restarter,
		watchdog.WithInterval(time.Hour),
		watchdog.WithObserver(rec),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, "token,score\nabc,0.9\n")
	w.Wake()

	deadline := time.Now().Add(5 * time.Second)
	for restarter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if restarter.count() != 1 {
		t.Fatalf("expected restart after wake, got %d", restarter.count())
	}
	kinds := rec.kinds(watchdog.EventStarted, watchdog.EventStopped)
	if len(kinds) != 2 || kinds[0] != watchdog.EventStarted || kinds[1] != watchdog.EventStopped {
		t.Fatalf("unexpected lifecycle events %v", kinds)
	}
}

func TestTransitionsAreObserved(t *testing.T) {
	lock := &fakeLock{held: true}
	rec := &recorder{}
	w, path := newWatchdog(t, lock, &fakeRestarter{}, watchdog.WithObserver(rec))

	writeFile(t, path, "x\n")
	tick(t, w)
	lock.set(false)
	tick(t, w)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var seen []watchdog.State
	for _, ev := range rec.events {
		if ev.Kind == watchdog.EventTransition {
			seen = append(seen, ev.To)
		}
	}
	want := []watchdog.State{
		watchdog.StateChangeDetected,
		watchdog.StateRestartSuspended,
		watchdog.StateRestarting,
		watchdog.StateIdle,
	}
	if len(seen) != len(want) {
		t.Fatalf("transitions %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions %v, want %v", seen, want)
		}
	}
}
