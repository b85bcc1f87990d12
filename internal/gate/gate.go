// Package gate pauses collaborating processes while the shared process lock
// is held.
//
// A caller either blocks in Wait until the lock clears, polling at a fixed
// interval, or wraps an operation so that it is skipped when the gate is
// closed. Exempt callers are never paused. The gate keeps no state of its
// own; every decision re-reads the lock.
package gate

import (
	"context"
	"log/slog"
	"time"

	"tokenwatch/internal/config"
	"tokenwatch/internal/exemption"
	"tokenwatch/internal/logging"
)

// DefaultInterval is the sleep between checks in Wait.
const DefaultInterval = time.Second

// LockChecker reports whether a live process holds the lock.
type LockChecker interface {
	IsLocked() (bool, error)
}

// Gate combines the lock state with the exemption policy.
type Gate struct {
	locks    LockChecker
	policy   exemption.Policy
	interval time.Duration
	logger   *slog.Logger
}

// Option customizes a Gate.
type Option func(*Gate)

// WithInterval sets the polling interval used by Wait.
func WithInterval(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithLogger sets the logger for pause and resume lines.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New returns a gate over locks and policy.
func New(locks LockChecker, policy exemption.Policy, opts ...Option) *Gate {
	g := &Gate{
		locks:    locks,
		policy:   policy,
		interval: DefaultInterval,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FromConfig builds the gate described by cfg.
func FromConfig(cfg *config.Config, locks LockChecker, logger *slog.Logger) *Gate {
	return New(locks, exemption.FromConfig(cfg),
		WithInterval(cfg.GatePollInterval()),
		WithLogger(logging.NewComponentLogger(logger, "gate")),
	)
}

// Interval returns the polling interval.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// ShouldPause reports whether caller must hold off: the lock is held by a
// live process and caller is not exempt. Exempt callers never consult the
// lock. Storage errors are returned, never read as "not paused".
func (g *Gate) ShouldPause(caller string) (bool, error) {
	if g.policy.IsExempt(caller) {
		return false, nil
	}
	return g.locks.IsLocked()
}

// Wait blocks until ShouldPause is false. There is no built-in timeout;
// callers bound the wait through ctx.
func (g *Gate) Wait(ctx context.Context, caller string) error {
	paused, err := g.ShouldPause(caller)
	if err != nil || !paused {
		return err
	}

	started := time.Now()
	logger := g.logger.With(logging.String(logging.FieldCaller, caller))
	logging.InfoEvent(logger, "paused: process lock held, waiting", "gate_paused",
		logging.Duration("interval", g.interval),
	)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.InfoEvent(logger, "wait abandoned", "gate_wait_abandoned",
				logging.Duration("waited", time.Since(started)),
			)
			return ctx.Err()
		case <-ticker.C:
		}
		paused, err := g.ShouldPause(caller)
		if err != nil {
			return err
		}
		if !paused {
			logging.InfoEvent(logger, "resumed: process lock cleared", "gate_resumed",
				logging.Duration("waited", time.Since(started)),
			)
			return nil
		}
	}
}
