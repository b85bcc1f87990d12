package gate

import (
	"context"

	"tokenwatch/internal/logging"
)

// Result is the outcome of a wrapped operation. When Skipped is true the
// operation did not run and Value is the zero value.
type Result[T any] struct {
	Value   T
	Skipped bool
}

// Wrap returns op guarded by a single gate check: when the gate is closed
// the operation is skipped and reported as such instead of failing.
func Wrap[T any](g *Gate, caller string, op func(context.Context) (T, error)) func(context.Context) (Result[T], error) {
	return func(ctx context.Context) (Result[T], error) {
		paused, err := g.ShouldPause(caller)
		if err != nil {
			return Result[T]{}, err
		}
		if paused {
			logging.InfoEvent(g.logger, "skipped: process lock held", "gate_skipped",
				logging.String(logging.FieldCaller, caller),
			)
			return Result[T]{Skipped: true}, nil
		}
		value, err := op(ctx)
		return Result[T]{Value: value}, err
	}
}

// WrapBlocking returns op preceded by Wait, so the operation always runs
// once the gate opens.
func WrapBlocking[T any](g *Gate, caller string, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		if err := g.Wait(ctx, caller); err != nil {
			var zero T
			return zero, err
		}
		return op(ctx)
	}
}

// Run is Wrap for operations without a result value.
func (g *Gate) Run(ctx context.Context, caller string, op func(context.Context) error) (bool, error) {
	wrapped := Wrap(g, caller, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	res, err := wrapped(ctx)
	return res.Skipped, err
}
