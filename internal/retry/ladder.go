// Package retry provides the fallback ladder that walks the dial
// strategies and the circuit breaker that guards automatic relistening.
package retry

import (
	"context"
	"errors"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that the next rung will not
// help either.  Return [Permanent](err) from a step to stop the ladder.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as final.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Ladder ───────────────────────────────────────────────────────────

// ErrNoSteps is returned by [Ladder.Climb] when there is nothing to try.
var ErrNoSteps = errors.New("no strategies to try")

// Ladder tries a fixed list of strategies once each, in order, pausing
// between them.  It is how a dial moves from the primary strategy to
// the fallback.
type Ladder struct {
	// Delay is the pause before each step after the first.
	Delay time.Duration
	// OnFallback, if set, runs after step failed and before the pause
	// that precedes step+1.
	OnFallback func(step int, err error)
}

// Climb runs fn for steps 0..n-1 until one succeeds.  It returns the
// index of the winning step, or -1 with the last step's own error.  A
// permanent error ends the climb with its inner error.  A cancelled
// ctx ends it with ctx's error.
func (l Ladder) Climb(ctx context.Context, n int, fn func(step int) error) (int, error) {
	if n <= 0 {
		return -1, ErrNoSteps
	}
	var last error
	for step := 0; step < n; step++ {
		if step > 0 {
			if l.OnFallback != nil {
				l.OnFallback(step-1, last)
			}
			if err := pause(ctx, l.Delay); err != nil {
				return -1, err
			}
		}

		err := fn(step)
		if err == nil {
			return step, nil
		}
		if IsPermanent(err) {
			return -1, errors.Unwrap(err)
		}
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		last = err
	}
	return -1, last
}

// pause waits d, or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
