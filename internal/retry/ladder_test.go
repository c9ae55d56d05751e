package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestIsPermanent(t *testing.T) {
	inner := errors.New("invalid device address")
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", inner, false},
		{"permanent", Permanent(inner), true},
		{"wrapped permanent", fmt.Errorf("dial: %w", Permanent(inner)), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLadder_Climb(t *testing.T) {
	l := Ladder{Delay: time.Millisecond}

	t.Run("first wins", func(t *testing.T) {
		var tried []int
		won, err := l.Climb(context.Background(), 2, func(step int) error {
			tried = append(tried, step)
			return nil
		})
		if err != nil || won != 0 || len(tried) != 1 {
			t.Errorf("won=%d err=%v tried=%v", won, err, tried)
		}
	})

	t.Run("fallback wins", func(t *testing.T) {
		won, err := l.Climb(context.Background(), 2, func(step int) error {
			if step == 0 {
				return fmt.Errorf("sdp lookup failed")
			}
			return nil
		})
		if err != nil || won != 1 {
			t.Errorf("won=%d err=%v", won, err)
		}
	})

	t.Run("all fail returns last error", func(t *testing.T) {
		calls := 0
		won, err := l.Climb(context.Background(), 2, func(step int) error {
			calls++
			return fmt.Errorf("step %d failed", step)
		})
		if won != -1 || err == nil || err.Error() != "step 1 failed" || calls != 2 {
			t.Errorf("won=%d err=%v calls=%d", won, err, calls)
		}
	})

	t.Run("permanent stops early", func(t *testing.T) {
		calls := 0
		_, err := l.Climb(context.Background(), 2, func(int) error {
			calls++
			return Permanent(fmt.Errorf("bad address"))
		})
		if calls != 1 || err == nil || err.Error() != "bad address" {
			t.Errorf("calls=%d err=%v", calls, err)
		}
	})

	t.Run("no steps", func(t *testing.T) {
		if _, err := l.Climb(context.Background(), 0, func(int) error { return nil }); !errors.Is(err, ErrNoSteps) {
			t.Errorf("err = %v, want ErrNoSteps", err)
		}
	})
}

// TestLadder_DelayBeforeFallback verifies the pause sits between the
// primary and the fallback, not before the primary.
func TestLadder_DelayBeforeFallback(t *testing.T) {
	l := Ladder{Delay: 30 * time.Millisecond}
	var stamps []time.Time

	start := time.Now()
	l.Climb(context.Background(), 2, func(int) error { //nolint:errcheck
		stamps = append(stamps, time.Now())
		return errors.New("down")
	})

	if len(stamps) != 2 {
		t.Fatalf("steps = %d, want 2", len(stamps))
	}
	if first := stamps[0].Sub(start); first > 20*time.Millisecond {
		t.Errorf("primary started after %s", first)
	}
	if gap := stamps[1].Sub(stamps[0]); gap < 30*time.Millisecond {
		t.Errorf("fallback started after %s, want at least the delay", gap)
	}
}

func TestLadder_ZeroDelay(t *testing.T) {
	won, err := Ladder{}.Climb(context.Background(), 2, func(step int) error {
		if step == 0 {
			return errors.New("down")
		}
		return nil
	})
	if err != nil || won != 1 {
		t.Errorf("won=%d err=%v", won, err)
	}
}

func TestLadder_OnFallback(t *testing.T) {
	var got []string
	l := Ladder{OnFallback: func(step int, err error) {
		got = append(got, fmt.Sprintf("%d:%v", step, err))
	}}

	l.Climb(context.Background(), 3, func(step int) error { //nolint:errcheck
		return fmt.Errorf("e%d", step)
	})

	want := []string{"0:e0", "1:e1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("OnFallback calls = %v, want %v", got, want)
	}
}

// TestLadder_CancelledDuringDelay verifies cancellation cuts the pause
// short and skips the fallback.
func TestLadder_CancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := Ladder{Delay: time.Hour}
	calls := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	won, err := l.Climb(ctx, 2, func(int) error {
		calls++
		return errors.New("down")
	})
	if won != -1 || !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("won=%d err=%v calls=%d", won, err, calls)
	}
}

// TestLadder_CancelledDuringStep verifies a step that observes
// cancellation ends the climb without trying the fallback.
func TestLadder_CancelledDuringStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Ladder{}.Climb(ctx, 2, func(int) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}
