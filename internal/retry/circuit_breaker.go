package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the
// circuit rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ── Circuit breaker state ────────────────────────────────────────────

// State represents the circuit breaker's operational state.
type State int

const (
	// StateClosed is normal operation: calls pass through.
	StateClosed State = iota
	// StateOpen means the operation keeps failing and calls are rejected.
	StateOpen
	// StateHalfOpen allows a limited number of trial requests to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// ── Configuration ────────────────────────────────────────────────────

// CircuitBreakerConfig configures a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in state-change callbacks.
	Name string
	// MaxFailures is the number of consecutive failures before opening
	// the circuit (default 5).
	MaxFailures uint32
	// ResetTimeout is how long the circuit stays open before moving to
	// half-open (default 30s).
	ResetTimeout time.Duration
	// HalfOpenMax is the number of consecutive successes in half-open
	// state required to close the circuit (default 1).
	HalfOpenMax uint32
	// OnStateChange is called whenever the state transitions.
	OnStateChange func(from, to State)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:         "breaker",
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  1,
	}
}

// ── CircuitBreaker ───────────────────────────────────────────────────

// CircuitBreaker stops calling an operation that keeps failing.  It is
// a thin error-only front for gobreaker.
type CircuitBreaker struct {
	cb          *gobreaker.CircuitBreaker[struct{}]
	maxFailures uint32
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig()
	}
	maxF := cfg.MaxFailures
	if maxF == 0 {
		maxF = 5
	}
	rt := cfg.ResetTimeout
	if rt <= 0 {
		rt = 30 * time.Second
	}
	hom := cfg.HalfOpenMax
	if hom == 0 {
		hom = 1
	}
	name := cfg.Name
	if name == "" {
		name = "breaker"
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: hom,
		Timeout:     rt,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxF
		},
	}
	if cfg.OnStateChange != nil {
		onChange := cfg.OnStateChange
		st.OnStateChange = func(_ string, from, to gobreaker.State) {
			onChange(fromGobreaker(from), fromGobreaker(to))
		}
	}
	return &CircuitBreaker{
		cb:          gobreaker.NewCircuitBreaker[struct{}](st),
		maxFailures: maxF,
	}
}

// Execute runs fn through the circuit breaker.  When the circuit is
// open, fn is not called and an error matching [ErrCircuitOpen] is
// returned.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := cb.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s after %d consecutive failures", ErrCircuitOpen, cb.cb.Name(), cb.maxFailures)
	}
	return err
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	return fromGobreaker(cb.cb.State())
}

// Failures returns the consecutive failure count of the current
// generation.  It restarts at zero whenever the state changes.
func (cb *CircuitBreaker) Failures() int {
	return int(cb.cb.Counts().ConsecutiveFailures)
}
