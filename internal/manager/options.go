package manager

import (
	"time"

	"btserial/internal/metrics"
	"btserial/internal/retry"
	"btserial/internal/transport"
	"btserial/util"
)

// Defaults applied by New.
const (
	DefaultDelimiter     = "\n"
	DefaultFallbackDelay = 250 * time.Millisecond

	// adapterQueryTimeout bounds the synchronous adapter check in Connect.
	adapterQueryTimeout = 5 * time.Second
)

type options struct {
	logger         *util.Logger
	metrics        *metrics.Collector
	service        transport.Service
	delimiter      string
	readBufferSize int
	fallbackDelay  time.Duration
	relisten       bool
	strictSend     bool
	preempt        bool
	breaker        *retry.CircuitBreakerConfig
	now            func() time.Time
}

func defaultOptions() options {
	return options{
		service:        transport.DefaultService(),
		delimiter:      DefaultDelimiter,
		readBufferSize: util.DefaultBufSize,
		fallbackDelay:  DefaultFallbackDelay,
		breaker: &retry.CircuitBreakerConfig{
			Name:         "relisten",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *util.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(o *options) { o.metrics = m } }

// WithService sets what Listen advertises.
func WithService(svc transport.Service) Option { return func(o *options) { o.service = svc } }

// WithDelimiter sets the initial record delimiter (default "\n").
// SubscribeData replaces it.
func WithDelimiter(d string) Option { return func(o *options) { o.delimiter = d } }

// WithReadBufferSize sets the session read size.
func WithReadBufferSize(n int) Option { return func(o *options) { o.readBufferSize = n } }

// WithFallbackDelay sets the pause between the primary and fallback
// dial strategies.
func WithFallbackDelay(d time.Duration) Option { return func(o *options) { o.fallbackDelay = d } }

// WithRelisten makes the manager return to Listening after a session
// is lost, unless another operation happened in the meantime.
func WithRelisten(on bool) Option { return func(o *options) { o.relisten = on } }

// WithRelistenBreaker configures the circuit breaker that suppresses
// relistening after repeated bind failures.
func WithRelistenBreaker(cfg *retry.CircuitBreakerConfig) Option {
	return func(o *options) { o.breaker = cfg }
}

// WithStrictSend makes Send return errors.ErrNotConnected instead of
// silently dropping data when no session is live.
func WithStrictSend(on bool) Option { return func(o *options) { o.strictSend = on } }

// WithPreemptSession lets Listen replace a live session instead of
// failing with errors.ErrAlreadyConnected.
func WithPreemptSession(on bool) Option { return func(o *options) { o.preempt = on } }

// WithClock sets the time source for event timestamps and session ids.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }
