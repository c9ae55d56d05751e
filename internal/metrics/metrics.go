// Package metrics provides lightweight, lock-free counters for the
// connection manager: sessions, bytes, records and recovery events.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one connection manager.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive   atomic.Int64
	sessionsTotal    atomic.Int64
	bytesIn          atomic.Int64
	bytesOut         atomic.Int64
	recordsDelivered atomic.Int64
	dialAttempts     atomic.Int64
	dialFallbacks    atomic.Int64
	relistens        atomic.Int64
	connectionsLost  atomic.Int64
	errorsTotal      atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastSession  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
	c.mu.Lock()
	c.lastSession = time.Now()
	c.mu.Unlock()
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the number of live sessions (0 or 1 for a
// single manager).
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ConnectionLost records a session, accept or dial that ended in
// connection-lost.
func (c *Collector) ConnectionLost() {
	if c == nil {
		return
	}
	c.connectionsLost.Add(1)
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the link.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the link.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// RecordDelivered counts one delimited record handed to a subscriber.
func (c *Collector) RecordDelivered() {
	if c == nil {
		return
	}
	c.recordsDelivered.Add(1)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Recovery metrics ─────────────────────────────────────────────────

// DialAttempt records one opener invocation.
func (c *Collector) DialAttempt() {
	if c == nil {
		return
	}
	c.dialAttempts.Add(1)
}

// DialFallback records that the primary dial strategy failed and the
// fallback was tried.
func (c *Collector) DialFallback() {
	if c == nil {
		return
	}
	c.dialFallbacks.Add(1)
}

// Relisten records an automatic return to listening after a lost session.
func (c *Collector) Relisten() {
	if c == nil {
		return
	}
	c.relistens.Add(1)
}

// DialFallbacks returns the total fallback count.
func (c *Collector) DialFallbacks() int64 {
	if c == nil {
		return 0
	}
	return c.dialFallbacks.Load()
}

// Relistens returns the total automatic relisten count.
func (c *Collector) Relistens() int64 {
	if c == nil {
		return 0
	}
	return c.relistens.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	RecordsDelivered int64  `json:"records_delivered"`
	DialAttempts     int64  `json:"dial_attempts"`
	DialFallbacks    int64  `json:"dial_fallbacks"`
	Relistens        int64  `json:"relistens"`
	ConnectionsLost  int64  `json:"connections_lost"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastSession      string `json:"last_session,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:   c.sessionsActive.Load(),
		SessionsTotal:    c.sessionsTotal.Load(),
		BytesIn:          c.bytesIn.Load(),
		BytesOut:         c.bytesOut.Load(),
		RecordsDelivered: c.recordsDelivered.Load(),
		DialAttempts:     c.dialAttempts.Load(),
		DialFallbacks:    c.dialFallbacks.Load(),
		Relistens:        c.relistens.Load(),
		ConnectionsLost:  c.connectionsLost.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
	}
	if !c.lastSession.IsZero() {
		s.LastSession = c.lastSession.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as a single-line JSON object.
func (s Snapshot) JSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}
