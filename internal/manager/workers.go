package manager

import (
	"context"

	bterr "btserial/internal/errors"
	"btserial/internal/retry"
	"btserial/internal/session"
	"btserial/internal/transport"
)

// worker is whatever occupies the manager's single active slot.
// stop closes the worker's resources and waits for its goroutines.
type worker interface {
	stop()
	name() string
	attempt() Attempt
}

// tag records the attempt a worker belongs to.
type tag struct{ id Attempt }

func (t tag) attempt() Attempt { return t.id }

// ── Listener ─────────────────────────────────────────────────────────

// listenerWorker accepts exactly one inbound link.
type listenerWorker struct {
	tag
	m    *Manager
	ln   transport.Listener
	done chan struct{}
}

func newListenerWorker(m *Manager, id Attempt, ln transport.Listener) *listenerWorker {
	return &listenerWorker{tag: tag{id}, m: m, ln: ln, done: make(chan struct{})}
}

func (w *listenerWorker) name() string { return "listener" }

func (w *listenerWorker) run() {
	defer close(w.done)

	conn, err := w.ln.Accept()
	if err != nil {
		w.ln.Close() //nolint:errcheck
		if bterr.IsCancellation(err) {
			w.m.logger.Debug("listener on %s stopped", w.ln.Addr())
			return
		}
		w.m.workerFailed(w, "", bterr.Accept(w.ln.Addr(), err))
		return
	}
	// The listener has served its one connection.
	w.ln.Close() //nolint:errcheck
	w.m.promote(w, conn)
}

func (w *listenerWorker) stop() {
	w.ln.Close() //nolint:errcheck
	<-w.done
}

// ── Dialer ───────────────────────────────────────────────────────────

// dialerWorker opens one outbound link: the primary strategy, then at
// most one fallback.
type dialerWorker struct {
	tag
	m      *Manager
	ep     transport.Endpoint
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newDialerWorker(m *Manager, id Attempt, ep transport.Endpoint) *dialerWorker {
	ctx, cancel := context.WithCancel(m.ctx)
	return &dialerWorker{tag: tag{id}, m: m, ep: ep, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (w *dialerWorker) name() string { return "dialer" }

func (w *dialerWorker) run() {
	defer close(w.done)
	defer w.cancel()

	openers := w.m.factory.Openers()
	if len(openers) > 2 {
		openers = openers[:2]
	}

	ladder := retry.Ladder{
		Delay: w.m.opts.fallbackDelay,
		OnFallback: func(step int, err error) {
			w.m.logger.Verbose("%s: %s failed (%v), trying %s",
				w.ep, openers[step].Name(), err, openers[step+1].Name())
		},
	}

	var conn transport.Conn
	_, err := ladder.Climb(w.ctx, len(openers), func(step int) error {
		if step > 0 {
			w.m.metrics.DialFallback()
		}
		w.m.metrics.DialAttempt()
		w.m.logger.Debug("%s: opening with %s", w.ep, openers[step].Name())

		c, err := openers[step].Open(w.ctx, w.ep.Address)
		if err != nil {
			if w.ctx.Err() != nil {
				return retry.Permanent(w.ctx.Err())
			}
			if bterr.Is(err, bterr.ErrInvalidAddress) {
				return retry.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	})

	if w.ctx.Err() != nil {
		// Superseded or stopped; the outcome is not reported.
		if conn != nil {
			conn.Close() //nolint:errcheck
		}
		return
	}
	if err != nil {
		w.m.workerFailed(w, w.ep.Address.String(), bterr.Dial(w.ep.Address.String(), err))
		return
	}
	w.m.promote(w, conn)
}

func (w *dialerWorker) stop() {
	w.cancel()
	<-w.done
}

// ── Session ──────────────────────────────────────────────────────────

type sessionWorker struct {
	tag
	s *session.Session
}

func (w *sessionWorker) name() string { return "session" }

func (w *sessionWorker) stop() { w.s.Stop() }
