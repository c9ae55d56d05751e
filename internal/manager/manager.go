// Package manager implements the connection lifecycle for one RFCOMM
// serial channel.
//
// A Manager owns at most one worker at a time: a listener waiting for an
// inbound link, a dialer opening an outbound one, or a session carrying
// data.  Every operation that replaces the worker stops the old one
// (closes it, then waits for it) before starting the new one, so two
// workers never overlap.  A worker that has been replaced may still
// finish; its outcome is discarded and its link closed.
//
// Events are queued and delivered by a single dispatcher goroutine, so
// subscribers see them in the order the transitions happened and
// workers never block on a slow subscriber.
package manager

import (
	"context"
	"fmt"
	"sync"

	bterr "btserial/internal/errors"
	"btserial/internal/framing"
	"btserial/internal/metrics"
	"btserial/internal/retry"
	"btserial/internal/session"
	"btserial/internal/transport"
	"btserial/util"
)

// Manager is the connection state machine.  All methods are safe for
// concurrent use.
type Manager struct {
	factory transport.Factory
	opts    options
	logger  *util.Logger
	metrics *metrics.Collector
	breaker *retry.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serializes public operations, including the wait for the
	// previous worker.  Workers never take it.
	opMu sync.Mutex

	// mu guards the fields below.  It is never held across I/O or
	// while waiting for a worker.
	mu       sync.Mutex
	state    State
	active   worker
	gen      uint64
	handlers [numKinds]Handler
	delim    string
	closed   bool

	events       *util.Queue[delivery]
	dispatchDone chan struct{}
	relistenWG   sync.WaitGroup
}

// New returns an idle Manager (state None) bound to factory.
func New(factory transport.Factory, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = util.NewLogger(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		factory:      factory,
		opts:         o,
		logger:       o.logger,
		metrics:      o.metrics,
		breaker:      retry.NewCircuitBreaker(o.breaker),
		ctx:          ctx,
		cancel:       cancel,
		delim:        o.delimiter,
		events:       util.NewQueue[delivery](),
		dispatchDone: make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() metrics.Snapshot { return m.metrics.Snapshot() }

// ── Operations ───────────────────────────────────────────────────────

// Listen binds the service and waits for one inbound link.  Listening
// while already listening keeps the current listener.  While a session
// is live it fails with errors.ErrAlreadyConnected unless the manager
// was built WithPreemptSession.  A bind failure leaves the state None.
func (m *Manager) Listen() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return bterr.ErrClosed
	}
	switch m.state {
	case StateConnected:
		if !m.opts.preempt {
			m.mu.Unlock()
			return bterr.ErrAlreadyConnected
		}
	case StateListening:
		if _, ok := m.active.(*listenerWorker); ok {
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()

	return m.listenLocked()
}

// listenLocked replaces the active worker with a new listener.  The
// caller holds opMu.
func (m *Manager) listenLocked() error {
	m.stopActive()

	ln, err := m.factory.Listen(m.ctx, m.opts.service)
	if err != nil {
		if !bterr.Is(err, bterr.ErrBind) && !bterr.Is(err, bterr.ErrAdapterUnavailable) {
			err = bterr.Bind(fmt.Sprintf("channel %d", m.opts.service.Channel), err)
		}
		m.metrics.RecordError(err.Error())
		m.logger.Warn("listen: %v", err)
		m.mu.Lock()
		m.setStateLocked(StateNone)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	w := newListenerWorker(m, Attempt(m.gen), ln)
	m.active = w
	m.setStateLocked(StateListening)
	m.mu.Unlock()

	m.logger.Info("listening on %s", ln.Addr())
	go w.run()
	return nil
}

// Connect starts dialing ep and returns immediately.  Whatever worker
// was running is stopped first, including a live session.  The outcome
// arrives as EventConnect or EventLost.
func (m *Manager) Connect(ep transport.Endpoint) error {
	_, err := m.Dial(ep)
	return err
}

// Dial is Connect, also returning the Attempt that the resulting
// EventConnect and EventLost will carry.
func (m *Manager) Dial(ep transport.Endpoint) (Attempt, error) {
	if ep.Address.IsZero() {
		return 0, fmt.Errorf("%w: %s", bterr.ErrInvalidAddress, ep.Address)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.isClosed() {
		return 0, bterr.ErrClosed
	}

	ctx, cancel := context.WithTimeout(m.ctx, adapterQueryTimeout)
	_, err := m.factory.Adapter(ctx)
	cancel()
	if err != nil {
		if !bterr.Is(err, bterr.ErrAdapterUnavailable) {
			err = bterr.Adapter("connect", err)
		}
		return 0, err
	}

	m.stopActive()

	m.mu.Lock()
	w := newDialerWorker(m, Attempt(m.gen), ep)
	m.active = w
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.logger.Info("connecting to %s", ep)
	go w.run()
	return w.attempt(), nil
}

// ConnectAddress parses addr and calls Connect.
func (m *Manager) ConnectAddress(addr string) error {
	_, err := m.DialAddress(addr)
	return err
}

// DialAddress parses addr and calls Dial.
func (m *Manager) DialAddress(addr string) (Attempt, error) {
	a, err := transport.ParseAddress(addr)
	if err != nil {
		return 0, err
	}
	return m.Dial(transport.Endpoint{Address: a})
}

// Disconnect stops whatever is running and returns to None.  It never
// fails and fires connection-lost for nothing it stops.
func (m *Manager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.stopActive()

	m.mu.Lock()
	m.setStateLocked(StateNone)
	m.events.Push(delivery{op: opReset})
	m.mu.Unlock()
	return nil
}

// Send queues p on the live session.  Without a session it does
// nothing and returns nil, or errors.ErrNotConnected when the manager
// was built WithStrictSend.  It never blocks on the link.
func (m *Manager) Send(p []byte) error {
	m.mu.Lock()
	sw, ok := m.active.(*sessionWorker)
	connected := ok && m.state == StateConnected
	m.mu.Unlock()

	if connected && sw.s.Write(p) {
		return nil
	}
	if m.opts.strictSend {
		return bterr.ErrNotConnected
	}
	return nil
}

// Subscribe registers h for kind, replacing any earlier handler.  A nil
// h removes the subscription.  Subscriptions outlive disconnects.
func (m *Manager) Subscribe(kind EventKind, h Handler) {
	if kind < 0 || kind >= numKinds {
		return
	}
	m.mu.Lock()
	m.handlers[kind] = h
	m.mu.Unlock()
}

// SubscribeData registers h for records ending in delim.  Bytes
// received while no data subscription exists are not buffered.
func (m *Manager) SubscribeData(delim string, h Handler) {
	m.mu.Lock()
	m.delim = delim
	m.handlers[EventData] = h
	m.mu.Unlock()
}

// LocalAddress returns the adapter's address.
func (m *Manager) LocalAddress() (string, error) {
	ctx, cancel := context.WithTimeout(m.ctx, adapterQueryTimeout)
	defer cancel()
	info, err := m.factory.Adapter(ctx)
	if err != nil {
		if !bterr.Is(err, bterr.ErrAdapterUnavailable) {
			err = bterr.Adapter("address", err)
		}
		return "", err
	}
	if info.Address.IsZero() {
		return "", bterr.Adapter("address", fmt.Errorf("%s reports no address", info.Name))
	}
	return info.Address.String(), nil
}

// Close disconnects, delivers the events already queued and shuts the
// dispatcher down.  Later operations fail with errors.ErrClosed.  It
// must not be called from a Handler.
func (m *Manager) Close() error {
	m.opMu.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.opMu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stopActive()
	m.mu.Lock()
	m.setStateLocked(StateNone)
	m.mu.Unlock()
	m.opMu.Unlock()

	m.relistenWG.Wait()
	m.cancel()
	m.events.Close()
	<-m.dispatchDone
	return nil
}

// ── Worker bookkeeping ───────────────────────────────────────────────

// stopActive detaches the active worker and waits for it.  Callbacks
// from the detached worker are stale from this point on.  The caller
// holds opMu.
func (m *Manager) stopActive() {
	m.mu.Lock()
	old := m.active
	m.active = nil
	m.gen++
	m.mu.Unlock()

	if old != nil {
		m.logger.Debug("stopping %s", old.name())
		old.stop()
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// setStateLocked records a transition and queues EventState if the
// state actually changed.  The caller holds mu.
func (m *Manager) setStateLocked(to State) {
	if m.state == to {
		return
	}
	prev := m.state
	m.state = to
	m.logger.Verbose("state %s -> %s", prev, to)
	m.enqueueLocked(Event{Kind: EventState, State: to, Prev: prev})
}

func (m *Manager) enqueueLocked(ev Event) {
	ev.Time = m.opts.now()
	m.events.Push(delivery{op: opEvent, ev: ev})
}

// promote turns a freshly opened link into the live session.  A link
// from a worker that is no longer active is closed.
func (m *Manager) promote(from worker, conn transport.Conn) {
	m.mu.Lock()
	if m.active != from || m.closed {
		m.mu.Unlock()
		m.logger.Debug("discarding link from stale %s", from.name())
		conn.Close() //nolint:errcheck
		return
	}

	s := session.New(conn, sink{m},
		session.WithLogger(m.logger),
		session.WithMetrics(m.metrics),
		session.WithBufferSize(m.opts.readBufferSize),
		session.WithStartTime(m.opts.now()),
	)
	m.active = &sessionWorker{tag: tag{from.attempt()}, s: s}

	// Reset, state change and connect are queued before the session
	// can read, so they precede its first data.
	m.events.Push(delivery{op: opReset})
	m.setStateLocked(StateConnected)
	m.enqueueLocked(Event{
		Kind:    EventConnect,
		State:   StateConnected,
		Remote:  conn.Remote(),
		Session: s.ID(),
		Attempt: from.attempt(),
	})
	s.Start()
	m.mu.Unlock()

	m.logger.Info("connected to %s", conn.Remote())
}

// workerFailed handles a listener or dialer that gave up.
func (m *Manager) workerFailed(from worker, remote string, err error) {
	m.mu.Lock()
	if m.active != from {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.setStateLocked(StateNone)
	m.enqueueLocked(Event{Kind: EventLost, State: StateNone, Remote: remote, Err: err, Attempt: from.attempt()})
	m.mu.Unlock()

	m.metrics.ConnectionLost()
	m.metrics.RecordError(err.Error())
	m.logger.Warn("%s failed: %v", from.name(), err)
}

// sessionLost handles a session that ended on its own.
func (m *Manager) sessionLost(s *session.Session, err error) {
	m.mu.Lock()
	sw, ok := m.active.(*sessionWorker)
	if !ok || sw.s != s {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.setStateLocked(StateNone)
	m.enqueueLocked(Event{
		Kind:    EventLost,
		State:   StateNone,
		Remote:  s.Remote(),
		Session: s.ID(),
		Err:     err,
		Attempt: sw.attempt(),
	})
	relisten := m.opts.relisten && !m.closed
	gen := m.gen
	if relisten {
		m.relistenWG.Add(1)
	}
	m.mu.Unlock()

	m.metrics.ConnectionLost()
	m.logger.Warn("connection to %s lost: %v", s.Remote(), err)
	if relisten {
		go m.relisten(gen)
	}
}

// relisten returns to Listening after a lost session unless something
// else happened first.  Repeated bind failures open the breaker and
// suppress further attempts until it half-opens.
func (m *Manager) relisten(gen uint64) {
	defer m.relistenWG.Done()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	current := m.gen == gen && m.active == nil && m.state == StateNone && !m.closed
	m.mu.Unlock()
	if !current {
		return
	}

	err := m.breaker.Execute(m.listenLocked)
	switch {
	case err == nil:
		m.metrics.Relisten()
	case bterr.Is(err, retry.ErrCircuitOpen):
		m.logger.Warn("not listening again: %v", err)
	default:
		m.logger.Warn("listening again failed: %v", err)
	}
}

// sink adapts the manager to session.Sink.
type sink struct{ m *Manager }

func (k sink) Received(s *session.Session, p []byte) {
	m := k.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if sw, ok := m.active.(*sessionWorker); !ok || sw.s != s {
		return
	}
	m.events.Push(delivery{op: opChunk, ev: Event{
		Kind:    EventRawData,
		Data:    p,
		Remote:  s.Remote(),
		Session: s.ID(),
		Time:    m.opts.now(),
	}})
}

func (k sink) Lost(s *session.Session, err error) { k.m.sessionLost(s, err) }

// ── Dispatcher ───────────────────────────────────────────────────────

func (m *Manager) handler(kind EventKind) Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[kind]
}

func (m *Manager) dataSubscription() (string, Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delim, m.handlers[EventData]
}

// dispatch owns the framing buffer and runs every handler.
func (m *Manager) dispatch() {
	defer close(m.dispatchDone)

	var buf framing.Buffer
	for {
		d, ok := m.events.Pop()
		if !ok {
			return
		}
		switch d.op {
		case opReset:
			buf.Reset()
		case opChunk:
			if h := m.handler(EventRawData); h != nil {
				m.call(h, d.ev)
			}
			delim, h := m.dataSubscription()
			if h == nil {
				continue
			}
			buf.Append(d.ev.Data)
			buf.Drain(delim, func(rec string) {
				m.metrics.RecordDelivered()
				m.call(h, Event{
					Kind:    EventData,
					Record:  rec,
					Remote:  d.ev.Remote,
					Session: d.ev.Session,
					Time:    d.ev.Time,
				})
			})
		case opEvent:
			if h := m.handler(d.ev.Kind); h != nil {
				m.call(h, d.ev)
			}
		}
	}
}

// call runs h, keeping the dispatcher alive if it panics.
func (m *Manager) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("%s handler panicked: %v", ev.Kind, r)
		}
	}()
	h(ev)
}
