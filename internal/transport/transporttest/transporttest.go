// Package transporttest provides an in-memory transport.Factory for
// exercising the connection manager without a radio.
//
// Links are net.Pipe pairs: the manager gets one end, the test holds the
// other and plays the remote device.
package transporttest

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	bterr "btserial/internal/errors"
	"btserial/internal/transport"
)

// Conn is one end of an in-memory link.
type Conn struct {
	net.Conn
	remote string
}

// Remote returns the simulated peer address.
func (c *Conn) Remote() string { return c.remote }

// Pipe returns a manager-side Conn and the peer's end.
func Pipe(remote string) (*Conn, net.Conn) {
	local, peer := net.Pipe()
	return &Conn{Conn: local, remote: remote}, peer
}

// Scripted is a Conn whose reads are fed one at a time by the test and
// whose writes can be made to fail.
type Scripted struct {
	remote string
	reads  chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	writeErr error
	written  []byte
	writes   atomic.Int32
}

// NewScripted returns an open Scripted conn for remote.
func NewScripted(remote string) *Scripted {
	return &Scripted{
		remote: remote,
		reads:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Feed queues the result of one Read.  An empty p makes that Read
// return (0, nil).
func (c *Scripted) Feed(p []byte) { c.reads <- p }

// FailWrites makes every later Write return err.
func (c *Scripted) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Writes counts Write calls, failed ones included.
func (c *Scripted) Writes() int { return int(c.writes.Load()) }

// Written returns a copy of everything successfully written.
func (c *Scripted) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written...)
}

// Closed reports whether Close has been called.
func (c *Scripted) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Read returns the next fed chunk, or net.ErrClosed once closed.
func (c *Scripted) Read(p []byte) (int, error) {
	select {
	case b := <-c.reads:
		return copy(p, b), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

// Write records p unless writes have been made to fail.
func (c *Scripted) Write(p []byte) (int, error) {
	c.writes.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

// Close unblocks any pending Read.
func (c *Scripted) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Remote returns the simulated peer address.
func (c *Scripted) Remote() string { return c.remote }

// Factory is a scripted transport.Factory.
type Factory struct {
	mu         sync.Mutex
	listenErr  error
	adapter    transport.AdapterInfo
	adapterErr error
	openers    []transport.Opener
	listeners  chan *Listener

	live  atomic.Int32
	binds atomic.Int32
}

// New returns a Factory with a powered adapter at 00:11:22:33:44:55
// and no openers.
func New() *Factory {
	return &Factory{
		adapter: transport.AdapterInfo{
			Name:    "hci0",
			Address: transport.MustParseAddress("00:11:22:33:44:55"),
			Powered: true,
		},
		listeners: make(chan *Listener, 64),
	}
}

// Listen creates a Listener, or fails with the error set by FailListen.
func (f *Factory) Listen(_ context.Context, svc transport.Service) (transport.Listener, error) {
	f.mu.Lock()
	err := f.listenErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l := &Listener{
		svc:     svc,
		factory: f,
		conns:   make(chan transport.Conn),
		errs:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
	f.binds.Add(1)
	f.live.Add(1)
	f.listeners <- l
	return l, nil
}

// FailListen makes every later Listen return err.  nil restores success.
func (f *Factory) FailListen(err error) {
	f.mu.Lock()
	f.listenErr = err
	f.mu.Unlock()
}

// SetAdapter replaces the adapter answer.
func (f *Factory) SetAdapter(info transport.AdapterInfo, err error) {
	f.mu.Lock()
	f.adapter, f.adapterErr = info, err
	f.mu.Unlock()
}

// Adapter returns the scripted adapter.
func (f *Factory) Adapter(context.Context) (transport.AdapterInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapter, f.adapterErr
}

// SetOpeners replaces the dial strategies.
func (f *Factory) SetOpeners(o ...transport.Opener) {
	f.mu.Lock()
	f.openers = o
	f.mu.Unlock()
}

// Openers returns the scripted dial strategies.
func (f *Factory) Openers() []transport.Opener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openers
}

// NextListener waits for the next Listener created by Listen.
func (f *Factory) NextListener(timeout time.Duration) (*Listener, bool) {
	select {
	case l := <-f.listeners:
		return l, true
	case <-time.After(timeout):
		return nil, false
	}
}

// LiveListeners counts listeners that have not been closed.
func (f *Factory) LiveListeners() int { return int(f.live.Load()) }

// Binds counts successful Listen calls.
func (f *Factory) Binds() int { return int(f.binds.Load()) }

// Listener is an in-memory transport.Listener.
type Listener struct {
	svc     transport.Service
	factory *Factory
	conns   chan transport.Conn
	errs    chan error

	once   sync.Once
	closed chan struct{}
}

// Accept waits for Connect, Fail or Close.
func (l *Listener) Accept() (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case err := <-l.errs:
		return nil, err
	case <-l.closed:
		return nil, bterr.ErrListenerClosed
	}
}

// Close unblocks Accept.
func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.factory.live.Add(-1)
	})
	return nil
}

// Addr describes the advertised service.
func (l *Listener) Addr() string { return "mem:" + l.svc.Name }

// Service returns what Listen was asked to advertise.
func (l *Listener) Service() transport.Service { return l.svc }

// Closed reports whether Close has run.
func (l *Listener) Closed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Connect simulates an inbound link from remote and returns the peer
// end.  It fails with ErrListenerClosed if the listener closes first.
func (l *Listener) Connect(remote string) (net.Conn, error) {
	c, peer := Pipe(remote)
	select {
	case l.conns <- c:
		return peer, nil
	case <-l.closed:
		c.Close()    //nolint:errcheck
		peer.Close() //nolint:errcheck
		return nil, bterr.ErrListenerClosed
	}
}

// Fail makes the pending Accept return err.
func (l *Listener) Fail(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// Opener is a scripted transport.Opener.
type Opener struct {
	name  string
	fn    func(ctx context.Context, addr transport.Address) (transport.Conn, error)
	calls atomic.Int32
}

// OpenerFunc wraps fn as a named Opener.
func OpenerFunc(name string, fn func(ctx context.Context, addr transport.Address) (transport.Conn, error)) *Opener {
	return &Opener{name: name, fn: fn}
}

// Name returns the strategy name.
func (o *Opener) Name() string { return o.name }

// Open runs the scripted function.
func (o *Opener) Open(ctx context.Context, addr transport.Address) (transport.Conn, error) {
	o.calls.Add(1)
	return o.fn(ctx, addr)
}

// Calls counts Open invocations.
func (o *Opener) Calls() int { return int(o.calls.Load()) }

// FailingOpener always fails with err.
func FailingOpener(name string, err error) *Opener {
	return OpenerFunc(name, func(context.Context, transport.Address) (transport.Conn, error) {
		return nil, err
	})
}

// BlockingOpener blocks until its context is cancelled.
func BlockingOpener(name string) *Opener {
	return OpenerFunc(name, func(ctx context.Context, _ transport.Address) (transport.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

// PipeOpener succeeds with a fresh pipe per call and publishes each
// peer end on the returned channel.
func PipeOpener(name string) (*Opener, <-chan net.Conn) {
	peers := make(chan net.Conn, 16)
	o := OpenerFunc(name, func(_ context.Context, addr transport.Address) (transport.Conn, error) {
		c, peer := Pipe(addr.String())
		peers <- peer
		return c, nil
	})
	return o, peers
}

// GatedOpener waits for a value on release before succeeding like
// PipeOpener, or aborts when its context is cancelled.
func GatedOpener(name string) (o *Opener, release chan<- struct{}, peers <-chan net.Conn) {
	gate := make(chan struct{})
	out := make(chan net.Conn, 16)
	o = OpenerFunc(name, func(ctx context.Context, addr transport.Address) (transport.Conn, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c, peer := Pipe(addr.String())
		out <- peer
		return c, nil
	})
	return o, gate, out
}

var _ transport.Factory = (*Factory)(nil)
