// Package session owns one established RFCOMM link: a read loop that
// forwards every chunk to a sink, and a serial writer fed by an
// unbounded queue so senders never block.
//
// A session ends exactly once.  If it ends on its own (read error, EOF
// or write failure) the sink's Lost is called; if Stop ends it, nothing
// is reported.
package session

import (
	crand "crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	bterr "btserial/internal/errors"
	"btserial/internal/metrics"
	"btserial/internal/transport"
	"btserial/util"
)

// Sink receives what a session reads.  Both methods run on the
// session's read goroutine and must not call Stop.
type Sink interface {
	// Received gets an exact-length copy of every non-empty read.
	Received(s *Session, p []byte)
	// Lost is called once when the link fails.  err matches errors.ErrIO.
	Lost(s *Session, err error)
}

// Session encapsulates the runtime of a single link.
type Session struct {
	id      string
	conn    transport.Conn
	sink    Sink
	logger  *util.Logger
	metrics *metrics.Collector
	bufSize int
	started time.Time

	queue    *util.Queue[[]byte]
	running  atomic.Bool
	stopping atomic.Bool
	wg       sync.WaitGroup
	done     chan struct{}

	mu       sync.Mutex
	writeErr error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; a child logger tagged with the session id
// is derived from it.
func WithLogger(l *util.Logger) Option { return func(s *Session) { s.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(s *Session) { s.metrics = m } }

// WithBufferSize sets the read size (default util.DefaultBufSize).
func WithBufferSize(n int) Option { return func(s *Session) { s.bufSize = n } }

// WithStartTime sets the timestamp encoded in the session id.
func WithStartTime(t time.Time) Option { return func(s *Session) { s.started = t } }

// New wraps conn.  Nothing runs until Start.
func New(conn transport.Conn, sink Sink, opts ...Option) *Session {
	s := &Session{
		conn:    conn,
		sink:    sink,
		bufSize: util.DefaultBufSize,
		started: time.Now(),
		queue:   util.NewQueue[[]byte](),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.bufSize <= 0 {
		s.bufSize = util.DefaultBufSize
	}
	if s.logger == nil {
		s.logger = util.NewLogger(0)
	}
	s.id = newID(s.started)
	s.logger = s.logger.With("session", s.id)
	return s
}

// ids share one monotonic entropy source so sessions started within
// the same millisecond still sort and differ.
var (
	idMu    sync.Mutex
	entropy = ulid.Monotonic(crand.Reader, 0)
)

func newID(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ID returns the session's ULID.
func (s *Session) ID() string { return s.id }

// Remote returns the peer address.
func (s *Session) Remote() string { return s.conn.Remote() }

// Started returns when the session was created.
func (s *Session) Started() time.Time { return s.started }

// Start launches the read and write goroutines.
func (s *Session) Start() {
	s.running.Store(true)
	s.metrics.SessionOpened()
	s.logger.Verbose("session open with %s", s.conn.Remote())
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		s.metrics.SessionClosed()
		close(s.done)
	}()
}

// Write queues a copy of p.  It never blocks and reports false once the
// session has ended.
func (s *Session) Write(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	return s.queue.Push(buf)
}

// Stop ends the session without reporting it as lost and waits for both
// goroutines.  It is idempotent but must not be called from a Sink.
func (s *Session) Stop() {
	if !s.stopping.Swap(true) {
		s.conn.Close() //nolint:errcheck
		s.queue.Close()
	}
	if s.running.Load() {
		<-s.done
	}
}

// Done is closed once both goroutines have exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) readLoop() {
	defer s.wg.Done()

	var buf []byte
	if s.bufSize == util.DefaultBufSize {
		pb := util.GetBuf()
		defer util.PutBuf(pb)
		buf = *pb
	} else {
		buf = make([]byte, s.bufSize)
	}

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.metrics.BytesReceived(int64(n))
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.sink.Received(s, chunk)
		}
		if err != nil {
			s.finish(err)
			return
		}
	}
}

// finish tears the link down after the read loop ends and reports the
// loss unless Stop caused it.
func (s *Session) finish(readErr error) {
	stopped := s.stopping.Swap(true)
	s.conn.Close() //nolint:errcheck
	s.queue.Close()
	if stopped {
		s.logger.Debug("session stopped: %v", readErr)
		return
	}

	s.mu.Lock()
	cause := s.writeErr
	s.mu.Unlock()

	var err error
	if cause != nil {
		err = bterr.IO("write", s.conn.Remote(), cause)
	} else {
		err = bterr.IO("read", s.conn.Remote(), readErr)
	}
	s.metrics.RecordError(err.Error())
	s.logger.Verbose("session lost: %v", err)
	s.sink.Lost(s, err)
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		p, ok := s.queue.Pop()
		if !ok {
			return
		}
		n, err := s.conn.Write(p)
		s.metrics.BytesSent(int64(n))
		if err != nil {
			if s.stopping.Load() {
				return
			}
			s.logger.Warn("write to %s failed: %v", s.conn.Remote(), err)
			s.mu.Lock()
			s.writeErr = err
			s.mu.Unlock()
			// The read loop sees the close and reports the loss.
			s.conn.Close() //nolint:errcheck
			return
		}
	}
}
