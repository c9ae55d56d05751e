package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"btserial/util"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Server bridges WebSocket clients to a Dispatcher.  Each text message
// is one JSON Request; each reply is one JSON Reply.
type Server struct {
	d            *Dispatcher
	log          *zap.Logger
	pingInterval time.Duration
	gracePeriod  time.Duration
}

// NewServer returns a Server for d.  Non-positive intervals fall back
// to 20s pings and a 5s shutdown grace period.
func NewServer(d *Dispatcher, logger *util.Logger, pingInterval, gracePeriod time.Duration) *Server {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Second
	}
	return &Server{
		d:            d,
		log:          logger.Zap().Named("host"),
		pingInterval: pingInterval,
		gracePeriod:  gracePeriod,
	}
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	return mux
}

// Serve accepts clients on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("serving", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.gracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// frameWriter is the write side of a websocket.Conn.
type frameWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// wsClient owns a socket's write side.  Replies are queued by send and
// written, along with pings, by writeLoop alone, so a client that stops
// reading only ever blocks its own goroutine.
type wsClient struct {
	conn     frameWriter
	out      chan interface{}
	log      *zap.Logger
	once     sync.Once
	overflow atomic.Bool
}

func newWSClient(conn frameWriter, log *zap.Logger) *wsClient {
	return &wsClient{conn: conn, out: make(chan interface{}, sendQueueSize), log: log}
}

// send queues v without blocking.  A client whose queue is full is
// disconnected.
func (c *wsClient) send(v interface{}) {
	select {
	case c.out <- v:
	default:
		if !c.overflow.Swap(true) {
			c.log.Warn("send queue full, dropping client", zap.Int("queued", cap(c.out)))
		}
		c.shut()
	}
}

func (c *wsClient) shut() {
	c.once.Do(func() { c.conn.Close() }) //nolint:errcheck
}

// writeLoop drains the queue and pings every interval until stop is
// closed, ctx ends or a write fails.
func (c *wsClient) writeLoop(ctx context.Context, stop <-chan struct{}, interval time.Duration) {
	ping := time.NewTicker(interval)
	defer ping.Stop()
	for {
		select {
		case v := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteJSON(v); err != nil {
				c.log.Debug("ws write", zap.Error(err))
				c.shut()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shut()
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			c.shut()
			return
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	wc := newWSClient(conn, s.log.With(zap.String("remote", r.RemoteAddr)))
	client := s.d.NewClient(func(rep Reply) { wc.send(rep) })
	defer s.d.Drop(client)
	wc.log.Debug("client connected", zap.Stringer("client", client))

	stop := make(chan struct{})
	defer close(stop)
	go wc.writeLoop(r.Context(), stop, s.pingInterval)

	// A client that answers neither requests nor pings within readWait
	// is gone.
	readWait := s.pingInterval + s.pingInterval/2
	extend := func() { conn.SetReadDeadline(time.Now().Add(readWait)) } //nolint:errcheck
	extend()
	conn.SetPongHandler(func(string) error { extend(); return nil })

	for {
		var req Request
		err := conn.ReadJSON(&req)
		if err != nil && !isDecodeError(err) {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wc.log.Debug("ws read", zap.Error(err))
			}
			return
		}
		extend()
		switch {
		case err != nil:
			wc.send(Reply{Error: "malformed request: " + err.Error()})
		case req.Action == "":
			wc.send(Reply{ID: req.ID, Error: "missing action"})
		default:
			s.d.Execute(client, req)
		}
	}
}

// isDecodeError reports whether err came from decoding a message
// rather than from the connection.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
