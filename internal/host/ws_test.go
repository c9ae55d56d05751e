package host

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"btserial/internal/manager"
)

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(waitTimeout)) //nolint:errcheck
	return conn
}

func TestServer_RequestReply(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(NewServer(h.d, nil, 0, 0).Handler())
	defer srv.Close()
	conn := dialWS(t, srv.URL)

	require.NoError(t, conn.WriteJSON(req("1", "listen")))
	var r Reply
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, "1", r.ID)
	assert.True(t, r.OK)

	require.NoError(t, conn.WriteJSON(req("2", "state")))
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, "listening", r.Result)
}

// TestServer_SubscriptionStream verifies keep replies are pushed to
// the socket as data arrives.
func TestServer_SubscriptionStream(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(NewServer(h.d, nil, 0, 0).Handler())
	defer srv.Close()
	conn := dialWS(t, srv.URL)

	require.NoError(t, conn.WriteJSON(req("s", "subscribe", "\n")))
	require.NoError(t, conn.WriteJSON(req("l", "listen")))
	var r Reply
	require.NoError(t, conn.ReadJSON(&r))
	require.Equal(t, "l", r.ID)

	peer := h.accept(t)
	peer.Write([]byte("temp=21\n")) //nolint:errcheck

	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, "s", r.ID)
	assert.True(t, r.Keep)
	assert.Equal(t, "temp=21\n", r.Result)
}

func TestServer_MalformedRequest(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(NewServer(h.d, nil, 0, 0).Handler())
	defer srv.Close()
	conn := dialWS(t, srv.URL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var r Reply
	require.NoError(t, conn.ReadJSON(&r))
	assert.Contains(t, r.Error, "malformed request")

	require.NoError(t, conn.WriteJSON(Request{ID: "x"}))
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, "x", r.ID)
	assert.Equal(t, "missing action", r.Error)

	// The connection is still usable.
	require.NoError(t, conn.WriteJSON(req("y", "state")))
	require.NoError(t, conn.ReadJSON(&r))
	assert.Equal(t, "none", r.Result)
}

// TestServer_DropOnDisconnect verifies a closed socket loses its
// subscriptions.
func TestServer_DropOnDisconnect(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(NewServer(h.d, nil, 0, 0).Handler())
	defer srv.Close()
	conn := dialWS(t, srv.URL)

	require.NoError(t, conn.WriteJSON(req("r", "subscribeRaw")))
	require.NoError(t, conn.WriteJSON(req("st", "state")))
	var r Reply
	require.NoError(t, conn.ReadJSON(&r))
	conn.Close()

	require.Eventually(t, func() bool {
		return len(h.d.targets(manager.EventRawData)) == 0
	}, waitTimeout, time.Millisecond)
}

func TestServer_ServeShutdown(t *testing.T) {
	h := newHarness(t)
	s := NewServer(h.d, nil, 200*time.Millisecond, time.Second)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn := dialWS(t, "http://"+ln.Addr().String())
	require.NoError(t, conn.WriteJSON(req("1", "state")))
	var r Reply
	require.NoError(t, conn.ReadJSON(&r))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return after cancel")
	}
}

// TestServer_UnansweredPingsDropClient verifies a client that stops
// reading is disconnected once its read deadline passes.
func TestServer_UnansweredPingsDropClient(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(NewServer(h.d, nil, 20*time.Millisecond, 0).Handler())
	defer srv.Close()
	conn := dialWS(t, srv.URL)

	require.NoError(t, conn.WriteJSON(req("r", "subscribeRaw")))
	time.Sleep(100 * time.Millisecond)

	require.Eventually(t, func() bool {
		return len(h.d.targets(manager.EventRawData)) == 0
	}, waitTimeout, time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(waitTimeout)) //nolint:errcheck
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "server never closed the socket: %v", err)
}

// TestServer_PongsKeepClientAlive verifies a reading client outlives
// many read deadlines.
func TestServer_PongsKeepClientAlive(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(NewServer(h.d, nil, 20*time.Millisecond, 0).Handler())
	defer srv.Close()
	conn := dialWS(t, srv.URL)

	replies := make(chan Reply, 4)
	go func() {
		for {
			var r Reply
			if err := conn.ReadJSON(&r); err != nil {
				close(replies)
				return
			}
			replies <- r
		}
	}()

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, conn.WriteJSON(req("1", "state")))
	select {
	case r, ok := <-replies:
		require.True(t, ok, "connection dropped")
		assert.Equal(t, "none", r.Result)
	case <-time.After(waitTimeout):
		t.Fatal("no reply")
	}
}

// stalledWriter accepts no frames until closed.
type stalledWriter struct {
	closed chan struct{}
	once   sync.Once
	writes atomic.Int32
}

func newStalledWriter() *stalledWriter { return &stalledWriter{closed: make(chan struct{})} }

func (w *stalledWriter) SetWriteDeadline(time.Time) error { return nil }

func (w *stalledWriter) WriteJSON(interface{}) error {
	w.writes.Add(1)
	<-w.closed
	return net.ErrClosed
}

func (w *stalledWriter) WriteControl(int, []byte, time.Time) error { return nil }

func (w *stalledWriter) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

// TestClient_SendNeverBlocks verifies a stalled socket neither blocks
// whoever queues replies for it nor survives overflowing its queue.
func TestClient_SendNeverBlocks(t *testing.T) {
	w := newStalledWriter()
	c := newWSClient(w, zap.NewNop())
	stop := make(chan struct{})
	defer close(stop)
	go c.writeLoop(context.Background(), stop, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendQueueSize+2; i++ {
			c.send(Reply{ID: "x"})
		}
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("send blocked on a stalled client")
	}

	select {
	case <-w.closed:
	case <-time.After(waitTimeout):
		t.Fatal("overflowing client was not closed")
	}
	require.Eventually(t, func() bool { return w.writes.Load() == 1 }, waitTimeout, time.Millisecond)
}

// TestServer_StalledClientDoesNotStallOthers verifies fan-out keeps
// reaching healthy clients while another client's socket is stuck.
func TestServer_StalledClientDoesNotStallOthers(t *testing.T) {
	h := newHarness(t)
	w := newStalledWriter()
	stuck := newWSClient(w, zap.NewNop())
	stop := make(chan struct{})
	defer close(stop)
	go stuck.writeLoop(context.Background(), stop, time.Hour)

	s := h.d.NewClient(func(rep Reply) { stuck.send(rep) })
	healthy, in := h.client()
	h.d.Execute(s, req("s", "subscribeRaw"))
	h.d.Execute(healthy, req("h", "subscribeRaw"))
	h.d.Execute(healthy, req("l", "listen"))
	require.True(t, in.next(t).OK)
	peer := h.accept(t)

	const n = sendQueueSize + 8
	go func() {
		for i := 0; i < n; i++ {
			if _, err := peer.Write([]byte{byte(i)}); err != nil {
				return
			}
		}
	}()
	for i := 0; i < n; i++ {
		r := in.next(t)
		require.Equal(t, "h", r.ID)
	}
	select {
	case <-w.closed:
	default:
		t.Fatal("stalled client was not dropped")
	}
}
