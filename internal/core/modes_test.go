package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bterr "btserial/internal/errors"
	"btserial/internal/capability"
	"btserial/internal/manager"
	"btserial/internal/transport"
	"btserial/internal/transport/transporttest"
	"btserial/util"
)

const waitTimeout = 2 * time.Second

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newManager(f *transporttest.Factory) *manager.Manager {
	return manager.New(f, manager.WithFallbackDelay(time.Millisecond))
}

// TestListenMode_RelaysOneSession verifies listen mode relays the first
// peer and returns cleanly when it hangs up.
func TestListenMode_RelaysOneSession(t *testing.T) {
	f := transporttest.New()
	stdin, stdinW := io.Pipe()
	defer stdinW.Close()
	out := &syncBuffer{}

	mode := &ListenMode{
		Manager:    newManager(f),
		Capability: &capability.Relay{Stdin: stdin, Stdout: out},
		Logger:     util.NewLogger(0),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mode.Run(ctx) }()

	l, ok := f.NextListener(waitTimeout)
	require.True(t, ok)
	peer, err := l.Connect("AA:BB:CC:DD:EE:01")
	require.NoError(t, err)

	_, err = peer.Write([]byte("from peer\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return out.String() == "from peer\n" }, waitTimeout, time.Millisecond)

	go stdinW.Write([]byte("from stdin")) //nolint:errcheck
	got := make([]byte, len("from stdin"))
	peer.SetReadDeadline(time.Now().Add(waitTimeout)) //nolint:errcheck
	_, err = io.ReadFull(peer, got)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(got))

	peer.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("listen mode did not return after the peer hung up")
	}
	assert.Equal(t, 0, f.LiveListeners())
}

// TestListenMode_Relisten verifies the mode keeps serving peers until
// cancelled.
func TestListenMode_Relisten(t *testing.T) {
	f := transporttest.New()
	stdin, stdinW := io.Pipe()
	defer stdinW.Close()
	out := &syncBuffer{}

	mode := &ListenMode{
		Manager:    manager.New(f, manager.WithRelisten(true)),
		Capability: &capability.Relay{Stdin: stdin, Stdout: out},
		Relisten:   true,
		Logger:     util.NewLogger(0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mode.Run(ctx) }()

	for i, msg := range []string{"one\n", "two\n"} {
		l, ok := f.NextListener(waitTimeout)
		require.True(t, ok, "listener %d", i)
		peer, err := l.Connect("AA:BB:CC:DD:EE:01")
		require.NoError(t, err)
		peer.Write([]byte(msg)) //nolint:errcheck
		require.Eventually(t, func() bool { return strings.HasSuffix(out.String(), msg) }, waitTimeout, time.Millisecond)
		peer.Close()
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("listen mode did not return after cancel")
	}
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestListenMode_BindError(t *testing.T) {
	f := transporttest.New()
	f.FailListen(errors.New("busy"))
	mode := &ListenMode{
		Manager:    newManager(f),
		Capability: &capability.Relay{Stdin: strings.NewReader(""), Stdout: io.Discard},
		Logger:     util.NewLogger(0),
	}

	err := mode.Run(context.Background())
	assert.ErrorIs(t, err, bterr.ErrBind)
}

// TestConnectMode_Relay verifies data flows both ways over a dialed
// link and the run ends when the link drops.
func TestConnectMode_Relay(t *testing.T) {
	f := transporttest.New()
	opener, peers := transporttest.PipeOpener("profile")
	f.SetOpeners(opener)
	out := &syncBuffer{}

	mode := &ConnectMode{
		Manager:    newManager(f),
		Capability: &capability.Relay{Stdin: strings.NewReader("payload from client"), Stdout: out},
		Endpoint:   transport.Endpoint{Address: transport.MustParseAddress("AA:BB:CC:DD:EE:02")},
		Logger:     util.NewLogger(0),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mode.Run(ctx) }()

	var peer net.Conn
	select {
	case peer = <-peers:
	case <-time.After(waitTimeout):
		t.Fatal("never dialed")
	}

	got := make([]byte, len("payload from client"))
	peer.SetReadDeadline(time.Now().Add(waitTimeout)) //nolint:errcheck
	_, err := io.ReadFull(peer, got)
	require.NoError(t, err)
	assert.Equal(t, "payload from client", string(got))

	peer.Write([]byte("hello from device\n")) //nolint:errcheck
	require.Eventually(t, func() bool { return out.String() == "hello from device\n" }, waitTimeout, time.Millisecond)

	peer.Close()
	assert.NoError(t, <-done)
}

// TestConnectMode_DialFailure verifies a dial that never connects is
// returned as the run's error.
func TestConnectMode_DialFailure(t *testing.T) {
	f := transporttest.New()
	f.SetOpeners(
		transporttest.FailingOpener("profile", errors.New("sdp")),
		transporttest.FailingOpener("socket", errors.New("host is down")),
	)
	mode := &ConnectMode{
		Manager:    newManager(f),
		Capability: &capability.Relay{Stdin: strings.NewReader(""), Stdout: io.Discard},
		Endpoint:   transport.Endpoint{Address: transport.MustParseAddress("AA:BB:CC:DD:EE:02")},
		Logger:     util.NewLogger(0),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	err := mode.Run(ctx)
	assert.ErrorIs(t, err, bterr.ErrDialFailure)
	assert.Contains(t, err.Error(), "host is down")
}

func TestConnectMode_AdapterUnavailable(t *testing.T) {
	f := transporttest.New()
	f.SetAdapter(transport.AdapterInfo{}, errors.New("no adapter"))
	mode := &ConnectMode{
		Manager:    newManager(f),
		Capability: &capability.Relay{Stdin: strings.NewReader(""), Stdout: io.Discard},
		Endpoint:   transport.Endpoint{Address: transport.MustParseAddress("AA:BB:CC:DD:EE:02")},
		Logger:     util.NewLogger(0),
	}

	err := mode.Run(context.Background())
	assert.ErrorIs(t, err, bterr.ErrAdapterUnavailable)
}

func TestAddressMode(t *testing.T) {
	var out bytes.Buffer
	mode := &AddressMode{Manager: newManager(transporttest.New()), Stdout: &out}

	require.NoError(t, mode.Run(context.Background()))
	assert.Equal(t, "00:11:22:33:44:55\n", out.String())
}

func TestAddressMode_Unavailable(t *testing.T) {
	f := transporttest.New()
	f.SetAdapter(transport.AdapterInfo{}, errors.New("bus down"))
	mode := &AddressMode{Manager: newManager(f), Stdout: io.Discard}

	assert.ErrorIs(t, mode.Run(context.Background()), bterr.ErrAdapterUnavailable)
}
