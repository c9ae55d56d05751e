//go:build linux

package transport

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/unix"

	bterr "btserial/internal/errors"
)

// Raw RFCOMM sockets.  File descriptors are nonblocking and wrapped in
// *os.File so reads, writes and accepts park on the runtime poller and
// Close wakes them.

// fileConn is an RFCOMM link backed by a socket descriptor.
type fileConn struct {
	f      *os.File
	remote Address
}

func newFileConn(fd int, remote Address) (*fileConn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, err
	}
	return &fileConn{f: os.NewFile(uintptr(fd), "rfcomm:"+remote.String()), remote: remote}, nil
}

func (c *fileConn) Read(p []byte) (int, error)  { return c.f.Read(p) }
func (c *fileConn) Write(p []byte) (int, error) { return c.f.Write(p) }
func (c *fileConn) Close() error                { return c.f.Close() }
func (c *fileConn) Remote() string              { return c.remote.String() }

func rfcommSocket() (int, error) {
	return unix.Socket(unix.AF_BLUETOOTH,
		unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.BTPROTO_RFCOMM)
}

// socketListener accepts on a bound RFCOMM channel.  No SDP record is
// published; peers must know the channel.
type socketListener struct {
	f       *os.File
	channel uint8
	closed  atomic.Bool
}

func listenSocket(local Address, channel uint8) (*socketListener, error) {
	addr := "channel " + strconv.Itoa(int(channel))
	fd, err := rfcommSocket()
	if err != nil {
		return nil, bterr.Adapter("socket", err)
	}
	sa := &unix.SockaddrRFCOMM{Addr: local.reversed(), Channel: channel}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, bterr.Bind(addr, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd) //nolint:errcheck
		return nil, bterr.Bind(addr, err)
	}
	return &socketListener{f: os.NewFile(uintptr(fd), "rfcomm-listen"), channel: channel}, nil
}

func (l *socketListener) Accept() (Conn, error) {
	rc, err := l.f.SyscallConn()
	if err != nil {
		return nil, bterr.ErrListenerClosed
	}

	var (
		nfd  int
		sa   unix.Sockaddr
		aerr error
	)
	err = rc.Read(func(fd uintptr) bool {
		nfd, sa, aerr = unix.Accept4(int(fd), unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		return aerr != unix.EAGAIN
	})
	if l.closed.Load() {
		if err == nil && aerr == nil {
			unix.Close(nfd) //nolint:errcheck
		}
		return nil, bterr.ErrListenerClosed
	}
	if err != nil {
		return nil, err
	}
	if aerr != nil {
		return nil, aerr
	}

	var remote Address
	if rsa, ok := sa.(*unix.SockaddrRFCOMM); ok {
		remote = addressFromReversed(rsa.Addr)
	}
	return newFileConn(nfd, remote)
}

func (l *socketListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.f.Close()
}

func (l *socketListener) Addr() string {
	return "rfcomm channel " + strconv.Itoa(int(l.channel))
}

// dialSocket connects straight to a channel without an SDP lookup.
func dialSocket(ctx context.Context, addr Address, channel uint8) (*fileConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fd, err := rfcommSocket()
	if err != nil {
		return nil, bterr.Adapter("socket", err)
	}

	// Start the connect before handing the descriptor to the poller.
	sa := &unix.SockaddrRFCOMM{Addr: addr.reversed(), Channel: channel}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd) //nolint:errcheck
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "rfcomm:"+addr.String())
	stop := context.AfterFunc(ctx, func() { f.Close() }) //nolint:errcheck

	rc, err := f.SyscallConn()
	if err != nil {
		stop()
		f.Close() //nolint:errcheck
		return nil, err
	}

	var serr error
	werr := rc.Write(func(fd uintptr) bool {
		n, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			serr = err
			return true
		}
		switch e := unix.Errno(n); e {
		case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
			return false
		case 0:
			if _, err := unix.Getpeername(int(fd)); err != nil {
				return false
			}
			serr = nil
			return true
		default:
			serr = e
			return true
		}
	})

	if !stop() {
		f.Close() //nolint:errcheck
		return nil, ctx.Err()
	}
	if werr == nil {
		werr = serr
	}
	if werr != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("channel %d: %w", channel, werr)
	}
	return &fileConn{f: f, remote: addr}, nil
}

// socketOpener dials a fixed channel.
type socketOpener struct {
	channel uint8
}

func (o socketOpener) Name() string {
	return "socket:" + strconv.Itoa(int(o.channel))
}

func (o socketOpener) Open(ctx context.Context, addr Address) (Conn, error) {
	c, err := dialSocket(ctx, addr, o.channel)
	if err != nil {
		return nil, err
	}
	return c, nil
}
