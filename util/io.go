package util

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
)

// DefaultBufSize is the read size used for RFCOMM sessions (1 KiB).
const DefaultBufSize = 1024

// PumpChunks reads r in [DefaultBufSize] chunks and hands each one to
// fn until r reaches EOF, fn fails, or ctx is cancelled.  fn receives
// a copy it may keep.
//
// A blocked Read is not interrupted by ctx; callers that need prompt
// shutdown close r themselves.
func PumpChunks(ctx context.Context, r io.Reader, fn func([]byte) error) error {
	buf := GetBuf()
	defer PutBuf(buf)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(*buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, (*buf)[:n])
			if ferr := fn(chunk); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if IsHarmless(err) {
				return nil
			}
			return err
		}
	}
}

// IsHarmless returns true for errors that are expected during shutdown.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
