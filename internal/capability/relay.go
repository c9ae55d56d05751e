package capability

import (
	"context"
	"io"
	"os"
	"sync"

	"btserial/internal/manager"
	"btserial/util"
)

// Relay copies stdin to the channel and every raw chunk from the
// channel to stdout, the default interactive / pipe mode.
type Relay struct {
	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer
	Logger *util.Logger
}

func (r *Relay) stdin() io.Reader {
	if r.Stdin != nil {
		return r.Stdin
	}
	return os.Stdin
}

func (r *Relay) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

// Handle shuttles bytes until ctx is cancelled.  Stdin is read only
// once the first link is up, so piped input is not lost to an early
// send.  Reaching EOF on stdin stops sending but keeps printing what
// the peer sends.  Input typed while no session is live is dropped,
// like any send without a link.
func (r *Relay) Handle(ctx context.Context, ch Channel) error {
	out := r.stdout()
	printRaw := func(ev manager.Event) {
		if _, err := out.Write(ev.Data); err != nil && r.Logger != nil {
			r.Logger.Warn("relay: stdout: %v", err)
		}
	}

	// Raw data for a session is queued after its connect event, so
	// subscribing from the connect handler misses nothing.
	connected := make(chan struct{})
	var once sync.Once
	ch.Subscribe(manager.EventConnect, func(manager.Event) {
		once.Do(func() {
			ch.Subscribe(manager.EventRawData, printRaw)
			close(connected)
		})
	})
	defer ch.Subscribe(manager.EventRawData, nil)
	defer ch.Subscribe(manager.EventConnect, nil)

	select {
	case <-ctx.Done():
		return nil
	case <-connected:
	}

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- util.PumpChunks(ctx, r.stdin(), ch.Send)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-pumpErr:
		if err != nil && ctx.Err() == nil {
			return err
		}
		if r.Logger != nil {
			r.Logger.Debug("relay: stdin closed")
		}
	}
	<-ctx.Done()
	return nil
}
