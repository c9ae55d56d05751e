// Package core is the orchestration layer.  It composes the connection
// manager, capabilities and the host bridge into complete operational
// modes and provides a builder that selects the right mode from a
// Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  manager  →  capability / host  →  core  →  cmd (CLI)
package core

import (
	"context"
	"sync"

	bterr "btserial/internal/errors"
	"btserial/internal/capability"
	"btserial/internal/manager"
	"btserial/util"
)

// Mode represents a complete operational mode of btserial (connect,
// listen, serve or address).  Each mode owns its manager from the first
// operation to Close.
type Mode interface {
	Run(ctx context.Context) error
}

// runChannel drives c on m until ctx is cancelled or the run ends.
// start issues the first operation (Listen or Connect) once c has
// subscribed, so no early data is missed.  A session that ends after
// connecting finishes the run cleanly; a failure before any link was
// established is returned.  With keepGoing set, losses are logged and
// the run continues (the manager relistens on its own).
func runChannel(ctx context.Context, m *manager.Manager, c capability.Capability,
	logger *util.Logger, keepGoing bool, start func() error) error {

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer func() {
		if logger.Level() >= util.LogDebug {
			logger.Debug("channel stats: %s", m.Stats().JSON())
		}
	}()

	m.Subscribe(manager.EventLost, func(ev manager.Event) {
		switch {
		case keepGoing:
			logger.Warn("connection lost: %v", ev.Err)
		case ev.Session != "":
			logger.Verbose("connection to %s closed: %v", ev.Remote, ev.Err)
			cancel(nil)
		default:
			cancel(ev.Err)
		}
	})
	defer m.Subscribe(manager.EventLost, nil)

	ch := &armedChannel{Channel: m, ready: make(chan struct{})}
	handled := make(chan error, 1)
	go func() { handled <- c.Handle(runCtx, ch) }()

	select {
	case <-ch.ready:
	case err := <-handled:
		return err
	}
	if err := start(); err != nil {
		cancel(err)
		<-handled
		return err
	}

	if err := <-handled; err != nil {
		return err
	}
	if cause := context.Cause(runCtx); cause != nil && !bterr.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// armedChannel closes ready on the capability's first subscription.
type armedChannel struct {
	capability.Channel
	once  sync.Once
	ready chan struct{}
}

func (a *armedChannel) Subscribe(kind manager.EventKind, h manager.Handler) {
	a.Channel.Subscribe(kind, h)
	a.once.Do(func() { close(a.ready) })
}

func (a *armedChannel) SubscribeData(delim string, h manager.Handler) {
	a.Channel.SubscribeData(delim, h)
	a.once.Do(func() { close(a.ready) })
}
