// Package capability defines what the command line does with an
// established channel.  Each Capability encapsulates a single behaviour
// (relay stdio, run a program per record) and operates on a Channel
// rather than on the connection manager, which keeps capabilities
// testable without a radio.
package capability

import (
	"context"

	"btserial/internal/manager"
)

// Channel is the part of the connection manager a capability drives.
// *manager.Manager implements it.
type Channel interface {
	Send(p []byte) error
	Subscribe(kind manager.EventKind, h manager.Handler)
	SubscribeData(delim string, h manager.Handler)
}

// Capability runs against a channel until ctx is cancelled.  It keeps
// working across reconnects; the caller decides when the run is over.
type Capability interface {
	Handle(ctx context.Context, ch Channel) error
}

var _ Channel = (*manager.Manager)(nil)
