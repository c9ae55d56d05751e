package core

import (
	"context"

	"btserial/internal/capability"
	"btserial/internal/manager"
	"btserial/internal/transport"
	"btserial/util"
)

// ConnectMode dials a remote device and runs a capability on the
// resulting link, the default client mode.  It returns when the link
// drops, or with the dial error if it never came up.
type ConnectMode struct {
	Manager    *manager.Manager
	Capability capability.Capability
	Endpoint   transport.Endpoint
	Logger     *util.Logger
}

// Run dials the endpoint and hands the channel to the capability.  The
// manager is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Manager.Close()

	return runChannel(ctx, m.Manager, m.Capability, m.Logger, false, func() error {
		m.Logger.Verbose("connecting to %s", m.Endpoint)
		return m.Manager.Connect(m.Endpoint)
	})
}
