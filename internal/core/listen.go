package core

import (
	"context"

	"btserial/internal/capability"
	"btserial/internal/manager"
	"btserial/util"
)

// ListenMode waits for an inbound link and runs a capability on it.
// With Relisten it keeps serving one peer after another until the
// context is cancelled; otherwise it returns when the first session
// ends.
type ListenMode struct {
	Manager    *manager.Manager
	Capability capability.Capability
	Relisten   bool
	Logger     *util.Logger
}

// Run starts listening and hands the channel to the capability.
func (m *ListenMode) Run(ctx context.Context) error {
	defer m.Manager.Close()

	return runChannel(ctx, m.Manager, m.Capability, m.Logger, m.Relisten, func() error {
		if err := m.Manager.Listen(); err != nil {
			return err
		}
		m.Logger.Verbose("waiting for a connection")
		return nil
	})
}
