package core

import (
	"context"

	"btserial/internal/host"
	"btserial/internal/manager"
	"btserial/util"
)

// ServeMode exposes the manager's action API over WebSocket until the
// context is cancelled.  Clients decide when to listen or connect.
type ServeMode struct {
	Manager *manager.Manager
	Server  *host.Server
	Address string
	Logger  *util.Logger
}

// Run serves clients on Address.
func (m *ServeMode) Run(ctx context.Context) error {
	defer m.Manager.Close()

	m.Logger.Verbose("serving the action API on %s/ws", m.Address)
	return m.Server.ListenAndServe(ctx, m.Address)
}
