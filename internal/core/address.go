package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"btserial/internal/manager"
)

// AddressMode prints the local adapter address and exits.
type AddressMode struct {
	Manager *manager.Manager

	// Stdout defaults to os.Stdout when nil.
	Stdout io.Writer
}

// Run queries the adapter.
func (m *AddressMode) Run(_ context.Context) error {
	defer m.Manager.Close()

	addr, err := m.Manager.LocalAddress()
	if err != nil {
		return err
	}
	out := m.Stdout
	if out == nil {
		out = os.Stdout
	}
	_, err = fmt.Fprintln(out, addr)
	return err
}
