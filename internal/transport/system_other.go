//go:build !linux

package transport

import (
	"context"

	bterr "btserial/internal/errors"
)

// System is unavailable off Linux; NewSystem always fails.
type System struct{}

// NewSystem reports that no RFCOMM stack is available.
func NewSystem(opts SystemOptions) (*System, error) {
	return nil, bterr.Adapter("system", bterr.ErrNotSupported)
}

func (s *System) Listen(context.Context, Service) (Listener, error) {
	return nil, bterr.Adapter("listen", bterr.ErrNotSupported)
}

func (s *System) Openers() []Opener { return nil }

func (s *System) Adapter(context.Context) (AdapterInfo, error) {
	return AdapterInfo{}, bterr.Adapter("adapter", bterr.ErrNotSupported)
}

func (s *System) Close() error { return nil }
