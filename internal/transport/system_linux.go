//go:build linux

package transport

import (
	"context"
	"fmt"
	"sync"

	bterr "btserial/internal/errors"
)

// System is the Linux Factory: BlueZ over D-Bus for adapter queries and
// profile-based links, raw RFCOMM sockets for the socket backend and
// the fallback dialer.
type System struct {
	opts    SystemOptions
	bz      *bluez
	openers []Opener
	profile *profileOpener

	mu      sync.Mutex
	closed  bool
	cleanup []func()
}

// NewSystem connects to the system bus.  It does not require an
// adapter to be present yet.
func NewSystem(opts SystemOptions) (*System, error) {
	opts.withDefaults()
	switch opts.Backend {
	case BackendProfile, BackendSocket:
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}

	bz, err := dialBluez(opts.Adapter)
	if err != nil {
		return nil, err
	}
	s := &System{opts: opts, bz: bz}
	s.cleanup = append(s.cleanup, func() { bz.close() }) //nolint:errcheck

	if opts.Backend == BackendProfile {
		s.profile = &profileOpener{bz: bz, uuid: opts.UUID}
		s.cleanup = append(s.cleanup, s.profile.close)
		s.openers = []Opener{s.profile, socketOpener{channel: opts.FallbackChannel}}
	} else {
		s.openers = []Opener{socketOpener{channel: opts.Channel}, socketOpener{channel: opts.FallbackChannel}}
	}
	return s, nil
}

// Listen binds according to the configured backend.
func (s *System) Listen(ctx context.Context, svc Service) (Listener, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	info, _, err := s.bz.adapterInfo(ctx)
	if err != nil {
		return nil, err
	}
	if !info.Powered {
		return nil, bterr.Adapter("listen", fmt.Errorf("%s is powered off", info.Name))
	}
	if s.opts.Backend == BackendSocket {
		return listenSocket(info.Address, svc.Channel)
	}
	return listenProfile(ctx, s.bz, svc)
}

// Openers returns the primary strategy followed by the fallback.
func (s *System) Openers() []Opener { return s.openers }

// Adapter reports the configured adapter.  A powered-off adapter is
// reported as unavailable.
func (s *System) Adapter(ctx context.Context) (AdapterInfo, error) {
	if err := s.checkOpen(); err != nil {
		return AdapterInfo{}, err
	}
	info, _, err := s.bz.adapterInfo(ctx)
	if err != nil {
		return AdapterInfo{}, err
	}
	if !info.Powered {
		return info, bterr.Adapter("adapter", fmt.Errorf("%s is powered off", info.Name))
	}
	return info, nil
}

// Close unregisters profiles and closes the bus connection.
func (s *System) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cleanup := s.cleanup
	s.cleanup = nil
	s.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	return nil
}

func (s *System) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return bterr.Adapter("system", bterr.ErrClosed)
	}
	return nil
}
