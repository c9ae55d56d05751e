// Package transport provides abstractions for RFCOMM connection
// establishment.  Transports handle the "how" of opening a serial link
// to a Bluetooth device (BlueZ profiles or raw sockets) independent of
// what happens over the link, which is the connection manager's job.
package transport

import (
	"context"
	"io"
)

// Fixed protocol parameters shared with existing peers.
const (
	// ServiceUUID identifies the serial service in the SDP record and on
	// outbound profile connections.
	ServiceUUID = "77718142-b389-4772-93bd-52bdbb2c0777"

	// DefaultServiceName is the human-readable SDP label.
	DefaultServiceName = "btserial"

	// DefaultChannel is the RFCOMM channel a listener binds to.
	DefaultChannel uint8 = 1

	// FallbackChannel is the channel the fallback dialer connects to
	// directly, bypassing SDP.
	FallbackChannel uint8 = 1

	// MaxChannel is the highest valid RFCOMM channel number.
	MaxChannel uint8 = 30
)

// Conn is an established RFCOMM link.  Close unblocks pending reads and
// writes.
type Conn interface {
	io.ReadWriteCloser

	// Remote returns the peer's device address.
	Remote() string
}

// Service describes what a listener advertises.
type Service struct {
	UUID    string
	Name    string
	Channel uint8
}

// DefaultService returns the service record used when nothing is
// configured.
func DefaultService() Service {
	return Service{UUID: ServiceUUID, Name: DefaultServiceName, Channel: DefaultChannel}
}

// Listener yields inbound connections.  Close makes a blocked Accept
// return an error matching errors.ErrListenerClosed.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// Opener is one strategy for opening an outbound connection.
// Implementations close any partially opened socket before returning
// an error, and abort when ctx is cancelled.
type Opener interface {
	Name() string
	Open(ctx context.Context, addr Address) (Conn, error)
}

// AdapterInfo describes the local Bluetooth adapter.
type AdapterInfo struct {
	Name    string // e.g. "hci0"
	Address Address
	Alias   string
	Powered bool
}

// Factory binds listeners, supplies the ordered dial strategies and
// answers adapter queries.  The connection manager receives one at
// construction.
type Factory interface {
	// Listen binds synchronously.  Errors match errors.ErrBind or
	// errors.ErrAdapterUnavailable.
	Listen(ctx context.Context, svc Service) (Listener, error)

	// Openers returns the outbound strategies, primary first.
	Openers() []Opener

	// Adapter reports the local adapter, or an error matching
	// errors.ErrAdapterUnavailable.
	Adapter(ctx context.Context) (AdapterInfo, error)
}

// Endpoint is a device to dial.
type Endpoint struct {
	Address Address
	Name    string // optional, for logs
}

func (e Endpoint) String() string {
	if e.Name == "" {
		return e.Address.String()
	}
	return e.Name + " (" + e.Address.String() + ")"
}
