// Package errors provides domain-specific error types for btserial.
//
// Every failure the connection manager can report belongs to one of the
// sentinel classes below.  TransportError carries the operation, the
// device address and the underlying cause, and matches both its class
// and its cause with errors.Is.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	ErrBind               = errors.New("cannot bind listening socket")
	ErrDialFailure        = errors.New("outbound connection failed")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrIO                 = errors.New("connection I/O failure")
	ErrInvalidAddress     = errors.New("invalid device address")
	ErrNotConnected       = errors.New("not connected")
	ErrClosed             = errors.New("manager is closed")
	ErrNotSupported       = errors.New("not supported on this platform")
	ErrListenerClosed     = errors.New("listener closed")
)

// ── Structured error types ───────────────────────────────────────────

// TransportError represents a failure in a transport operation.
type TransportError struct {
	Op   string // operation: "listen", "accept", "dial", "read", "write"
	Addr string // device address or channel involved
	Kind error  // one of the sentinel classes above
	Err  error  // underlying error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.cause())
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.cause())
}

func (e *TransportError) cause() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Unwrap exposes both the class and the cause to errors.Is / errors.As.
func (e *TransportError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Bind wraps a listen-side failure.
func Bind(addr string, err error) *TransportError {
	return &TransportError{Op: "listen", Addr: addr, Kind: ErrBind, Err: err}
}

// Accept wraps a failure while waiting for an inbound connection.
func Accept(addr string, err error) *TransportError {
	return &TransportError{Op: "accept", Addr: addr, Kind: ErrIO, Err: err}
}

// Dial wraps an outbound connection failure.
func Dial(addr string, err error) *TransportError {
	return &TransportError{Op: "dial", Addr: addr, Kind: ErrDialFailure, Err: err}
}

// IO wraps a read or write failure on an established connection.
func IO(op, addr string, err error) *TransportError {
	return &TransportError{Op: op, Addr: addr, Kind: ErrIO, Err: err}
}

// Adapter wraps a failure to reach the local adapter.
func Adapter(op string, err error) *TransportError {
	return &TransportError{Op: op, Kind: ErrAdapterUnavailable, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsCancellation reports whether err is the result of a deliberate
// close or cancel rather than a real failure.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrListenerClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled)
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use btserial/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
