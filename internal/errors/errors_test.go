package errors

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
)

func TestTransportError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want string
	}{
		{
			name: "dial with address",
			err:  Dial("AA:BB:CC:DD:EE:FF", fmt.Errorf("host is down")),
			want: "dial AA:BB:CC:DD:EE:FF: host is down",
		},
		{
			name: "bind without address",
			err:  Bind("", fmt.Errorf("address in use")),
			want: "listen: address in use",
		},
		{
			name: "no cause falls back to class",
			err:  &TransportError{Op: "read", Kind: ErrIO},
			want: "read: connection I/O failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// TestTransportError_Unwrap verifies that a TransportError matches its
// class and its underlying cause.
func TestTransportError_Unwrap(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class error
	}{
		{"bind", Bind("ch 1", io.EOF), ErrBind},
		{"accept", Accept("ch 1", io.EOF), ErrIO},
		{"dial", Dial("x", io.EOF), ErrDialFailure},
		{"io", IO("read", "x", io.EOF), ErrIO},
		{"adapter", Adapter("address", io.EOF), ErrAdapterUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, tt.class) {
				t.Errorf("%v should match class %v", tt.err, tt.class)
			}
			if !Is(tt.err, io.EOF) {
				t.Errorf("%v should unwrap to io.EOF", tt.err)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			var te *TransportError
			if !As(wrapped, &te) {
				t.Error("As should find TransportError through wrapping")
			}
		})
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "channel",
				Value:   42,
				Message: "out of range 1-30",
				Hint:    "RFCOMM channels are numbered 1 to 30",
			},
			want: "config: --channel=42: out of range 1-30\n  hint: RFCOMM channels are numbered 1 to 30",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "address",
				Message: "required unless -l is given",
			},
			want: "config: --address: required unless -l is given",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestIsCancellation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"listener closed", fmt.Errorf("accept: %w", ErrListenerClosed), true},
		{"closed file", os.ErrClosed, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"context", context.Canceled, true},
		{"eof", io.EOF, false},
		{"dial failure", Dial("x", fmt.Errorf("refused")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCancellation(tt.err); got != tt.want {
				t.Errorf("IsCancellation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSentinels(t *testing.T) {
	// Verify sentinel errors are distinct.
	sentinels := []error{
		ErrAdapterUnavailable, ErrBind, ErrDialFailure, ErrAlreadyConnected,
		ErrIO, ErrInvalidAddress, ErrNotConnected, ErrClosed,
		ErrNotSupported, ErrListenerClosed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}
