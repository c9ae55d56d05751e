package transport

import (
	"encoding/hex"
	"fmt"
	"strings"

	bterr "btserial/internal/errors"
)

// Address is a 48-bit Bluetooth device address, most significant byte
// first (the order it is printed in).
type Address [6]byte

// ParseAddress accepts "AA:BB:CC:DD:EE:FF" or "aa-bb-cc-dd-ee-ff".
// Anything else fails with errors.ErrInvalidAddress.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if len(s) != 17 {
		return a, fmt.Errorf("%w: %q", bterr.ErrInvalidAddress, s)
	}
	sep := s[2]
	if sep != ':' && sep != '-' {
		return a, fmt.Errorf("%w: %q", bterr.ErrInvalidAddress, s)
	}
	for i := 0; i < 6; i++ {
		part := s[i*3 : i*3+2]
		if i < 5 && s[i*3+2] != sep {
			return a, fmt.Errorf("%w: %q", bterr.ErrInvalidAddress, s)
		}
		b, err := hex.DecodeString(part)
		if err != nil {
			return a, fmt.Errorf("%w: %q", bterr.ErrInvalidAddress, s)
		}
		a[i] = b[0]
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is 00:00:00:00:00:00, which is never a
// dialable device.
func (a Address) IsZero() bool { return a == Address{} }

// String returns the canonical upper-case colon form.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// reversed returns the bytes in the little-endian order the kernel's
// bdaddr_t uses.
func (a Address) reversed() [6]uint8 {
	var r [6]uint8
	for i := range a {
		r[i] = a[5-i]
	}
	return r
}

func addressFromReversed(r [6]uint8) Address {
	var a Address
	for i := range r {
		a[i] = r[5-i]
	}
	return a
}
