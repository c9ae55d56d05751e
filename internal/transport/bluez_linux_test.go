//go:build linux

package transport

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

func TestDevicePath(t *testing.T) {
	a := MustParseAddress("00:1A:7D:DA:71:13")
	p := devicePath("/org/bluez/hci0", a)
	if p != "/org/bluez/hci0/dev_00_1A_7D_DA_71_13" {
		t.Errorf("devicePath = %q", p)
	}
	if got := addressFromPath(p); got != a {
		t.Errorf("addressFromPath = %v, want %v", got, a)
	}
	if got := addressFromPath("/org/bluez/hci0"); !got.IsZero() {
		t.Errorf("adapter path should yield zero address, got %v", got)
	}
}

func testPipeFD(t *testing.T) (int, int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	return fds[0], fds[1]
}

// TestProfile_NewConnectionDelivers verifies an armed profile hands the
// descriptor to the waiter exactly once.
func TestProfile_NewConnectionDelivers(t *testing.T) {
	r, w := testPipeFD(t)
	defer unix.Close(w)

	p := &profile{single: true}
	ch := p.arm(Address{})

	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	if derr := p.NewConnection(dev, dbus.UnixFD(r), nil); derr != nil {
		t.Fatalf("NewConnection rejected: %v", derr)
	}

	c := <-ch
	defer c.Close()
	if c.Remote() != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Remote() = %q", c.Remote())
	}

	r2, w2 := testPipeFD(t)
	defer unix.Close(w2)
	if derr := p.NewConnection(dev, dbus.UnixFD(r2), nil); derr == nil || derr.Name != bluezRejected {
		t.Errorf("second connection on single-shot profile: %v", derr)
	}
}

// TestProfile_RejectsUnexpected verifies links arriving with nobody
// waiting, or from the wrong device, are rejected.
func TestProfile_RejectsUnexpected(t *testing.T) {
	p := &profile{}

	r, w := testPipeFD(t)
	defer unix.Close(w)
	if derr := p.NewConnection("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", dbus.UnixFD(r), nil); derr == nil {
		t.Error("unarmed profile accepted a connection")
	}

	p.arm(MustParseAddress("11:22:33:44:55:66"))
	r2, w2 := testPipeFD(t)
	defer unix.Close(w2)
	if derr := p.NewConnection("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", dbus.UnixFD(r2), nil); derr == nil {
		t.Error("profile accepted a connection from the wrong device")
	}
}
