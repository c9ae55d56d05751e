//go:build linux

package transport

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"

	bterr "btserial/internal/errors"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
	adapterIface        = "org.bluez.Adapter1"
	objManagerIface     = "org.freedesktop.DBus.ObjectManager"
	bluezRejected       = "org.bluez.Error.Rejected"
)

var profilePathCounter uint64

func nextProfilePath(role string) dbus.ObjectPath {
	id := atomic.AddUint64(&profilePathCounter, 1)
	return dbus.ObjectPath("/btserial/profile/" + role + strconv.FormatUint(id, 10))
}

// bluez wraps a private system bus connection.
type bluez struct {
	bus     *dbus.Conn
	adapter string // "hci0"; empty picks the first adapter found
}

func dialBluez(adapter string) (*bluez, error) {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, bterr.Adapter("system bus", err)
	}
	return &bluez{bus: bus, adapter: adapter}, nil
}

func (b *bluez) close() error { return b.bus.Close() }

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func (b *bluez) managedObjects(ctx context.Context) (managedObjects, error) {
	var objs managedObjects
	call := b.bus.Object(bluezService, "/").CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// adapterInfo finds the configured adapter, or the first one when none
// is configured.
func (b *bluez) adapterInfo(ctx context.Context) (AdapterInfo, dbus.ObjectPath, error) {
	objs, err := b.managedObjects(ctx)
	if err != nil {
		return AdapterInfo{}, "", bterr.Adapter("adapter", err)
	}

	var paths []string
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok {
			paths = append(paths, string(path))
		}
	}
	if len(paths) == 0 {
		return AdapterInfo{}, "", bterr.Adapter("adapter", fmt.Errorf("no adapter present"))
	}

	var chosen string
	if b.adapter == "" {
		chosen = paths[0]
		for _, p := range paths[1:] {
			if p < chosen {
				chosen = p
			}
		}
	} else {
		for _, p := range paths {
			if strings.HasSuffix(p, "/"+b.adapter) {
				chosen = p
				break
			}
		}
		if chosen == "" {
			return AdapterInfo{}, "", bterr.Adapter("adapter", fmt.Errorf("%s not found", b.adapter))
		}
	}

	path := dbus.ObjectPath(chosen)
	props := objs[path][adapterIface]
	info := AdapterInfo{Name: chosen[strings.LastIndex(chosen, "/")+1:]}
	if v, ok := props["Address"]; ok {
		s, _ := v.Value().(string)
		if a, err := ParseAddress(s); err == nil {
			info.Address = a
		}
	}
	if v, ok := props["Alias"]; ok {
		info.Alias, _ = v.Value().(string)
	}
	if v, ok := props["Powered"]; ok {
		info.Powered, _ = v.Value().(bool)
	}
	return info, path, nil
}

// devicePath builds BlueZ's object path for addr under the adapter.
func devicePath(adapter dbus.ObjectPath, addr Address) dbus.ObjectPath {
	return adapter + "/dev_" + dbus.ObjectPath(strings.ReplaceAll(addr.String(), ":", "_"))
}

func addressFromPath(p dbus.ObjectPath) Address {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return Address{}
	}
	a, _ := ParseAddress(strings.ReplaceAll(s[idx+5:], "_", ":"))
	return a
}

// profile implements org.bluez.Profile1.  BlueZ hands each new RFCOMM
// link to NewConnection as a file descriptor; a link nobody is waiting
// for is closed and rejected.
type profile struct {
	mu      sync.Mutex
	waiting chan *fileConn
	expect  Address // zero accepts any device
	single  bool    // reject everything after the first delivery
	done    bool
}

func (p *profile) arm(expect Address) chan *fileConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiting = make(chan *fileConn, 1)
	p.expect = expect
	return p.waiting
}

func (p *profile) disarm() {
	p.mu.Lock()
	p.waiting = nil
	p.mu.Unlock()
}

func (p *profile) Release() *dbus.Error { return nil }

func (p *profile) Cancel() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	remote := addressFromPath(dev)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiting == nil || (p.single && p.done) || (!p.expect.IsZero() && p.expect != remote) {
		os.NewFile(uintptr(fd), "rfcomm").Close() //nolint:errcheck
		return &dbus.Error{Name: bluezRejected, Body: []interface{}{"no receiver"}}
	}

	c, err := newFileConn(int(fd), remote)
	if err != nil {
		return &dbus.Error{Name: bluezRejected, Body: []interface{}{err.Error()}}
	}
	select {
	case p.waiting <- c:
		p.done = true
		return nil
	default:
		c.Close() //nolint:errcheck
		return &dbus.Error{Name: bluezRejected, Body: []interface{}{"already delivered"}}
	}
}

// registerProfile exports p and registers it with the profile manager.
// The returned func reverses both steps.
func (b *bluez) registerProfile(ctx context.Context, p *profile, path dbus.ObjectPath, uuid string, opts map[string]dbus.Variant) (func(), error) {
	if err := b.bus.Export(p, path, profileIface); err != nil {
		return nil, fmt.Errorf("export profile: %w", err)
	}
	pm := b.bus.Object(bluezService, "/org/bluez")
	if call := pm.CallWithContext(ctx, profileManagerIface+".RegisterProfile", 0, path, uuid, opts); call.Err != nil {
		b.bus.Export(nil, path, profileIface) //nolint:errcheck
		return nil, fmt.Errorf("RegisterProfile: %w", call.Err)
	}
	return func() {
		pm.Call(profileManagerIface+".UnregisterProfile", 0, path) //nolint:errcheck
		b.bus.Export(nil, path, profileIface)                      //nolint:errcheck
	}, nil
}

// profileListener publishes an SDP record through BlueZ and accepts the
// first connection made to it.
type profileListener struct {
	bz      *bluez
	svc     Service
	prof    *profile
	conns   chan *fileConn
	release func()

	once   sync.Once
	closed chan struct{}
}

func listenProfile(ctx context.Context, bz *bluez, svc Service) (*profileListener, error) {
	prof := &profile{single: true}
	conns := prof.arm(Address{})
	opts := map[string]dbus.Variant{
		"Name": dbus.MakeVariant(svc.Name),
		"Role": dbus.MakeVariant("server"),
		// BlueZ expects Channel as a uint16.
		"Channel":               dbus.MakeVariant(uint16(svc.Channel)),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
	release, err := bz.registerProfile(ctx, prof, nextProfilePath("server"), svc.UUID, opts)
	if err != nil {
		return nil, bterr.Bind("channel "+strconv.Itoa(int(svc.Channel)), err)
	}
	return &profileListener{
		bz:      bz,
		svc:     svc,
		prof:    prof,
		conns:   conns,
		release: release,
		closed:  make(chan struct{}),
	}, nil
}

func (l *profileListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, bterr.ErrListenerClosed
	}
}

func (l *profileListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.prof.disarm()
		l.release()
		// A link delivered after Accept stopped waiting would leak.
		select {
		case c := <-l.conns:
			c.Close() //nolint:errcheck
		default:
		}
	})
	return nil
}

func (l *profileListener) Addr() string {
	return fmt.Sprintf("%s (%s, channel %d)", l.svc.Name, l.svc.UUID, l.svc.Channel)
}

// profileOpener asks BlueZ to connect the service UUID on a device.
// BlueZ resolves the channel through SDP and hands the link to a client
// profile registered on first use.
type profileOpener struct {
	bz   *bluez
	uuid string

	mu      sync.Mutex
	prof    *profile
	release func()
}

func (o *profileOpener) Name() string { return "profile" }

func (o *profileOpener) ensureProfile(ctx context.Context) (*profile, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.prof != nil {
		return o.prof, nil
	}
	prof := &profile{}
	opts := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	release, err := o.bz.registerProfile(ctx, prof, nextProfilePath("client"), o.uuid, opts)
	if err != nil {
		return nil, err
	}
	o.prof = prof
	o.release = release
	return prof, nil
}

func (o *profileOpener) Open(ctx context.Context, addr Address) (Conn, error) {
	prof, err := o.ensureProfile(ctx)
	if err != nil {
		return nil, err
	}
	_, adapterPath, err := o.bz.adapterInfo(ctx)
	if err != nil {
		return nil, err
	}

	ch := prof.arm(addr)
	defer prof.disarm()

	dev := o.bz.bus.Object(bluezService, devicePath(adapterPath, addr))
	if call := dev.CallWithContext(ctx, deviceIface+".ConnectProfile", 0, o.uuid); call.Err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ConnectProfile: %w", call.Err)
	}

	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		// Disarm before draining so NewConnection cannot slip a link in.
		prof.disarm()
		select {
		case c := <-ch:
			c.Close() //nolint:errcheck
		default:
		}
		return nil, ctx.Err()
	}
}

func (o *profileOpener) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.release != nil {
		o.release()
		o.release = nil
		o.prof = nil
	}
}
