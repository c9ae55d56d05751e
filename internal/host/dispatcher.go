// Package host exposes the connection manager to remote callers as a
// small action API: a request names an action and its arguments, and
// replies come back either once or, for subscriptions and pending
// connects, repeatedly with Keep set.
package host

import (
	"encoding/json"
	"fmt"
	"sync"

	"btserial/internal/manager"
	"btserial/util"
)

// Request is one action call.
type Request struct {
	ID     string            `json:"id"`
	Action string            `json:"action"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

// Reply answers a Request.  Keep means more replies for the same ID
// will follow.
type Reply struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Keep   bool        `json:"keep,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Client is one caller's reply sink and subscriptions.
type Client struct {
	name string
	send func(Reply)
}

func (c *Client) String() string { return c.name }

// Dispatcher executes actions against a Manager and fans events out to
// every subscribed client.
type Dispatcher struct {
	m      *manager.Manager
	logger *util.Logger

	mu      sync.Mutex
	subs    map[manager.EventKind]map[*Client]string // client -> request id
	pending *pendingConnect
	seq     int
}

// pendingConnect is the deferred reply of the latest connect action.
// Only events of its own attempt answer it.
type pendingConnect struct {
	c       *Client
	id      string
	attempt manager.Attempt
}

func (p *pendingConnect) owns(ev manager.Event) bool {
	return p != nil && p.attempt == ev.Attempt
}

// NewDispatcher installs the connect and lost handlers on m.  Data
// handlers are installed only while a client subscribes, so nothing is
// buffered for nobody.
func NewDispatcher(m *manager.Manager, logger *util.Logger) *Dispatcher {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	d := &Dispatcher{
		m:      m,
		logger: logger,
		subs:   make(map[manager.EventKind]map[*Client]string),
	}
	m.Subscribe(manager.EventConnect, d.onConnect)
	m.Subscribe(manager.EventLost, d.onLost)
	return d
}

// NewClient registers a reply sink.  send is called from the manager's
// dispatcher goroutine and from Execute; it must not call back into the
// Dispatcher.
func (d *Dispatcher) NewClient(send func(Reply)) *Client {
	d.mu.Lock()
	d.seq++
	c := &Client{name: fmt.Sprintf("client-%d", d.seq), send: send}
	d.mu.Unlock()
	return c
}

// Drop forgets c's subscriptions and pending connect reply.
func (d *Dispatcher) Drop(c *Client) {
	d.mu.Lock()
	if d.pending != nil && d.pending.c == c {
		d.pending = nil
	}
	var dropData, dropRaw bool
	for kind, set := range d.subs {
		if _, ok := set[c]; !ok {
			continue
		}
		delete(set, c)
		if len(set) == 0 {
			dropData = dropData || kind == manager.EventData
			dropRaw = dropRaw || kind == manager.EventRawData
		}
	}
	d.mu.Unlock()

	if dropData {
		d.m.SubscribeData(manager.DefaultDelimiter, nil)
	}
	if dropRaw {
		d.m.Subscribe(manager.EventRawData, nil)
	}
}

// Execute runs req for c.  It reports false for an unknown action,
// after sending c an error reply.
func (d *Dispatcher) Execute(c *Client, req Request) bool {
	d.logger.Debug("%s: %s %s", c, req.Action, req.ID)

	switch req.Action {
	case "connect", "connectInsecure":
		d.connect(c, req)
	case "listen":
		d.clearPending()
		d.reply(c, req.ID, nil, d.m.Listen())
	case "disconnect":
		d.clearPending()
		d.reply(c, req.ID, nil, d.m.Disconnect())
	case "write", "send":
		p, err := bytesArg(req.Args, 0)
		if err != nil {
			d.fail(c, req.ID, err)
			return true
		}
		d.reply(c, req.ID, nil, d.m.Send(p))
	case "getAddress":
		addr, err := d.m.LocalAddress()
		d.reply(c, req.ID, addr, err)
	case "subscribe", "subscribeData":
		delim, err := stringArg(req.Args, 0)
		if err != nil {
			d.fail(c, req.ID, err)
			return true
		}
		d.subscribe(c, req.ID, manager.EventData, delim)
	case "subscribeRaw", "subscribeRawData":
		d.subscribe(c, req.ID, manager.EventRawData, "")
	case "subscribeConnect":
		d.subscribe(c, req.ID, manager.EventConnect, "")
	case "subscribeClose":
		d.subscribe(c, req.ID, manager.EventLost, "")
	case "unsubscribe":
		d.unsubscribe(c, manager.EventData)
		d.reply(c, req.ID, nil, nil)
	case "unsubscribeRaw":
		d.unsubscribe(c, manager.EventRawData)
		d.reply(c, req.ID, nil, nil)
	case "isConnected":
		if d.m.State() != manager.StateConnected {
			d.fail(c, req.ID, fmt.Errorf("not connected"))
		} else {
			d.reply(c, req.ID, true, nil)
		}
	case "state":
		d.reply(c, req.ID, d.m.State().String(), nil)
	case "stats":
		d.reply(c, req.ID, d.m.Stats(), nil)
	default:
		d.fail(c, req.ID, fmt.Errorf("unknown action %q", req.Action))
		return false
	}
	return true
}

// ── Actions ──────────────────────────────────────────────────────────

// connect replies later: Keep on success, a final error on loss.  A
// newer connect replaces the pending reply; listen and disconnect
// clear it.  A connect rejected up front leaves the previous one
// pending, since its dial is still running.
func (d *Dispatcher) connect(c *Client, req Request) {
	addr, err := stringArg(req.Args, 0)
	if err != nil {
		d.fail(c, req.ID, err)
		return
	}

	// mu is held across the dial so the new attempt's events cannot be
	// delivered before pending names it.
	d.mu.Lock()
	attempt, err := d.m.DialAddress(addr)
	if err == nil {
		d.pending = &pendingConnect{c: c, id: req.ID, attempt: attempt}
	}
	d.mu.Unlock()

	if err != nil {
		d.fail(c, req.ID, err)
	}
}

func (d *Dispatcher) clearPending() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

// subscribe registers c for kind.  Replies arrive with Keep set as
// events happen; there is no immediate acknowledgement.  The data
// delimiter is shared: the latest subscriber's delimiter applies to
// everyone.
func (d *Dispatcher) subscribe(c *Client, id string, kind manager.EventKind, delim string) {
	d.mu.Lock()
	set := d.subs[kind]
	if set == nil {
		set = make(map[*Client]string)
		d.subs[kind] = set
	}
	set[c] = id
	d.mu.Unlock()

	switch kind {
	case manager.EventData:
		d.m.SubscribeData(delim, d.onData)
	case manager.EventRawData:
		d.m.Subscribe(manager.EventRawData, d.onRaw)
	}
}

func (d *Dispatcher) unsubscribe(c *Client, kind manager.EventKind) {
	d.mu.Lock()
	set := d.subs[kind]
	delete(set, c)
	empty := len(set) == 0
	d.mu.Unlock()

	if !empty {
		return
	}
	switch kind {
	case manager.EventData:
		d.m.SubscribeData(manager.DefaultDelimiter, nil)
	case manager.EventRawData:
		d.m.Subscribe(manager.EventRawData, nil)
	}
}

// ── Event fan-out ────────────────────────────────────────────────────

type target struct {
	c  *Client
	id string
}

func (d *Dispatcher) targets(kind manager.EventKind) []target {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]target, 0, len(d.subs[kind]))
	for c, id := range d.subs[kind] {
		out = append(out, target{c, id})
	}
	return out
}

func (d *Dispatcher) fanout(kind manager.EventKind, result interface{}) {
	for _, t := range d.targets(kind) {
		t.c.send(Reply{ID: t.id, OK: true, Keep: true, Result: result})
	}
}

func (d *Dispatcher) onData(ev manager.Event) { d.fanout(manager.EventData, ev.Record) }

func (d *Dispatcher) onRaw(ev manager.Event) { d.fanout(manager.EventRawData, byteValues(ev.Data)) }

func (d *Dispatcher) onConnect(ev manager.Event) {
	d.mu.Lock()
	p := d.pending
	d.mu.Unlock()
	if p.owns(ev) {
		p.c.send(Reply{ID: p.id, OK: true, Keep: true, Result: ev.Remote})
	}
	d.fanout(manager.EventConnect, ev.Remote)
}

func (d *Dispatcher) onLost(ev manager.Event) {
	msg := "connection lost"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	d.mu.Lock()
	p := d.pending
	if p.owns(ev) {
		d.pending = nil
	} else {
		p = nil
	}
	d.mu.Unlock()
	if p != nil {
		p.c.send(Reply{ID: p.id, Error: msg})
	}
	d.fanout(manager.EventLost, msg)
}

// ── Replies ──────────────────────────────────────────────────────────

func (d *Dispatcher) reply(c *Client, id string, result interface{}, err error) {
	if err != nil {
		d.fail(c, id, err)
		return
	}
	c.send(Reply{ID: id, OK: true, Result: result})
}

func (d *Dispatcher) fail(c *Client, id string, err error) {
	d.logger.Verbose("%s: request %s failed: %v", c, id, err)
	c.send(Reply{ID: id, Error: err.Error()})
}

// ── Arguments ────────────────────────────────────────────────────────

func stringArg(args []json.RawMessage, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i+1)
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return "", fmt.Errorf("argument %d: expected a string", i+1)
	}
	return s, nil
}

// bytesArg accepts a string or an array of byte values.
func bytesArg(args []json.RawMessage, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %d", i+1)
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err == nil {
		return []byte(s), nil
	}
	var vals []int
	if err := json.Unmarshal(args[i], &vals); err != nil {
		return nil, fmt.Errorf("argument %d: expected a string or an array of bytes", i+1)
	}
	out := make([]byte, len(vals))
	for j, v := range vals {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("argument %d: byte %d out of range: %d", i+1, j, v)
		}
		out[j] = byte(v)
	}
	return out, nil
}

// byteValues renders p as a JSON array of numbers instead of base64.
func byteValues(p []byte) []int {
	out := make([]int, len(p))
	for i, b := range p {
		out[i] = int(b)
	}
	return out
}
