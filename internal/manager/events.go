package manager

import "time"

// State is the connection lifecycle state.
type State int32

const (
	StateNone State = iota
	StateListening
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventKind selects a subscription.
type EventKind int

const (
	// EventState fires on every actual state change.
	EventState EventKind = iota
	// EventData fires once per delimited record.
	EventData
	// EventRawData fires once per non-empty read.
	EventRawData
	// EventConnect fires when a link is established, right after the
	// state change to Connected.
	EventConnect
	// EventLost fires when a session, accept or dial fails.
	EventLost

	numKinds
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventData:
		return "data"
	case EventRawData:
		return "raw"
	case EventConnect:
		return "connect"
	case EventLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Attempt identifies one listen or dial and the session it produced.
// Every operation that replaces the active worker starts a new one.
type Attempt uint64

// Event is what subscribers receive.  Only the fields relevant to Kind
// are set.
type Event struct {
	Kind    EventKind
	State   State  // state after the change (EventState, EventConnect, EventLost)
	Prev    State  // state before the change (EventState)
	Record  string // EventData, delimiter included
	Data    []byte // EventRawData, exact read length
	Remote  string // peer address when known
	Session string // session id for session-scoped events
	Err     error  // EventLost
	Attempt Attempt // EventConnect, EventLost: the attempt that produced it
	Time    time.Time
}

// Handler receives events on the manager's dispatcher goroutine, one at
// a time and in order.  A Handler may call any Manager method except
// Close.
type Handler func(Event)

type deliveryOp int

const (
	opEvent deliveryOp = iota
	opChunk
	opReset
)

// delivery is one item on the dispatcher queue.
type delivery struct {
	op deliveryOp
	ev Event
}
