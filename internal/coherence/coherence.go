package coherence

import "fmt"

// State is the MESI state of a single cache line. The integer values are
// fixed and emitted verbatim on the observation stream, so reordering the
// constants would silently change the output format.
type State int

const (
	Invalid State = iota
	Shared
	Exclusive
	Modified
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "INVALID"
	case Shared:
		return "SHARED"
	case Exclusive:
		return "EXCLUSIVE"
	case Modified:
		return "MODIFIED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MessageKind identifies a bus message. ReadRequest asks the other caches
// for a copy of an address, ReadResponse carries a copy back to the
// requester, ReadExclusive announces an impending write and invalidates
// every other copy, and Stop retires a core's snoop agent.
type MessageKind int

const (
	ReadRequest MessageKind = iota
	ReadResponse
	ReadExclusive
	Stop
)

func (k MessageKind) String() string {
	switch k {
	case ReadRequest:
		return "READ_RQ"
	case ReadResponse:
		return "READ_RES"
	case ReadExclusive:
		return "READX"
	case Stop:
		return "STOP"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// Mail is the single message a mailbox slot can hold. Consumed reports
// whether the snoop agent has already handled the message; a freshly
// posted Mail always has Consumed set to false.
type Mail struct {
	Sender      int
	Address     int
	Value       int
	SenderState State
	Kind        MessageKind
	Consumed    bool
}
