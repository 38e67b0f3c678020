package mailbox

import "github.com/anaghasid/CacheSim/internal/coherence"

// Exchange owns one mailbox per core and carries the bus protocol on top of
// them: requests are broadcast to every mailbox but the sender's, replies
// are point-to-point to the original requester. There is no separate bus
// object; the exchange is the bus.
type Exchange struct {
	boxes []*Box
}

// NewExchange creates n empty mailboxes.
func NewExchange(n int) *Exchange {
	boxes := make([]*Box, n)
	for i := range boxes {
		boxes[i] = NewBox()
	}
	return &Exchange{boxes: boxes}
}

// Cores returns the number of mailboxes.
func (e *Exchange) Cores() int { return len(e.boxes) }

// Box returns core i's mailbox.
func (e *Exchange) Box(i int) *Box { return e.boxes[i] }

// Post delivers m to core dst's mailbox.
func (e *Exchange) Post(dst int, m coherence.Mail) {
	e.boxes[dst].Post(m)
}

// Broadcast posts m to every mailbox except the sender's own.
func (e *Exchange) Broadcast(m coherence.Mail) {
	for i, b := range e.boxes {
		if i == m.Sender {
			continue
		}
		b.Post(m)
	}
}

// ReadRequest broadcasts a read request for addr on behalf of sender.
func (e *Exchange) ReadRequest(sender, addr int) {
	e.Broadcast(coherence.Mail{
		Sender:      sender,
		Address:     addr,
		Value:       -1,
		SenderState: coherence.Invalid,
		Kind:        coherence.ReadRequest,
	})
}

// Invalidate broadcasts a read-exclusive (invalidate) for addr on behalf of
// sender, announcing that sender is about to write the address.
func (e *Exchange) Invalidate(sender, addr int) {
	e.Broadcast(coherence.Mail{
		Sender:      sender,
		Address:     addr,
		Value:       -1,
		SenderState: coherence.Modified,
		Kind:        coherence.ReadExclusive,
	})
}

// ReadResponse posts a copy of (addr, value) from responder to requester.
func (e *Exchange) ReadResponse(requester, responder, addr, value int) {
	e.Post(requester, coherence.Mail{
		Sender:      responder,
		Address:     addr,
		Value:       value,
		SenderState: coherence.Shared,
		Kind:        coherence.ReadResponse,
	})
}

// Stop posts the shutdown message into core's own mailbox, retiring its
// snoop agent.
func (e *Exchange) Stop(core int) {
	e.Post(core, coherence.Mail{Sender: core, Kind: coherence.Stop})
}
