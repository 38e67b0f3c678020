package mailbox

import (
	"sync"

	"github.com/anaghasid/CacheSim/internal/coherence"
)

// Box is the single-slot mailbox of one core. Every core may post into it;
// only the owning snoop agent peeks and acks. Posting over an unconsumed
// message drops the older one: coherence traffic is best-effort, and
// senders post without waiting for the slot to be consumed.
type Box struct {
	mu   sync.Mutex
	slot coherence.Mail
}

// NewBox returns an empty mailbox (slot consumed).
func NewBox() *Box {
	return &Box{slot: coherence.Mail{Consumed: true}}
}

// Post overwrites the slot with m and marks it unconsumed.
func (b *Box) Post(m coherence.Mail) {
	b.mu.Lock()
	m.Consumed = false
	b.slot = m
	b.mu.Unlock()
}

// Peek returns a copy of the slot.
func (b *Box) Peek() coherence.Mail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

// Ack marks the slot consumed.
func (b *Box) Ack() {
	b.mu.Lock()
	b.slot.Consumed = true
	b.mu.Unlock()
}
