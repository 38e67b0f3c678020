package bus

import (
	"sync"

	"github.com/anaghasid/CacheSim/internal/observe"
)

// Bus provides fan-out pub/sub semantics for *observe.Record* messages.
// Each Subscribe call gets its own channel that receives every future
// publication. Past records are not replayed. The implementation is safe
// for concurrent publishers and subscribers.
type Bus struct {
	mu          sync.Mutex
	subscribers []chan *observe.Record
	closed      bool
}

// New creates a ready-to-use Bus.
func New() *Bus { return &Bus{} }

// Subscribe returns a read-only channel that will receive all future
// observation records. The buffer tolerates brief consumer stalls (e.g. a
// slow broker publish) without triggering the slow-subscriber eviction.
func (b *Bus) Subscribe() <-chan *observe.Record {
	ch := make(chan *observe.Record, 16)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers = append(b.subscribers, ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish delivers the record to all subscribers in a best-effort,
// non-blocking way. If a subscriber's buffer is full, the subscriber is
// dropped to keep the publishing executor from stalling mid-instruction.
func (b *Bus) Publish(r *observe.Record) {
	b.mu.Lock()
	subs := make([]chan *observe.Record, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- r:
		default:
			go b.dropSubscriber(ch)
		}
	}
}

// Close closes every subscriber channel at once, signalling consumers that
// no further publications will arrive. Records already buffered in a
// channel are still received before the close is observed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}

func (b *Bus) dropSubscriber(ch chan *observe.Record) {
	b.mu.Lock()
	for i, sub := range b.subscribers {
		if sub == ch {
			// remove without preserving order
			b.subscribers[i] = b.subscribers[len(b.subscribers)-1]
			b.subscribers = b.subscribers[:len(b.subscribers)-1]
			close(ch)
			break
		}
	}
	b.mu.Unlock()
}
