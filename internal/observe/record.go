package observe

import (
	"fmt"

	"github.com/anaghasid/CacheSim/internal/coherence"
	"github.com/anaghasid/CacheSim/internal/trace"
)

// Record is one executed instruction as reported on the observation stream.
// State is the state of the cache line after the operation.
type Record struct {
	Core    int
	Op      trace.Op
	Address int
	Value   int
	State   coherence.State
}

// String renders the canonical observation line, with the state emitted as
// its fixed integer encoding.
func (r Record) String() string {
	return fmt.Sprintf("Thread %d: %s %d: %d state = %d",
		r.Core, r.Op, r.Address, r.Value, int(r.State))
}
