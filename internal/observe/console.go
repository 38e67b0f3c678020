package observe

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// ConsoleWriter prints observation records, one per line, to an io.Writer.
// A mutex keeps lines whole when multiple writers share the destination.
type ConsoleWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleWriter returns a writer targeting w (normally os.Stdout).
func NewConsoleWriter(w io.Writer) *ConsoleWriter {
	return &ConsoleWriter{w: w}
}

// Run consumes records from ch until the channel closes or ctx is
// cancelled.
func (c *ConsoleWriter) Run(ctx context.Context, ch <-chan *Record) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-ch:
			if !ok {
				return nil
			}
			c.write(r)
		}
	}
}

func (c *ConsoleWriter) write(r *Record) {
	c.mu.Lock()
	fmt.Fprintln(c.w, r.String())
	c.mu.Unlock()
}
