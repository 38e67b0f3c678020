package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anaghasid/CacheSim/internal/bus"
	"github.com/anaghasid/CacheSim/internal/cache"
	"github.com/anaghasid/CacheSim/internal/coherence"
	"github.com/anaghasid/CacheSim/internal/mailbox"
	"github.com/anaghasid/CacheSim/internal/memory"
	"github.com/anaghasid/CacheSim/internal/observe"
	"github.com/anaghasid/CacheSim/internal/trace"
)

// Executor runs a core's instruction stream against its private cache,
// invoking the coherence protocol on misses and upgrades. It shares the
// cache store with the core's snoop agent and owns the trace source.
type Executor struct {
	id     int
	cache  *cache.Store
	mem    *memory.Memory
	exch   *mailbox.Exchange
	obs    *bus.Bus
	logger *logrus.Entry

	window time.Duration // bounded wait for a read response
	drain  time.Duration // grace before retiring the snoop agent
}

// Run executes instructions from src until io.EOF, then waits out the drain
// period and posts Stop into the core's own mailbox so the snoop agent
// retires. On any error the Stop is posted immediately: a core whose
// executor failed must not leave its snoop agent spinning.
func (e *Executor) Run(ctx context.Context, src trace.Source) error {
	for {
		select {
		case <-ctx.Done():
			e.exch.Stop(e.id)
			return ctx.Err()
		default:
		}

		inst, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.exch.Stop(e.id)
			return fmt.Errorf("core %d: %w", e.id, err)
		}
		if err := e.Execute(inst); err != nil {
			e.exch.Stop(e.id)
			return fmt.Errorf("core %d: %w", e.id, err)
		}
	}

	// Let in-flight replies settle before retiring the snoop agent.
	sleep(ctx, e.drain)
	e.exch.Stop(e.id)
	e.logger.Debug("Executor finished trace")
	return nil
}

// Execute performs a single decoded instruction and emits one observation
// record with the line state after the operation.
func (e *Executor) Execute(inst trace.Instruction) error {
	if err := e.mem.Check(inst.Address); err != nil {
		return err
	}

	idx := e.cache.Index(inst.Address)

	var err error
	if inst.Op == trace.Write {
		err = e.write(idx, inst)
	} else {
		err = e.read(idx, inst)
	}
	if err != nil {
		return err
	}

	final := e.cache.Line(idx)
	e.obs.Publish(&observe.Record{
		Core:    e.id,
		Op:      inst.Op,
		Address: final.Address,
		Value:   final.Value,
		State:   final.State,
	})
	e.logger.WithFields(logrus.Fields{
		"op":      inst.Op.String(),
		"address": final.Address,
		"value":   final.Value,
		"state":   final.State.String(),
	}).Debug("Executed instruction")
	return nil
}

// write applies the store transition in one critical section. The hit/miss
// classification and the mutation both happen against the live line, so a
// snoop demotion or invalidation landing just before the write cannot be
// overwritten with a stale decision.
//
// Mailbox posts and memory stores inside the closure are safe: mailbox and
// memory code never acquires a cache lock, so the lock hierarchy stays
// acyclic.
func (e *Executor) write(idx int, inst trace.Instruction) error {
	var err error
	e.cache.Update(idx, func(l *cache.Line) {
		if l.Address != inst.Address || l.State == coherence.Invalid {
			// Miss. A valid line for another address occupies the slot;
			// write it back before reuse. Shared lines are flushed too,
			// conservatively.
			if l.Address != inst.Address &&
				(l.State == coherence.Modified || l.State == coherence.Shared) {
				if err = e.mem.Store(l.Address, l.Value); err != nil {
					return
				}
			}
			e.exch.Invalidate(e.id, inst.Address)
			*l = cache.Line{Address: inst.Address, Value: inst.Value, State: coherence.Modified}
			return
		}

		switch l.State {
		case coherence.Modified:
			// Write back the current dirty value before overwriting it.
			if err = e.mem.Store(l.Address, l.Value); err != nil {
				return
			}
			l.Value = inst.Value
		case coherence.Exclusive:
			// Sole owner already; no bus traffic needed.
			l.Value = inst.Value
			l.State = coherence.Modified
		case coherence.Shared:
			// Invalidate the other copies, then take ownership. The
			// upgrade does not wait for acknowledgement.
			e.exch.Invalidate(e.id, inst.Address)
			l.Value = inst.Value
			l.State = coherence.Modified
		}
	})
	return err
}

// read serves a load. Hits need no transition at all; a miss asks the other
// caches and falls back to memory when the response window expires.
func (e *Executor) read(idx int, inst trace.Instruction) error {
	hit := false
	var evictErr error
	e.cache.Update(idx, func(l *cache.Line) {
		if l.Address == inst.Address && l.State != coherence.Invalid {
			hit = true
			return
		}
		// A Modified or Shared line for another address occupies the
		// slot; flush it and free the slot before requesting the new
		// address. An Exclusive line is clean and stays until replaced.
		if l.Address != inst.Address &&
			(l.State == coherence.Modified || l.State == coherence.Shared) {
			if evictErr = e.mem.Store(l.Address, l.Value); evictErr != nil {
				return
			}
			l.State = coherence.Invalid
		}
	})
	if hit || evictErr != nil {
		return evictErr
	}

	// Read miss: ask the other caches first. The snoop agent installs any
	// reply as a Shared line, which is the only way the line can become
	// Shared inside the window.
	e.exch.ReadRequest(e.id, inst.Address)
	if e.cache.WaitShared(inst.Address, e.window) {
		return nil
	}

	// Nobody answered; memory is authoritative.
	v, err := e.mem.Load(inst.Address)
	if err != nil {
		return err
	}
	e.cache.Update(idx, func(l *cache.Line) {
		if l.Address == inst.Address && l.State != coherence.Invalid {
			// A straggler reply landed after the window; keep it.
			return
		}
		*l = cache.Line{Address: inst.Address, Value: v, State: coherence.Exclusive}
	})
	return nil
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
