package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anaghasid/CacheSim/internal/cache"
	"github.com/anaghasid/CacheSim/internal/coherence"
	"github.com/anaghasid/CacheSim/internal/mailbox"
	"github.com/anaghasid/CacheSim/internal/memory"
)

// Snooper is a core's bus-snooping agent. It continuously inspects the
// core's mailbox and reacts to coherence traffic by mutating the shared
// cache store and replying into other cores' mailboxes.
type Snooper struct {
	id     int
	cache  *cache.Store
	mem    *memory.Memory
	exch   *mailbox.Exchange
	logger *logrus.Entry

	idle time.Duration // poll interval while the mailbox is consumed
}

// Run loops until a Stop message arrives in the core's own mailbox or ctx
// is cancelled. Every handled message is acked; a read request that does
// not match a valid local line is acked without a reply.
func (s *Snooper) Run(ctx context.Context) error {
	box := s.exch.Box(s.id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m := box.Peek()
		if m.Kind == coherence.Stop {
			s.logger.Debug("Snoop agent stopping")
			return nil
		}
		if m.Consumed {
			sleep(ctx, s.idle)
			continue
		}

		var err error
		switch m.Kind {
		case coherence.ReadRequest:
			s.handleReadRequest(m)
		case coherence.ReadExclusive:
			err = s.handleInvalidate(m)
		case coherence.ReadResponse:
			s.cache.InstallShared(m.Address, m.Value)
		}
		box.Ack()
		if err != nil {
			return err
		}
	}
}

// handleReadRequest replies with the local copy if a valid line matches,
// demoting Modified and Exclusive holders to Shared. A Modified holder
// hands its dirty value straight to the requester; main memory catches up
// on eviction or invalidation.
func (s *Snooper) handleReadRequest(m coherence.Mail) {
	idx := s.cache.Index(m.Address)
	value, found := 0, false
	s.cache.Update(idx, func(l *cache.Line) {
		if l.Address != m.Address || l.State == coherence.Invalid {
			return
		}
		if l.State == coherence.Modified || l.State == coherence.Exclusive {
			l.State = coherence.Shared
		}
		value, found = l.Value, true
	})
	if found {
		s.exch.ReadResponse(m.Sender, s.id, m.Address, value)
		s.logger.WithFields(logrus.Fields{
			"requester": m.Sender,
			"address":   m.Address,
		}).Debug("Replied to read request")
	}
}

// handleInvalidate drops the local copy of the address. A Modified line is
// written back first so the last committed value survives in main memory.
// The write-back happens under the cache lock; memory never locks a cache,
// so the nesting cannot deadlock.
func (s *Snooper) handleInvalidate(m coherence.Mail) error {
	idx := s.cache.Index(m.Address)
	var err error
	s.cache.Update(idx, func(l *cache.Line) {
		if l.Address != m.Address || l.State == coherence.Invalid {
			return
		}
		if l.State == coherence.Modified {
			err = s.mem.Store(l.Address, l.Value)
		}
		l.State = coherence.Invalid
	})
	return err
}
