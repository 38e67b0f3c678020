package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anaghasid/CacheSim/internal/bus"
	"github.com/anaghasid/CacheSim/internal/cache"
	"github.com/anaghasid/CacheSim/internal/mailbox"
	"github.com/anaghasid/CacheSim/internal/memory"
	"github.com/anaghasid/CacheSim/internal/trace"
)

// Timing bundles the protocol timing knobs a core needs.
type Timing struct {
	SleepTime      time.Duration
	ResponseWindow time.Duration
	DrainPeriod    time.Duration
}

// Core couples one executor and one snoop agent around a shared private
// cache. The pair runs concurrently; across cores, each Core is fully
// independent of the others except for the mailbox exchange and main
// memory.
type Core struct {
	id       int
	cache    *cache.Store
	executor *Executor
	snooper  *Snooper
	logger   *logrus.Entry
}

// New wires a core around the shared memory, exchange and observation bus.
func New(id int, cacheSize int, mem *memory.Memory, exch *mailbox.Exchange, obs *bus.Bus, timing Timing, logger *logrus.Logger) *Core {
	store := cache.New(cacheSize)
	entry := logger.WithField("core", id)
	return &Core{
		id:    id,
		cache: store,
		executor: &Executor{
			id:     id,
			cache:  store,
			mem:    mem,
			exch:   exch,
			obs:    obs,
			logger: entry,
			window: timing.ResponseWindow,
			drain:  timing.DrainPeriod,
		},
		snooper: &Snooper{
			id:     id,
			cache:  store,
			mem:    mem,
			exch:   exch,
			logger: entry,
			idle:   timing.SleepTime,
		},
		logger: entry,
	}
}

// ID returns the core's id.
func (c *Core) ID() int { return c.id }

// Cache exposes the core's cache store for tests and debug dumps.
func (c *Core) Cache() *cache.Store { return c.cache }

// Executor exposes the core's executor. Tests drive single instructions
// through it directly.
func (c *Core) Executor() *Executor { return c.executor }

// Snooper exposes the core's snoop agent.
func (c *Core) Snooper() *Snooper { return c.snooper }

// Run starts the executor and the snoop agent and blocks until both exit.
// The executor's final Stop message retires the snoop agent on the normal
// path; context cancellation covers the failure path.
func (c *Core) Run(ctx context.Context, src trace.Source) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return c.snooper.Run(ctx) })
	grp.Go(func() error { return c.executor.Run(ctx, src) })
	return grp.Wait()
}
