package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anaghasid/CacheSim/internal/bus"
	"github.com/anaghasid/CacheSim/internal/config"
	"github.com/anaghasid/CacheSim/internal/core"
	"github.com/anaghasid/CacheSim/internal/mailbox"
	"github.com/anaghasid/CacheSim/internal/memory"
	"github.com/anaghasid/CacheSim/internal/trace"
)

// Simulation owns the main memory, the mailbox exchange and one core per
// trace file. Cores run independently: a core whose trace cannot be opened
// or parsed fails alone while the others proceed, and the failure is
// reported when the run finishes.
type Simulation struct {
	cfg    *config.Config
	logger *logrus.Logger
	mem    *memory.Memory
	cores  []*core.Core
}

// New builds a simulation from cfg. Observation records are published on
// obs; the caller attaches subscribers before Run.
func New(cfg *config.Config, obs *bus.Bus, logger *logrus.Logger) *Simulation {
	mem := memory.New(cfg.MemorySize)
	exch := mailbox.NewExchange(cfg.NumCores)
	timing := core.Timing{
		SleepTime:      cfg.SleepTime,
		ResponseWindow: cfg.ResponseWindow,
		DrainPeriod:    cfg.DrainPeriod,
	}
	cores := make([]*core.Core, cfg.NumCores)
	for i := range cores {
		cores[i] = core.New(i, cfg.CacheSize, mem, exch, obs, timing, logger)
	}
	return &Simulation{
		cfg:    cfg,
		logger: logger,
		mem:    mem,
		cores:  cores,
	}
}

// Memory exposes the shared main memory.
func (s *Simulation) Memory() *memory.Memory { return s.mem }

// Cores exposes the simulated cores.
func (s *Simulation) Cores() []*core.Core { return s.cores }

// Run opens every core's trace and runs all cores to completion. Trace
// open and parse failures are per-core: the affected core stops while the
// others run on, and the first such error is returned once everything has
// finished. An out-of-range memory address is different — it poisons the
// whole run, so it cancels every core immediately.
func (s *Simulation) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var grp errgroup.Group
	var openErr error

	var abortOnce sync.Once
	var abortErr error

	for _, c := range s.cores {
		c := c
		path := trace.Filename(s.cfg.TraceDir, c.ID())
		src, err := trace.Open(path)
		if err != nil {
			s.logger.WithError(err).WithField("core", c.ID()).Error("Cannot open trace")
			if openErr == nil {
				openErr = fmt.Errorf("core %d: %w", c.ID(), err)
			}
			continue
		}
		grp.Go(func() error {
			defer src.Close()
			err := c.Run(ctx, src)
			if errors.Is(err, memory.ErrAddressRange) {
				s.logger.WithError(err).Error("Aborting simulation: malformed trace addresses past memory")
				abortOnce.Do(func() {
					abortErr = err
					cancel()
				})
			}
			return err
		})
	}

	runErr := grp.Wait()
	if abortErr != nil {
		return abortErr
	}
	if openErr != nil {
		return openErr
	}
	if runErr != nil {
		return runErr
	}

	s.dumpState()
	return nil
}

// dumpState logs the final cache lines and memory at debug level.
func (s *Simulation) dumpState() {
	if !s.logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	for _, c := range s.cores {
		for idx, l := range c.Cache().Lines() {
			s.logger.WithFields(logrus.Fields{
				"core":    c.ID(),
				"slot":    idx,
				"address": l.Address,
				"value":   l.Value,
				"state":   l.State.String(),
			}).Debug("Final cache line")
		}
	}
	s.logger.WithField("memory", s.mem.Snapshot()).Debug("Final memory")
}
