package cache

import (
	"sync"
	"time"

	"github.com/anaghasid/CacheSim/internal/coherence"
)

// Line is one direct-mapped cache slot. Address and Value are only
// meaningful while State is not Invalid.
type Line struct {
	Address int
	Value   int
	State   coherence.State
}

// Store is the private cache of a single core, shared between the core's
// executor and its snoop agent. One mutex covers all lines; critical
// sections copy or mutate a single Line.
//
// installed is signalled whenever the snoop agent installs a Shared line,
// which lets the executor bound its wait for a read response on the
// condition itself instead of polling the line state on a timer.
type Store struct {
	mu        sync.Mutex
	installed *sync.Cond
	lines     []Line
}

// New returns a Store with size lines, all Invalid.
func New(size int) *Store {
	s := &Store{lines: make([]Line, size)}
	s.installed = sync.NewCond(&s.mu)
	return s
}

// Size returns the number of lines.
func (s *Store) Size() int { return len(s.lines) }

// Index returns the slot for addr (direct mapping).
func (s *Store) Index(addr int) int { return addr % len(s.lines) }

// Line returns a copy of the line at idx.
func (s *Store) Line(idx int) Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[idx]
}

// SetLine replaces the line at idx.
func (s *Store) SetLine(idx int, l Line) {
	s.mu.Lock()
	s.lines[idx] = l
	s.mu.Unlock()
}

// Update applies fn to the line at idx under the lock. The executor and the
// snoop agent both use it for read-modify-write transitions so that no
// update is lost between reading a line and writing it back.
func (s *Store) Update(idx int, fn func(*Line)) {
	s.mu.Lock()
	fn(&s.lines[idx])
	s.mu.Unlock()
}

// InstallShared places (addr, value, Shared) into the slot for addr and
// wakes any executor blocked in WaitShared.
func (s *Store) InstallShared(addr, value int) {
	idx := s.Index(addr)
	s.mu.Lock()
	s.lines[idx] = Line{Address: addr, Value: value, State: coherence.Shared}
	s.mu.Unlock()
	s.installed.Broadcast()
}

// WaitShared blocks until the slot for addr holds addr in the Shared state
// or the window elapses, and reports whether the install happened. A timer
// broadcast bounds the condition wait; spurious wakeups just re-check.
func (s *Store) WaitShared(addr int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	idx := s.Index(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if l := s.lines[idx]; l.Address == addr && l.State == coherence.Shared {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		t := time.AfterFunc(remaining, s.installed.Broadcast)
		s.installed.Wait()
		t.Stop()
	}
}

// Lines returns a copy of every line. Intended for tests and debug dumps.
func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}
