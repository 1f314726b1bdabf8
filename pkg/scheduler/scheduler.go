package scheduler

import (
	"context"
	"sync"
	"time"
)

// Target receives tick fan-out from the shared scheduler.
// Tick must not block: a target that needs to do real work should hand the
// signal off to its own execution context.
type Target interface {
	Tick(t time.Time)
}

// Scheduler drives all registered targets from a single shared ticker so the
// process does not accumulate one OS timer per session.
type Scheduler struct {
	interval time.Duration
	mu       sync.RWMutex
	targets  map[string]Target
}

func NewScheduler(interval time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		targets:  make(map[string]Target),
	}
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Register adds a target to the tick fan-out. Registering an id again
// replaces the previous target.
func (s *Scheduler) Register(id string, t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[id] = t
}

// Deregister removes a target from the tick fan-out.
func (s *Scheduler) Deregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, id)
}

// Run ticks all registered targets every interval until the context is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			s.tickAll(t)
		}
	}
}

func (s *Scheduler) tickAll(t time.Time) {
	s.mu.RLock()
	targets := make([]Target, 0, len(s.targets))
	for _, target := range s.targets {
		targets = append(targets, target)
	}
	s.mu.RUnlock()

	for _, target := range targets {
		target.Tick(t)
	}
}
