// Package schedule triggers probe cycles from cron specs.
package schedule

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Triggerer starts a cycle on a named probe.
type Triggerer interface {
	Trigger(name string) error
}

// Scheduler maps cron specs to probe triggers.
type Scheduler struct {
	cron    *cron.Cron
	target  Triggerer
	entries map[string]cron.EntryID
}

// New creates an idle scheduler.
func New(target Triggerer) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		target:  target,
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules probe on spec (standard five field cron or @every/@hourly
// descriptors). An empty spec is ignored.
func (s *Scheduler) Add(probe, spec string) error {
	if spec == "" {
		return nil
	}
	if _, ok := s.entries[probe]; ok {
		return fmt.Errorf("probe %q: already scheduled", probe)
	}
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.target.Trigger(probe); err != nil {
			log.Printf("schedule: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("probe %q: invalid schedule %q: %w", probe, spec, err)
	}
	s.entries[probe] = id
	return nil
}

// Remove drops the schedule of a probe.
func (s *Scheduler) Remove(probe string) {
	if id, ok := s.entries[probe]; ok {
		s.cron.Remove(id)
		delete(s.entries, probe)
	}
}

// Len returns the number of scheduled probes.
func (s *Scheduler) Len() int { return len(s.entries) }

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the scheduler and waits for running triggers.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
