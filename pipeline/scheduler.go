/*
scheduler.go - Nightly run scheduling

PURPOSE:
  Fires the incremental update on a cron schedule. Overlap is suppressed:
  if a run is still going when the schedule fires again, the new tick is
  skipped rather than queued, because two concurrent passes over the same
  stores would race on the checkpoint.

USAGE:
  sched := NewScheduler(runner, sources, "15 2 * * *", logger)
  if err := sched.Start(); err != nil { ... }
  // ... later
  sched.Stop()
*/
package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler triggers periodic incremental runs.
type Scheduler struct {
	runner  *Runner
	sources []Source
	spec    string
	log     zerolog.Logger

	cron    *cron.Cron
	running atomic.Bool
}

func NewScheduler(runner *Runner, sources []Source, spec string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		sources: sources,
		spec:    spec,
		log:     log,
	}
}

// Start registers the cron entry and begins scheduling.
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("scheduler started")
	return nil
}

// Stop halts scheduling and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow triggers an immediate pass (for admin use); it obeys the same
// overlap suppression as scheduled ticks.
func (s *Scheduler) RunNow() {
	s.tick()
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("previous run still in progress, skipping tick")
		return
	}
	defer s.running.Store(false)

	results := s.runner.RunUpdate(context.Background(), s.sources)
	for _, res := range results {
		if res.Status == StatusFailed {
			s.log.Error().Str("store", res.Store).Err(res.Err).Msg("scheduled run failed")
		}
	}
}
