// Package schedule runs named jobs on cron specs. Jobs are serialized: a job
// runs to completion before the next due job starts, so a long watering run
// delays the telemetry job rather than overlapping it.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled unit of work. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner with a shared execution lock.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex // held while a job runs
	entries map[string]cron.EntryID
	jobs    map[string]cron.Job

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler evaluating specs in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]cron.Job),
		ctx:     ctx,
		cancel:  cancel,
	}
	logger := cron.PrintfLogger(log.Default())
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), s.serialize),
	)
	return s
}

func (s *Scheduler) serialize(j cron.Job) cron.Job {
	return cron.FuncJob(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		j.Run()
	})
}

// Every registers job under name with a standard cron spec such as
// "0 8 * * *" or "@hourly".
func (s *Scheduler) Every(name, spec string, job Job) error {
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("schedule: duplicate job %q", name)
	}
	wrapped := cron.FuncJob(func() {
		start := time.Now()
		log.Printf("schedule: running %s", name)
		job(s.ctx)
		log.Printf("schedule: %s finished in %s", name, time.Since(start).Round(time.Millisecond))
	})
	id, err := s.cron.AddJob(spec, wrapped)
	if err != nil {
		return fmt.Errorf("schedule: job %s: bad spec %q: %w", name, spec, err)
	}
	s.entries[name] = id
	s.jobs[name] = s.cron.Entry(id).WrappedJob
	return nil
}

// Run executes the named job now, through the same serialization and panic
// recovery as scheduled runs. It blocks until the job finishes.
func (s *Scheduler) Run(name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("schedule: unknown job %q", name)
	}
	j.Run()
	return nil
}

// Next returns when the named job is due next. Zero before Start.
func (s *Scheduler) Next(name string) time.Time {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Names returns the registered job names.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	return names
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the context passed to jobs, stops scheduling new runs and
// waits for a running job to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
