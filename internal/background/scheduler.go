// Package background runs periodic work in the manner of a mobile work
// manager: unique named works, tags, keep/replace policies and retries.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/pedometer/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// MinInterval is the shortest period a periodic work may have.
	MinInterval = 15 * time.Minute

	// DefaultBackoff is the first delay before retrying a work.
	DefaultBackoff = 30 * time.Second
)

// ExistingPolicy decides what enqueueing does when a work of the same name
// is already scheduled.
type ExistingPolicy int

const (
	// Keep leaves the scheduled work untouched.
	Keep ExistingPolicy = iota
	// Replace cancels the scheduled work and enqueues the new one.
	Replace
)

// Result is the outcome of one run of a work.
type Result int

const (
	// Success ends the run until the next period.
	Success Result = iota
	// Retry runs the work again after a backoff within the same period.
	Retry
	// Failure ends the run until the next period and is logged.
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Worker does one run of a work.
type Worker interface {
	DoWork(ctx context.Context, data Data) Result
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, data Data) Result

// DoWork calls f(ctx, data).
func (f WorkerFunc) DoWork(ctx context.Context, data Data) Result { return f(ctx, data) }

// PeriodicWork describes a work run every Interval.
type PeriodicWork struct {
	Worker   Worker
	Interval time.Duration
	Backoff  time.Duration
	Tags     []string
	Data     Data
}

type job struct {
	name   string
	work   PeriodicWork
	tags   map[string]bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs unique periodic works, one goroutine per work.
type Scheduler struct {
	logger      zerolog.Logger
	minInterval time.Duration

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

// NewScheduler creates a scheduler.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		logger:      logger.With().Str("component", "background-scheduler").Logger(),
		minInterval: MinInterval,
		base:        base,
		stop:        stop,
		jobs:        make(map[string]*job),
	}
}

// EnqueueUniquePeriodic schedules work under name. The work is tagged with
// its name in addition to its own tags. It runs once right away and then
// every interval.
func (s *Scheduler) EnqueueUniquePeriodic(ctx context.Context, name string, work PeriodicWork, policy ExistingPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("work name is required")
	}
	if work.Worker == nil {
		return fmt.Errorf("work %s has no worker", name)
	}
	if work.Interval < s.minInterval {
		work.Interval = s.minInterval
	}
	if work.Backoff <= 0 {
		work.Backoff = DefaultBackoff
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("scheduler stopped")
	}

	if existing, ok := s.jobs[name]; ok {
		if policy == Keep {
			s.logger.Debug().Str("work", name).Msg("Work already scheduled, keeping it")
			return nil
		}
		existing.cancel()
		<-existing.done
		delete(s.jobs, name)
		s.logger.Info().Str("work", name).Msg("Replacing scheduled work")
	}

	tags := map[string]bool{name: true}
	for _, tag := range work.Tags {
		tags[tag] = true
	}

	jobCtx, cancel := context.WithCancel(s.base)
	j := &job{
		name:   name,
		work:   work,
		tags:   tags,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[name] = j

	s.wg.Add(1)
	go s.run(jobCtx, j)

	s.logger.Info().
		Str("work", name).
		Dur("interval", work.Interval).
		Msg("Periodic work scheduled")

	return nil
}

// CancelAllByTag cancels every work carrying tag and returns how many were
// cancelled.
func (s *Scheduler) CancelAllByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for name, j := range s.jobs {
		if !j.tags[tag] {
			continue
		}
		j.cancel()
		delete(s.jobs, name)
		cancelled++
	}

	s.logger.Info().Str("tag", tag).Int("cancelled", cancelled).Msg("Cancelled works by tag")
	return cancelled
}

// CancelUnique cancels the work named name.
func (s *Scheduler) CancelUnique(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	j.cancel()
	delete(s.jobs, name)
	return true
}

// Running reports whether a work named name is scheduled.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Stop cancels every work and waits for running works to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
	s.logger.Info().Msg("Background scheduler stopped")
}

// run is the main loop of one work
func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer close(j.done)

	for {
		s.execute(ctx, j)

		select {
		case <-time.After(j.work.Interval):
		case <-ctx.Done():
			return
		}
	}
}

// execute runs the work once, retrying with exponential backoff for as long
// as the retries fit in one interval.
func (s *Scheduler) execute(ctx context.Context, j *job) {
	backoff := j.work.Backoff
	var waited time.Duration

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		result := j.work.Worker.DoWork(ctx, j.work.Data)
		metrics.BackgroundRuns.WithLabelValues(j.name, result.String()).Inc()

		switch result {
		case Success:
			s.logger.Debug().Str("work", j.name).Int("attempt", attempt).Msg("Work succeeded")
			return
		case Failure:
			s.logger.Warn().Str("work", j.name).Int("attempt", attempt).Msg("Work failed")
			return
		}

		if waited+backoff >= j.work.Interval {
			s.logger.Warn().Str("work", j.name).Int("attempt", attempt).Msg("Work still retrying at end of period, giving up until next run")
			return
		}

		s.logger.Debug().Str("work", j.name).Dur("backoff", backoff).Msg("Work asked to retry")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		waited += backoff
		backoff *= 2
	}
}
