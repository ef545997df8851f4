// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs independent periodic jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/cardash/services/dashboard/observability"
)

var (
	// ErrJobInFlight is returned by RunNow while the same job is running.
	ErrJobInFlight = errors.New("job already in flight")

	// ErrUnknownJob is returned for a name that was never registered.
	ErrUnknownJob = errors.New("unknown job")
)

// =============================================================================
// Jobs
// =============================================================================

// Job is one periodic timer.
//
// # Fields
//
//   - Name: Unique job name, used by RunNow, logs and metrics.
//   - Interval: Tick period. Must be positive.
//   - Run: Work performed on each firing. Errors are logged, never fatal.
//   - RunOnStart: Fire once immediately when the scheduler starts.
type Job struct {
	Name       string
	Interval   time.Duration
	Run        func(ctx context.Context) error
	RunOnStart bool
}

// JobStats is a snapshot of one job's counters.
type JobStats struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
	Skipped  int64         `json:"skipped"`
	InFlight bool          `json:"in_flight"`
}

type jobState struct {
	Job
	inFlight atomic.Bool
	runs     atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler owns one ticker goroutine per job. There is no ordering between
// jobs. Each job is non-reentrant: a firing that arrives while the previous
// one of the same job is still running is skipped.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Scheduler struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	jobs    map[string]*jobState
	running bool
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty Scheduler.
func New(logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:  logger,
		metrics: metrics,
		jobs:    make(map[string]*jobState),
	}
}

// Register adds a job. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.Name)
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %q interval must be positive, got %s", job.Name, job.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cannot register job %q while running", job.Name)
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	s.jobs[job.Name] = &jobState{Job: job}
	return nil
}

// Start launches one loop per registered job.
//
// # Description
//
// Each loop ticks at its job's interval until Stop is called or ctx is
// cancelled. The context handed to Run is cancelled on Stop.
//
// # Inputs
//
//   - ctx: Parent context for every firing.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, js := range s.jobs {
		s.logger.Info("Scheduler job starting", "job", js.Name, "interval", js.Interval.String())
		s.wg.Add(1)
		go s.loop(runCtx, js, s.done)
	}
	return nil
}

// Stop signals every loop and waits for them to exit. Safe to call more
// than once.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
	return nil
}

// RunNow fires a job immediately on the caller's goroutine. It does not
// reset the job's ticker.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	ran, err := s.fire(ctx, js)
	if !ran {
		return fmt.Errorf("%w: %s", ErrJobInFlight, name)
	}
	return err
}

// Stats returns per-job counters sorted by name.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]JobStats, 0, len(s.jobs))
	for _, js := range s.jobs {
		stats = append(stats, JobStats{
			Name:     js.Name,
			Interval: js.Interval,
			Runs:     js.runs.Load(),
			Failures: js.failures.Load(),
			Skipped:  js.skipped.Load(),
			InFlight: js.inFlight.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *Scheduler) loop(ctx context.Context, js *jobState, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(js.Interval)
	defer ticker.Stop()

	if js.RunOnStart {
		s.tick(ctx, js)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Scheduler job stopped (context cancelled)", "job", js.Name)
			return
		case <-done:
			s.logger.Debug("Scheduler job stopped (stop requested)", "job", js.Name)
			return
		case <-ticker.C:
			s.tick(ctx, js)
		}
	}
}

// tick fires from the ticker and absorbs the outcome.
func (s *Scheduler) tick(ctx context.Context, js *jobState) {
	ran, err := s.fire(ctx, js)
	if !ran {
		s.logger.Debug("Skipping tick, previous run still in flight", "job", js.Name)
		return
	}
	if err != nil {
		s.logger.Error("Scheduled job failed", "job", js.Name, "error", err)
	}
}

// fire runs the job unless it is already running. ran is false when the
// firing was skipped.
func (s *Scheduler) fire(ctx context.Context, js *jobState) (ran bool, err error) {
	if !js.inFlight.CompareAndSwap(false, true) {
		js.skipped.Add(1)
		s.metrics.RecordSchedulerSkip(js.Name)
		return false, nil
	}
	defer js.inFlight.Store(false)

	start := time.Now()
	err = js.Run(ctx)
	elapsed := time.Since(start)

	js.runs.Add(1)
	if err != nil {
		js.failures.Add(1)
	}
	s.metrics.RecordSchedulerRun(js.Name, elapsed, err)
	return true, err
}
