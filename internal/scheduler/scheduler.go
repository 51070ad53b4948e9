// Package scheduler triggers ingestion cycles on a fixed cadence in-process.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RunState guards against overlapping runs.
type RunState struct {
	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

// TryAcquire marks a run as active. When ok is false another run holds the
// state and release is a no-op. Callers defer release.
func (s *RunState) TryAcquire() (release func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return func() {}, false
	}
	s.running = true
	s.startedAt = time.Now()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		})
	}, true
}

// Running reports whether a run is active and since when.
func (s *RunState) Running() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.startedAt
}

type Job func(ctx context.Context) error

type Scheduler struct {
	every      time.Duration
	runOnStart bool
	job        Job
	state      *RunState
	log        *zap.Logger
	wg         sync.WaitGroup
}

func New(every time.Duration, runOnStart bool, job Job, log *zap.Logger) *Scheduler {
	if every <= 0 {
		every = 2 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{every: every, runOnStart: runOnStart, job: job, state: &RunState{}, log: log}
}

func (s *Scheduler) State() *RunState {
	return s.state
}

// Trigger starts the job in the background unless a run is active.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	release, ok := s.state.TryAcquire()
	if !ok {
		s.log.Info("run skipped, previous run still active")
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		start := time.Now()
		if err := s.job(ctx); err != nil {
			s.log.Error("scheduled run failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			return
		}
		s.log.Info("scheduled run finished", zap.Duration("elapsed", time.Since(start)))
	}()
	return true
}

// Run blocks until ctx is done, then waits for the active run to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", zap.Duration("every", s.every), zap.Bool("run_on_start", s.runOnStart))
	if s.runOnStart {
		s.Trigger(ctx)
	}
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}
