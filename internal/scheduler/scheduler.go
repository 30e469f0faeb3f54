// Package scheduler runs the gateway's periodic background tasks: the
// protocol tick, telemetry heartbeats, and health checks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// Scheduler runs named tasks on fixed intervals, one goroutine per task.
// Each task fires once immediately on Start and then on every tick until
// the context is cancelled or Stop is called.
type Scheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   []task
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		logger: log.With().Str("component", "scheduler").Logger(),
	}
}

// AddTask registers a periodic task. Tasks added after Start are ignored.
func (s *Scheduler) AddTask(name string, interval time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.Warn().Str("task", name).Msg("task added after start, ignored")
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
}

// TaskNames lists the registered tasks in registration order.
func (s *Scheduler) TaskNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.name
	}
	return names
}

// Start launches every registered task. It returns immediately; tasks
// stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	tasks := s.tasks
	s.mu.Unlock()

	for _, t := range tasks {
		s.wg.Add(1)
		go s.run(ctx, t)
	}
	s.logger.Info().Int("tasks", len(tasks)).Msg("scheduler started")
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started || cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, t task) {
	defer s.wg.Done()

	s.logger.Debug().
		Str("task", t.name).
		Dur("interval", t.interval).
		Msg("task started")

	s.runOnce(ctx, t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Str("task", t.name).Msg("task stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

// runOnce isolates one task invocation so a panicking task cannot take
// down its ticker loop or the process.
func (s *Scheduler) runOnce(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", t.name).
				Interface("panic", r).
				Msg("task panicked")
		}
	}()
	t.fn(ctx)
}
