package retention

import (
	"context"
	"sync"
	"time"
)

// ScheduleOptions configures [Manager.ScheduleCleanup].
type ScheduleOptions struct {
	IntervalMs     int64
	RunImmediately bool
	OnComplete     func(Result, error)
}

// Schedule is a running periodic cleanup handle (spec.md §4.9
// "scheduleCleanup returns a handle with pause/resume/trigger/stop/
// isRunning/nextRunAt").
type Schedule struct {
	manager *Manager
	opts    ScheduleOptions

	mu        sync.Mutex
	ticker    *time.Ticker
	paused    bool
	stopped   bool
	nextRunAt time.Time
	done      chan struct{}
}

// ScheduleCleanup starts a background goroutine that runs Cleanup every
// opts.IntervalMs, invoking opts.OnComplete after each run.
func (m *Manager) ScheduleCleanup(ctx context.Context, opts ScheduleOptions) *Schedule {
	interval := time.Duration(opts.IntervalMs) * time.Millisecond

	s := &Schedule{
		manager:   m,
		opts:      opts,
		ticker:    time.NewTicker(interval),
		nextRunAt: time.Now().Add(interval),
		done:      make(chan struct{}),
	}

	go s.loop(ctx)

	if opts.RunImmediately {
		go s.Trigger(ctx)
	}

	return s
}

func (s *Schedule) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.ticker.C:
			s.runIfActive(ctx)
		}
	}
}

func (s *Schedule) runIfActive(ctx context.Context) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()

	if paused {
		return
	}

	s.run(ctx)
}

func (s *Schedule) run(ctx context.Context) {
	result, err := s.manager.Cleanup(ctx, nil)

	s.mu.Lock()
	s.nextRunAt = time.Now().Add(time.Duration(s.opts.IntervalMs) * time.Millisecond)
	s.mu.Unlock()

	if s.opts.OnComplete != nil {
		s.opts.OnComplete(result, err)
	}
}

// Trigger runs a cleanup immediately, outside the regular interval.
func (s *Schedule) Trigger(ctx context.Context) {
	s.run(ctx)
}

// Pause suspends scheduled runs until Resume is called. Trigger still works
// while paused.
func (s *Schedule) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables scheduled runs after Pause.
func (s *Schedule) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Stop halts the schedule permanently. Safe to call more than once.
func (s *Schedule) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.stopped = true
	s.ticker.Stop()
	close(s.done)
}

// IsRunning reports whether the schedule is active (started and not
// stopped or paused).
func (s *Schedule) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.stopped && !s.paused
}

// NextRunAt reports when the next scheduled run will fire.
func (s *Schedule) NextRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextRunAt
}
