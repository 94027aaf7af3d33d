// Package scheduler runs the periodic passes. Each Scheduler owns one named
// job and never runs it twice at the same time: a tick or RunNow that finds a
// run in flight is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusy is returned by RunNow while a run of the same job is in flight.
var ErrBusy = errors.New("job is already running")

// TaskFunc runs one pass and returns its result record.
type TaskFunc func(ctx context.Context) (any, error)

// Run describes the latest completed run of a job.
type Run struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type Status struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Running  bool   `json:"running"`
	Busy     bool   `json:"busy"`
	LastRun  *Run   `json:"lastRun,omitempty"`
}

type Scheduler struct {
	name     string
	interval time.Duration
	task     TaskFunc
	logger   *slog.Logger

	running atomic.Bool
	busy    atomic.Bool
	last    atomic.Pointer[Run]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func New(name string, interval time.Duration, task TaskFunc, opts ...Option) (*Scheduler, error) {
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if task == nil {
		return nil, errors.New("task must not be nil")
	}
	s := &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("job", name)
	return s, nil
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", "interval", s.interval.String())

		s.tick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.logger.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// RunNow runs the job once on the caller's goroutine, independent of the
// ticker.
func (s *Scheduler) RunNow(ctx context.Context) (any, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)
	return s.run(ctx)
}

func (s *Scheduler) Status() Status {
	return Status{
		Name:     s.name,
		Interval: s.interval.String(),
		Running:  s.running.Load(),
		Busy:     s.busy.Load(),
		LastRun:  s.last.Load(),
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in progress, skipping tick")
		return
	}
	defer s.busy.Store(false)
	_, _ = s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (result any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panic recovered", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}

		run := &Run{StartedAt: start, Duration: time.Since(start), Result: result}
		if err != nil {
			run.Error = err.Error()
			s.logger.Error("scheduler tick failed", "error", err, "duration_ms", run.Duration.Milliseconds())
		} else {
			s.logger.Info("scheduler tick completed", "duration_ms", run.Duration.Milliseconds())
		}
		s.last.Store(run)
	}()

	return s.task(ctx)
}
