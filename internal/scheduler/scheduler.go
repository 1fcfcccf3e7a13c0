// Package scheduler drives repeated sync runs.
//
// Runs happen once at start, then on every interval tick, and whenever a
// trigger arrives. Runs never overlap: triggers that arrive while a run is in
// progress collapse into a single follow-up run.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunFunc performs one sync. It should honor ctx cancellation.
type RunFunc func(ctx context.Context)

// Config holds scheduler configuration.
type Config struct {
	// Interval between periodic runs. Zero disables the ticker, leaving only
	// the initial run and explicit triggers.
	Interval time.Duration

	// DebounceInterval is how long Trigger waits for further triggers before
	// starting a run.
	// Default: 2 seconds
	DebounceInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Hour,
		DebounceInterval: 2 * time.Second,
	}
}

// Scheduler runs a RunFunc periodically and on demand.
type Scheduler struct {
	run    RunFunc
	config Config
	logger *slog.Logger

	pending chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	debounce *time.Timer
	done     chan struct{}
	runs     int
}

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithConfig sets the scheduler configuration.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		s.config = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler around run.
func New(run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		run:     run,
		config:  DefaultConfig(),
		logger:  slog.Default(),
		pending: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start performs the initial run in the background and begins scheduling.
// It returns immediately. Calling Start on a running Scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.TriggerNow()
	go s.loop(ctx, done)

	s.logger.Info("scheduler started",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("debounce", s.config.DebounceInterval),
	)
}

// Stop cancels the in-flight run, if any, and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Runs returns the number of completed runs.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Trigger requests a run after the debounce interval. Each call restarts
// the wait, so a burst of triggers yields one run.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.config.DebounceInterval, s.TriggerNow)
}

// TriggerNow requests a run as soon as the current one, if any, finishes.
func (s *Scheduler) TriggerNow() {
	select {
	case s.pending <- struct{}{}:
	default:
		// a run is already queued
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	var tick <-chan time.Time
	if s.config.Interval > 0 {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.logger.Debug("periodic run triggered", slog.Duration("interval", s.config.Interval))
		case <-s.pending:
		}

		// Drain a trigger that raced with the tick so it does not cause
		// an immediate second run.
		select {
		case <-s.pending:
		default:
		}

		s.run(ctx)

		s.mu.Lock()
		s.runs++
		s.mu.Unlock()
	}
}
