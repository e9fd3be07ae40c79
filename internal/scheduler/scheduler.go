// Package scheduler runs a job periodically, on a fixed interval measured
// from start or on a 5-field cron expression. At most one run is in flight:
// a tick that finds a run active is skipped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultInterval applies when neither Interval nor Schedule is set.
const DefaultInterval = 10 * time.Minute

// Job is one unit of scheduled work. It should honor ctx.
type Job func(ctx context.Context)

// Config controls when the job fires.
type Config struct {
	Interval   time.Duration
	Schedule   string // cron expression; overrides Interval when set
	RunOnStart bool
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Runs         int64         `json:"runs"`
	Skips        int64         `json:"skips"`
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"lastRun"`
	LastDuration time.Duration `json:"lastDuration"`
	NextRun      time.Time     `json:"nextRun"`
}

// Scheduler owns the periodic loop.
type Scheduler struct {
	cfg Config
	job Job

	busy  atomic.Bool
	runs  atomic.Int64
	skips atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun time.Time
	lastDur time.Duration
	nextRun time.Time
}

// New validates cfg and returns a stopped scheduler.
func New(cfg Config, job Job) (*Scheduler, error) {
	if cfg.Schedule != "" {
		if !gronx.New().IsValid(cfg.Schedule) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSchedule, cfg.Schedule)
		}
	} else if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{cfg: cfg, job: job}, nil
}

// Start begins the loop in a background goroutine. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	slog.Info("scheduler started",
		"interval", s.cfg.Interval,
		"schedule", s.cfg.Schedule,
		"run_on_start", s.cfg.RunOnStart,
	)
}

// Stop cancels the loop and any in-flight run, then waits for both.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// TriggerNow runs the job synchronously under ctx. Returns ErrBusy if a run
// is in progress.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.tryRun(ctx, "manual")
}

// Stats returns counters and timing.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Runs:         s.runs.Load(),
		Skips:        s.skips.Load(),
		Running:      s.busy.Load(),
		LastRun:      s.lastRun,
		LastDuration: s.lastDur,
		NextRun:      s.nextRun,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.cfg.RunOnStart {
		s.fire(ctx, "start")
	}

	next := time.Now()
	for {
		var err error
		next, err = s.next(next, time.Now())
		if err != nil {
			slog.Error("scheduler: failed to compute next run", "schedule", s.cfg.Schedule, "error", err)
			return
		}
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, "tick")
		}
	}
}

// next returns the first fire time strictly after now. Interval mode steps
// from the previous fire time so the cadence stays anchored to start.
func (s *Scheduler) next(prev, now time.Time) (time.Time, error) {
	if s.cfg.Schedule != "" {
		return gronx.NextTickAfter(s.cfg.Schedule, now, false)
	}
	n := prev.Add(s.cfg.Interval)
	for !n.After(now) {
		n = n.Add(s.cfg.Interval)
	}
	return n, nil
}

// fire starts a run in its own goroutine so the loop keeps observing ticks
// (and can skip them) while the job is in progress.
func (s *Scheduler) fire(ctx context.Context, trigger string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tryRun(ctx, trigger)
	}()
}

func (s *Scheduler) tryRun(ctx context.Context, trigger string) error {
	if !s.busy.CompareAndSwap(false, true) {
		if trigger != "manual" {
			s.skips.Add(1)
		}
		slog.Warn("scheduled run skipped, previous run still in progress", "trigger", trigger)
		return ErrBusy
	}
	defer s.busy.Store(false)

	start := time.Now()
	s.job(ctx)
	dur := time.Since(start)

	s.runs.Add(1)
	s.mu.Lock()
	s.lastRun = start
	s.lastDur = dur
	s.mu.Unlock()
	slog.Debug("scheduled run finished", "trigger", trigger, "duration", dur)
	return nil
}
