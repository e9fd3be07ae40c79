package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_SkipIfBusy(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	s, err := New(Config{Interval: 10 * time.Millisecond, RunOnStart: true}, func(ctx context.Context) {
		cur := active.Add(1)
		for {
			old := maxActive.Load()
			if cur <= old || maxActive.CompareAndSwap(old, cur) {
				break
			}
		}
		runs.Add(1)
		time.Sleep(35 * time.Millisecond)
		active.Add(-1)
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if m := maxActive.Load(); m != 1 {
		t.Errorf("max concurrent runs = %d, want 1", m)
	}
	st := s.Stats()
	if st.Skips == 0 {
		t.Error("expected skipped ticks while a run was in progress")
	}
	if st.Runs != int64(runs.Load()) || st.Runs == 0 {
		t.Errorf("stats runs = %d, job runs = %d", st.Runs, runs.Load())
	}
}

func TestScheduler_TriggerNowBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s, _ := New(Config{Interval: time.Hour}, func(ctx context.Context) {
		close(started)
		<-release
	})

	done := make(chan error, 1)
	go func() { done <- s.TriggerNow(context.Background()) }()
	<-started

	if err := s.TriggerNow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent TriggerNow err = %v, want ErrBusy", err)
	}
	if !s.Stats().Running {
		t.Error("Stats.Running = false during a run")
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first TriggerNow: %v", err)
	}
	if st := s.Stats(); st.Runs != 1 || st.Skips != 0 {
		t.Errorf("stats = %+v, want 1 run and 0 skips", st)
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	s, _ := New(Config{Interval: time.Hour, RunOnStart: true}, func(ctx context.Context) {
		ran <- struct{}{}
	})
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestScheduler_StopCancelsRun(t *testing.T) {
	var cancelled atomic.Bool
	s, _ := New(Config{Interval: time.Hour, RunOnStart: true}, func(ctx context.Context) {
		<-ctx.Done()
		cancelled.Store(true)
	})
	s.Start()
	s.Start() // idempotent
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()

	if !cancelled.Load() {
		t.Error("in-flight run not cancelled by Stop")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	if _, err := New(Config{Schedule: "not a cron"}, func(context.Context) {}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("err = %v, want ErrInvalidSchedule", err)
	}
}

func TestScheduler_Next(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)

	cron, _ := New(Config{Schedule: "*/5 * * * *"}, nil)
	got, err := cron.next(base, base)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("cron next = %v, want %v", got, want)
	}

	iv, _ := New(Config{Interval: 10 * time.Minute}, nil)
	// A run that overran two periods lands on the next slot after now.
	got, _ = iv.next(base, base.Add(25*time.Minute))
	if want := base.Add(30 * time.Minute); !got.Equal(want) {
		t.Errorf("interval next = %v, want %v", got, want)
	}
}

func TestScheduler_DefaultInterval(t *testing.T) {
	s, _ := New(Config{}, nil)
	if s.cfg.Interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.cfg.Interval, DefaultInterval)
	}
}
