package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseEvery(t *testing.T) {
	if d, err := ParseEvery("@every 100ms"); err != nil || d != 100*time.Millisecond {
		t.Fatalf("parse every: %v %v", d, err)
	}
	for _, bad := range []string{"* * * * *", "every 1s", "@every -1s", "@every soon", "@every 0s"} {
		if _, err := ParseEvery(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSchedulerAddValidation(t *testing.T) {
	s := NewScheduler()
	noop := func(context.Context) error { return nil }
	if err := s.Add(&Task{Name: "", Schedule: "@every 1s", Run: noop}); err == nil {
		t.Fatalf("expected error for empty task name")
	}
	if err := s.Add(&Task{Name: "a", Schedule: "", Run: noop}); err == nil {
		t.Fatalf("expected error for empty schedule")
	}
	if err := s.Add(&Task{Name: "b", Schedule: "@every 1s"}); err == nil {
		t.Fatalf("expected error for missing run func")
	}
	if err := s.Add(&Task{Name: "c", Schedule: "@every 1s", Run: noop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(&Task{Name: "c", Schedule: "@every 2s", Run: noop}); err == nil {
		t.Fatalf("expected error for duplicate name")
	}
}

func TestSchedulerRunsAndNonOverlap(t *testing.T) {
	s := NewScheduler()
	var active, maxActive atomic.Int32
	task := &Task{
		Name:     "refresh",
		Schedule: "@every 20ms",
		Run: func(ctx context.Context) error {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			select {
			case <-time.After(70 * time.Millisecond):
			case <-ctx.Done():
			}
			return errors.New("logged, not fatal")
		},
	}
	if err := s.Add(task); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for task.Runs() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()
	if task.Runs() < 2 {
		t.Fatalf("expected at least two runs, got %d", task.Runs())
	}
	if maxActive.Load() != 1 {
		t.Fatalf("runs overlapped: max concurrent = %d", maxActive.Load())
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error on second start")
	}
}

func TestRunOnStart(t *testing.T) {
	s := NewScheduler()
	done := make(chan struct{}, 1)
	_ = s.Add(&Task{Name: "now", Schedule: "@every 1h", RunOnStart: true, Run: func(context.Context) error {
		done <- struct{}{}
		return nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Start(ctx)
	defer s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run on start")
	}
}

func TestStopWithoutStart(t *testing.T) {
	NewScheduler().Stop()
}
