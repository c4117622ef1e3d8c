package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a function run on a fixed period.
// Schedule supports only the form "@every <duration>" (e.g., "@every 30s").
// With Singleton set (the default applied by Add), a tick is skipped while
// the previous run of the same task is still in progress.
//
// Name must be unique across tasks inside the same Scheduler.
type Task struct {
	Name      string
	Schedule  string
	Run       func(ctx context.Context) error
	Singleton bool

	// RunOnStart runs the task once immediately instead of waiting a period.
	RunOnStart bool

	running atomic.Bool
	runs    atomic.Int64
}

// Runs reports how many times the task has been invoked.
func (t *Task) Runs() int64 { return t.runs.Load() }

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

func (t *Task) validate() error {
	if t.Name == "" {
		return errors.New("cron task requires a name")
	}
	if t.Schedule == "" {
		return errors.New("cron task requires a schedule")
	}
	if t.Run == nil {
		return errors.New("cron task requires a run function")
	}
	_, err := ParseEvery(t.Schedule)
	return err
}

// Scheduler runs tasks on their periods until stopped.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*Task
	names   map[string]struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{names: map[string]struct{}{}}
}

func (s *Scheduler) Add(task *Task) error {
	if err := task.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	if _, dup := s.names[task.Name]; dup {
		return fmt.Errorf("duplicate cron task %q", task.Name)
	}
	task.Singleton = true
	s.names[task.Name] = struct{}{}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start launches all task loops. They stop when ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, t := range s.tasks {
		d, _ := ParseEvery(t.Schedule)
		s.wg.Add(1)
		go s.loop(ctx, t, d)
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t *Task, period time.Duration) {
	defer s.wg.Done()
	if t.RunOnStart {
		s.fire(ctx, t)
	}
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.fire(ctx, t)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t *Task) {
	// attempt to mark running; if already true, skip this tick
	if t.Singleton && !t.running.CompareAndSwap(false, true) {
		slog.Debug("cron tick skipped, previous run still active", "task", t.Name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.running.Store(false)
		t.runs.Add(1)
		if err := t.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("cron task failed", "task", t.Name, "error", err)
		}
	}()
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
