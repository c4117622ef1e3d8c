package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/grbl"
	"github.com/Phillip-Steyn/cnc-iiot/internal/history"
	"github.com/Phillip-Steyn/cnc-iiot/internal/metrics"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// Manager applies lifecycle transitions to stored jobs. Every transition is
// a guarded update: a transition that does not apply returns applied=false
// and leaves no trace.
type Manager struct {
	st                  Store
	sink                history.Sink
	now                 func() time.Time
	clearActiveOnFinish bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistory forwards applied transitions to sink.
func WithHistory(sink history.Sink) Option { return func(m *Manager) { m.sink = sink } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithClearActiveOnFinish controls whether Stop clears the active pointer
// when it points at the stopped job. Enabled by default.
func WithClearActiveOnFinish(v bool) Option {
	return func(m *Manager) { m.clearActiveOnFinish = v }
}

// NewManager creates a job manager over st.
func NewManager(st Store, opts ...Option) *Manager {
	m := &Manager{st: st, now: time.Now, clearActiveOnFinish: true}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create inserts a new job in status created and returns its id.
func (m *Manager) Create(ctx context.Context, name, material, notes string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrEmptyName
	}
	now := m.now().UTC()
	id, err := m.st.CreateJob(ctx, store.Job{
		Name:      name,
		Material:  strings.TrimSpace(material),
		Notes:     strings.TrimSpace(notes),
		CreatedAt: now,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create job: %w", err)
	}
	if err := m.applied(ctx, id, history.EventCreated, store.StatusCreated, "Job created: "+name, "", nil); err != nil {
		return id, err
	}
	slog.Info("Job created", "id", id, "name", name)
	return id, nil
}

// Start moves a created or paused job to running. The first start time is
// kept across resumes.
func (m *Manager) Start(ctx context.Context, id int64) (bool, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return false, err
	}
	ok, err := m.st.StartJob(ctx, id, m.now().UTC())
	if err != nil || !ok {
		return false, wrap("start", id, err)
	}
	return true, m.applied(ctx, id, history.EventStarted, store.StatusRunning, "Job started", "", nil)
}

// Pause moves a running job to paused.
func (m *Manager) Pause(ctx context.Context, id int64) (bool, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return false, err
	}
	ok, err := m.st.PauseJob(ctx, id)
	if err != nil || !ok {
		return false, wrap("pause", id, err)
	}
	return true, m.applied(ctx, id, history.EventPaused, store.StatusPaused, "Job paused", "", nil)
}

// Stop moves a running or paused job to final, which must be finished or
// failed. An empty final means finished.
func (m *Manager) Stop(ctx context.Context, id int64, final store.JobStatus) (bool, error) {
	if final == "" {
		final = store.StatusFinished
	}
	if !final.Terminal() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, final)
	}
	if _, err := m.Get(ctx, id); err != nil {
		return false, err
	}
	ok, err := m.st.FinishJob(ctx, id, final, m.now().UTC())
	if err != nil || !ok {
		return false, wrap("stop", id, err)
	}
	if err := m.applied(ctx, id, history.EventStopped, final, "Job ended: "+string(final), "", nil); err != nil {
		return true, err
	}
	if m.clearActiveOnFinish {
		active, isSet, err := m.st.ActiveJob(ctx)
		if err != nil {
			return true, fmt.Errorf("failed to read active job: %w", err)
		}
		if isSet && active == id {
			if err := m.ClearActive(ctx); err != nil {
				return true, err
			}
			slog.Info("Active job cleared on finish", "id", id)
		}
	}
	return true, nil
}

// FinalizeFromTelemetry stamps a job from the first and last telemetry
// sample attributed to it. A job without telemetry is left untouched.
func (m *Manager) FinalizeFromTelemetry(ctx context.Context, id int64) (bool, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return false, err
	}
	b, err := m.st.TelemetryBounds(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to read telemetry bounds for job %d: %w", id, err)
	}
	if b.Count == 0 {
		slog.Info("No telemetry to finalize from", "id", id)
		return false, nil
	}
	ok, err := m.st.FinalizeJob(ctx, id, b.First, b.Last)
	if err != nil || !ok {
		return false, wrap("finalize", id, err)
	}
	// terminal jobs keep their status; record the one the job ended up in
	j, err := m.Get(ctx, id)
	if err != nil {
		return true, err
	}
	msg := fmt.Sprintf("Job auto-finalized from telemetry (samples=%d)", b.Count)
	meta := map[string]any{"samples": b.Count}
	return true, m.applied(ctx, id, history.EventFinalized, j.Status, msg, AutoFinalizeCode, meta)
}

// Reset clears both timestamps and returns the job to created.
func (m *Manager) Reset(ctx context.Context, id int64) (bool, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return false, err
	}
	ok, err := m.st.ResetJob(ctx, id)
	if err != nil || !ok {
		return false, wrap("reset", id, err)
	}
	return true, m.applied(ctx, id, history.EventReset, store.StatusCreated, "Job reset", "", nil)
}

// Get returns the job or an error wrapping store.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id int64) (store.Job, error) {
	j, err := m.st.GetJob(ctx, id)
	if err != nil {
		return store.Job{}, fmt.Errorf("job %d: %w", id, err)
	}
	return j, nil
}

// List returns all jobs, newest first.
func (m *Manager) List(ctx context.Context) ([]store.Job, error) {
	return m.st.ListJobs(ctx)
}

// Latest returns the most recently created job.
func (m *Manager) Latest(ctx context.Context) (store.Job, error) {
	j, err := m.st.LatestJob(ctx)
	if err != nil {
		return store.Job{}, fmt.Errorf("latest job: %w", err)
	}
	return j, nil
}

// SetActive attributes newly ingested records to id, which must exist.
func (m *Manager) SetActive(ctx context.Context, id int64) error {
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	if err := m.st.SetActiveJob(ctx, id); err != nil {
		return fmt.Errorf("failed to set active job: %w", err)
	}
	metrics.SetActiveJob(id, true)
	slog.Info("Active job set", "id", id)
	return nil
}

// ClearActive leaves newly ingested records unattributed.
func (m *Manager) ClearActive(ctx context.Context) error {
	if err := m.st.ClearActiveJob(ctx); err != nil {
		return fmt.Errorf("failed to clear active job: %w", err)
	}
	metrics.SetActiveJob(0, false)
	return nil
}

// Active returns the active job id; ok is false when none is set.
func (m *Manager) Active(ctx context.Context) (int64, bool, error) {
	return m.st.ActiveJob(ctx)
}

// applied records the synthetic event, metrics and history of an applied
// transition.
func (m *Manager) applied(ctx context.Context, id int64, kind history.EventType, to store.JobStatus, msg, code string, meta map[string]any) error {
	at := m.now().UTC()
	jobID := id
	ev := &store.Event{
		Timestamp: at,
		Level:     grbl.LevelInfo,
		Category:  grbl.CategoryJob,
		Type:      grbl.CategoryJob,
		Code:      code,
		Message:   msg,
		Meta:      meta,
		JobID:     &jobID,
	}
	if err := m.st.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record %s event for job %d: %w", kind, id, err)
	}
	metrics.IncAppended(store.TableEvents)
	metrics.RecordTransition(string(to))
	slog.Debug("Job transition applied", "id", id, "event", kind)

	if m.sink == nil {
		return nil
	}
	j, err := m.st.GetJob(ctx, id)
	if err != nil {
		slog.Warn("History snapshot unavailable", "id", id, "error", err)
		return nil
	}
	if err := m.sink.Send(ctx, history.Event{Type: kind, OccurredAt: at, Job: j}); err != nil {
		slog.Warn("History sink send failed", "id", id, "event", kind, "error", err)
	}
	return nil
}

func wrap(op string, id int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("job %d: %w", id, err)
	}
	return fmt.Errorf("failed to %s job %d: %w", op, id, err)
}
