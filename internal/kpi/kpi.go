// Package kpi derives per-job performance figures from stored telemetry and
// events. Every column is resolved against the live schema, so databases
// written by older tooling with different column names still report.
package kpi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// DefaultSampleInterval is the assumed spacing of samples whose timestamps
// are all identical.
const DefaultSampleInterval = time.Second

// DurationSource tells which fallback produced Report.DurationSeconds.
type DurationSource string

const (
	DurationTimestamps DurationSource = "timestamps"
	DurationTelemetry  DurationSource = "telemetry"
	DurationEstimate   DurationSource = "estimate"
	DurationNone       DurationSource = "none"
)

// Source is the read-only view of the store the engine needs.
type Source interface {
	GetJob(ctx context.Context, id int64) (store.Job, error)
	ListJobs(ctx context.Context) ([]store.Job, error)
	Columns(ctx context.Context, table string) ([]string, error)
	SelectWhere(ctx context.Context, sel store.Selection) ([][]any, error)
}

// Report is the KPI record of one job. Pointer fields are null when the
// data needed to compute them is absent.
type Report struct {
	JobID      int64           `json:"job_id"`
	JobName    string          `json:"job_name"`
	Status     store.JobStatus `json:"status"`
	Material   *string         `json:"material"`
	Notes      *string         `json:"notes"`
	CreatedAt  *time.Time      `json:"created_ts_utc"`
	StartedAt  *time.Time      `json:"started_ts_utc"`
	FinishedAt *time.Time      `json:"finished_ts_utc"`

	DurationSeconds float64        `json:"duration_seconds"`
	DurationHuman   string         `json:"duration_human"`
	DurationSource  DurationSource `json:"duration_source"`

	TelemetrySamples     int     `json:"telemetry_samples"`
	TelemetrySpanSeconds float64 `json:"telemetry_span_seconds"`
	TelemetrySpanHuman   string  `json:"telemetry_span_human"`

	FeedAvg  *float64 `json:"feed_avg"`
	FeedMax  *float64 `json:"feed_max"`
	PowerAvg *float64 `json:"power_avg"`
	PowerMax *float64 `json:"power_max"`

	ActiveSamples *int     `json:"active_samples"`
	IdleSamples   *int     `json:"idle_samples"`
	AlarmSamples  *int     `json:"alarm_samples"`
	ActivePct     *float64 `json:"active_pct"`
	IdlePct       *float64 `json:"idle_pct"`
	AlarmPct      *float64 `json:"alarm_pct"`

	EfficiencyScore *float64 `json:"efficiency_score"`

	EventCount      int     `json:"event_count"`
	AlarmEvents     int     `json:"alarm_events"`
	AlarmRatePerMin float64 `json:"alarm_rate_per_min"`

	// StateCounts counts samples per raw state token.
	StateCounts map[string]int `json:"state_counts,omitempty"`

	Columns Columns `json:"columns"`

	spanEstimated bool
}

// Engine computes reports. It never writes.
type Engine struct {
	src      Source
	interval time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampleInterval sets the spacing assumed for samples with identical
// timestamps. Non-positive values keep the default.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// NewEngine returns an Engine reading jobs and records from src.
func NewEngine(src Source, opts ...Option) *Engine {
	e := &Engine{src: src, interval: DefaultSampleInterval}
	for _, o := range opts {
		o(e)
	}
	return e
}

// JobReport computes the report of job id. A missing job yields an error
// wrapping store.ErrNotFound.
func (e *Engine) JobReport(ctx context.Context, id int64) (Report, error) {
	j, err := e.src.GetJob(ctx, id)
	if err != nil {
		return Report{}, fmt.Errorf("job %d: %w", id, err)
	}
	return e.report(ctx, j)
}

func (e *Engine) report(ctx context.Context, j store.Job) (Report, error) {
	r := Report{
		JobID:      j.ID,
		JobName:    j.Name,
		Status:     j.Status,
		Material:   optString(j.Material),
		Notes:      optString(j.Notes),
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if !j.CreatedAt.IsZero() {
		c := j.CreatedAt
		r.CreatedAt = &c
	}

	if err := e.telemetry(ctx, j.ID, &r); err != nil {
		return Report{}, err
	}

	r.DurationSource = DurationNone
	if j.StartedAt != nil && j.FinishedAt != nil {
		if d := j.FinishedAt.Sub(*j.StartedAt).Seconds(); d > 0 {
			r.DurationSeconds = d
			r.DurationSource = DurationTimestamps
		}
	}
	if r.DurationSource == DurationNone && r.TelemetrySpanSeconds > 0 {
		r.DurationSeconds = r.TelemetrySpanSeconds
		r.DurationSource = DurationTelemetry
		if r.spanEstimated {
			r.DurationSource = DurationEstimate
		}
	}
	r.DurationHuman = HumanDuration(r.DurationSeconds)
	r.TelemetrySpanHuman = HumanDuration(r.TelemetrySpanSeconds)

	if err := e.events(ctx, j.ID, &r); err != nil {
		return Report{}, err
	}
	if minutes := r.DurationSeconds / 60; minutes > 0 {
		r.AlarmRatePerMin = float64(r.AlarmEvents) / minutes
	}
	return r, nil
}

func (e *Engine) telemetry(ctx context.Context, jobID int64, r *Report) error {
	cols, err := e.src.Columns(ctx, store.TableTelemetry)
	if err != nil {
		return fmt.Errorf("failed to inspect telemetry columns: %w", err)
	}
	c := &r.Columns
	c.Timestamp = pickFirst(cols, telemetryTimestamp)
	c.JobID = pickFirst(cols, telemetryJobID)
	c.State = pickFirst(cols, telemetryState)
	c.Feed = pickFirst(cols, telemetryFeed)
	c.Power = pickFirst(cols, telemetryPower)
	if c.JobID == "" {
		return nil
	}

	p := newProjection(c.Timestamp, c.State, c.Feed, c.Power, c.JobID)
	order := pickFirst(cols, rowID)
	if order == "" {
		order = c.Timestamp
	}
	rows, err := e.src.SelectWhere(ctx, store.Selection{
		Table: store.TableTelemetry, Columns: p.cols, KeyColumn: c.JobID, Key: jobID, OrderBy: order,
	})
	if err != nil {
		return fmt.Errorf("failed to read telemetry for job %d: %w", jobID, err)
	}
	r.TelemetrySamples = len(rows)
	if len(rows) == 0 {
		return nil
	}

	var (
		first, last time.Time
		haveTS      bool
		feed, power stats
	)
	for _, row := range rows {
		if t, ok := toTime(p.value(row, c.Timestamp)); ok {
			if !haveTS || t.Before(first) {
				first = t
			}
			if !haveTS || t.After(last) {
				last = t
			}
			haveTS = true
		}
		if c.Feed != "" {
			feed.add(p.value(row, c.Feed))
		}
		if c.Power != "" {
			power.add(p.value(row, c.Power))
		}
	}
	if haveTS {
		r.TelemetrySpanSeconds = last.Sub(first).Seconds()
	}
	if r.TelemetrySpanSeconds == 0 && len(rows) > 1 {
		r.TelemetrySpanSeconds = float64(len(rows)-1) * e.interval.Seconds()
		r.spanEstimated = true
	}
	r.FeedAvg, r.FeedMax = feed.result()
	r.PowerAvg, r.PowerMax = power.result()

	if c.State == "" {
		return nil
	}
	var active, idle, alarm int
	r.StateCounts = map[string]int{}
	for _, row := range rows {
		raw := p.value(row, c.State)
		label := toText(raw)
		if raw == nil {
			label = "UNKNOWN"
		}
		r.StateCounts[label]++
		switch s := strings.ToLower(toText(raw)); {
		case strings.Contains(s, "alarm"):
			alarm++
		case strings.Contains(s, "idle"):
			idle++
		default:
			active++
		}
	}
	total := float64(active + idle + alarm)
	pct := func(n int) *float64 {
		v := 0.0
		if total > 0 {
			v = 100 * float64(n) / total
		}
		return &v
	}
	r.ActiveSamples, r.IdleSamples, r.AlarmSamples = &active, &idle, &alarm
	r.ActivePct, r.IdlePct, r.AlarmPct = pct(active), pct(idle), pct(alarm)
	score := Efficiency(*r.IdlePct, *r.AlarmPct)
	r.EfficiencyScore = &score
	return nil
}

func (e *Engine) events(ctx context.Context, jobID int64, r *Report) error {
	cols, err := e.src.Columns(ctx, store.TableEvents)
	if err != nil {
		return fmt.Errorf("failed to inspect event columns: %w", err)
	}
	c := &r.Columns
	c.EventJobID = pickFirst(cols, eventJobID)
	c.EventType = pickFirst(cols, eventType)
	c.EventCategory = pickFirst(cols, eventCategory)
	c.EventMessage = pickFirst(cols, eventMessage)
	if c.EventJobID == "" {
		return nil
	}

	p := newProjection(c.EventType, c.EventCategory, c.EventMessage, c.EventJobID)
	rows, err := e.src.SelectWhere(ctx, store.Selection{
		Table: store.TableEvents, Columns: p.cols, KeyColumn: c.EventJobID, Key: jobID, OrderBy: pickFirst(cols, rowID),
	})
	if err != nil {
		return fmt.Errorf("failed to read events for job %d: %w", jobID, err)
	}
	r.EventCount = len(rows)
	for _, row := range rows {
		if isAlarm(toText(p.value(row, c.EventType))) ||
			isAlarm(toText(p.value(row, c.EventCategory))) ||
			isAlarm(toText(p.value(row, c.EventMessage))) {
			r.AlarmEvents++
		}
	}
	return nil
}

func isAlarm(s string) bool { return strings.Contains(strings.ToLower(s), "alarm") }

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
