package kpi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// DateLayout is the layout of summary range bounds.
const DateLayout = "2006-01-02"

// SummaryRow is one job line of a Summary.
type SummaryRow struct {
	JobID           int64           `json:"job_id"`
	JobName         string          `json:"job_name"`
	Status          store.JobStatus `json:"status"`
	Material        *string         `json:"material"`
	DurationSeconds float64         `json:"duration_seconds"`
	DurationHuman   string          `json:"duration_human"`
	AlarmEvents     int             `json:"alarm_events"`
	EfficiencyScore *float64        `json:"efficiency_score"`
}

// Summary aggregates the jobs created within a UTC date range.
type Summary struct {
	From               string         `json:"from"`
	To                 string         `json:"to"`
	Jobs               int            `json:"jobs"`
	ByStatus           map[string]int `json:"by_status"`
	AlarmEvents        int            `json:"alarm_events"`
	AvgDurationSeconds float64        `json:"avg_duration_seconds"`
	AvgDurationHuman   string         `json:"avg_duration_human"`
	Rows               []SummaryRow   `json:"rows"`
}

// Ranked names one job of a comparison.
type Ranked struct {
	JobID           int64   `json:"job_id"`
	JobName         string  `json:"job_name"`
	EfficiencyScore float64 `json:"efficiency_score"`
}

// Comparison holds the report of every job, oldest first, and the best and
// worst efficiency among jobs that have a score.
type Comparison struct {
	Reports []Report `json:"reports"`
	Best    *Ranked  `json:"best"`
	Worst   *Ranked  `json:"worst"`
}

var summaryStatuses = []store.JobStatus{
	store.StatusCreated, store.StatusRunning, store.StatusPaused, store.StatusFinished, store.StatusFailed,
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Summary reports on jobs whose creation date (UTC) lies in [from, to],
// both inclusive. Only the date part of from and to is used.
func (e *Engine) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	fromD, toD := utcDate(from), utcDate(to)
	if toD.Before(fromD) {
		return Summary{}, fmt.Errorf("summary range %s..%s is empty", fromD.Format(DateLayout), toD.Format(DateLayout))
	}
	jobs, err := e.jobsAscending(ctx)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		From:     fromD.Format(DateLayout),
		To:       toD.Format(DateLayout),
		ByStatus: map[string]int{"other": 0},
		Rows:     []SummaryRow{},
	}
	for _, st := range summaryStatuses {
		s.ByStatus[string(st)] = 0
	}
	var total float64
	for _, j := range jobs {
		if j.CreatedAt.IsZero() {
			continue
		}
		d := utcDate(j.CreatedAt)
		if d.Before(fromD) || d.After(toD) {
			continue
		}
		r, err := e.report(ctx, j)
		if err != nil {
			return Summary{}, err
		}
		if j.Status.Valid() {
			s.ByStatus[string(j.Status)]++
		} else {
			s.ByStatus["other"]++
		}
		s.Jobs++
		s.AlarmEvents += r.AlarmEvents
		total += r.DurationSeconds
		s.Rows = append(s.Rows, SummaryRow{
			JobID:           r.JobID,
			JobName:         r.JobName,
			Status:          r.Status,
			Material:        r.Material,
			DurationSeconds: r.DurationSeconds,
			DurationHuman:   r.DurationHuman,
			AlarmEvents:     r.AlarmEvents,
			EfficiencyScore: r.EfficiencyScore,
		})
	}
	if s.Jobs > 0 {
		s.AvgDurationSeconds = total / float64(s.Jobs)
	}
	s.AvgDurationHuman = HumanDuration(s.AvgDurationSeconds)
	return s, nil
}

// Compare computes the report of every job and ranks them by efficiency.
// Ties keep job order, so the best of equal scores is the oldest job and
// the worst is the newest.
func (e *Engine) Compare(ctx context.Context) (Comparison, error) {
	jobs, err := e.jobsAscending(ctx)
	if err != nil {
		return Comparison{}, err
	}
	c := Comparison{Reports: make([]Report, 0, len(jobs))}
	var ranked []Ranked
	for _, j := range jobs {
		r, err := e.report(ctx, j)
		if err != nil {
			return Comparison{}, err
		}
		c.Reports = append(c.Reports, r)
		if r.EfficiencyScore != nil {
			ranked = append(ranked, Ranked{JobID: r.JobID, JobName: r.JobName, EfficiencyScore: *r.EfficiencyScore})
		}
	}
	if len(ranked) > 0 {
		sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].EfficiencyScore > ranked[b].EfficiencyScore })
		best, worst := ranked[0], ranked[len(ranked)-1]
		c.Best, c.Worst = &best, &worst
	}
	return c, nil
}

// Latest returns the report of the most recently created job.
func (e *Engine) Latest(ctx context.Context) (Report, error) {
	jobs, err := e.src.ListJobs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(jobs) == 0 {
		return Report{}, fmt.Errorf("latest job: %w", store.ErrNotFound)
	}
	newest := jobs[0]
	for _, j := range jobs[1:] {
		if j.ID > newest.ID {
			newest = j
		}
	}
	return e.report(ctx, newest)
}

func (e *Engine) jobsAscending(ctx context.Context) ([]store.Job, error) {
	jobs, err := e.src.ListJobs(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs, nil
}
