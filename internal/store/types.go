package store

import (
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusCreated  JobStatus = "created"
	StatusRunning  JobStatus = "running"
	StatusPaused   JobStatus = "paused"
	StatusFinished JobStatus = "finished"
	StatusFailed   JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusPaused, StatusFinished, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final status.
func (s JobStatus) Terminal() bool { return s == StatusFinished || s == StatusFailed }

// Job is a named unit of machining work.
type Job struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Status     JobStatus  `json:"status"`
	Material   string     `json:"material,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_ts_utc"`
	StartedAt  *time.Time `json:"started_ts_utc,omitempty"`
	FinishedAt *time.Time `json:"finished_ts_utc,omitempty"`
}

// Position is a coordinate triple as stored alongside telemetry.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TelemetrySample is one decoded status report.
type TelemetrySample struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts_utc"`
	Source    string    `json:"source"`
	State     string    `json:"state"`
	MPos      Position  `json:"mpos"`
	WPos      *Position `json:"wpos,omitempty"`
	Feed      float64   `json:"feed"`
	Spindle   float64   `json:"spindle"`
	Raw       string    `json:"raw,omitempty"`
	JobID     *int64    `json:"job_id,omitempty"`
}

// Event is a discrete occurrence recorded against the machine or a job.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"ts_utc"`
	Level     string         `json:"level"`
	Category  string         `json:"category"`
	Type      string         `json:"event_type"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message"`
	Raw       string         `json:"raw,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	JobID     *int64         `json:"job_id,omitempty"`
}

// Bounds summarises the telemetry recorded for one job.
type Bounds struct {
	First time.Time
	Last  time.Time
	Count int
}

// Filter narrows telemetry and event queries to [From, To). Zero values mean
// unbounded.
type Filter struct {
	JobID *int64
	From  time.Time
	To    time.Time
	Limit int
}

// Selection is a projection of one table restricted to rows where KeyColumn
// equals Key. OrderBy is optional.
type Selection struct {
	Table     string
	Columns   []string
	KeyColumn string
	Key       any
	OrderBy   string
}
