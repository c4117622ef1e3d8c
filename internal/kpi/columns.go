package kpi

import (
	"encoding/json"
	"strings"
)

// Logical column names and the physical names accepted for each, in
// priority order. Matching is case-insensitive.
var (
	telemetryTimestamp = []string{"ts_utc", "timestamp_utc", "timestamp", "ts"}
	telemetryJobID     = []string{"job_id"}
	telemetryState     = []string{"state", "machine_state", "status"}
	telemetryFeed      = []string{"feed", "feed_rate", "f"}
	telemetryPower     = []string{"laser_power", "power", "s", "s_value", "spindle", "spindle_speed", "rpm", "pwm"}

	eventJobID    = []string{"job_id"}
	eventType     = []string{"event_type", "type"}
	eventCategory = []string{"category", "level"}
	eventMessage  = []string{"message", "msg", "detail", "details", "text"}

	rowID = []string{"id"}
)

// Columns records which physical column served each logical field. An empty
// string means the field is absent from the schema.
type Columns struct {
	Timestamp     string
	JobID         string
	State         string
	Feed          string
	Power         string
	EventJobID    string
	EventType     string
	EventCategory string
	EventMessage  string
}

func (c Columns) MarshalJSON() ([]byte, error) {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	return json.Marshal(struct {
		Timestamp     *string `json:"ts_col"`
		JobID         *string `json:"job_col"`
		State         *string `json:"state_col"`
		Feed          *string `json:"feed_col"`
		Power         *string `json:"power_col"`
		EventJobID    *string `json:"event_job_col"`
		EventType     *string `json:"event_type_col"`
		EventCategory *string `json:"event_category_col"`
		EventMessage  *string `json:"event_message_col"`
	}{
		opt(c.Timestamp), opt(c.JobID), opt(c.State), opt(c.Feed), opt(c.Power),
		opt(c.EventJobID), opt(c.EventType), opt(c.EventCategory), opt(c.EventMessage),
	})
}

// pickFirst returns the first candidate present in cols, spelled as in cols.
func pickFirst(cols []string, candidates []string) string {
	lower := make(map[string]string, len(cols))
	for _, c := range cols {
		k := strings.ToLower(c)
		if _, seen := lower[k]; !seen {
			lower[k] = c
		}
	}
	for _, cand := range candidates {
		if c, ok := lower[strings.ToLower(cand)]; ok {
			return c
		}
	}
	return ""
}

// projection collects the distinct non-empty columns to select and remembers
// their positions.
type projection struct {
	cols []string
	idx  map[string]int
}

func newProjection(names ...string) *projection {
	p := &projection{idx: map[string]int{}}
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := p.idx[n]; ok {
			continue
		}
		p.idx[n] = len(p.cols)
		p.cols = append(p.cols, n)
	}
	return p
}

// value returns row's value for column name, or nil when it was not selected.
func (p *projection) value(row []any, name string) any {
	if name == "" {
		return nil
	}
	i, ok := p.idx[name]
	if !ok || i >= len(row) {
		return nil
	}
	return row[i]
}
