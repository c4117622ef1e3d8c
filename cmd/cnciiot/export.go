package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/kpi"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func csvTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return store.FormatTextTime(*t).(string)
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func csvStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func csvInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func f64(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// exportJob writes the key/value summary, events and telemetry of job id as
// CSV plus the full report as JSON into dir.
func exportJob(ctx context.Context, a *app, id int64, dir string) ([]string, error) {
	r, err := a.kpi.JobReport(ctx, id)
	if err != nil {
		return nil, err
	}
	tel, err := a.db.Telemetry(ctx, store.Filter{JobID: &id})
	if err != nil {
		return nil, fmt.Errorf("read telemetry: %w", err)
	}
	evs, err := a.db.Events(ctx, store.Filter{JobID: &id})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Join(dir, "job_"+strconv.FormatInt(id, 10))
	paths := []string{base + "_summary.csv", base + "_events.csv", base + "_telemetry.csv", base + "_report.json"}

	kv := [][]string{
		{"job_id", strconv.FormatInt(r.JobID, 10)},
		{"job_name", r.JobName},
		{"status", string(r.Status)},
		{"material", csvStr(r.Material)},
		{"notes", csvStr(r.Notes)},
		{"created_ts_utc", csvTime(r.CreatedAt)},
		{"started_ts_utc", csvTime(r.StartedAt)},
		{"finished_ts_utc", csvTime(r.FinishedAt)},
		{"duration_seconds", f64(r.DurationSeconds)},
		{"duration_source", string(r.DurationSource)},
		{"telemetry_samples", strconv.Itoa(r.TelemetrySamples)},
		{"events_count", strconv.Itoa(r.EventCount)},
		{"alarm_events", strconv.Itoa(r.AlarmEvents)},
		{"efficiency_score", csvFloat(r.EfficiencyScore)},
	}
	if len(tel) > 0 {
		first, last := tel[0].Timestamp, tel[len(tel)-1].Timestamp
		kv = append(kv, []string{"telemetry_first_ts_utc", csvTime(&first)}, []string{"telemetry_last_ts_utc", csvTime(&last)})
	}
	states := make([]string, 0, len(r.StateCounts))
	for s := range r.StateCounts {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		kv = append(kv, []string{"state_count_" + s, strconv.Itoa(r.StateCounts[s])})
	}
	if err := writeCSV(paths[0], []string{"key", "value"}, kv); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(evs))
	for _, e := range evs {
		ts := e.Timestamp
		rows = append(rows, []string{strconv.FormatInt(e.ID, 10), csvTime(&ts), e.Level, e.Category,
			e.Type, e.Code, e.Message, csvInt(e.JobID)})
	}
	if err := writeCSV(paths[1], []string{"id", "ts_utc", "level", "category", "event_type", "code", "message", "job_id"}, rows); err != nil {
		return nil, err
	}

	rows = make([][]string, 0, len(tel))
	for _, t := range tel {
		ts := t.Timestamp
		rows = append(rows, []string{strconv.FormatInt(t.ID, 10), csvTime(&ts), t.State,
			f64(t.MPos.X), f64(t.MPos.Y), f64(t.MPos.Z), f64(t.Feed), f64(t.Spindle), csvInt(t.JobID)})
	}
	if err := writeCSV(paths[2], []string{"id", "ts_utc", "state", "mpos_x", "mpos_y", "mpos_z", "feed", "spindle", "job_id"}, rows); err != nil {
		return nil, err
	}
	if err := writeJSONFile(paths[3], r); err != nil {
		return nil, err
	}
	return paths, nil
}

func exportSummary(dir string, s kpi.Summary) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Join(dir, "summary_"+s.From+"_"+s.To)
	rows := make([][]string, 0, len(s.Rows))
	for _, r := range s.Rows {
		rows = append(rows, []string{strconv.FormatInt(r.JobID, 10), r.JobName, string(r.Status), csvStr(r.Material),
			f64(r.DurationSeconds), r.DurationHuman, strconv.Itoa(r.AlarmEvents), csvFloat(r.EfficiencyScore)})
	}
	header := []string{"job_id", "job_name", "status", "material", "duration_seconds", "duration_human", "alarm_events", "efficiency_score"}
	if err := writeCSV(base+".csv", header, rows); err != nil {
		return nil, err
	}
	if err := writeJSONFile(base+".json", s); err != nil {
		return nil, err
	}
	return []string{base + ".csv", base + ".json"}, nil
}

func exportComparison(dir string, c kpi.Comparison) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Join(dir, "job_compare")
	rows := make([][]string, 0, len(c.Reports))
	for _, r := range c.Reports {
		rows = append(rows, []string{strconv.FormatInt(r.JobID, 10), r.JobName, string(r.Status),
			f64(r.DurationSeconds), strconv.Itoa(r.TelemetrySamples), csvFloat(r.IdlePct), csvFloat(r.AlarmPct),
			strconv.Itoa(r.AlarmEvents), f64(r.AlarmRatePerMin), csvFloat(r.EfficiencyScore)})
	}
	header := []string{"job_id", "job_name", "status", "duration_seconds", "telemetry_samples", "idle_pct", "alarm_pct",
		"alarm_events", "alarm_rate_per_min", "efficiency_score"}
	if err := writeCSV(base+".csv", header, rows); err != nil {
		return nil, err
	}
	if err := writeJSONFile(base+".json", c); err != nil {
		return nil, err
	}
	return []string{base + ".csv", base + ".json"}, nil
}
