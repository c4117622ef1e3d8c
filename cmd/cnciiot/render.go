package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Phillip-Steyn/cnc-iiot/internal/history"
	"github.com/Phillip-Steyn/cnc-iiot/internal/ingest"
	"github.com/Phillip-Steyn/cnc-iiot/internal/kpi"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func fmtTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func fmtPct(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "%"
}

func fmtInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func fmtStr(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// fmtScore colours an efficiency score: green from 80, red below 50.
func fmtScore(v *float64) string {
	s := fmtFloat(v)
	if v == nil {
		return s
	}
	switch {
	case *v >= 80:
		return goodStyle.Render(s)
	case *v < 50:
		return badStyle.Render(s)
	}
	return s
}

func statusText(s store.JobStatus) string {
	switch s {
	case store.StatusRunning, store.StatusFinished:
		return goodStyle.Render(string(s))
	case store.StatusFailed:
		return badStyle.Render(string(s))
	}
	return string(s)
}

func renderJob(w io.Writer, j store.Job) {
	t := newTable("field", "value").
		Row("id", strconv.FormatInt(j.ID, 10)).
		Row("name", j.Name).
		Row("status", statusText(j.Status)).
		Row("material", orDash(j.Material)).
		Row("notes", orDash(j.Notes)).
		Row("created", fmtTime(&j.CreatedAt)).
		Row("started", fmtTime(j.StartedAt)).
		Row("finished", fmtTime(j.FinishedAt))
	fmt.Fprintln(w, t.Render())
}

// renderJobs lists jobs newest first and marks the active one.
func renderJobs(w io.Writer, jobs []store.Job, active int64) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no jobs"))
		return
	}
	t := newTable("", "id", "name", "status", "material", "created", "started", "finished")
	for _, j := range jobs {
		mark := ""
		if j.ID == active {
			mark = "*"
		}
		t.Row(mark, strconv.FormatInt(j.ID, 10), j.Name, statusText(j.Status), orDash(j.Material),
			fmtTime(&j.CreatedAt), fmtTime(j.StartedAt), fmtTime(j.FinishedAt))
	}
	fmt.Fprintln(w, t.Render())
}

func renderReport(w io.Writer, r kpi.Report) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Job %d: %s", r.JobID, r.JobName)))
	t := newTable("metric", "value").
		Row("status", statusText(r.Status)).
		Row("material", fmtStr(r.Material)).
		Row("created", fmtTime(r.CreatedAt)).
		Row("started", fmtTime(r.StartedAt)).
		Row("finished", fmtTime(r.FinishedAt)).
		Row("duration", fmt.Sprintf("%s (%s)", r.DurationHuman, r.DurationSource)).
		Row("telemetry samples", strconv.Itoa(r.TelemetrySamples)).
		Row("telemetry span", r.TelemetrySpanHuman).
		Row("feed avg / max", fmtFloat(r.FeedAvg)+" / "+fmtFloat(r.FeedMax)).
		Row("power avg / max", fmtFloat(r.PowerAvg)+" / "+fmtFloat(r.PowerMax)).
		Row("active", fmtInt(r.ActiveSamples)+" ("+fmtPct(r.ActivePct)+")").
		Row("idle", fmtInt(r.IdleSamples)+" ("+fmtPct(r.IdlePct)+")").
		Row("alarm", fmtInt(r.AlarmSamples)+" ("+fmtPct(r.AlarmPct)+")").
		Row("efficiency", fmtScore(r.EfficiencyScore)).
		Row("events", strconv.Itoa(r.EventCount)).
		Row("alarm events", strconv.Itoa(r.AlarmEvents)).
		Row("alarms / min", strconv.FormatFloat(r.AlarmRatePerMin, 'f', 3, 64))
	fmt.Fprintln(w, t.Render())

	if len(r.StateCounts) > 0 {
		states := make([]string, 0, len(r.StateCounts))
		for s := range r.StateCounts {
			states = append(states, s)
		}
		sort.Strings(states)
		st := newTable("state", "samples")
		for _, s := range states {
			st.Row(s, strconv.Itoa(r.StateCounts[s]))
		}
		fmt.Fprintln(w, st.Render())
	}
}

func renderSummary(w io.Writer, s kpi.Summary) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Summary %s .. %s (UTC)", s.From, s.To)))
	statuses := make([]string, 0, len(s.ByStatus))
	for k := range s.ByStatus {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	head := newTable("metric", "value").
		Row("jobs", strconv.Itoa(s.Jobs)).
		Row("alarm events", strconv.Itoa(s.AlarmEvents)).
		Row("avg duration", s.AvgDurationHuman)
	for _, k := range statuses {
		head.Row("status "+k, strconv.Itoa(s.ByStatus[k]))
	}
	fmt.Fprintln(w, head.Render())
	if len(s.Rows) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no jobs in range"))
		return
	}
	t := newTable("id", "name", "status", "material", "duration", "alarms", "efficiency")
	for _, r := range s.Rows {
		t.Row(strconv.FormatInt(r.JobID, 10), r.JobName, statusText(r.Status), fmtStr(r.Material),
			r.DurationHuman, strconv.Itoa(r.AlarmEvents), fmtScore(r.EfficiencyScore))
	}
	fmt.Fprintln(w, t.Render())
}

func renderComparison(w io.Writer, c kpi.Comparison) {
	if len(c.Reports) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no jobs"))
		return
	}
	t := newTable("id", "name", "status", "duration", "samples", "idle", "alarm", "alarms/min", "efficiency")
	for _, r := range c.Reports {
		t.Row(strconv.FormatInt(r.JobID, 10), r.JobName, statusText(r.Status), r.DurationHuman,
			strconv.Itoa(r.TelemetrySamples), fmtPct(r.IdlePct), fmtPct(r.AlarmPct),
			strconv.FormatFloat(r.AlarmRatePerMin, 'f', 3, 64), fmtScore(r.EfficiencyScore))
	}
	fmt.Fprintln(w, t.Render())
	if c.Best != nil {
		fmt.Fprintf(w, "best:  job %d %s (%.2f)\n", c.Best.JobID, c.Best.JobName, c.Best.EfficiencyScore)
	}
	if c.Worst != nil {
		fmt.Fprintf(w, "worst: job %d %s (%.2f)\n", c.Worst.JobID, c.Worst.JobName, c.Worst.EfficiencyScore)
	}
}

func renderHistory(w io.Writer, events []history.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no history"))
		return
	}
	t := newTable("occurred", "type", "status")
	for _, e := range events {
		at := e.OccurredAt
		t.Row(fmtTime(&at), string(e.Type), statusText(e.Job.Status))
	}
	fmt.Fprintln(w, t.Render())
}

func renderStats(w io.Writer, s ingest.Stats) {
	t := newTable("ingest", "value").
		Row("run id", s.RunID).
		Row("lines", strconv.Itoa(s.Lines)).
		Row("telemetry", strconv.Itoa(s.Telemetry)).
		Row("events", strconv.Itoa(s.Events)).
		Row("parse errors", strconv.Itoa(s.ParseErrors))
	if s.FinalizedJob != nil {
		t.Row("finalized job", strconv.FormatInt(*s.FinalizedJob, 10))
	}
	fmt.Fprintln(w, t.Render())
}

func printPaths(w io.Writer, paths []string) {
	fmt.Fprintln(w, "exported:")
	for _, p := range paths {
		fmt.Fprintln(w, " -", p)
	}
}
