package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/config"
	"github.com/Phillip-Steyn/cnc-iiot/internal/history"
	"github.com/Phillip-Steyn/cnc-iiot/internal/ingest"
	"github.com/Phillip-Steyn/cnc-iiot/internal/kpi"
	"github.com/Phillip-Steyn/cnc-iiot/internal/server"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
	"github.com/Phillip-Steyn/cnc-iiot/pkg/client"
)

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cnc.db")
}

func execute(db string, args ...string) (string, error) {
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--db", db, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func run(t *testing.T, db string, args ...string) string {
	t.Helper()
	out, err := execute(db, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

type appliedOut struct {
	Applied bool      `json:"applied"`
	Job     store.Job `json:"job"`
}

func TestJobLifecycleCommands(t *testing.T) {
	db := tempDB(t)

	j := decode[store.Job](t, run(t, db, "job", "create", "--name", " bracket ", "--material", "6061", "--activate", "--json"))
	if j.ID != 1 || j.Name != "bracket" || j.Status != store.StatusCreated || j.Material != "6061" {
		t.Fatalf("unexpected job: %+v", j)
	}
	act := decode[struct {
		JobID *int64 `json:"job_id"`
	}](t, run(t, db, "active", "show", "--json"))
	if act.JobID == nil || *act.JobID != 1 {
		t.Fatalf("active = %v", act.JobID)
	}

	steps := []struct {
		args    []string
		applied bool
		status  store.JobStatus
	}{
		{[]string{"job", "start", "1"}, true, store.StatusRunning},
		{[]string{"job", "pause", "1"}, true, store.StatusPaused},
		{[]string{"job", "stop", "1", "--status", "failed"}, true, store.StatusFailed},
		{[]string{"job", "start", "1"}, false, store.StatusFailed},
		{[]string{"job", "reset", "1"}, true, store.StatusCreated},
	}
	for _, s := range steps {
		got := decode[appliedOut](t, run(t, db, append(s.args, "--json")...))
		if got.Applied != s.applied || got.Job.Status != s.status {
			t.Fatalf("%v: applied=%v status=%s, want %v %s", s.args, got.Applied, got.Job.Status, s.applied, s.status)
		}
	}

	// stopping cleared the active pointer
	if out := run(t, db, "active", "show"); !strings.Contains(out, "no active job") {
		t.Fatalf("active show = %q", out)
	}

	jobs := decode[[]store.Job](t, run(t, db, "job", "list", "--json"))
	if len(jobs) != 1 || jobs[0].StartedAt != nil || jobs[0].FinishedAt != nil {
		t.Fatalf("list after reset = %+v", jobs)
	}

	hist := decode[[]history.Event](t, run(t, db, "job", "history", "1", "--json"))
	var types []string
	for _, e := range hist {
		types = append(types, string(e.Type))
	}
	if got, want := strings.Join(types, ","), "created,started,paused,stopped,reset"; got != want {
		t.Fatalf("history = %s, want %s", got, want)
	}

	if out := run(t, db, "job", "list"); !strings.Contains(out, "bracket") {
		t.Fatalf("table list missing job: %q", out)
	}
}

func TestJobCommandErrors(t *testing.T) {
	db := tempDB(t)
	if _, err := execute(db, "job", "create", "--name", "   "); err == nil {
		t.Fatalf("expected empty name to fail")
	}
	run(t, db, "job", "create", "--name", "a")
	if _, err := execute(db, "job", "show", "99"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("show missing job err = %v", err)
	}
	if _, err := execute(db, "job", "start", "x"); err == nil || !strings.Contains(err.Error(), "invalid job id") {
		t.Fatalf("bad id err = %v", err)
	}
	run(t, db, "job", "start", "1")
	if _, err := execute(db, "job", "stop", "1", "--status", "paused"); err == nil {
		t.Fatalf("expected non-terminal stop status to fail")
	}
	if _, err := execute(db, "active", "set", "42"); err == nil {
		t.Fatalf("expected activating a missing job to fail")
	}
	if _, err := execute(db, "report"); err == nil {
		t.Fatalf("expected report without id or --latest to fail")
	}
	if _, err := execute(db, "report", "1", "--latest"); err == nil {
		t.Fatalf("expected report with both id and --latest to fail")
	}
}

const sampleLog = `Grbl 1.1h ['$' for help]
<Idle|MPos:0.000,0.000,0.000|FS:0,0>
<Run|MPos:1.000,2.000,3.000|FS:500,8000>
ok

ALARM:1
<Run|MPos:oops|FS:1,1>
<Run|MPos:2.000,3.000,4.000|FS:600,9000>
`

func writeLog(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "grbl.log")
	if err := os.WriteFile(p, []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return p
}

func TestIngestReportAndExport(t *testing.T) {
	db := tempDB(t)
	logPath := writeLog(t)

	run(t, db, "job", "create", "--name", "plate", "--activate")
	run(t, db, "job", "start", "1")

	stats := decode[ingest.Stats](t, run(t, db, "ingest", "--file", logPath, "--json"))
	if stats.Lines != 7 || stats.Telemetry != 3 || stats.Events != 4 || stats.ParseErrors != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.FinalizedJob == nil || *stats.FinalizedJob != 1 {
		t.Fatalf("finalized job = %v", stats.FinalizedJob)
	}

	r := decode[kpi.Report](t, run(t, db, "report", "1", "--json"))
	if r.TelemetrySamples != 3 || r.EventCount < 4 || r.AlarmEvents < 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.EfficiencyScore == nil || r.IdlePct == nil {
		t.Fatalf("expected state shares and efficiency: %+v", r)
	}
	if r.StateCounts["Run"] != 2 || r.StateCounts["Idle"] != 1 {
		t.Fatalf("state counts = %v", r.StateCounts)
	}
	latest := decode[kpi.Report](t, run(t, db, "report", "--latest", "--json"))
	if latest.JobID != 1 {
		t.Fatalf("latest job = %d", latest.JobID)
	}
	if out := run(t, db, "report", "1"); !strings.Contains(out, "Job 1: plate") || !strings.Contains(out, "efficiency") {
		t.Fatalf("table report = %q", out)
	}

	dir := filepath.Join(t.TempDir(), "reports")
	out := run(t, db, "export", "1", "--dir", dir)
	for _, name := range []string{"job_1_summary.csv", "job_1_events.csv", "job_1_telemetry.csv", "job_1_report.json"} {
		if !strings.Contains(out, name) {
			t.Fatalf("export output missing %s: %q", name, out)
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing export %s: %v", name, err)
		}
	}
	b, err := os.ReadFile(filepath.Join(dir, "job_1_telemetry.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "id,ts_utc,state") {
		t.Fatalf("telemetry csv = %q", string(b))
	}
	b, err = os.ReadFile(filepath.Join(dir, "job_1_summary.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "state_count_Run,2") || !strings.Contains(string(b), "job_name,plate") {
		t.Fatalf("summary csv = %q", string(b))
	}
}

func TestIngestNoFinalize(t *testing.T) {
	db := tempDB(t)
	run(t, db, "job", "create", "--name", "plate", "--activate")
	stats := decode[ingest.Stats](t, run(t, db, "ingest", "--file", writeLog(t), "--no-finalize", "--json"))
	if stats.FinalizedJob != nil {
		t.Fatalf("expected no finalization, got %d", *stats.FinalizedJob)
	}
	j := decode[store.Job](t, run(t, db, "job", "show", "1", "--json"))
	if j.StartedAt != nil || j.FinishedAt != nil {
		t.Fatalf("job should be untouched: %+v", j)
	}
}

func TestSummaryAndCompareCommands(t *testing.T) {
	db := tempDB(t)
	run(t, db, "job", "create", "--name", "a", "--activate")
	run(t, db, "ingest", "--file", writeLog(t))
	run(t, db, "job", "create", "--name", "b")

	s := decode[kpi.Summary](t, run(t, db, "summary", "--json"))
	if s.Jobs != 2 || len(s.Rows) != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.ByStatus["created"] != 1 {
		t.Fatalf("by status = %v", s.ByStatus)
	}

	s = decode[kpi.Summary](t, run(t, db, "summary", "--date", "2000-01-01", "--json"))
	if s.Jobs != 0 || s.From != "2000-01-01" || s.To != "2000-01-01" {
		t.Fatalf("unexpected empty summary: %+v", s)
	}

	c := decode[kpi.Comparison](t, run(t, db, "compare", "--json"))
	if len(c.Reports) != 2 || c.Best == nil || c.Best.JobID != 1 || c.Worst == nil || c.Worst.JobID != 1 {
		t.Fatalf("unexpected comparison: %+v", c)
	}

	dir := t.TempDir()
	out := run(t, db, "compare", "--export", dir)
	if !strings.Contains(out, "best:") {
		t.Fatalf("compare table missing best line: %q", out)
	}
	for _, name := range []string{"job_compare.csv", "job_compare.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	today := time.Now().UTC().Format(kpi.DateLayout)
	run(t, db, "summary", "--date", today, "--export", dir)
	if _, err := os.Stat(filepath.Join(dir, "summary_"+today+"_"+today+".csv")); err != nil {
		t.Fatalf("missing summary export: %v", err)
	}
}

func TestSummaryRange(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 4, 5, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	cases := []struct {
		f        SummaryFlags
		from, to time.Time
	}{
		{SummaryFlags{Days: 7}, day(4), day(10)},
		{SummaryFlags{Days: 1}, day(10), day(10)},
		{SummaryFlags{Date: "2026-03-02", Days: 7}, day(2), day(2)},
		{SummaryFlags{From: "2026-03-01", Days: 7}, day(1), day(10)},
		{SummaryFlags{From: "2026-03-01", To: "2026-03-05"}, day(1), day(5)},
		{SummaryFlags{To: "2026-03-05"}, day(5), day(5)},
	}
	for _, c := range cases {
		from, to, err := summaryRange(c.f, now)
		if err != nil {
			t.Fatalf("%+v: %v", c.f, err)
		}
		if !from.Equal(c.from) || !to.Equal(c.to) {
			t.Fatalf("%+v: got %s..%s, want %s..%s", c.f, from, to, c.from, c.to)
		}
	}
	for _, f := range []SummaryFlags{{Days: 0}, {Date: "03/02/2026"}, {From: "x"}, {To: "2026-13-01"}} {
		if _, _, err := summaryRange(f, now); err == nil {
			t.Fatalf("%+v: expected error", f)
		}
	}
}

func TestOpenSourceSelection(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := openSource(cfg, IngestFlags{Mode: config.ModeSerial}); err == nil || !strings.Contains(err.Error(), "serial port is required") {
		t.Fatalf("serial without port err = %v", err)
	}
	if _, _, err := openSource(cfg, IngestFlags{Mode: "tcp"}); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
	if _, _, err := openSource(cfg, IngestFlags{File: filepath.Join(t.TempDir(), "missing.log")}); err == nil {
		t.Fatalf("expected missing file to fail")
	}
	src, name, err := openSource(cfg, IngestFlags{File: writeLog(t)})
	if err != nil {
		t.Fatalf("open file source: %v", err)
	}
	defer func() { _ = src.Close() }()
	if !strings.HasSuffix(name, "grbl.log") {
		t.Fatalf("source name = %q", name)
	}
	line, err := src.Next(context.Background())
	if err != nil || !strings.HasPrefix(line, "Grbl") {
		t.Fatalf("first line = %q, %v", line, err)
	}
}

func TestConfigFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cnc.toml")
	fileDB := filepath.Join(dir, "from-file.db")
	content := "[store]\ndsn = \"" + filepath.ToSlash(fileDB) + "\"\n[log]\nlevel = \"error\"\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", cfgPath, "job", "create", "--name", "from-config"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := os.Stat(fileDB); err != nil {
		t.Fatalf("config dsn not used: %v", err)
	}

	cfg, err := loadConfig(GlobalFlags{ConfigPath: cfgPath, DSN: "other.db", LogLevel: "debug"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "other.db" || cfg.Log.Level != "debug" {
		t.Fatalf("flags did not override config: %+v", cfg)
	}
	if _, err := loadConfig(GlobalFlags{LogLevel: "loud"}); err == nil {
		t.Fatalf("expected invalid log level to fail")
	}
}

func TestRefreshKPI(t *testing.T) {
	db := tempDB(t)
	run(t, db, "job", "create", "--name", "a", "--activate")
	run(t, db, "ingest", "--file", writeLog(t))

	ctx := context.Background()
	a, err := openApp(ctx, GlobalFlags{DSN: db, LogLevel: "error"})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer func() { _ = a.Close() }()
	// metrics are unregistered here; refresh must still succeed
	if err := refreshKPI(ctx, a, nil); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func TestServeIngestsAndShutsDown(t *testing.T) {
	db := tempDB(t)
	run(t, db, "job", "create", "--name", "a", "--activate")

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	cnc := command{global: &GlobalFlags{DSN: db, LogLevel: "error"}, out: &out}
	done := make(chan error, 1)
	go func() {
		done <- cnc.serve(ctx, ServeFlags{
			Listen:      "127.0.0.1:0",
			Ingest:      true,
			IngestFlags: IngestFlags{File: writeLog(t)},
		})
	}()
	time.Sleep(time.Second)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}

	r := decode[kpi.Report](t, run(t, db, "report", "1", "--json"))
	if r.TelemetrySamples != 3 || r.Status != store.StatusFinished {
		t.Fatalf("background ingest not applied: samples=%d status=%s", r.TelemetrySamples, r.Status)
	}
}

func TestRemoteStatusAndPush(t *testing.T) {
	db := tempDB(t)
	run(t, db, "job", "create", "--name", "remote", "--activate")

	ctx := context.Background()
	a, err := openApp(ctx, GlobalFlags{DSN: db, LogLevel: "error"})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer func() { _ = a.Close() }()
	ts := httptest.NewServer(server.NewRouter(serveDeps(a, ServeFlags{}), "/api").Handler())
	defer ts.Close()
	api := ts.URL + "/api"

	st := decode[client.Status](t, run(t, db, "status", "--api-url", api, "--json"))
	if !st.OK || st.ActiveJob == nil || *st.ActiveJob != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if out := run(t, db, "status", "--api-url", api); !strings.Contains(out, "active job") {
		t.Fatalf("status table = %q", out)
	}

	stats := decode[ingest.Stats](t, run(t, db, "push", "--api-url", api, "--file", writeLog(t), "--json"))
	if stats.Lines != 7 || stats.Telemetry != 3 || stats.FinalizedJob == nil {
		t.Fatalf("unexpected push stats: %+v", stats)
	}
	if _, err := execute(db, "push", "--api-url", api); err == nil {
		t.Fatalf("expected push without --file to fail")
	}
	if _, err := execute(db, "status", "--api-url", "http://127.0.0.1:1/api", "--api-timeout", "500ms"); err == nil {
		t.Fatalf("expected unreachable daemon to fail")
	}
}

func TestServeDepsSingleWriter(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	a, err := openApp(ctx, GlobalFlags{DSN: db, LogLevel: "error"})
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer func() { _ = a.Close() }()

	if deps := serveDeps(a, ServeFlags{}); deps.Ingest == nil {
		t.Fatal("upload endpoint should be enabled without a background ingest")
	}
	deps := serveDeps(a, ServeFlags{Ingest: true})
	if deps.Ingest != nil {
		t.Fatal("upload endpoint must be disabled while a background ingest runs")
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader("ok\n"))
	server.NewRouter(deps, "/api").Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "not enabled") {
		t.Fatalf("upload during background ingest: %d %s", rec.Code, rec.Body.String())
	}
}
