package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Phillip-Steyn/cnc-iiot/internal/history"
	"github.com/Phillip-Steyn/cnc-iiot/internal/ingest"
	"github.com/Phillip-Steyn/cnc-iiot/internal/job"
	"github.com/Phillip-Steyn/cnc-iiot/internal/kpi"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store/sqlite"
)

func newDeps(t testing.TB) (Deps, *store.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	sink, err := history.NewSQLSink(ctx, db.Conn(), db.Dialect())
	if err != nil {
		t.Fatalf("history sink: %v", err)
	}
	mgr := job.NewManager(db, job.WithHistory(sink))
	return Deps{
		Jobs:    mgr,
		KPI:     kpi.NewEngine(db),
		Records: db,
		Ingest:  ingest.NewIngestor(db, db),
		History: sink,
		Metrics: promhttp.Handler(),
	}, db
}

func setupRouter(t testing.TB, base string) (http.Handler, *store.DB) {
	t.Helper()
	deps, db := newDeps(t)
	return NewRouter(deps, base).Handler(), db
}

func doReq(t testing.TB, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if _, isJSON := body.(string); body != nil && !isJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createJob(t *testing.T, h http.Handler, name string) store.Job {
	t.Helper()
	rec := doReq(t, h, http.MethodPost, "/api/jobs", map[string]string{"name": name, "material": "oak"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	return decode[store.Job](t, rec)
}

func TestCreateAndGetJob(t *testing.T) {
	h, _ := setupRouter(t, "/api/")
	j := createJob(t, h, "coaster")
	if j.ID == 0 || j.Name != "coaster" || j.Status != store.StatusCreated || j.Material != "oak" {
		t.Fatalf("unexpected job: %+v", j)
	}
	rec := doReq(t, h, http.MethodGet, "/api/jobs/1", nil)
	if rec.Code != http.StatusOK || decode[store.Job](t, rec).Name != "coaster" {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodGet, "/api/jobs", nil)
	if jobs := decode[[]store.Job](t, rec); len(jobs) != 1 {
		t.Fatalf("list = %v", jobs)
	}
}

func TestCreateJobValidation(t *testing.T) {
	h, _ := setupRouter(t, "api")
	if rec := doReq(t, h, http.MethodPost, "/api/jobs", map[string]string{"name": "  "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/api/jobs", "{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestGetJobErrors(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	if rec := doReq(t, h, http.MethodGet, "/api/jobs/99", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/jobs/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/api/jobs/0/start", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	createJob(t, h, "sign")

	rec := doReq(t, h, http.MethodPost, "/api/jobs/1/start", nil)
	got := decode[appliedResp](t, rec)
	if rec.Code != http.StatusOK || !got.Applied || got.Job.Status != store.StatusRunning || got.Job.StartedAt == nil {
		t.Fatalf("start: %d %+v", rec.Code, got)
	}
	got = decode[appliedResp](t, doReq(t, h, http.MethodPost, "/api/jobs/1/start", nil))
	if got.Applied {
		t.Fatalf("second start should be a no-op")
	}
	got = decode[appliedResp](t, doReq(t, h, http.MethodPost, "/api/jobs/1/pause", nil))
	if !got.Applied || got.Job.Status != store.StatusPaused {
		t.Fatalf("pause: %+v", got)
	}
	if rec := doReq(t, h, http.MethodPost, "/api/jobs/1/stop?status=running", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-final status, got %d", rec.Code)
	}
	got = decode[appliedResp](t, doReq(t, h, http.MethodPost, "/api/jobs/1/stop?status=failed", nil))
	if !got.Applied || got.Job.Status != store.StatusFailed || got.Job.FinishedAt == nil {
		t.Fatalf("stop: %+v", got)
	}
	got = decode[appliedResp](t, doReq(t, h, http.MethodPost, "/api/jobs/1/reset", nil))
	if !got.Applied || got.Job.Status != store.StatusCreated || got.Job.StartedAt != nil {
		t.Fatalf("reset: %+v", got)
	}
	got = decode[appliedResp](t, doReq(t, h, http.MethodPost, "/api/jobs/1/finalize", nil))
	if got.Applied {
		t.Fatalf("finalize without telemetry should be a no-op")
	}
	if rec := doReq(t, h, http.MethodPost, "/api/jobs/7/stop", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodGet, "/api/jobs/1/history?limit=10", nil)
	evs := decode[[]history.Event](t, rec)
	if rec.Code != http.StatusOK || len(evs) != 5 {
		t.Fatalf("history: %d %d events", rec.Code, len(evs))
	}
}

func TestActivePointer(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	if got := decode[activeResp](t, doReq(t, h, http.MethodGet, "/api/active", nil)); got.JobID != nil {
		t.Fatalf("expected no active job, got %v", *got.JobID)
	}
	if rec := doReq(t, h, http.MethodPut, "/api/active", activeReq{JobID: 5}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPut, "/api/active", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without job_id, got %d", rec.Code)
	}
	createJob(t, h, "a")
	if rec := doReq(t, h, http.MethodPut, "/api/active", activeReq{JobID: 1}); rec.Code != http.StatusOK {
		t.Fatalf("set active: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[activeResp](t, doReq(t, h, http.MethodGet, "/api/active", nil)); got.JobID == nil || *got.JobID != 1 {
		t.Fatalf("active = %v", got.JobID)
	}
	if rec := doReq(t, h, http.MethodDelete, "/api/active", nil); rec.Code != http.StatusOK {
		t.Fatalf("clear active: %d", rec.Code)
	}
	if got := decode[activeResp](t, doReq(t, h, http.MethodGet, "/api/active", nil)); got.JobID != nil {
		t.Fatalf("expected cleared pointer")
	}
}

const ingestBody = `Grbl 1.1h ['$' for help]
<Run|MPos:0,0,0|FS:1000,8000>

<Idle|MPos:1,0,0|FS:0,0>
ALARM:1
ok
`

func TestIngestAndReports(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	createJob(t, h, "panel")
	doReq(t, h, http.MethodPut, "/api/active", activeReq{JobID: 1})
	doReq(t, h, http.MethodPost, "/api/jobs/1/start", nil)

	rec := doReq(t, h, http.MethodPost, "/api/ingest", ingestBody)
	st := decode[ingest.Stats](t, rec)
	if rec.Code != http.StatusOK || st.Lines != 5 || st.Telemetry != 2 || st.Events != 3 {
		t.Fatalf("ingest: %d %+v", rec.Code, st)
	}

	rec = doReq(t, h, http.MethodGet, "/api/jobs/1/telemetry?limit=1", nil)
	if samples := decode[[]store.TelemetrySample](t, rec); len(samples) != 1 || samples[0].State != "Run" {
		t.Fatalf("telemetry = %+v", samples)
	}
	rec = doReq(t, h, http.MethodGet, "/api/jobs/1/events", nil)
	// created and started lifecycle events plus three controller events
	if evs := decode[[]store.Event](t, rec); len(evs) != 5 {
		t.Fatalf("events = %d", len(evs))
	}
	if rec := doReq(t, h, http.MethodGet, "/api/jobs/1/events?from=yesterday", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/jobs/9/telemetry", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodGet, "/api/jobs/1/report", nil)
	rep := decode[map[string]any](t, rec)
	if rec.Code != http.StatusOK || rep["telemetry_samples"].(float64) != 2 || rep["alarm_events"].(float64) != 1 {
		t.Fatalf("report: %d %v", rec.Code, rep)
	}
	if rep["idle_pct"].(float64) != 50 {
		t.Fatalf("idle_pct = %v", rep["idle_pct"])
	}
	if rec := doReq(t, h, http.MethodGet, "/api/jobs/3/report", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing report, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/api/report/latest", nil)
	if rec.Code != http.StatusOK || decode[kpi.Report](t, rec).JobID != 1 {
		t.Fatalf("latest: %d %s", rec.Code, rec.Body.String())
	}
}

func TestIngestTooLarge(t *testing.T) {
	deps, _ := newDeps(t)
	r := NewRouter(deps, "/api")
	r.maxBody = 64
	h := r.Handler()
	body := strings.Repeat("ok\n", 40)
	if rec := doReq(t, h, http.MethodPost, "/api/ingest", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestIngestRunIDPerUpload(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	var ids []string
	for i := 0; i < 2; i++ {
		rec := doReq(t, h, http.MethodPost, "/api/ingest", "ok\n")
		st := decode[ingest.Stats](t, rec)
		if rec.Code != http.StatusOK || st.RunID == "" {
			t.Fatalf("upload %d: %d %+v", i, rec.Code, st)
		}
		ids = append(ids, st.RunID)
	}
	if ids[0] == ids[1] {
		t.Fatalf("uploads share run id %s", ids[0])
	}
}

func TestSummaryAndCompare(t *testing.T) {
	h, _ := setupRouter(t, "/api")
	createJob(t, h, "one")
	createJob(t, h, "two")

	today := time.Now().UTC().Format(kpi.DateLayout)
	rec := doReq(t, h, http.MethodGet, "/api/summary?from="+today+"&to="+today, nil)
	s := decode[kpi.Summary](t, rec)
	if rec.Code != http.StatusOK || s.Jobs != 2 || s.ByStatus["created"] != 2 {
		t.Fatalf("summary: %d %+v", rec.Code, s)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/summary?from=2024-13-01", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/summary?from=2024-02-02&to=2024-02-01", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodGet, "/api/compare", nil)
	cmp := decode[kpi.Comparison](t, rec)
	if rec.Code != http.StatusOK || len(cmp.Reports) != 2 || cmp.Best != nil {
		t.Fatalf("compare: %d %+v", rec.Code, cmp)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	h, db := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK || !decode[statusResp](t, rec).OK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	if rec := doReq(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	_ = db.Close()
	if rec := doReq(t, h, http.MethodGet, "/status", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", rec.Code)
	}
}

func TestOptionalEndpointsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	_ = db.EnsureSchema(context.Background())
	h := NewRouter(Deps{Jobs: job.NewManager(db), KPI: kpi.NewEngine(db), Records: db}, "/api").Handler()
	if rec := doReq(t, h, http.MethodPost, "/api/ingest", "ok\n"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without ingestor, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/jobs/1/history", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without history, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics, got %d", rec.Code)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}
