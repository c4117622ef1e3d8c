package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Phillip-Steyn/cnc-iiot/internal/history"
	"github.com/Phillip-Steyn/cnc-iiot/internal/ingest"
	"github.com/Phillip-Steyn/cnc-iiot/internal/job"
	"github.com/Phillip-Steyn/cnc-iiot/internal/kpi"
	"github.com/Phillip-Steyn/cnc-iiot/internal/metrics"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// Limits on request-controlled sizes.
const (
	maxIngestBody = 1 << 20
	defaultLimit  = 500
	maxLimit      = 10000
)

// Records is the read access the API needs to raw telemetry and events.
type Records interface {
	Telemetry(ctx context.Context, f store.Filter) ([]store.TelemetrySample, error)
	Events(ctx context.Context, f store.Filter) ([]store.Event, error)
	Ping(ctx context.Context) error
}

// Deps are the services behind the API. Ingest, History, Metrics and Self
// are optional; their endpoints answer 404 when unset.
type Deps struct {
	Jobs    *job.Manager
	KPI     *kpi.Engine
	Records Records
	Ingest  *ingest.Ingestor
	History history.Reader
	Metrics http.Handler
	Self    *metrics.SelfSampler
}

// Router provides embeddable HTTP handlers for jobs, the active job pointer,
// KPI reports and line ingestion.
// Endpoints (relative to basePath):
//
//	GET    /jobs                    list jobs, newest first
//	POST   /jobs                    body: {"name","material","notes"}
//	GET    /jobs/:id
//	POST   /jobs/:id/start|pause|reset|finalize
//	POST   /jobs/:id/stop           query: status=finished|failed
//	GET    /jobs/:id/report
//	GET    /jobs/:id/telemetry      query: from, to, limit
//	GET    /jobs/:id/events         query: from, to, limit
//	GET    /jobs/:id/history        query: limit
//	GET    /report/latest
//	GET    /active  PUT /active  DELETE /active
//	GET    /summary                 query: from, to (YYYY-MM-DD)
//	GET    /compare
//	POST   /ingest                  body: controller lines
//	GET    /status
//
// /metrics is served at the root when a metrics handler is configured.
type Router struct {
	deps     Deps
	basePath string
	maxBody  int64
	// ingestion is a single-writer fold; requests are serialised
	ingestMu sync.Mutex
	started  time.Time
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/jobs, /api/active, ...
func NewRouter(deps Deps, basePath string) *Router {
	return &Router{deps: deps, basePath: sanitizeBase(basePath), maxBody: maxIngestBody, started: time.Now().UTC()}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.deps.Metrics != nil {
		g.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}
	group := g.Group(r.basePath)
	group.GET("/jobs", r.handleListJobs)
	group.POST("/jobs", r.handleCreateJob)
	group.GET("/jobs/:id", r.handleGetJob)
	group.POST("/jobs/:id/start", r.transition(func(ctx context.Context, id int64, _ *gin.Context) (bool, error) {
		return r.deps.Jobs.Start(ctx, id)
	}))
	group.POST("/jobs/:id/pause", r.transition(func(ctx context.Context, id int64, _ *gin.Context) (bool, error) {
		return r.deps.Jobs.Pause(ctx, id)
	}))
	group.POST("/jobs/:id/stop", r.transition(func(ctx context.Context, id int64, c *gin.Context) (bool, error) {
		return r.deps.Jobs.Stop(ctx, id, store.JobStatus(c.Query("status")))
	}))
	group.POST("/jobs/:id/finalize", r.transition(func(ctx context.Context, id int64, _ *gin.Context) (bool, error) {
		return r.deps.Jobs.FinalizeFromTelemetry(ctx, id)
	}))
	group.POST("/jobs/:id/reset", r.transition(func(ctx context.Context, id int64, _ *gin.Context) (bool, error) {
		return r.deps.Jobs.Reset(ctx, id)
	}))
	group.GET("/jobs/:id/report", r.handleReport)
	group.GET("/jobs/:id/telemetry", r.handleTelemetry)
	group.GET("/jobs/:id/events", r.handleEvents)
	group.GET("/jobs/:id/history", r.handleHistory)
	group.GET("/report/latest", r.handleLatestReport)
	group.GET("/active", r.handleGetActive)
	group.PUT("/active", r.handleSetActive)
	group.DELETE("/active", r.handleClearActive)
	group.GET("/summary", r.handleSummary)
	group.GET("/compare", r.handleCompare)
	group.POST("/ingest", r.handleIngest)
	group.GET("/status", r.handleStatus)
	return g
}

// NewServer builds a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, deps Deps) *http.Server {
	r := NewRouter(deps, basePath)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type appliedResp struct {
	Applied bool      `json:"applied"`
	Job     store.Job `json:"job"`
}

type createReq struct {
	Name     string `json:"name"`
	Material string `json:"material"`
	Notes    string `json:"notes"`
}

type activeReq struct {
	JobID int64 `json:"job_id"`
}

type activeResp struct {
	JobID *int64 `json:"job_id"`
}

func (r *Router) handleListJobs(c *gin.Context) {
	jobs, err := r.deps.Jobs.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	writeJSON(c, http.StatusOK, jobs)
}

func (r *Router) handleCreateJob(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	id, err := r.deps.Jobs.Create(ctx, req.Name, req.Material, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	j, err := r.deps.Jobs.Get(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, j)
}

func (r *Router) handleGetJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	j, err := r.deps.Jobs.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, j)
}

type transitionFunc func(ctx context.Context, id int64, c *gin.Context) (bool, error)

// transition runs a guarded lifecycle change and answers with the job as it
// stands afterwards. A rejected transition is not an error: applied=false.
func (r *Router) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		applied, err := fn(ctx, id, c)
		if err != nil {
			writeError(c, err)
			return
		}
		j, err := r.deps.Jobs.Get(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, appliedResp{Applied: applied, Job: j})
	}
}

func (r *Router) handleReport(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rep, err := r.deps.KPI.JobReport(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

func (r *Router) handleLatestReport(c *gin.Context) {
	rep, err := r.deps.KPI.Latest(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

// recordFilter builds the filter for a job-scoped record listing, answering
// the request itself on invalid input.
func (r *Router) recordFilter(c *gin.Context) (store.Filter, bool) {
	id, ok := pathID(c)
	if !ok {
		return store.Filter{}, false
	}
	from, ok := queryTime(c, "from")
	if !ok {
		return store.Filter{}, false
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return store.Filter{}, false
	}
	limit, ok := queryLimit(c, defaultLimit, maxLimit)
	if !ok {
		return store.Filter{}, false
	}
	if _, err := r.deps.Jobs.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return store.Filter{}, false
	}
	return store.Filter{JobID: &id, From: from, To: to, Limit: limit}, true
}

func (r *Router) handleTelemetry(c *gin.Context) {
	f, ok := r.recordFilter(c)
	if !ok {
		return
	}
	rows, err := r.deps.Records.Telemetry(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []store.TelemetrySample{}
	}
	writeJSON(c, http.StatusOK, rows)
}

func (r *Router) handleEvents(c *gin.Context) {
	f, ok := r.recordFilter(c)
	if !ok {
		return
	}
	rows, err := r.deps.Records.Events(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []store.Event{}
	}
	writeJSON(c, http.StatusOK, rows)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.deps.History == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history export is not configured"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, 100, 1000)
	if !ok {
		return
	}
	evs, err := r.deps.History.Recent(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

func (r *Router) handleGetActive(c *gin.Context) {
	id, ok, err := r.deps.Jobs.Active(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeJSON(c, http.StatusOK, activeResp{})
		return
	}
	writeJSON(c, http.StatusOK, activeResp{JobID: &id})
}

func (r *Router) handleSetActive(c *gin.Context) {
	var req activeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if req.JobID <= 0 {
		badRequest(c, "job_id required")
		return
	}
	if err := r.deps.Jobs.SetActive(c.Request.Context(), req.JobID); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, activeResp{JobID: &req.JobID})
}

func (r *Router) handleClearActive(c *gin.Context) {
	if err := r.deps.Jobs.ClearActive(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSummary(c *gin.Context) {
	today := time.Now().UTC().Format(kpi.DateLayout)
	fromS, toS := c.DefaultQuery("from", today), c.DefaultQuery("to", today)
	from, err := time.Parse(kpi.DateLayout, fromS)
	if err != nil {
		badRequest(c, "invalid from date: "+fromS)
		return
	}
	to, err := time.Parse(kpi.DateLayout, toS)
	if err != nil {
		badRequest(c, "invalid to date: "+toS)
		return
	}
	if to.Before(from) {
		badRequest(c, "to is before from")
		return
	}
	s, err := r.deps.KPI.Summary(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleCompare(c *gin.Context) {
	cmp, err := r.deps.KPI.Compare(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, cmp)
}

func (r *Router) handleIngest(c *gin.Context) {
	if r.deps.Ingest == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "ingestion is not enabled"})
		return
	}
	body := http.MaxBytesReader(c.Writer, c.Request.Body, r.maxBody)
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()
	st, err := r.deps.Ingest.Run(c.Request.Context(), ingest.NewReaderSource(body))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(c, http.StatusRequestEntityTooLarge, errorResp{Error: err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

type statusResp struct {
	OK        bool                  `json:"ok"`
	Uptime    string                `json:"uptime"`
	ActiveJob *int64                `json:"active_job_id"`
	Process   *metrics.ProcessStats `json:"process,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	resp := statusResp{OK: true, Uptime: time.Since(r.started).Round(time.Second).String()}
	if err := r.deps.Records.Ping(ctx); err != nil {
		resp.OK, resp.Error = false, err.Error()
		writeJSON(c, http.StatusServiceUnavailable, resp)
		return
	}
	if id, ok, err := r.deps.Jobs.Active(ctx); err == nil && ok {
		resp.ActiveJob = &id
	}
	if r.deps.Self != nil {
		if ps, err := r.deps.Self.Sample(); err == nil {
			resp.Process = &ps
		}
	}
	writeJSON(c, http.StatusOK, resp)
}
