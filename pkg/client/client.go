package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/history"
	"github.com/Phillip-Steyn/cnc-iiot/internal/ingest"
	"github.com/Phillip-Steyn/cnc-iiot/internal/kpi"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// Client talks to the cnciiot HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	TLS     *TLSClientConfig
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client. A TLS setup error is returned rather than
// silently falling back to an unverified transport.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil {
		tlsConfig, err := setupClientTLS(*config.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(cfg TLSClientConfig) (*tls.Config, error) {
	// #nosec G402 skip-verify is an explicit opt-in for self-signed daemons
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.SkipVerify,
		ServerName:         cfg.ServerName,
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Status returns the daemon health report. An unhealthy daemon answers 503;
// its report is still decoded and returned alongside the error.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, "", &st)
	return st, err
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
	}
	return err == nil
}

func (c *Client) ListJobs(ctx context.Context) ([]store.Job, error) {
	var jobs []store.Job
	return jobs, c.do(ctx, http.MethodGet, "/jobs", nil, "", &jobs)
}

func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (store.Job, error) {
	var j store.Job
	return j, c.doJSON(ctx, http.MethodPost, "/jobs", req, &j)
}

func (c *Client) GetJob(ctx context.Context, id int64) (store.Job, error) {
	var j store.Job
	return j, c.do(ctx, http.MethodGet, jobPath(id, ""), nil, "", &j)
}

func (c *Client) StartJob(ctx context.Context, id int64) (TransitionResult, error) {
	return c.transition(ctx, id, "start", nil)
}

func (c *Client) PauseJob(ctx context.Context, id int64) (TransitionResult, error) {
	return c.transition(ctx, id, "pause", nil)
}

// StopJob ends a job; final is finished or failed, empty meaning finished.
func (c *Client) StopJob(ctx context.Context, id int64, final store.JobStatus) (TransitionResult, error) {
	q := url.Values{}
	if final != "" {
		q.Set("status", string(final))
	}
	return c.transition(ctx, id, "stop", q)
}

func (c *Client) FinalizeJob(ctx context.Context, id int64) (TransitionResult, error) {
	return c.transition(ctx, id, "finalize", nil)
}

func (c *Client) ResetJob(ctx context.Context, id int64) (TransitionResult, error) {
	return c.transition(ctx, id, "reset", nil)
}

func (c *Client) transition(ctx context.Context, id int64, action string, q url.Values) (TransitionResult, error) {
	c.logger.Debug("Job transition", "id", id, "action", action)
	p := jobPath(id, action)
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	var res TransitionResult
	return res, c.do(ctx, http.MethodPost, p, nil, "", &res)
}

func (c *Client) Report(ctx context.Context, id int64) (kpi.Report, error) {
	var r kpi.Report
	return r, c.do(ctx, http.MethodGet, jobPath(id, "report"), nil, "", &r)
}

func (c *Client) LatestReport(ctx context.Context) (kpi.Report, error) {
	var r kpi.Report
	return r, c.do(ctx, http.MethodGet, "/report/latest", nil, "", &r)
}

func (c *Client) History(ctx context.Context, id int64, limit int) ([]history.Event, error) {
	p := jobPath(id, "history")
	if limit > 0 {
		p += "?limit=" + strconv.Itoa(limit)
	}
	var evs []history.Event
	return evs, c.do(ctx, http.MethodGet, p, nil, "", &evs)
}

// ActiveJob returns the active job id; ok is false when none is set.
func (c *Client) ActiveJob(ctx context.Context) (id int64, ok bool, err error) {
	var resp struct {
		JobID *int64 `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/active", nil, "", &resp); err != nil {
		return 0, false, err
	}
	if resp.JobID == nil {
		return 0, false, nil
	}
	return *resp.JobID, true, nil
}

func (c *Client) SetActiveJob(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodPut, "/active", map[string]int64{"job_id": id}, nil)
}

func (c *Client) ClearActiveJob(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/active", nil, "", nil)
}

// Summary reports on jobs created between the UTC dates from and to.
func (c *Client) Summary(ctx context.Context, from, to time.Time) (kpi.Summary, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(kpi.DateLayout))
	q.Set("to", to.UTC().Format(kpi.DateLayout))
	var s kpi.Summary
	return s, c.do(ctx, http.MethodGet, "/summary?"+q.Encode(), nil, "", &s)
}

func (c *Client) Compare(ctx context.Context) (kpi.Comparison, error) {
	var cmp kpi.Comparison
	return cmp, c.do(ctx, http.MethodGet, "/compare", nil, "", &cmp)
}

// Ingest uploads raw controller lines, one per line, to the daemon.
func (c *Client) Ingest(ctx context.Context, lines io.Reader) (ingest.Stats, error) {
	var st ingest.Stats
	return st, c.do(ctx, http.MethodPost, "/ingest", lines, "text/plain; charset=utf-8", &st)
}

func jobPath(id int64, action string) string {
	p := "/jobs/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(data), "application/json", out)
}

// do performs a request and decodes a JSON answer into out. Error answers
// become *APIError; out is still filled when the error body carries it.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return c.handleErrorResponse(resp.StatusCode, raw, out)
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(code int, raw []byte, out any) error {
	var errorResp ErrorResponse
	if err := json.Unmarshal(raw, &errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", code)
		return &APIError{StatusCode: code}
	}
	if out != nil {
		_ = json.Unmarshal(raw, out)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", code)
	return &APIError{StatusCode: code, Message: errorResp.Error}
}
