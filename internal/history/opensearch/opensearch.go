package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/history"
)

// Sink indexes job history documents into OpenSearch over its REST API.
// Documents are POSTed to baseURL + "/" + index + "/_doc".
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

type document struct {
	Type       history.EventType `json:"type"`
	OccurredAt time.Time         `json:"@timestamp"`
	JobID      int64             `json:"job_id"`
	JobName    string            `json:"job_name"`
	Status     string            `json:"status"`
	Material   string            `json:"material,omitempty"`
	CreatedAt  time.Time         `json:"created_ts_utc"`
	StartedAt  *time.Time        `json:"started_ts_utc,omitempty"`
	FinishedAt *time.Time        `json:"finished_ts_utc,omitempty"`
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	doc := document{
		Type:       e.Type,
		OccurredAt: e.OccurredAt.UTC(),
		JobID:      e.Job.ID,
		JobName:    e.Job.Name,
		Status:     string(e.Job.Status),
		Material:   e.Job.Material,
		CreatedAt:  e.Job.CreatedAt.UTC(),
		StartedAt:  e.Job.StartedAt,
		FinishedAt: e.Job.FinishedAt,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
