package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Phillip-Steyn/cnc-iiot/internal/metrics"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Name     string `json:"name"`
	Material string `json:"material,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// TransitionResult is the answer to a lifecycle action. Applied is false
// when the job's status did not allow the action.
type TransitionResult struct {
	Applied bool      `json:"applied"`
	Job     store.Job `json:"job"`
}

// Status is the daemon health report.
type Status struct {
	OK        bool                  `json:"ok"`
	Uptime    string                `json:"uptime"`
	ActiveJob *int64                `json:"active_job_id"`
	Process   *metrics.ProcessStats `json:"process,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for any non-2xx answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API answer of 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}
