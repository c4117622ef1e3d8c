package job

import (
	"context"
	"errors"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

var (
	// ErrInvalidStatus is returned when Stop is asked for a non-final status.
	ErrInvalidStatus = errors.New("invalid final status")
	// ErrEmptyName is returned when Create is given a blank name.
	ErrEmptyName = errors.New("job name is required")
)

// AutoFinalizeCode tags the event written by FinalizeFromTelemetry.
const AutoFinalizeCode = "AUTO_FINALIZE"

// Store is the persistence the manager drives.
type Store interface {
	CreateJob(ctx context.Context, j store.Job) (int64, error)
	GetJob(ctx context.Context, id int64) (store.Job, error)
	ListJobs(ctx context.Context) ([]store.Job, error)
	LatestJob(ctx context.Context) (store.Job, error)

	StartJob(ctx context.Context, id int64, at time.Time) (bool, error)
	PauseJob(ctx context.Context, id int64) (bool, error)
	FinishJob(ctx context.Context, id int64, status store.JobStatus, at time.Time) (bool, error)
	FinalizeJob(ctx context.Context, id int64, first, last time.Time) (bool, error)
	ResetJob(ctx context.Context, id int64) (bool, error)

	TelemetryBounds(ctx context.Context, jobID int64) (store.Bounds, error)
	AppendEvent(ctx context.Context, e *store.Event) error

	ActiveJob(ctx context.Context) (int64, bool, error)
	SetActiveJob(ctx context.Context, id int64) error
	ClearActiveJob(ctx context.Context) error
}
