package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const jobColumns = `id, job_name, status, material, notes, created_ts_utc, started_ts_utc, finished_ts_utc`

// CreateJob inserts j with status created and returns its id.
func (s *DB) CreateJob(ctx context.Context, j Job) (int64, error) {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	return s.insert(ctx, `INSERT INTO jobs(job_name, status, material, notes, created_ts_utc) VALUES(?, ?, ?, ?, ?)`,
		j.Name, string(StatusCreated), nullString(j.Material), nullString(j.Notes), s.timeArg(j.CreatedAt))
}

// GetJob returns the job with id or ErrNotFound.
func (s *DB) GetJob(ctx context.Context, id int64) (Job, error) {
	row := s.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// LatestJob returns the most recently created job or ErrNotFound.
func (s *DB) LatestJob(ctx context.Context) (Job, error) {
	row := s.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT 1`)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns all jobs, newest first.
func (s *DB) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var (
		j                          Job
		status                     string
		material, notes            sql.NullString
		created, started, finished scanTime
	)
	if err := r.Scan(&j.ID, &j.Name, &status, &material, &notes, &created, &started, &finished); err != nil {
		return Job{}, err
	}
	j.Status = JobStatus(status)
	j.Material = material.String
	j.Notes = notes.String
	j.CreatedAt = created.Time
	j.StartedAt = started.ptr()
	j.FinishedAt = finished.ptr()
	return j, nil
}

// StartJob moves a created or paused job to running. started_ts_utc is only
// set the first time.
func (s *DB) StartJob(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.applied(ctx, `UPDATE jobs SET status = ?, started_ts_utc = COALESCE(started_ts_utc, ?)
		WHERE id = ? AND status IN (?, ?)`,
		string(StatusRunning), s.timeArg(at), id, string(StatusCreated), string(StatusPaused))
}

// PauseJob moves a running job to paused.
func (s *DB) PauseJob(ctx context.Context, id int64) (bool, error) {
	return s.applied(ctx, `UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		string(StatusPaused), id, string(StatusRunning))
}

// FinishJob moves a running or paused job to a final status. finished_ts_utc
// is clamped so it is never earlier than started_ts_utc.
func (s *DB) FinishJob(ctx context.Context, id int64, status JobStatus, at time.Time) (bool, error) {
	t := s.timeArg(at)
	return s.applied(ctx, `UPDATE jobs SET status = ?,
		finished_ts_utc = CASE WHEN started_ts_utc IS NOT NULL AND started_ts_utc > ? THEN started_ts_utc ELSE ? END
		WHERE id = ? AND status IN (?, ?)`,
		string(status), t, t, id, string(StatusRunning), string(StatusPaused))
}

// FinalizeJob stamps a job from its telemetry bounds. A missing start becomes
// first, finished always becomes last, and a non-final status becomes
// finished.
func (s *DB) FinalizeJob(ctx context.Context, id int64, first, last time.Time) (bool, error) {
	return s.applied(ctx, `UPDATE jobs SET
		started_ts_utc = COALESCE(started_ts_utc, ?),
		finished_ts_utc = ?,
		status = CASE WHEN status IN (?, ?, ?) THEN ? ELSE status END
		WHERE id = ?`,
		s.timeArg(first), s.timeArg(last),
		string(StatusCreated), string(StatusRunning), string(StatusPaused), string(StatusFinished), id)
}

// ResetJob clears both timestamps and returns the job to created.
func (s *DB) ResetJob(ctx context.Context, id int64) (bool, error) {
	return s.applied(ctx, `UPDATE jobs SET status = ?, started_ts_utc = NULL, finished_ts_utc = NULL WHERE id = ?`,
		string(StatusCreated), id)
}
