package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AppendTelemetry inserts one sample and sets its ID.
func (s *DB) AppendTelemetry(ctx context.Context, t *TelemetrySample) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	var wx, wy, wz sql.NullFloat64
	if t.WPos != nil {
		wx = sql.NullFloat64{Float64: t.WPos.X, Valid: true}
		wy = sql.NullFloat64{Float64: t.WPos.Y, Valid: true}
		wz = sql.NullFloat64{Float64: t.WPos.Z, Valid: true}
	}
	id, err := s.insert(ctx, `INSERT INTO telemetry(ts_utc, source, state, mpos_x, mpos_y, mpos_z,
		wpos_x, wpos_y, wpos_z, feed, spindle, raw, job_id) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.timeArg(t.Timestamp), t.Source, t.State, t.MPos.X, t.MPos.Y, t.MPos.Z,
		wx, wy, wz, t.Feed, t.Spindle, nullString(t.Raw), nullInt(t.JobID))
	if err != nil {
		return fmt.Errorf("append telemetry: %w", err)
	}
	t.ID = id
	return nil
}

// AppendEvent inserts one event and sets its ID.
func (s *DB) AppendEvent(ctx context.Context, e *Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	var meta sql.NullString
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encode event meta: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	id, err := s.insert(ctx, `INSERT INTO events(ts_utc, level, category, event_type, code, message, raw, meta_json, job_id)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.timeArg(e.Timestamp), e.Level, e.Category, e.Type, nullString(e.Code), e.Message,
		nullString(e.Raw), meta, nullInt(e.JobID))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	e.ID = id
	return nil
}

// TelemetryBounds returns the earliest and latest sample time and the sample
// count for a job. Count is zero when the job has no telemetry.
func (s *DB) TelemetryBounds(ctx context.Context, jobID int64) (Bounds, error) {
	var (
		first, last scanTime
		n           int64
	)
	err := s.queryRow(ctx, `SELECT MIN(ts_utc), MAX(ts_utc), COUNT(*) FROM telemetry WHERE job_id = ?`, jobID).
		Scan(&first, &last, &n)
	if err != nil {
		return Bounds{}, err
	}
	return Bounds{First: first.Time, Last: last.Time, Count: int(n)}, nil
}

func (s *DB) where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.JobID != nil {
		conds = append(conds, "job_id = ?")
		args = append(args, *f.JobID)
	}
	if !f.From.IsZero() {
		conds = append(conds, "ts_utc >= ?")
		args = append(args, s.timeArg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "ts_utc < ?")
		args = append(args, s.timeArg(f.To))
	}
	q := ""
	if len(conds) > 0 {
		q = " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return q, args
}

// Telemetry returns samples matching f in insertion order.
func (s *DB) Telemetry(ctx context.Context, f Filter) ([]TelemetrySample, error) {
	where, args := s.where(f)
	rows, err := s.query(ctx, `SELECT id, ts_utc, source, state, mpos_x, mpos_y, mpos_z,
		wpos_x, wpos_y, wpos_z, feed, spindle, raw, job_id FROM telemetry`+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []TelemetrySample
	for rows.Next() {
		var (
			t          TelemetrySample
			ts         scanTime
			source     sql.NullString
			wx, wy, wz sql.NullFloat64
			raw        sql.NullString
			job        sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &ts, &source, &t.State, &t.MPos.X, &t.MPos.Y, &t.MPos.Z,
			&wx, &wy, &wz, &t.Feed, &t.Spindle, &raw, &job); err != nil {
			return nil, err
		}
		t.Timestamp = ts.Time
		t.Source = source.String
		if wx.Valid && wy.Valid && wz.Valid {
			t.WPos = &Position{X: wx.Float64, Y: wy.Float64, Z: wz.Float64}
		}
		t.Raw = raw.String
		t.JobID = intPtr(job)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Events returns events matching f in insertion order.
func (s *DB) Events(ctx context.Context, f Filter) ([]Event, error) {
	where, args := s.where(f)
	rows, err := s.query(ctx, `SELECT id, ts_utc, level, category, event_type, code, message, raw, meta_json, job_id
		FROM events`+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var (
			e               Event
			ts              scanTime
			code, raw, meta sql.NullString
			job             sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Category, &e.Type, &code, &e.Message, &raw, &meta, &job); err != nil {
			return nil, err
		}
		e.Timestamp = ts.Time
		e.Code = code.String
		e.Raw = raw.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
				return nil, fmt.Errorf("decode event %d meta: %w", e.ID, err)
			}
		}
		e.JobID = intPtr(job)
		out = append(out, e)
	}
	return out, rows.Err()
}
