package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Table names and the app_state key holding the active job pointer.
const (
	TableJobs      = "jobs"
	TableTelemetry = "telemetry"
	TableEvents    = "events"
	TableAppState  = "app_state"

	ActiveJobKey = "active_job_id"
)

// Dialect captures the differences between the supported SQL backends.
// Numbered selects $n placeholders instead of '?'. Returning makes inserts
// read the new id through RETURNING instead of LastInsertId.
type Dialect struct {
	Name         string
	Numbered     bool
	Returning    bool
	Schema       []string
	ColumnsQuery string
	TimeArg      func(time.Time) any
}

// DB is the SQL-backed store shared by the sqlite and postgres backends.
type DB struct {
	db *sql.DB
	d  Dialect
}

// Open wraps an already opened database handle.
func Open(db *sql.DB, d Dialect) *DB {
	if d.TimeArg == nil {
		d.TimeArg = func(t time.Time) any { return t.UTC() }
	}
	return &DB{db: db, d: d}
}

// Conn exposes the underlying handle for callers sharing the database.
func (s *DB) Conn() *sql.DB { return s.db }

// Dialect returns the backend name, "sqlite" or "postgres".
func (s *DB) Dialect() string { return s.d.Name }

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the tables and indexes if they are missing.
func (s *DB) EnsureSchema(ctx context.Context) error {
	for _, q := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.Name, err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders for dialects using $n.
func (s *DB) rebind(q string) string {
	if !s.d.Numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

// insert runs an INSERT and returns the generated id.
func (s *DB) insert(ctx context.Context, q string, args ...any) (int64, error) {
	if s.d.Returning {
		var id int64
		if err := s.queryRow(ctx, q+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// applied runs a guarded UPDATE and reports whether it touched a row.
func (s *DB) applied(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *DB) timeArg(t time.Time) any { return s.d.TimeArg(t) }

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	x := v.Int64
	return &x
}

// QuoteIdent quotes an SQL identifier for both backends.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
