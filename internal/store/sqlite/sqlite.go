package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// Dialect stores timestamps as fixed-width UTC text so that string order is
// time order.
var Dialect = store.Dialect{
	Name:         "sqlite",
	ColumnsQuery: `SELECT name FROM pragma_table_info(?) ORDER BY cid`,
	TimeArg:      store.FormatTextTime,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS jobs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'created',
			material TEXT NULL,
			notes TEXT NULL,
			created_ts_utc TEXT NOT NULL,
			started_ts_utc TEXT NULL,
			finished_ts_utc TEXT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS telemetry(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_utc TEXT NOT NULL,
			source TEXT NULL,
			state TEXT NOT NULL,
			mpos_x REAL NOT NULL,
			mpos_y REAL NOT NULL,
			mpos_z REAL NOT NULL,
			wpos_x REAL NULL,
			wpos_y REAL NULL,
			wpos_z REAL NULL,
			feed REAL NOT NULL,
			spindle REAL NOT NULL,
			raw TEXT NULL,
			job_id INTEGER NULL REFERENCES jobs(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_job ON telemetry(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry(ts_utc);`,
		`CREATE TABLE IF NOT EXISTS events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_utc TEXT NOT NULL,
			level TEXT NOT NULL,
			category TEXT NOT NULL,
			event_type TEXT NOT NULL,
			code TEXT NULL,
			message TEXT NOT NULL,
			raw TEXT NULL,
			meta_json TEXT NULL,
			job_id INTEGER NULL REFERENCES jobs(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_utc);`,
		`CREATE TABLE IF NOT EXISTS app_state(
			key TEXT PRIMARY KEY,
			value TEXT NULL
		);`,
	},
}

// New opens a SQLite database at path (modernc.org/sqlite, CGO-free).
// Use ":memory:" for an in-memory database.
func New(path string) (*store.DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases coherent and serialises writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks from other processes
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	if p != ":memory:" {
		_, _ = d.Exec("PRAGMA journal_mode=WAL;")
	}
	return store.Open(d, Dialect), nil
}
