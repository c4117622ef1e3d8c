package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

var Dialect = store.Dialect{
	Name:      "postgres",
	Numbered:  true,
	Returning: true,
	ColumnsQuery: `SELECT column_name::text FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ? ORDER BY ordinal_position`,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS jobs(
			id BIGSERIAL PRIMARY KEY,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'created',
			material TEXT NULL,
			notes TEXT NULL,
			created_ts_utc TIMESTAMPTZ NOT NULL,
			started_ts_utc TIMESTAMPTZ NULL,
			finished_ts_utc TIMESTAMPTZ NULL
		);`,
		`CREATE TABLE IF NOT EXISTS telemetry(
			id BIGSERIAL PRIMARY KEY,
			ts_utc TIMESTAMPTZ NOT NULL,
			source TEXT NULL,
			state TEXT NOT NULL,
			mpos_x DOUBLE PRECISION NOT NULL,
			mpos_y DOUBLE PRECISION NOT NULL,
			mpos_z DOUBLE PRECISION NOT NULL,
			wpos_x DOUBLE PRECISION NULL,
			wpos_y DOUBLE PRECISION NULL,
			wpos_z DOUBLE PRECISION NULL,
			feed DOUBLE PRECISION NOT NULL,
			spindle DOUBLE PRECISION NOT NULL,
			raw TEXT NULL,
			job_id BIGINT NULL REFERENCES jobs(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_job ON telemetry(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry(ts_utc);`,
		`CREATE TABLE IF NOT EXISTS events(
			id BIGSERIAL PRIMARY KEY,
			ts_utc TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			category TEXT NOT NULL,
			event_type TEXT NOT NULL,
			code TEXT NULL,
			message TEXT NOT NULL,
			raw TEXT NULL,
			meta_json TEXT NULL,
			job_id BIGINT NULL REFERENCES jobs(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_utc);`,
		`CREATE TABLE IF NOT EXISTS app_state(
			key TEXT PRIMARY KEY,
			value TEXT NULL
		);`,
	},
}

// New opens a PostgreSQL database through the pgx stdlib driver.
func New(dsn string) (*store.DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return store.Open(d, Dialect), nil
}
