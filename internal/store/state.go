package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
)

// ActiveJob returns the job id the ingestion pipeline attributes records to.
// ok is false when no job is active.
func (s *DB) ActiveJob(ctx context.Context) (id int64, ok bool, err error) {
	var v sql.NullString
	err = s.queryRow(ctx, `SELECT value FROM app_state WHERE key = ?`, ActiveJobKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(strings.TrimSpace(v.String), 10, 64)
	if err != nil {
		// an unparsable pointer is treated as unset
		return 0, false, nil
	}
	return id, true, nil
}

// SetActiveJob points the ingestion pipeline at id.
func (s *DB) SetActiveJob(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `INSERT INTO app_state(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, ActiveJobKey, strconv.FormatInt(id, 10))
	return err
}

// ClearActiveJob removes the active job pointer.
func (s *DB) ClearActiveJob(ctx context.Context) error {
	_, err := s.exec(ctx, `DELETE FROM app_state WHERE key = ?`, ActiveJobKey)
	return err
}
