package store

import (
	"context"
	"errors"
	"strings"
)

// Columns lists the column names of table in declaration order. An unknown
// table yields an empty list.
func (s *DB) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.query(ctx, s.d.ColumnsQuery, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// SelectWhere returns the raw driver values of the selected columns. Values
// are whatever the driver produces: int64, float64, string, []byte,
// time.Time or nil.
func (s *DB) SelectWhere(ctx context.Context, sel Selection) ([][]any, error) {
	if sel.Table == "" || sel.KeyColumn == "" || len(sel.Columns) == 0 {
		return nil, errors.New("selection needs a table, key column and at least one column")
	}
	quoted := make([]string, len(sel.Columns))
	for i, c := range sel.Columns {
		quoted[i] = QuoteIdent(c)
	}
	q := `SELECT ` + strings.Join(quoted, ", ") + ` FROM ` + QuoteIdent(sel.Table) +
		` WHERE ` + QuoteIdent(sel.KeyColumn) + ` = ?`
	if sel.OrderBy != "" {
		q += ` ORDER BY ` + QuoteIdent(sel.OrderBy)
	}
	rows, err := s.query(ctx, q, sel.Key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(sel.Columns))
		ptrs := make([]any, len(sel.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}
