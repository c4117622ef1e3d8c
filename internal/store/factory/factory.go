package factory

import (
	"errors"
	"strings"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
	pg "github.com/Phillip-Steyn/cnc-iiot/internal/store/postgres"
	sq "github.com/Phillip-Steyn/cnc-iiot/internal/store/sqlite"
)

// NewFromDSN selects a store backend based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (*store.DB, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	return sq.New(d)
}
