package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Phillip-Steyn/cnc-iiot/internal/config"
	"github.com/Phillip-Steyn/cnc-iiot/internal/history"
	histfactory "github.com/Phillip-Steyn/cnc-iiot/internal/history/factory"
	"github.com/Phillip-Steyn/cnc-iiot/internal/ingest"
	"github.com/Phillip-Steyn/cnc-iiot/internal/job"
	"github.com/Phillip-Steyn/cnc-iiot/internal/kpi"
	"github.com/Phillip-Steyn/cnc-iiot/internal/logger"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store/factory"
)

// app holds the services one command invocation works with.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *store.DB
	jobs    *job.Manager
	kpi     *kpi.Engine
	history history.Reader
	closers []io.Closer
}

func loadConfig(g GlobalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.DSN != "" {
		cfg.Store.DSN = g.DSN
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openApp loads configuration, installs the logger and opens the store.
// Lifecycle history goes to history.dsn when set, otherwise into the
// store's own database.
func openApp(ctx context.Context, g GlobalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	l, logCloser, err := logger.New(cfg.Logger())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	a := &app{cfg: cfg, log: l, closers: []io.Closer{logCloser}}

	db, err := factory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)
	if err := db.EnsureSchema(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var sink history.Sink
	if cfg.History.DSN != "" {
		sink, err = histfactory.NewSinkFromDSN(cfg.History.DSN)
	} else {
		sink, err = history.NewSQLSink(ctx, db.Conn(), db.Dialect())
	}
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open history sink: %w", err)
	}
	if c, ok := sink.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	if r, ok := sink.(history.Reader); ok {
		a.history = r
	}

	a.jobs = job.NewManager(db,
		job.WithHistory(sink),
		job.WithClearActiveOnFinish(cfg.Job.ClearActiveOnFinish),
	)
	a.kpi = kpi.NewEngine(db, kpi.WithSampleInterval(cfg.KPI.SampleInterval))
	l.Debug("store opened", "dialect", db.Dialect(), "history", cfg.History.DSN != "")
	return a, nil
}

// ingestor builds a line ingestor. finalize attaches end-of-stream
// finalization of the active job.
func (a *app) ingestor(sourceTag string, finalize bool) *ingest.Ingestor {
	if sourceTag == "" {
		sourceTag = a.cfg.Ingest.SourceTag
	}
	opts := []ingest.Option{ingest.WithSourceTag(sourceTag), ingest.WithLogger(a.log)}
	if finalize {
		opts = append(opts, ingest.WithFinalizer(a.jobs))
	}
	return ingest.NewIngestor(a.db, a.db, opts...)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
