package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Phillip-Steyn/cnc-iiot/internal/cron"
	"github.com/Phillip-Steyn/cnc-iiot/internal/metrics"
	"github.com/Phillip-Steyn/cnc-iiot/internal/server"
	tlsutil "github.com/Phillip-Steyn/cnc-iiot/internal/tls"
)

const shutdownTimeout = 5 * time.Second

// refreshKPI republishes the per-job KPI gauges, the active job and the
// daemon's own resource usage.
func refreshKPI(ctx context.Context, a *app, self *metrics.SelfSampler) error {
	cmp, err := a.kpi.Compare(ctx)
	if err != nil {
		return err
	}
	for _, r := range cmp.Reports {
		// no telemetry, nothing to score
		if r.EfficiencyScore == nil {
			metrics.ForgetJob(r.JobID)
			continue
		}
		metrics.SetJobKPI(r.JobID, r.DurationSeconds, *r.EfficiencyScore, r.AlarmRatePerMin)
	}
	id, ok, err := a.jobs.Active(ctx)
	if err != nil {
		return err
	}
	metrics.SetActiveJob(id, ok)
	if self != nil {
		if _, err := self.Sample(); err != nil {
			a.log.Debug("self sample failed", "error", err)
		}
	}
	return nil
}

// serveDeps wires the API. A background ingest is the only writer while it
// runs, so the upload endpoint is left disabled.
func serveDeps(a *app, f ServeFlags) server.Deps {
	deps := server.Deps{
		Jobs:    a.jobs,
		KPI:     a.kpi,
		Records: a.db,
		History: a.history,
	}
	if !f.Ingest {
		// each upload is a complete log, finalized like a file replay
		deps.Ingest = a.ingestor("", a.cfg.Ingest.FinalizeOnEOF)
	}
	return deps
}

func (c command) serve(ctx context.Context, f ServeFlags) error {
	return c.withApp(ctx, func(a *app) error {
		listen := f.Listen
		if listen == "" {
			listen = a.cfg.Server.Listen
		}
		base := f.BasePath
		if base == "" {
			base = a.cfg.Server.BasePath
		}

		deps := serveDeps(a, f)
		if a.cfg.Server.Metrics {
			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return err
			}
			deps.Metrics = metrics.Handler()
			self, err := metrics.NewSelfSampler()
			if err != nil {
				a.log.Warn("process sampling disabled", "error", err)
			} else {
				deps.Self = self
			}
		}
		srv := server.NewServer(listen, base, deps)
		tlsCfg, err := tlsutil.Setup(a.cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("server TLS: %w", err)
		}
		srv.TLSConfig = tlsCfg

		sched := cron.NewScheduler()
		if a.cfg.Server.RefreshSchedule != "" {
			if err := sched.Add(&cron.Task{
				Name:       "kpi-refresh",
				Schedule:   a.cfg.Server.RefreshSchedule,
				RunOnStart: true,
				Run:        func(ctx context.Context) error { return refreshKPI(ctx, a, deps.Self) },
			}); err != nil {
				return err
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.log.Info("HTTP server listening", "addr", listen, "base", base, "tls", tlsCfg != nil)
			var err error
			if tlsCfg != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		if err := sched.Start(gctx); err != nil {
			return err
		}
		if f.Ingest {
			g.Go(func() error {
				src, name, err := openSource(a.cfg, f.IngestFlags)
				if err != nil {
					return err
				}
				in := a.ingestor(f.Source, a.cfg.Ingest.FinalizeOnEOF && !f.NoFinalize)
				a.log.Info("Background ingest started", "source", name)
				stats, err := in.Run(gctx, src)
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				a.log.Info("Background ingest finished", "run_id", stats.RunID, "lines", stats.Lines)
				return nil
			})
		}
		err = g.Wait()
		a.log.Info("Server stopped")
		return err
	})
}
