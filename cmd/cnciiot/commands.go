package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/config"
	"github.com/Phillip-Steyn/cnc-iiot/internal/ingest"
	"github.com/Phillip-Steyn/cnc-iiot/internal/kpi"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

type command struct {
	global *GlobalFlags
	out    io.Writer
}

func (c command) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx, *c.global)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

// openSource opens the line source selected by flags, falling back to the
// ingest section of the config.
func openSource(cfg *config.Config, f IngestFlags) (ingest.Source, string, error) {
	mode := f.Mode
	if mode == "" {
		mode = cfg.Ingest.Mode
	}
	switch mode {
	case config.ModeFile:
		path := f.File
		if path == "" {
			path = cfg.Ingest.File
		}
		sleep := cfg.Ingest.Sleep
		if f.SleepSet {
			sleep = f.Sleep
		}
		if sleep < 0 {
			return nil, "", errors.New("sleep must not be negative")
		}
		src, err := ingest.OpenFile(path, sleep)
		return src, path, err
	case config.ModeSerial:
		port := f.Port
		if port == "" {
			port = cfg.Ingest.Port
		}
		if port == "" {
			return nil, "", errors.New("serial port is required (--port or ingest.port)")
		}
		baud := f.Baud
		if baud <= 0 {
			baud = cfg.Ingest.Baud
		}
		src, err := ingest.OpenSerial(port, baud)
		return src, port, err
	default:
		return nil, "", fmt.Errorf("unknown ingest mode %q", mode)
	}
}

func (c command) ingest(ctx context.Context, f IngestFlags) error {
	return c.withApp(ctx, func(a *app) error {
		src, name, err := openSource(a.cfg, f)
		if err != nil {
			return err
		}
		in := a.ingestor(f.Source, a.cfg.Ingest.FinalizeOnEOF && !f.NoFinalize)
		a.log.Info("Ingest started", "source", name)
		stats, err := in.Run(ctx, src)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		a.log.Info("Ingest finished", "run_id", stats.RunID, "lines", stats.Lines,
			"telemetry", stats.Telemetry, "events", stats.Events, "parse_errors", stats.ParseErrors)
		if f.JSON {
			printJSON(c.out, stats)
			return nil
		}
		renderStats(c.out, stats)
		return nil
	})
}

func (c command) ports() error {
	ports, err := ingest.SerialPorts()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Fprintln(c.out, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(c.out, p)
	}
	return nil
}

func (c command) jobCreate(ctx context.Context, f JobCreateFlags) error {
	return c.withApp(ctx, func(a *app) error {
		id, err := a.jobs.Create(ctx, f.Name, f.Material, f.Notes)
		if err != nil {
			return err
		}
		if f.Activate {
			if err := a.jobs.SetActive(ctx, id); err != nil {
				return err
			}
		}
		j, err := a.jobs.Get(ctx, id)
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(c.out, j)
			return nil
		}
		renderJob(c.out, j)
		return nil
	})
}

type transitionFunc func(ctx context.Context, a *app, id int64) (bool, error)

// jobTransition applies fn to job id and prints whether it applied. A
// transition that does not apply is not an error.
func (c command) jobTransition(ctx context.Context, id int64, asJSON bool, fn transitionFunc) error {
	return c.withApp(ctx, func(a *app) error {
		applied, err := fn(ctx, a, id)
		if err != nil {
			return err
		}
		j, err := a.jobs.Get(ctx, id)
		if err != nil {
			return err
		}
		if asJSON {
			printJSON(c.out, struct {
				Applied bool      `json:"applied"`
				Job     store.Job `json:"job"`
			}{applied, j})
			return nil
		}
		if !applied {
			fmt.Fprintln(c.out, mutedStyle.Render(fmt.Sprintf("no change: job %d is %s", id, j.Status)))
		}
		renderJob(c.out, j)
		return nil
	})
}

func startJob(ctx context.Context, a *app, id int64) (bool, error) { return a.jobs.Start(ctx, id) }
func pauseJob(ctx context.Context, a *app, id int64) (bool, error) { return a.jobs.Pause(ctx, id) }
func resetJob(ctx context.Context, a *app, id int64) (bool, error) { return a.jobs.Reset(ctx, id) }

func finalizeJob(ctx context.Context, a *app, id int64) (bool, error) {
	return a.jobs.FinalizeFromTelemetry(ctx, id)
}

func stopJob(status string) transitionFunc {
	return func(ctx context.Context, a *app, id int64) (bool, error) {
		return a.jobs.Stop(ctx, id, store.JobStatus(strings.ToLower(strings.TrimSpace(status))))
	}
}

func (c command) jobShow(ctx context.Context, id int64, f OutputFlags) error {
	return c.withApp(ctx, func(a *app) error {
		j, err := a.jobs.Get(ctx, id)
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(c.out, j)
			return nil
		}
		renderJob(c.out, j)
		return nil
	})
}

func (c command) jobList(ctx context.Context, f OutputFlags) error {
	return c.withApp(ctx, func(a *app) error {
		jobs, err := a.jobs.List(ctx)
		if err != nil {
			return err
		}
		active, ok, err := a.jobs.Active(ctx)
		if err != nil {
			return err
		}
		if f.JSON {
			if jobs == nil {
				jobs = []store.Job{}
			}
			printJSON(c.out, jobs)
			return nil
		}
		if !ok {
			active = 0
		}
		renderJobs(c.out, jobs, active)
		return nil
	})
}

func (c command) jobHistory(ctx context.Context, id int64, limit int, f OutputFlags) error {
	return c.withApp(ctx, func(a *app) error {
		if a.history == nil {
			return errors.New("configured history sink cannot be read back")
		}
		if _, err := a.jobs.Get(ctx, id); err != nil {
			return err
		}
		events, err := a.history.Recent(ctx, id, limit)
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(c.out, events)
			return nil
		}
		renderHistory(c.out, events)
		return nil
	})
}

func (c command) activeSet(ctx context.Context, id int64) error {
	return c.withApp(ctx, func(a *app) error {
		if err := a.jobs.SetActive(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "active job: %d\n", id)
		return nil
	})
}

func (c command) activeClear(ctx context.Context) error {
	return c.withApp(ctx, func(a *app) error {
		if err := a.jobs.ClearActive(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "active job cleared")
		return nil
	})
}

func (c command) activeShow(ctx context.Context, f OutputFlags) error {
	return c.withApp(ctx, func(a *app) error {
		id, ok, err := a.jobs.Active(ctx)
		if err != nil {
			return err
		}
		if f.JSON {
			var p *int64
			if ok {
				p = &id
			}
			printJSON(c.out, struct {
				JobID *int64 `json:"job_id"`
			}{p})
			return nil
		}
		if !ok {
			fmt.Fprintln(c.out, "no active job")
			return nil
		}
		fmt.Fprintf(c.out, "active job: %d\n", id)
		return nil
	})
}

func (c command) report(ctx context.Context, args []string, f ReportFlags) error {
	if f.Latest == (len(args) == 1) {
		return errors.New("give either a job id or --latest")
	}
	var id int64
	if !f.Latest {
		var err error
		if id, err = parseID(args[0]); err != nil {
			return err
		}
	}
	return c.withApp(ctx, func(a *app) error {
		var (
			r   kpi.Report
			err error
		)
		if f.Latest {
			r, err = a.kpi.Latest(ctx)
		} else {
			r, err = a.kpi.JobReport(ctx, id)
		}
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(c.out, r)
			return nil
		}
		renderReport(c.out, r)
		return nil
	})
}

// summaryRange resolves the UTC date range of a summary. --date wins over
// --from/--to, which win over --days ending today.
func summaryRange(f SummaryFlags, now time.Time) (from, to time.Time, err error) {
	parse := func(flag, v string) (time.Time, error) {
		t, err := time.Parse(kpi.DateLayout, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", flag, v)
		}
		return t, nil
	}
	today := now.UTC().Truncate(24 * time.Hour)
	switch {
	case f.Date != "":
		d, err := parse("date", f.Date)
		return d, d, err
	case f.From != "" || f.To != "":
		to = today
		if f.To != "" {
			if to, err = parse("to", f.To); err != nil {
				return
			}
		}
		from = to
		if f.From != "" {
			if from, err = parse("from", f.From); err != nil {
				return
			}
		}
		return from, to, nil
	default:
		days := f.Days
		if days <= 0 {
			return time.Time{}, time.Time{}, errors.New("--days must be positive")
		}
		return today.AddDate(0, 0, -(days - 1)), today, nil
	}
}

func (c command) summary(ctx context.Context, f SummaryFlags) error {
	from, to, err := summaryRange(f, time.Now())
	if err != nil {
		return err
	}
	return c.withApp(ctx, func(a *app) error {
		s, err := a.kpi.Summary(ctx, from, to)
		if err != nil {
			return err
		}
		if f.Export != "" {
			paths, err := exportSummary(f.Export, s)
			if err != nil {
				return err
			}
			defer printPaths(c.out, paths)
		}
		if f.JSON {
			printJSON(c.out, s)
			return nil
		}
		renderSummary(c.out, s)
		return nil
	})
}

func (c command) compare(ctx context.Context, f CompareFlags) error {
	return c.withApp(ctx, func(a *app) error {
		cmp, err := a.kpi.Compare(ctx)
		if err != nil {
			return err
		}
		if f.Export != "" {
			paths, err := exportComparison(f.Export, cmp)
			if err != nil {
				return err
			}
			defer printPaths(c.out, paths)
		}
		if f.JSON {
			printJSON(c.out, cmp)
			return nil
		}
		renderComparison(c.out, cmp)
		return nil
	})
}

func (c command) export(ctx context.Context, id int64, f ExportFlags) error {
	return c.withApp(ctx, func(a *app) error {
		paths, err := exportJob(ctx, a, id, f.Dir)
		if err != nil {
			return err
		}
		printPaths(c.out, paths)
		return nil
	})
}
