package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := buildRoot(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cnc := command{global: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createIngestCommand(cnc, &IngestFlags{}),
		createPortsCommand(cnc),
		createJobCommand(cnc),
		createActiveCommand(cnc),
		createReportCommand(cnc, &ReportFlags{}),
		createSummaryCommand(cnc, &SummaryFlags{}),
		createCompareCommand(cnc, &CompareFlags{}),
		createExportCommand(cnc, &ExportFlags{}),
		createServeCommand(cnc, &ServeFlags{}),
		createStatusCommand(cnc, &StatusFlags{}),
		createPushCommand(cnc, &PushFlags{}),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "cnciiot",
		Short: "CNC controller telemetry, job tracking and KPI reports",
		Long: `cnciiot records GRBL controller output as telemetry and events,
tracks machining jobs through their lifecycle and computes per-job KPIs.

Examples:
  cnciiot job create --name bracket --material "6061 aluminium" --activate
  cnciiot job start 1
  cnciiot ingest --file grbl_sample.log
  cnciiot report --latest
  cnciiot serve --ingest --mode serial --port /dev/ttyUSB0`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.DSN, "db", "", "store DSN, overrides store.dsn (sqlite path or postgres:// URL)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	return root
}

func addIngestFlags(cmd *cobra.Command, f *IngestFlags) {
	cmd.Flags().StringVar(&f.Mode, "mode", "", "line source: file or serial (default from ingest.mode)")
	cmd.Flags().StringVar(&f.File, "file", "", "log file to replay in file mode")
	cmd.Flags().DurationVar(&f.Sleep, "sleep", 0, "pause between replayed lines")
	cmd.Flags().StringVar(&f.Port, "port", "", "serial port in serial mode")
	cmd.Flags().IntVar(&f.Baud, "baud", 0, "serial baud rate (default from ingest.baud)")
	cmd.Flags().StringVar(&f.Source, "source", "", "source tag recorded on telemetry")
	cmd.Flags().BoolVar(&f.NoFinalize, "no-finalize", false, "do not finalize the active job at end of stream")
}

// createIngestCommand creates the ingest subcommand
func createIngestCommand(cnc command, f *IngestFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest controller lines from a log file or serial port",
		Long: `Ingest classifies every controller line: status reports become telemetry,
everything else becomes an event. Records are attributed to the job that is
active when the line arrives. When a file replay ends the active job is
finalized from its telemetry unless --no-finalize is given.

Examples:
  cnciiot ingest --file grbl_sample.log --sleep 100ms
  cnciiot ingest --mode serial --port /dev/ttyUSB0 --baud 115200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.SleepSet = cmd.Flags().Changed("sleep")
			return cnc.ingest(cmd.Context(), *f)
		},
	}
	addIngestFlags(cmd, f)
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print run statistics as JSON")
	return cmd
}

func createPortsCommand(cnc command) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return cnc.ports()
		},
	}
}

// createJobCommand creates the job subcommand tree
func createJobCommand(cnc command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Create jobs and drive their lifecycle",
		Long: `Jobs move created -> running <-> paused -> finished|failed.
A transition that does not apply to the job's current status changes nothing.`,
	}
	createFlags := &JobCreateFlags{}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cnc.jobCreate(cmd.Context(), *createFlags)
		},
	}
	create.Flags().StringVar(&createFlags.Name, "name", "", "job name (required)")
	create.Flags().StringVar(&createFlags.Material, "material", "", "stock material")
	create.Flags().StringVar(&createFlags.Notes, "notes", "", "free-form notes")
	create.Flags().BoolVar(&createFlags.Activate, "activate", false, "make the new job the active job")
	create.Flags().BoolVar(&createFlags.JSON, "json", false, "print as JSON")
	_ = create.MarkFlagRequired("name")

	stopFlags := &JobStopFlags{}
	stop := createTransitionCommand(cnc, "stop <id>", "Stop a running or paused job", &stopFlags.JSON,
		func() transitionFunc { return stopJob(stopFlags.Status) })
	stop.Flags().StringVar(&stopFlags.Status, "status", "finished", "final status: finished or failed")

	var startJSON, pauseJSON, finalizeJSON, resetJSON bool
	cmd.AddCommand(
		create,
		createTransitionCommand(cnc, "start <id>", "Start or resume a job", &startJSON,
			func() transitionFunc { return startJob }),
		createTransitionCommand(cnc, "pause <id>", "Pause a running job", &pauseJSON,
			func() transitionFunc { return pauseJob }),
		stop,
		createTransitionCommand(cnc, "finalize <id>", "Stamp start and finish from the job's telemetry", &finalizeJSON,
			func() transitionFunc { return finalizeJob }),
		createTransitionCommand(cnc, "reset <id>", "Return a job to created and clear its timestamps", &resetJSON,
			func() transitionFunc { return resetJob }),
		createJobShowCommand(cnc, &OutputFlags{}),
		createJobListCommand(cnc, &OutputFlags{}),
		createJobHistoryCommand(cnc, &OutputFlags{}),
	)
	return cmd
}

func createTransitionCommand(cnc command, use, short string, asJSON *bool, fn func() transitionFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cnc.jobTransition(cmd.Context(), id, *asJSON, fn())
		},
	}
	cmd.Flags().BoolVar(asJSON, "json", false, "print as JSON")
	return cmd
}

func createJobShowCommand(cnc command, f *OutputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cnc.jobShow(cmd.Context(), id, *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print as JSON")
	return cmd
}

func createJobListCommand(cnc command, f *OutputFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cnc.jobList(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print as JSON")
	return cmd
}

func createJobHistoryCommand(cnc command, f *OutputFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the lifecycle history of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cnc.jobHistory(cmd.Context(), id, limit, *f)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print as JSON")
	return cmd
}

// createActiveCommand creates the active job pointer subcommands
func createActiveCommand(cnc command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show or change the job that ingested records are attributed to",
	}
	showFlags := &OutputFlags{}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the active job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cnc.activeShow(cmd.Context(), *showFlags)
		},
	}
	show.Flags().BoolVar(&showFlags.JSON, "json", false, "print as JSON")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <id>",
			Short: "Make a job the active job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return cnc.activeSet(cmd.Context(), id)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the active job",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return cnc.activeClear(cmd.Context())
			},
		},
		show,
	)
	return cmd
}

// createReportCommand creates the report subcommand
func createReportCommand(cnc command, f *ReportFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [id]",
		Short: "Show the KPI report of a job",
		Long: `Report computes duration, feed and power statistics, state shares,
alarm counts and the efficiency score of one job.

Examples:
  cnciiot report 3
  cnciiot report --latest --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cnc.report(cmd.Context(), args, *f)
		},
	}
	cmd.Flags().BoolVar(&f.Latest, "latest", false, "report on the most recently created job")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print as JSON")
	return cmd
}

// createSummaryCommand creates the summary subcommand
func createSummaryCommand(cnc command, f *SummaryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarise jobs created within a UTC date range",
		Long: `Summary aggregates the jobs created on the given UTC dates, both ends
inclusive. Without range flags it covers the last --days days ending today.

Examples:
  cnciiot summary --date 2026-03-01
  cnciiot summary --from 2026-03-01 --to 2026-03-07 --export exports
  cnciiot summary --days 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cnc.summary(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Date, "date", "", "single UTC date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.From, "from", "", "first UTC date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.To, "to", "", "last UTC date (YYYY-MM-DD), default today")
	cmd.Flags().IntVar(&f.Days, "days", 7, "number of days ending today")
	cmd.Flags().StringVar(&f.Export, "export", "", "directory to write CSV and JSON to")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print as JSON")
	return cmd
}

func createCompareCommand(cnc command, f *CompareFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare every job and name the best and worst by efficiency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cnc.compare(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Export, "export", "", "directory to write CSV and JSON to")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print as JSON")
	return cmd
}

func createExportCommand(cnc command, f *ExportFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a job's summary, events and telemetry as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cnc.export(cmd.Context(), id, *f)
		},
	}
	cmd.Flags().StringVar(&f.Dir, "dir", "reports", "output directory")
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(cnc command, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve exposes jobs, reports and line ingestion over HTTP, publishes
Prometheus metrics and refreshes per-job KPI gauges on server.refresh_schedule.
With --ingest it also reads controller lines in the background.

Examples:
  cnciiot serve --listen :8080
  cnciiot serve --ingest --mode serial --port /dev/ttyUSB0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.SleepSet = cmd.Flags().Changed("sleep")
			return cnc.serve(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (default from server.listen)")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "API base path (default from server.base_path)")
	cmd.Flags().BoolVar(&f.Ingest, "ingest", false, "ingest controller lines in the background")
	addIngestFlags(cmd, &f.IngestFlags)
	return cmd
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://localhost:8080/api", "daemon API base URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate to verify an HTTPS daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}

// createStatusCommand creates the status subcommand
func createStatusCommand(cnc command, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cnc.status(cmd.Context(), *f)
		},
	}
	addRemoteFlags(cmd, &f.RemoteFlags)
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print as JSON")
	return cmd
}

// createPushCommand creates the push subcommand
func createPushCommand(cnc command, f *PushFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send a controller log to a running daemon for ingestion",
		Long: `Push uploads a log file to the daemon's ingest endpoint. Records are
attributed to the daemon's active job.

Examples:
  cnciiot push --file grbl_sample.log --api-url https://cnc.local:8443/api --ca-cert tls_ca.crt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cnc.push(cmd.Context(), *f)
		},
	}
	addRemoteFlags(cmd, &f.RemoteFlags)
	cmd.Flags().StringVar(&f.File, "file", "", "log file to upload (required)")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print as JSON")
	return cmd
}
