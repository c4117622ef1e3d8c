// Package ingest folds a stream of controller lines into the store. Lines are
// handled one at a time: a line's record is written before the next line is
// read, and the active job is looked up again for every line.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Phillip-Steyn/cnc-iiot/internal/grbl"
	"github.com/Phillip-Steyn/cnc-iiot/internal/metrics"
	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// DefaultSourceTag is recorded on telemetry when no tag is configured.
const DefaultSourceTag = "grbl"

// Store receives the records produced from lines.
type Store interface {
	AppendTelemetry(ctx context.Context, t *store.TelemetrySample) error
	AppendEvent(ctx context.Context, e *store.Event) error
}

// ActiveJobSource yields the job new records are attributed to.
type ActiveJobSource interface {
	ActiveJob(ctx context.Context) (int64, bool, error)
}

// Finalizer closes out a job from its telemetry once a replay ends.
type Finalizer interface {
	FinalizeFromTelemetry(ctx context.Context, id int64) (bool, error)
}

// Source yields trimmed, non-blank lines in arrival order. Next returns
// io.EOF when the stream is exhausted.
type Source interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Result describes what one line was stored as.
type Result struct {
	Kind     grbl.Kind
	Table    string
	RecordID int64
	JobID    *int64
	ParseErr error
}

// Stats summarises a Run.
type Stats struct {
	RunID       string `json:"run_id"`
	Lines       int    `json:"lines"`
	Telemetry   int    `json:"telemetry"`
	Events      int    `json:"events"`
	ParseErrors int    `json:"parse_errors"`
	// FinalizedJob is set when the active job was finalized at end of stream.
	FinalizedJob *int64 `json:"finalized_job,omitempty"`
}

// Ingestor turns lines into telemetry samples and events.
type Ingestor struct {
	store     Store
	active    ActiveJobSource
	finalizer Finalizer
	source    string
	runID     string
	fixedRun  bool
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithSourceTag sets the source recorded on telemetry samples.
func WithSourceTag(tag string) Option {
	return func(in *Ingestor) {
		if t := strings.TrimSpace(tag); t != "" {
			in.source = t
		}
	}
}

// WithFinalizer finalizes the active job when Run reaches the end of a
// finite source.
func WithFinalizer(f Finalizer) Option { return func(in *Ingestor) { in.finalizer = f } }

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option { return func(in *Ingestor) { in.now = now } }

// WithRunID fixes the run id stamped into event metadata. Without it every
// Run gets a fresh id.
func WithRunID(id string) Option {
	return func(in *Ingestor) {
		if id != "" {
			in.runID, in.fixedRun = id, true
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(in *Ingestor) { in.logger = l } }

// NewIngestor returns an Ingestor writing to st and attributing records to
// the job active reports.
func NewIngestor(st Store, active ActiveJobSource, opts ...Option) *Ingestor {
	in := &Ingestor{
		store:  st,
		active: active,
		source: DefaultSourceTag,
		runID:  uuid.NewString(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// ErrBlankLine is returned by Process for lines that are empty after trimming.
var ErrBlankLine = errors.New("blank line")

// Process classifies one line and appends the resulting record, attributed
// to the job that is active at this moment. Records written outside Run carry the
// ingestor's own run id.
func (in *Ingestor) Process(ctx context.Context, line string) (Result, error) {
	return in.process(ctx, line, in.runID)
}

func (in *Ingestor) process(ctx context.Context, line, runID string) (Result, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}, ErrBlankLine
	}
	l := grbl.Classify(line)
	metrics.IncLine(string(l.Kind))
	if l.ParseErr != nil {
		metrics.IncParseError()
		in.logger.Warn("malformed status report stored as raw event", "line", line, "error", l.ParseErr)
	}

	jobID, err := in.activeJob(ctx)
	if err != nil {
		return Result{}, err
	}
	ts := in.now().UTC()
	res := Result{Kind: l.Kind, JobID: jobID, ParseErr: l.ParseErr}

	if l.Kind == grbl.KindStatus {
		s := &store.TelemetrySample{
			Timestamp: ts,
			Source:    in.source,
			State:     l.Status.State,
			MPos:      store.Position(l.Status.MPos),
			Feed:      l.Status.Feed,
			Spindle:   l.Status.Spindle,
			Raw:       line,
			JobID:     jobID,
		}
		if l.Status.WPos != nil {
			w := store.Position(*l.Status.WPos)
			s.WPos = &w
		}
		if err := in.store.AppendTelemetry(ctx, s); err != nil {
			return Result{}, fmt.Errorf("failed to store telemetry: %w", err)
		}
		metrics.IncAppended(store.TableTelemetry)
		res.Table, res.RecordID = store.TableTelemetry, s.ID
	} else {
		info := l.Event()
		meta := map[string]any{"run_id": runID, "source": in.source}
		if l.ParseErr != nil {
			meta["parse_error"] = l.ParseErr.Error()
		}
		e := &store.Event{
			Timestamp: ts,
			Level:     info.Level,
			Category:  info.Category,
			Type:      info.Type,
			Code:      info.Code,
			Message:   info.Message,
			Raw:       line,
			Meta:      meta,
			JobID:     jobID,
		}
		if err := in.store.AppendEvent(ctx, e); err != nil {
			return Result{}, fmt.Errorf("failed to store event: %w", err)
		}
		metrics.IncAppended(store.TableEvents)
		res.Table, res.RecordID = store.TableEvents, e.ID
	}
	metrics.SetLastLine(float64(ts.UnixNano()) / 1e9)
	return res, nil
}

func (in *Ingestor) activeJob(ctx context.Context) (*int64, error) {
	if in.active == nil {
		return nil, nil
	}
	id, ok, err := in.active.ActiveJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read active job: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &id, nil
}

// Run drains src through Process until it ends or ctx is cancelled. The
// source is closed on return. When a finalizer is configured and the source
// ends with io.EOF, the job active at that point is finalized from its
// telemetry.
func (in *Ingestor) Run(ctx context.Context, src Source) (Stats, error) {
	defer func() { _ = src.Close() }()
	runID := in.runID
	if !in.fixedRun {
		runID = uuid.NewString()
	}
	st := Stats{RunID: runID}
	in.logger.Info("ingest started", "run_id", runID, "source", in.source)
	for {
		line, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, err
		}
		res, err := in.process(ctx, line, runID)
		if errors.Is(err, ErrBlankLine) {
			continue
		}
		if err != nil {
			return st, err
		}
		st.Lines++
		if res.ParseErr != nil {
			st.ParseErrors++
		}
		if res.Table == store.TableTelemetry {
			st.Telemetry++
		} else {
			st.Events++
		}
	}

	if in.finalizer != nil {
		id, err := in.activeJob(ctx)
		if err != nil {
			return st, err
		}
		if id != nil {
			applied, err := in.finalizer.FinalizeFromTelemetry(ctx, *id)
			if err != nil {
				return st, fmt.Errorf("failed to finalize job %d: %w", *id, err)
			}
			if applied {
				st.FinalizedJob = id
			}
		}
	}
	in.logger.Info("ingest finished", "run_id", runID, "lines", st.Lines,
		"telemetry", st.Telemetry, "events", st.Events, "parse_errors", st.ParseErrors)
	return st, nil
}
