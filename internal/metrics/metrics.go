package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cnc"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	ingestLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Controller lines processed, by classification.",
		}, []string{"kind"},
	)
	parseErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "parse_errors_total",
			Help:      "Bracketed lines that were not valid status reports.",
		},
	)
	lastLine = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_line_timestamp_seconds",
			Help:      "Unix time of the most recently ingested line.",
		},
	)
	recordsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records_appended_total",
			Help:      "Rows appended, by table.",
		}, []string{"table"},
	)
	jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "transitions_total",
			Help:      "Applied job state transitions, by target status.",
		}, []string{"to"},
	)
	activeJob = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "active_id",
			Help:      "Id of the job ingestion is attributed to, 0 when none.",
		},
	)
	jobEfficiency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "efficiency_score",
			Help:      "Heuristic efficiency score (0-100) of a job.",
		}, []string{"job"},
	)
	jobAlarmRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "alarm_rate_per_min",
			Help:      "Alarm events per minute of job duration.",
		}, []string{"job"},
	)
	jobDuration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Resolved job duration.",
		}, []string{"job"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ingestLines, parseErrors, lastLine, recordsAppended,
		jobTransitions, activeJob, jobEfficiency, jobAlarmRate, jobDuration,
		selfCPU, selfRSS, selfThreads,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// already registered collectors are kept
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Enabled reports whether Register has succeeded.
func Enabled() bool { return regOK.Load() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLine(kind string) {
	if regOK.Load() {
		ingestLines.WithLabelValues(kind).Inc()
	}
}

func IncParseError() {
	if regOK.Load() {
		parseErrors.Inc()
	}
}

func SetLastLine(unixSeconds float64) {
	if regOK.Load() {
		lastLine.Set(unixSeconds)
	}
}

func IncAppended(table string) {
	if regOK.Load() {
		recordsAppended.WithLabelValues(table).Inc()
	}
}

func RecordTransition(to string) {
	if regOK.Load() {
		jobTransitions.WithLabelValues(to).Inc()
	}
}

// SetActiveJob records the active job id; ok=false records 0.
func SetActiveJob(id int64, ok bool) {
	if !regOK.Load() {
		return
	}
	if !ok {
		id = 0
	}
	activeJob.Set(float64(id))
}

// SetJobKPI publishes the headline figures of one job report.
func SetJobKPI(id int64, durationSeconds, efficiency, alarmRate float64) {
	if !regOK.Load() {
		return
	}
	l := strconv.FormatInt(id, 10)
	jobDuration.WithLabelValues(l).Set(durationSeconds)
	jobEfficiency.WithLabelValues(l).Set(efficiency)
	jobAlarmRate.WithLabelValues(l).Set(alarmRate)
}

// ForgetJob drops the per-job series of id.
func ForgetJob(id int64) {
	if !regOK.Load() {
		return
	}
	l := strconv.FormatInt(id, 10)
	jobDuration.DeleteLabelValues(l)
	jobEfficiency.DeleteLabelValues(l)
	jobAlarmRate.DeleteLabelValues(l)
}
