// Package metrics defines the Prometheus collectors for index maintenance
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "refindex"

// Metrics holds all Prometheus collectors for index maintenance.
type Metrics struct {
	EventsTotal          *prometheus.CounterVec
	FilesRetractedTotal  prometheus.Counter
	FilesSkippedTotal    prometheus.Counter
	PostingsWrittenTotal *prometheus.CounterVec
	SessionsTotal        *prometheus.CounterVec
	SessionDuration      prometheus.Histogram
	RebuildsTotal        *prometheus.CounterVec
	RebuildDuration      prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests and embedded uses want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Build events applied, by kind (added, changed, deleted, renamed, rebuild_requested).",
			},
			[]string{"kind"},
		),
		FilesRetractedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_retracted_total",
				Help:      "Files whose previous contributions were removed from all tables.",
			},
		),
		FilesSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_skipped_total",
				Help:      "Changed events skipped because the extraction digest was unchanged.",
			},
		),
		PostingsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_written_total",
				Help:      "Per-file postings written, by table.",
			},
			[]string{"table"},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Update sessions by outcome (ended, aborted).",
			},
			[]string{"outcome"},
		),
		SessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Update session latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),
		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebuilds_total",
				Help:      "Full rebuilds by reason (initial, requested, version_mismatch, corrupted, enumerator_corruption, storage_io, other).",
			},
			[]string{"reason"},
		),
		RebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rebuild_duration_seconds",
				Help:      "Full rebuild latency in seconds.",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsTotal,
			m.FilesRetractedTotal,
			m.FilesSkippedTotal,
			m.PostingsWrittenTotal,
			m.SessionsTotal,
			m.SessionDuration,
			m.RebuildsTotal,
			m.RebuildDuration,
		)
	}

	return m
}

// Handler returns the scrape handler for the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
