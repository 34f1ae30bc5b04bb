package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "weather_loader"

// Metrics holds the Prometheus counters, histograms, and gauges for the loader.
type Metrics struct {
	FilesDiscovered prometheus.Counter
	FilesSkipped    *prometheus.CounterVec // labels: reason={unknown_sensor,ambiguous_sensor}
	FilesCommitted  prometheus.Counter
	FilesFailed     *prometheus.CounterVec // labels: reason={parse,write,other}
	ArchiveErrors   prometheus.Counter

	RowsParsed         prometheus.Counter
	RowsAppended       prometheus.Counter
	RowsAlreadyPresent prometheus.Counter

	Runs            *prometheus.CounterVec // labels: status
	RunDuration     prometheus.Histogram
	PipelineRunning prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all loader metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_discovered_total",
			Help:      "Source files resolved to a sensor and queued for loading.",
		}),
		FilesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Source files left in the intake directory because no single sensor matched.",
		}, []string{"reason"}),
		FilesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_committed_total",
			Help:      "Source files whose new rows were committed.",
		}),
		FilesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Source files that failed to parse or write.",
		}, []string{"reason"}),
		ArchiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_errors_total",
			Help:      "Committed files that could not be moved to the archive.",
		}),
		RowsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_parsed_total",
			Help:      "Data rows read from source files.",
		}),
		RowsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_appended_total",
			Help:      "Observations appended to storage.",
		}),
		RowsAlreadyPresent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_already_present_total",
			Help:      "Rows dropped because their timestamp was already stored.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed loader passes by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete discover-load-archive pass.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pass is in progress, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FilesDiscovered,
		m.FilesSkipped,
		m.FilesCommitted,
		m.FilesFailed,
		m.ArchiveErrors,
		m.RowsParsed,
		m.RowsAppended,
		m.RowsAlreadyPresent,
		m.Runs,
		m.RunDuration,
		m.PipelineRunning,
	}
}

// Gatherer returns the registry the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	return prometheus.DefaultGatherer
}

// Push sends the current metric values to a Prometheus Pushgateway. One-shot
// runs exit before a scrape could happen, so they push instead.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.Gatherer()).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
