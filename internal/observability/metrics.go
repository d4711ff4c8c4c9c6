package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the QC
// engine and its adapters.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec // labels: outcome={success,error}
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram

	// Per-level metrics, labelled by level name (seasonal, buddy, ...).
	ValuesFlagged    *prometheus.CounterVec
	LevelDuration    *prometheus.HistogramVec
	LevelValidValues *prometheus.GaugeVec

	// Observation fetching metrics.
	FetchRequests    *prometheus.CounterVec // labels: outcome={success,error,throttled}
	FetchAPIDuration prometheus.Histogram
	ObservationsRead prometheus.Counter

	SummariesPublished prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_qc",
			Name:      "runs_total",
			Help:      "Completed QC runs by outcome.",
		}, []string{"outcome"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sensor_qc",
			Name:      "pipeline_running",
			Help:      "1 while a QC run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sensor_qc",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete multi-level QC run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		ValuesFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_qc",
			Name:      "values_flagged_total",
			Help:      "Values newly rejected, by quality level.",
		}, []string{"level"}),
		LevelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sensor_qc",
			Name:      "level_duration_seconds",
			Help:      "Duration of one quality level within a run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"level"}),
		LevelValidValues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sensor_qc",
			Name:      "level_valid_values",
			Help:      "Values surviving each quality level in the latest run.",
		}, []string{"level"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensor_qc",
			Name:      "fetch_requests_total",
			Help:      "Observation API requests by outcome.",
		}, []string{"outcome"}),
		FetchAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sensor_qc",
			Name:      "fetch_api_duration_seconds",
			Help:      "Observation API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ObservationsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensor_qc",
			Name:      "observations_read_total",
			Help:      "Raw observations fetched from the upstream API.",
		}),
		SummariesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sensor_qc",
			Name:      "summaries_published_total",
			Help:      "Run summaries published to Kafka.",
		}),
	}

	prometheus.MustRegister(
		m.RunsTotal,
		m.PipelineRunning,
		m.RunDuration,
		m.ValuesFlagged,
		m.LevelDuration,
		m.LevelValidValues,
		m.FetchRequests,
		m.FetchAPIDuration,
		m.ObservationsRead,
		m.SummariesPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics without touching the default registry
// to avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RunsTotal:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "sensor_qc", Name: "runs_total"}, []string{"outcome"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "sensor_qc", Name: "pipeline_running"}),
		RunDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "sensor_qc", Name: "run_duration_seconds"}),
		ValuesFlagged:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "sensor_qc", Name: "values_flagged_total"}, []string{"level"}),
		LevelDuration:      prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "sensor_qc", Name: "level_duration_seconds"}, []string{"level"}),
		LevelValidValues:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "sensor_qc", Name: "level_valid_values"}, []string{"level"}),
		FetchRequests:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "sensor_qc", Name: "fetch_requests_total"}, []string{"outcome"}),
		FetchAPIDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "sensor_qc", Name: "fetch_api_duration_seconds"}),
		ObservationsRead:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "sensor_qc", Name: "observations_read_total"}),
		SummariesPublished: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "sensor_qc", Name: "summaries_published_total"}),
	}
}
