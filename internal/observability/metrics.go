package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// retrieval and normalization pipeline.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec   // labels: source, outcome={success,error}
	RetriesTotal    *prometheus.CounterVec   // labels: source
	RequestDuration *prometheus.HistogramVec // labels: source

	RowsFetched *prometheus.CounterVec // labels: source
	RowsDropped *prometheus.CounterVec // labels: source, reason={missing_id,missing_timestamp,parse,bad_coordinate}

	StorageOps *prometheus.CounterVec // labels: op={save,load}, outcome={success,error}

	PipelineRunning prometheus.Gauge
	StageDuration   *prometheus.HistogramVec // labels: stage={fetch,normalize,store,publish}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RequestsTotal,
		m.RetriesTotal,
		m.RequestDuration,
		m.RowsFetched,
		m.RowsDropped,
		m.StorageOps,
		m.PipelineRunning,
		m.StageDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// construct as many instances as they need without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waterdata",
			Name:      "requests_total",
			Help:      "Outbound API requests by source and outcome.",
		}, []string{"source", "outcome"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waterdata",
			Name:      "request_retries_total",
			Help:      "Retry attempts after transient request failures.",
		}, []string{"source"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "waterdata",
			Name:      "request_duration_seconds",
			Help:      "Outbound request duration, including retries and throttle sleep.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		}, []string{"source"}),
		RowsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waterdata",
			Name:      "rows_fetched_total",
			Help:      "Rows produced from raw API responses.",
		}, []string{"source"}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waterdata",
			Name:      "rows_dropped_total",
			Help:      "Rows dropped during table building or normalization.",
		}, []string{"source", "reason"}),
		StorageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waterdata",
			Name:      "storage_ops_total",
			Help:      "Parquet save and load operations by outcome.",
		}, []string{"op", "outcome"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "waterdata",
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is active.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "waterdata",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 60},
		}, []string{"stage"}),
	}
}
