package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dengue_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL job.
type Metrics struct {
	LinesRead     *prometheus.CounterVec // labels: dataset={dengue,rain}
	AggregateKeys *prometheus.GaugeVec   // labels: dataset={dengue,rain}

	// Local recoveries applied by the transforms.
	CasesDefaulted prometheus.Counter
	RainClamped    prometheus.Counter
	RainDefaulted  prometheus.Counter

	JoinIncomplete prometheus.Counter
	RowsWritten    *prometheus.CounterVec // labels: sink={file,kafka,sqlite}
	SinkErrors     *prometheus.CounterVec // labels: sink

	RunDuration     prometheus.Histogram
	PipelineRunning prometheus.Gauge
}

// NewMetrics creates and registers all job metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		LinesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Input lines read, header lines excluded.",
		}, []string{"dataset"}),
		AggregateKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregate_keys",
			Help:      "Distinct state-month keys produced by the last run.",
		}, []string{"dataset"}),
		CasesDefaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_defaulted_total",
			Help:      "Dengue records whose case count was not numeric and counted as zero.",
		}),
		RainClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rain_clamped_total",
			Help:      "Negative rainfall readings clamped to zero.",
		}),
		RainDefaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rain_defaulted_total",
			Help:      "Non-numeric rainfall readings counted as zero (RAIN_STRICT=false).",
		}),
		JoinIncomplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_incomplete_total",
			Help:      "Keys dropped because only one dataset had a total.",
		}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Output rows written per sink.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed batch writes per sink.",
		}, []string{"sink"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete read-aggregate-join-write run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.LinesRead,
		m.AggregateKeys,
		m.CasesDefaulted,
		m.RainClamped,
		m.RainDefaulted,
		m.JoinIncomplete,
		m.RowsWritten,
		m.SinkErrors,
		m.RunDuration,
		m.PipelineRunning,
	}
}
