package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AnalyzerMetrics contains Prometheus metrics for analyzer runs
type AnalyzerMetrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runErrors       *prometheus.CounterVec
	statusTotal     *prometheus.CounterVec
	quickChecks     *prometheus.CounterVec
	suiteRunsTotal  *prometheus.CounterVec
	suiteDuration   prometheus.Histogram
	neutralFallback *prometheus.CounterVec
}

// NewAnalyzerMetrics creates and registers new analyzer metrics
func NewAnalyzerMetrics(registry *prometheus.Registry) (*AnalyzerMetrics, error) {
	m := &AnalyzerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AnalyzerMetrics) initMetrics() error {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_runs_total",
			Help: "Total number of analyzer runs",
		},
		[]string{"analyzer"},
	)

	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_run_duration_seconds",
			Help:    "Time taken for one analyzer run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"analyzer"},
	)

	m.runErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_run_errors_total",
			Help: "Total number of analyzer runs that failed measurement",
		},
		[]string{"analyzer"},
	)

	m.statusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_status_total",
			Help: "Distribution of classified statuses per analyzer",
		},
		[]string{"analyzer", "status"},
	)

	m.quickChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_quick_checks_total",
			Help: "Total number of quick checks",
		},
		[]string{"analyzer"},
	)

	m.suiteRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_suite_runs_total",
			Help: "Total number of suite runs by level",
		},
		[]string{"level"},
	)

	m.suiteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyzer_suite_duration_seconds",
			Help:    "Time taken for a full suite run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		},
	)

	m.neutralFallback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_neutral_fallbacks_total",
			Help: "Analyzer runs demoted to a neutral report after measurement failure",
		},
		[]string{"analyzer"},
	)

	return nil
}

// RecordRun records one completed analyzer run with its classified status
func (m *AnalyzerMetrics) RecordRun(analyzer, status string) {
	m.runsTotal.WithLabelValues(analyzer).Inc()
	m.statusTotal.WithLabelValues(analyzer, status).Inc()
}

// RecordRunDuration records the wall-clock duration of one analyzer run
func (m *AnalyzerMetrics) RecordRunDuration(analyzer string, seconds float64) {
	m.runDuration.WithLabelValues(analyzer).Observe(seconds)
}

// RecordRunError records an analyzer run that failed measurement
func (m *AnalyzerMetrics) RecordRunError(analyzer string) {
	m.runErrors.WithLabelValues(analyzer).Inc()
}

// RecordQuickCheck records a quick check invocation
func (m *AnalyzerMetrics) RecordQuickCheck(analyzer string) {
	m.quickChecks.WithLabelValues(analyzer).Inc()
}

// RecordSuiteRun records a suite run at the given level
func (m *AnalyzerMetrics) RecordSuiteRun(level string, seconds float64) {
	m.suiteRunsTotal.WithLabelValues(level).Inc()
	m.suiteDuration.Observe(seconds)
}

// RecordNeutralFallback records a run demoted to its neutral report
func (m *AnalyzerMetrics) RecordNeutralFallback(analyzer string) {
	m.neutralFallback.WithLabelValues(analyzer).Inc()
}

// Describe implements the Collector interface
func (m *AnalyzerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.runsTotal.Describe(ch)
	m.runDuration.Describe(ch)
	m.runErrors.Describe(ch)
	m.statusTotal.Describe(ch)
	m.quickChecks.Describe(ch)
	m.suiteRunsTotal.Describe(ch)
	m.suiteDuration.Describe(ch)
	m.neutralFallback.Describe(ch)
}

// Collect implements the Collector interface
func (m *AnalyzerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.runsTotal.Collect(ch)
	m.runDuration.Collect(ch)
	m.runErrors.Collect(ch)
	m.statusTotal.Collect(ch)
	m.quickChecks.Collect(ch)
	m.suiteRunsTotal.Collect(ch)
	m.suiteDuration.Collect(ch)
	m.neutralFallback.Collect(ch)
}
