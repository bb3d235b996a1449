// Package metrics provides external tool invoker metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InvokerMetrics contains Prometheus metrics for external measurement tool invocations
type InvokerMetrics struct {
	registry *prometheus.Registry

	// Invocation metrics
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	invocationErrors   *prometheus.CounterVec

	// Output parsing metrics
	parseOperationsTotal *prometheus.CounterVec
	parseErrorsTotal     *prometheus.CounterVec

	// Probe cache metrics
	probeCacheOperations *prometheus.CounterVec
}

// NewInvokerMetrics creates and registers new invoker metrics
func NewInvokerMetrics(registry *prometheus.Registry) (*InvokerMetrics, error) {
	m := &InvokerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *InvokerMetrics) initMetrics() error {
	m.invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_invocations_total",
			Help: "Total number of external tool invocations",
		},
		[]string{"tool", "status"}, // tool: ffmpeg, ffprobe; status: success, exit_error, timeout, canceled, spawn_error
	)

	m.invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoker_invocation_duration_seconds",
			Help:    "Time taken for external tool invocations",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"tool"},
	)

	m.invocationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_invocation_errors_total",
			Help: "Total number of external tool invocation errors",
		},
		[]string{"tool", "error_type"},
	)

	m.parseOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_parse_operations_total",
			Help: "Total number of tool output parse operations",
		},
		[]string{"parser"}, // parser: metrics, timeseries, loudnorm, probe
	)

	m.parseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_parse_errors_total",
			Help: "Total number of tool output values that failed to parse",
		},
		[]string{"parser", "metric"},
	)

	m.probeCacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoker_probe_cache_operations_total",
			Help: "Total number of probe cache operations",
		},
		[]string{"result"}, // result: hit, miss, purge
	)

	return nil
}

// RecordInvocation records a completed tool invocation
func (m *InvokerMetrics) RecordInvocation(tool, status string) {
	m.invocationsTotal.WithLabelValues(tool, status).Inc()
}

// RecordInvocationDuration records the wall-clock duration of a tool invocation
func (m *InvokerMetrics) RecordInvocationDuration(tool string, seconds float64) {
	m.invocationDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordInvocationError records a failed tool invocation by error type
func (m *InvokerMetrics) RecordInvocationError(tool, errorType string) {
	m.invocationErrors.WithLabelValues(tool, errorType).Inc()
}

// RecordParseOperation records a parse pass over tool output
func (m *InvokerMetrics) RecordParseOperation(parser string) {
	m.parseOperationsTotal.WithLabelValues(parser).Inc()
}

// RecordParseError records a metric value that failed to parse
func (m *InvokerMetrics) RecordParseError(parser, metric string) {
	m.parseErrorsTotal.WithLabelValues(parser, metric).Inc()
}

// RecordProbeCache records a probe cache lookup result
func (m *InvokerMetrics) RecordProbeCache(result string) {
	m.probeCacheOperations.WithLabelValues(result).Inc()
}

// Describe implements the Collector interface
func (m *InvokerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.invocationsTotal.Describe(ch)
	m.invocationDuration.Describe(ch)
	m.invocationErrors.Describe(ch)
	m.parseOperationsTotal.Describe(ch)
	m.parseErrorsTotal.Describe(ch)
	m.probeCacheOperations.Describe(ch)
}

// Collect implements the Collector interface
func (m *InvokerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.invocationsTotal.Collect(ch)
	m.invocationDuration.Collect(ch)
	m.invocationErrors.Collect(ch)
	m.parseOperationsTotal.Collect(ch)
	m.parseErrorsTotal.Collect(ch)
	m.probeCacheOperations.Collect(ch)
}
