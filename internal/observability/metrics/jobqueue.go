package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// JobQueueMetrics contains Prometheus metrics for the job queue engine
type JobQueueMetrics struct {
	registry *prometheus.Registry

	enqueuedTotal  *prometheus.CounterVec
	completedTotal *prometheus.CounterVec
	failedTotal    *prometheus.CounterVec
	cancelledTotal *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	runningJobs    prometheus.Gauge
}

// NewJobQueueMetrics creates and registers new job queue metrics
func NewJobQueueMetrics(registry *prometheus.Registry) (*JobQueueMetrics, error) {
	m := &JobQueueMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *JobQueueMetrics) initMetrics() error {
	m.enqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_enqueued_total",
			Help: "Total number of jobs accepted into a queue",
		},
		[]string{"type", "priority"},
	)

	m.completedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_completed_total",
			Help: "Total number of jobs that finished successfully",
		},
		[]string{"type"},
	)

	m.failedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_failed_total",
			Help: "Total number of jobs that exhausted their attempts",
		},
		[]string{"type"},
	)

	m.cancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_cancelled_total",
			Help: "Total number of jobs cancelled before completion",
		},
		[]string{"type"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_retries_total",
			Help: "Total number of retry attempts scheduled",
		},
		[]string{"type"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobqueue_job_duration_seconds",
			Help:    "Wall-clock duration of the successful attempt per job type",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		},
		[]string{"type"},
	)

	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobqueue_depth",
			Help: "Current number of queued jobs per priority",
		},
		[]string{"priority"},
	)

	m.runningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobqueue_running_jobs",
			Help: "Number of jobs currently held by workers",
		},
	)

	return nil
}

// RecordEnqueued records a job accepted into its priority queue
func (m *JobQueueMetrics) RecordEnqueued(jobType, priority string) {
	m.enqueuedTotal.WithLabelValues(jobType, priority).Inc()
}

// RecordCompleted records a successful terminal transition with its duration
func (m *JobQueueMetrics) RecordCompleted(jobType string, seconds float64) {
	m.completedTotal.WithLabelValues(jobType).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(seconds)
}

// RecordFailed records a job that exhausted its attempts
func (m *JobQueueMetrics) RecordFailed(jobType string) {
	m.failedTotal.WithLabelValues(jobType).Inc()
}

// RecordCancelled records a cancelled job
func (m *JobQueueMetrics) RecordCancelled(jobType string) {
	m.cancelledTotal.WithLabelValues(jobType).Inc()
}

// RecordRetry records one scheduled retry
func (m *JobQueueMetrics) RecordRetry(jobType string) {
	m.retriesTotal.WithLabelValues(jobType).Inc()
}

// SetQueueDepth records the current depth of one priority queue
func (m *JobQueueMetrics) SetQueueDepth(priority string, depth int) {
	m.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

// SetRunning records the number of jobs workers currently hold
func (m *JobQueueMetrics) SetRunning(n int) {
	m.runningJobs.Set(float64(n))
}

// Describe implements the Collector interface
func (m *JobQueueMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.enqueuedTotal.Describe(ch)
	m.completedTotal.Describe(ch)
	m.failedTotal.Describe(ch)
	m.cancelledTotal.Describe(ch)
	m.retriesTotal.Describe(ch)
	m.jobDuration.Describe(ch)
	m.queueDepth.Describe(ch)
	m.runningJobs.Describe(ch)
}

// Collect implements the Collector interface
func (m *JobQueueMetrics) Collect(ch chan<- prometheus.Metric) {
	m.enqueuedTotal.Collect(ch)
	m.completedTotal.Collect(ch)
	m.failedTotal.Collect(ch)
	m.cancelledTotal.Collect(ch)
	m.retriesTotal.Collect(ch)
	m.jobDuration.Collect(ch)
	m.queueDepth.Collect(ch)
	m.runningJobs.Collect(ch)
}
