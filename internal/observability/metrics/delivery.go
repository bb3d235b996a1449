package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics contains Prometheus metrics for delivery orchestration
type DeliveryMetrics struct {
	registry *prometheus.Registry

	deliveriesTotal    *prometheus.CounterVec
	platformOutcomes   *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	rendersTotal       *prometheus.CounterVec
	uploadsTotal       *prometheus.CounterVec
	uploadDuration     *prometheus.HistogramVec
	deliveryDuration   prometheus.Histogram
}

// NewDeliveryMetrics creates and registers new delivery metrics
func NewDeliveryMetrics(registry *prometheus.Registry) (*DeliveryMetrics, error) {
	m := &DeliveryMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DeliveryMetrics) initMetrics() error {
	m.deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_runs_total",
			Help: "Total number of deliveries by terminal status",
		},
		[]string{"status"},
	)

	m.platformOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_platform_outcomes_total",
			Help: "Per-platform terminal outcomes across deliveries",
		},
		[]string{"platform", "status"},
	)

	m.validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_validation_failures_total",
			Help: "Platform contract validation failures by reason",
		},
		[]string{"platform", "reason"},
	)

	m.rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_renders_total",
			Help: "Assets rendered toward a platform contract before upload",
		},
		[]string{"platform"},
	)

	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_uploads_total",
			Help: "Upload attempts by final status",
		},
		[]string{"platform", "status"},
	)

	m.uploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_upload_duration_seconds",
			Help:    "Wall-clock time of one upload including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		},
		[]string{"platform"},
	)

	m.deliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_seconds",
			Help:    "Wall-clock time of a whole delivery run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~34m
		},
	)

	return nil
}

// RecordDelivery records a delivery reaching a terminal status
func (m *DeliveryMetrics) RecordDelivery(status string, seconds float64) {
	m.deliveriesTotal.WithLabelValues(status).Inc()
	m.deliveryDuration.Observe(seconds)
}

// RecordPlatformOutcome records one platform's terminal status within a delivery
func (m *DeliveryMetrics) RecordPlatformOutcome(platform, status string) {
	m.platformOutcomes.WithLabelValues(platform, status).Inc()
}

// RecordValidationFailure records a platform contract check that failed
func (m *DeliveryMetrics) RecordValidationFailure(platform, reason string) {
	m.validationFailures.WithLabelValues(platform, reason).Inc()
}

// RecordRender records an asset rendered toward a platform contract
func (m *DeliveryMetrics) RecordRender(platform string) {
	m.rendersTotal.WithLabelValues(platform).Inc()
}

// RecordUpload records an upload's final status
func (m *DeliveryMetrics) RecordUpload(platform, status string) {
	m.uploadsTotal.WithLabelValues(platform, status).Inc()
}

// RecordUploadDuration records the wall-clock duration of one upload
func (m *DeliveryMetrics) RecordUploadDuration(platform string, seconds float64) {
	m.uploadDuration.WithLabelValues(platform).Observe(seconds)
}

// Describe implements the Collector interface
func (m *DeliveryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.deliveriesTotal.Describe(ch)
	m.platformOutcomes.Describe(ch)
	m.validationFailures.Describe(ch)
	m.rendersTotal.Describe(ch)
	m.uploadsTotal.Describe(ch)
	m.uploadDuration.Describe(ch)
	m.deliveryDuration.Describe(ch)
}

// Collect implements the Collector interface
func (m *DeliveryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.deliveriesTotal.Collect(ch)
	m.platformOutcomes.Collect(ch)
	m.validationFailures.Collect(ch)
	m.rendersTotal.Collect(ch)
	m.uploadsTotal.Collect(ch)
	m.uploadDuration.Collect(ch)
	m.deliveryDuration.Collect(ch)
}
