// Package observability provides Prometheus metrics for monitoring masterqc.
// Sentry-related error telemetry is handled in the telemetry package.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolens/masterqc/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application, registered
// on one private registry.
type Metrics struct {
	registry *prometheus.Registry
	Invoker  *metrics.InvokerMetrics
	Analyzer *metrics.AnalyzerMetrics
	JobQueue *metrics.JobQueueMetrics
	Delivery *metrics.DeliveryMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric
// collectors. It returns an error if any collector fails to register.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	invokerMetrics, err := metrics.NewInvokerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoker metrics: %w", err)
	}

	analyzerMetrics, err := metrics.NewAnalyzerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer metrics: %w", err)
	}

	jobQueueMetrics, err := metrics.NewJobQueueMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue metrics: %w", err)
	}

	deliveryMetrics, err := metrics.NewDeliveryMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Invoker:  invokerMetrics,
		Analyzer: analyzerMetrics,
		JobQueue: jobQueueMetrics,
		Delivery: deliveryMetrics,
	}, nil
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

// metricsHandler is the HTTP handler for the /metrics endpoint.
func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(log.Handler(), slog.LevelError),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
