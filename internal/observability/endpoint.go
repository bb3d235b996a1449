package observability

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/events"
)

// shutdownTimeout bounds the graceful stop of the metrics server.
const shutdownTimeout = 5 * time.Second

// Endpoint serves the Prometheus registry and the live event stream over
// HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	bus           *events.Bus
	stopStreams   context.CancelFunc
}

// NewEndpoint creates a telemetry endpoint around an initialized Metrics
// instance. Telemetry must be enabled in the settings. A nil bus leaves
// the /events stream unregistered.
func NewEndpoint(settings *conf.Settings, m *Metrics, bus *events.Bus) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, errors.Newf("telemetry not enabled in settings").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       m,
		bus:           bus,
	}, nil
}

// routes builds the handler mux served by Start.
func (e *Endpoint) routes() *http.ServeMux {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	if e.bus != nil {
		mux.HandleFunc("/events", e.serveEvents)
	}
	return mux
}

// serveEvents streams bus events for one topic as SSE frames until the
// client disconnects or the server drains. Without a topic query
// parameter the stream carries every job update.
func (e *Endpoint) serveEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = events.TopicAll
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := events.StreamTopic(r.Context(), w, e.bus, topic, nil); err != nil {
		log.Debug("event stream closed", "topic", topic, "error", err)
	}
}

// Start runs the HTTP server on its own goroutine and shuts it down when
// quitChan closes.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	// SSE connections never go idle, so request contexts hang off a
	// server context that shutdown cancels before draining.
	streamCtx, cancel := context.WithCancel(context.Background())
	e.stopStreams = cancel

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           e.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}

	wg.Go(func() {
		log.Info("telemetry endpoint starting", "address", e.listenAddress)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("telemetry server error", "error", err)
		}
	})

	go e.gracefulShutdown(quitChan)
}

// gracefulShutdown waits for the quit signal and drains the server.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	log.Info("stopping telemetry server")
	e.stopStreams()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("telemetry server shutdown error", "error", err)
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
