package events

import (
	"time"

	"github.com/audiolens/masterqc/internal/errors"
)

// ErrorPublisherAdapter adapts the Bus to the errors.EventPublisher
// interface so built enhanced errors surface on TopicErrors without the
// errors package importing this one.
type ErrorPublisherAdapter struct {
	bus *Bus
}

// NewErrorPublisherAdapter creates the adapter.
func NewErrorPublisherAdapter(bus *Bus) *ErrorPublisherAdapter {
	return &ErrorPublisherAdapter{bus: bus}
}

// PublishError publishes the error as an event. Returns false when no
// subscriber received it.
func (a *ErrorPublisherAdapter) PublishError(err error) bool {
	if a.bus == nil || err == nil {
		return false
	}
	ev := Event{
		Type:      TypeError,
		Message:   err.Error(),
		Timestamp: time.Now(),
		Err:       err,
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		ev.Timestamp = ee.GetTimestamp()
	}
	return a.bus.Publish(TopicErrors, ev) > 0
}

// AttachErrorPublisher wires the bus into the errors package and forwards
// error events to the configured telemetry reporter. Returns the
// subscription so callers can detach during shutdown.
func AttachErrorPublisher(bus *Bus) *Subscription {
	errors.SetEventPublisher(NewErrorPublisherAdapter(bus))
	return bus.Subscribe(TopicErrors, func(ev Event) {
		reporter := errors.GetTelemetryReporter()
		if reporter == nil || !reporter.IsEnabled() {
			return
		}
		var ee *errors.EnhancedError
		if errors.As(ev.Err, &ee) {
			reporter.ReportError(ee)
		}
	})
}
