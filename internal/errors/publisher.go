// Package errors - event bus integration
package errors

import (
	"sync/atomic"
)

// EventPublisher publishes error events without importing the events
// package, avoiding a circular dependency.
type EventPublisher interface {
	PublishError(err error) bool
}

var (
	globalEventPublisher    atomic.Pointer[EventPublisher]
	globalTelemetryReporter atomic.Pointer[TelemetryReporter]

	// hasActiveReporting gates the expensive Build path (stack walks,
	// category detection). False when neither a publisher nor a reporter
	// is configured.
	hasActiveReporting atomic.Bool
)

// SetEventPublisher installs the global error event publisher. Called by
// the events package during wiring; pass nil to detach.
func SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		globalEventPublisher.Store(nil)
	} else {
		globalEventPublisher.Store(&publisher)
	}
	updateActiveReporting()
}

// SetTelemetryReporter installs the global telemetry reporter; pass nil to
// detach.
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		globalTelemetryReporter.Store(nil)
	} else {
		globalTelemetryReporter.Store(&reporter)
	}
	updateActiveReporting()
}

// GetTelemetryReporter returns the current reporter, nil when unset.
func GetTelemetryReporter() TelemetryReporter {
	ptr := globalTelemetryReporter.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

func updateActiveReporting() {
	hasReporter := false
	if ptr := globalTelemetryReporter.Load(); ptr != nil && *ptr != nil && (*ptr).IsEnabled() {
		hasReporter = true
	}
	hasPublisher := false
	if ptr := globalEventPublisher.Load(); ptr != nil && *ptr != nil {
		hasPublisher = true
	}
	hasActiveReporting.Store(hasReporter || hasPublisher)
}

// reportToTelemetry routes a built error to the event bus when attached,
// falling back to the direct reporter.
func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}
	if ptr := globalEventPublisher.Load(); ptr != nil && *ptr != nil {
		(*ptr).PublishError(ee)
		return
	}
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}
