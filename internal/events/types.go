// Package events provides the in-process pub/sub bus that carries job
// lifecycle updates to subscribers, plus the SSE encoding of those updates
// for external streaming layers. Delivery is synchronous: publishers see
// every subscriber run before Publish returns, which preserves per-topic
// ordering. Handlers must not block.
package events

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	TypeConnected      = "connected"
	TypeJobUpdate      = "job-update"
	TypeDeliveryUpdate = "delivery-update"
	TypeError          = "error"
)

// Lifecycle phases in publish order. Progress percentages are fixed per
// phase: queued 5, analyzing 15-30, transforming 40-80, finalizing 85,
// completed 100.
const (
	PhaseQueued       = "queued"
	PhaseAnalyzing    = "analyzing"
	PhaseTransforming = "transforming"
	PhaseFinalizing   = "finalizing"
	PhaseCompleted    = "completed"
	PhaseFailed       = "failed"
	PhaseCancelled    = "cancelled"
	PhaseRetrying     = "retrying"
)

// TopicAll receives every job update regardless of job or project.
const TopicAll = "jobs:all"

// TopicErrors carries enhanced errors published by the errors package.
const TopicErrors = "errors"

// TopicJob returns the per-job topic name.
func TopicJob(jobID string) string {
	return "job:" + jobID
}

// TopicDelivery returns the per-delivery topic name.
func TopicDelivery(deliveryID string) string {
	return "delivery:" + deliveryID
}

// TopicProject returns the per-project topic name.
func TopicProject(projectID string) string {
	return "project:" + projectID
}

// Event is a single bus message. The JSON shape is the SSE wire contract;
// timestamps serialize as unix milliseconds.
type Event struct {
	Type       string             `json:"type"`
	JobID      string             `json:"jobId,omitempty"`
	DeliveryID string             `json:"deliveryId,omitempty"`
	ProjectID  string             `json:"projectId,omitempty"`
	State      string             `json:"state,omitempty"`
	Phase      string             `json:"phase,omitempty"`
	Progress   int                `json:"progress"`
	Preset     string             `json:"preset,omitempty"`
	Message    string             `json:"message,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Timestamp  time.Time          `json:"-"`

	// Err carries the original error for in-process subscribers on
	// TopicErrors. Never serialized.
	Err error `json:"-"`
}

// MarshalJSON serializes the event with the timestamp as unix milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(struct {
		alias
		Timestamp int64 `json:"timestamp"`
	}{
		alias:     alias(e),
		Timestamp: e.Timestamp.UnixMilli(),
	})
}

// Stats contains bus counters for monitoring.
type Stats struct {
	Published     uint64
	Delivered     uint64
	HandlerPanics uint64
	Subscribers   int
}
