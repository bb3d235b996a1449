// Package jobqueue runs analysis and processing work through five
// priority-ordered FIFO queues served by a fixed worker pool. A single
// dispatcher goroutine owns the queues and the job table; everything
// external, including the workers, talks to it through a command channel,
// so no state is shared by locking.
package jobqueue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/audiolens/masterqc/internal/errors"
)

// Sentinel errors returned by queue operations.
var (
	ErrQueueStopped = errors.NewStd("job queue has been stopped")
	ErrNilPipeline  = errors.NewStd("job has no pipeline")
	ErrDuplicateJob = errors.NewStd("job id already enqueued")
	ErrCancelled    = errors.NewStd("job cancelled")
)

// Priority indexes the five FIFO queues. Lower ordinal is served first; a
// worker always pulls the head of the highest non-empty queue.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBulk
	priorityCount
)

var priorityNames = [priorityCount]string{"CRITICAL", "HIGH", "NORMAL", "LOW", "BULK"}

func (p Priority) String() string {
	if p < 0 || p >= priorityCount {
		return "UNKNOWN"
	}
	return priorityNames[p]
}

// ParsePriority resolves a priority name, defaulting to NORMAL for empty
// input.
func ParsePriority(name string) (Priority, error) {
	if name == "" {
		return PriorityNormal, nil
	}
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return PriorityNormal, errors.Newf("unknown priority %q", name).
		Component("jobqueue").
		Category(errors.CategoryValidation).
		Build()
}

// State is a job lifecycle state.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateRetrying  State = "RETRYING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the state ends the job's lifecycle.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobType selects the pipeline a worker runs.
type JobType string

const (
	TypeAnalyze  JobType = "ANALYZE"
	TypeProcess  JobType = "PROCESS"
	TypeExport   JobType = "EXPORT"
	TypeValidate JobType = "VALIDATE"
	TypeMetadata JobType = "METADATA"
)

// Progress is the externally visible position of a running job. Percent is
// overall, not phase-local: queued 5, analyzing 15-30, transforming 40-80,
// finalizing 85, completed 100.
type Progress struct {
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// Job is one unit of queued work. All fields are owned by the dispatcher
// after Enqueue; the cancellation flag is the only member running workers
// read directly. MaxAttempts may be raised or lowered between construction
// and Enqueue.
type Job struct {
	ID          string
	ProjectID   string
	Type        JobType
	Priority    Priority
	Preset      string
	MaxAttempts int

	state      State
	progress   Progress
	attempts   int
	errText    string
	result     any
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	cancelled atomic.Bool
	pipeline  Pipeline
	runCtx    context.Context
	runCancel context.CancelFunc
	retryTime *time.Timer
}

// view snapshots the externally visible fields. Dispatcher only.
func (j *Job) view() JobView {
	return JobView{
		ID:          j.ID,
		ProjectID:   j.ProjectID,
		Type:        j.Type,
		Priority:    j.Priority.String(),
		Preset:      j.Preset,
		State:       j.state,
		Progress:    j.progress,
		Attempts:    j.attempts,
		MaxAttempts: j.MaxAttempts,
		Error:       j.errText,
		Result:      j.result,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
	}
}

// JobView is a point-in-time copy of a job, safe to hold across dispatcher
// transitions.
type JobView struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId,omitempty"`
	Type        JobType   `json:"type"`
	Priority    string    `json:"priority"`
	Preset      string    `json:"preset,omitempty"`
	State       State     `json:"state"`
	Progress    Progress  `json:"progress"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	Error       string    `json:"error,omitempty"`
	Result      any       `json:"result,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
}

// Stats aggregates terminal transitions. AvgProcessingTime is a running
// average over completed jobs: avg += (d - avg) / processed.
type Stats struct {
	Processed         int           `json:"processed"`
	Failed            int           `json:"failed"`
	Cancelled         int           `json:"cancelled"`
	Retries           int           `json:"retries"`
	AvgProcessingTime time.Duration `json:"avgProcessingTime"`
}

// Snapshot is a consistent view of the whole engine.
type Snapshot struct {
	Depths  map[string]int `json:"depths"`
	Running int            `json:"running"`
	Waiting int            `json:"waiting"`
	Stats   Stats          `json:"stats"`
	Jobs    []JobView      `json:"jobs"`
}

// Pipeline runs one job's work. Implementations report checkpoints through
// the reporter, honor ctx, and stop at the next stage boundary once
// Checkpoint returns false.
type Pipeline interface {
	Type() JobType
	Run(ctx context.Context, rep *Reporter) (result any, err error)
}
