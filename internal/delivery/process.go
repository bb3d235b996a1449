package delivery

import (
	"context"

	"github.com/audiolens/masterqc/internal/analyzer"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/events"
	"github.com/audiolens/masterqc/internal/jobqueue"
)

// processor renders one asset toward one platform contract, blocking until
// the work reaches a terminal state. The returned job id is set as soon as
// a job was enqueued, even when the render later fails.
type processor interface {
	Process(ctx context.Context, assetPath, outputPath string, spec *PlatformSpec, projectID string) (jobID string, err error)
}

// queueProcessor submits PROCESS jobs at HIGH priority and awaits their
// terminal state by subscribing to the job's event topic.
type queueProcessor struct {
	engine *jobqueue.Engine
	tools  *jobqueue.Tools
	bus    *events.Bus
}

func (q queueProcessor) Process(ctx context.Context, assetPath, outputPath string, spec *PlatformSpec, projectID string) (string, error) {
	job, err := jobqueue.NewProcessJob(q.tools, jobqueue.ProcessRequest{
		Path:       assetPath,
		OutputPath: outputPath,
		ProjectID:  projectID,
		Priority:   jobqueue.PriorityHigh,
		Target: &analyzer.PlatformTarget{
			Name:        spec.ID,
			LUFS:        spec.LoudnessTarget,
			TruePeakMax: spec.TruePeakMax,
			Mode:        analyzer.DownOnly,
		},
	})
	if err != nil {
		return "", err
	}

	// Exactly one terminal event fires per job lifecycle, so a buffered
	// channel of one never drops it and the handler never blocks.
	terminal := make(chan events.Event, 1)
	sub := q.bus.Subscribe(events.TopicJob(job.ID), func(ev events.Event) {
		if jobqueue.State(ev.State).Terminal() {
			select {
			case terminal <- ev:
			default:
			}
		}
	})
	defer sub.Unsubscribe()

	if err := q.engine.Enqueue(job); err != nil {
		return "", err
	}

	select {
	case ev := <-terminal:
		if jobqueue.State(ev.State) == jobqueue.StateCompleted {
			return job.ID, nil
		}
		detail := ev.Message
		if view, ok := q.engine.Get(job.ID); ok && view.Error != "" {
			detail = view.Error
		}
		return job.ID, errors.Newf("render for %s ended %s: %s", spec.ID, ev.State, detail).
			Component("delivery").
			Category(errors.CategoryJob).
			Context("platform", spec.ID).
			Context("job_id", job.ID).
			Context("job_state", ev.State).
			Build()
	case <-ctx.Done():
		q.engine.Cancel(job.ID)
		return job.ID, errors.New(ctx.Err()).
			Component("delivery").
			Category(errors.CategoryCancellation).
			Context("platform", spec.ID).
			Context("job_id", job.ID).
			Build()
	}
}
