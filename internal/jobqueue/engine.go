package jobqueue

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/events"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/observability/metrics"
)

const (
	percentQueued    = 5
	percentCompleted = 100

	defaultMaxAttempts = 3
	defaultRetryDelay  = 5 * time.Second
	defaultStopTimeout = 30 * time.Second
)

// Dispatcher commands. Every external operation and every worker report is
// one of these; the dispatcher goroutine is the only code that touches the
// queues and the job table.
type (
	enqueueCmd struct {
		job   *Job
		reply chan error
	}
	cancelCmd struct {
		id    string
		reply chan bool
	}
	getCmd struct {
		id    string
		reply chan getReply
	}
	getReply struct {
		view JobView
		ok   bool
	}
	snapshotCmd struct {
		reply chan Snapshot
	}
	dequeueCmd struct {
		reply chan *Job
	}
	progressCmd struct {
		id       string
		progress Progress
	}
	doneCmd struct {
		id       string
		result   any
		err      error
		duration time.Duration
	}
	requeueCmd struct {
		id string
	}
	stopCmd struct{}
)

// Engine owns the five priority queues and the worker pool.
type Engine struct {
	bus     *events.Bus
	logger  *slog.Logger
	metrics *metrics.JobQueueMetrics

	workers     int
	maxAttempts int
	retryDelay  time.Duration
	stopTimeout time.Duration

	commands chan any
	quit     chan struct{}
	done     chan struct{}

	baseCtx      context.Context
	cancelPipes  context.CancelFunc
	workersDone  sync.WaitGroup
	startOnce    sync.Once
	stopOnce     sync.Once

	// Dispatcher-owned state. Never touched outside the dispatch loop.
	queues   [priorityCount][]*Job
	jobs     map[string]*Job
	waiters  []chan *Job
	running  int
	stopping bool
	stats    Stats
}

// NewEngine builds an engine from the queue settings. Zero-valued settings
// fall back to max(1, NumCPU-1) workers, 3 attempts, a 5 s retry base and a
// 30 s stop timeout.
func NewEngine(settings *conf.Settings, bus *events.Bus) *Engine {
	q := conf.QueueSettings{}
	if settings != nil {
		q = settings.Queue
	}
	e := &Engine{
		bus:         bus,
		logger:      logging.ForService("jobqueue"),
		workers:     q.Workers,
		maxAttempts: q.MaxAttempts,
		retryDelay:  q.RetryDelay,
		stopTimeout: q.StopTimeout,
		commands:    make(chan any, 64),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		jobs:        make(map[string]*Job),
	}
	if e.workers <= 0 {
		e.workers = max(1, runtime.NumCPU()-1)
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.retryDelay <= 0 {
		e.retryDelay = defaultRetryDelay
	}
	if e.stopTimeout <= 0 {
		e.stopTimeout = defaultStopTimeout
	}
	go e.dispatch()
	return e
}

// SetMetrics attaches the queue metrics collector. Call before Start.
func (e *Engine) SetMetrics(m *metrics.JobQueueMetrics) {
	e.metrics = m
}

// Workers returns the resolved pool size.
func (e *Engine) Workers() int { return e.workers }

// Start launches the worker pool. The dispatcher has been accepting jobs
// since construction; they stay queued until workers exist. Pipelines
// inherit ctx, so cancelling it aborts running jobs.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.baseCtx, e.cancelPipes = context.WithCancel(ctx)
		e.workersDone.Add(e.workers)
		for i := 0; i < e.workers; i++ {
			go e.worker(i)
		}
		e.logger.Info("job queue started",
			"workers", e.workers,
			"max_attempts", e.maxAttempts,
			"retry_delay", e.retryDelay)
	})
}

// Stop drains the pool: no new jobs are handed out, running jobs get the
// configured stop timeout to finish, and queued jobs stay queued. After the
// timeout the pipeline context is cancelled and Stop waits one more timeout
// before giving up with an error.
func (e *Engine) Stop() error {
	var stopErr error
	e.stopOnce.Do(func() {
		if e.post(stopCmd{}) {
			drained := make(chan struct{})
			go func() {
				e.workersDone.Wait()
				close(drained)
			}()
			select {
			case <-drained:
			case <-time.After(e.stopTimeout):
				e.logger.Warn("stop timeout reached, cancelling running jobs")
				if e.cancelPipes != nil {
					e.cancelPipes()
				}
				select {
				case <-drained:
				case <-time.After(e.stopTimeout):
					stopErr = errors.Newf("timed out waiting for running jobs after %v", 2*e.stopTimeout).
						Component("jobqueue").
						Category(errors.CategoryTimeout).
						Build()
				}
			}
		}
		if e.cancelPipes != nil {
			e.cancelPipes()
		}
		close(e.quit)
		<-e.done
	})
	return stopErr
}

// post delivers a command unless the dispatcher has exited.
func (e *Engine) post(cmd any) bool {
	select {
	case e.commands <- cmd:
		return true
	case <-e.done:
		return false
	}
}

// Enqueue submits a constructed job. The job is rejected once Stop has been
// called.
func (e *Engine) Enqueue(job *Job) error {
	if job == nil || job.pipeline == nil {
		return ErrNilPipeline
	}
	reply := make(chan error, 1)
	if !e.post(enqueueCmd{job: job, reply: reply}) {
		return ErrQueueStopped
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrQueueStopped
	}
}

// Cancel cancels a job. It returns true iff the job was QUEUED or RUNNING:
// a queued job leaves its queue synchronously, a running job has its flag
// flipped and aborts at the next checkpoint. Retrying and terminal jobs
// report false.
func (e *Engine) Cancel(id string) bool {
	reply := make(chan bool, 1)
	if !e.post(cancelCmd{id: id, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-e.done:
		return false
	}
}

// Get returns a copy of the job's current state.
func (e *Engine) Get(id string) (JobView, bool) {
	reply := make(chan getReply, 1)
	if !e.post(getCmd{id: id, reply: reply}) {
		return JobView{}, false
	}
	select {
	case r := <-reply:
		return r.view, r.ok
	case <-e.done:
		return JobView{}, false
	}
}

// Snapshot returns a consistent copy of queues, counters and jobs.
func (e *Engine) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !e.post(snapshotCmd{reply: reply}) {
		return Snapshot{Depths: map[string]int{}}
	}
	select {
	case s := <-reply:
		return s
	case <-e.done:
		return Snapshot{Depths: map[string]int{}}
	}
}

// Stats returns the terminal-transition counters.
func (e *Engine) Stats() Stats {
	return e.Snapshot().Stats
}

// dispatch is the single owner of all queue state.
func (e *Engine) dispatch() {
	defer close(e.done)
	for {
		select {
		case cmd := <-e.commands:
			e.handle(cmd)
		case <-e.quit:
			for _, w := range e.waiters {
				w <- nil
			}
			e.waiters = nil
			return
		}
	}
}

func (e *Engine) handle(cmd any) {
	switch c := cmd.(type) {
	case enqueueCmd:
		c.reply <- e.handleEnqueue(c.job)
	case cancelCmd:
		c.reply <- e.handleCancel(c.id)
	case getCmd:
		job, ok := e.jobs[c.id]
		if !ok {
			c.reply <- getReply{}
			return
		}
		c.reply <- getReply{view: job.view(), ok: true}
	case snapshotCmd:
		c.reply <- e.buildSnapshot()
	case dequeueCmd:
		e.handleDequeue(c.reply)
	case progressCmd:
		e.handleProgress(c.id, c.progress)
	case doneCmd:
		e.handleDone(c)
	case requeueCmd:
		e.handleRequeue(c.id)
	case stopCmd:
		e.stopping = true
		for _, w := range e.waiters {
			w <- nil
		}
		e.waiters = nil
	}
}

func (e *Engine) handleEnqueue(job *Job) error {
	if e.stopping {
		return ErrQueueStopped
	}
	if _, exists := e.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = e.maxAttempts
	}
	job.state = StateQueued
	job.createdAt = time.Now()
	job.progress = Progress{Phase: events.PhaseQueued, Percent: percentQueued, Message: "queued"}
	e.jobs[job.ID] = job
	e.queues[job.Priority] = append(e.queues[job.Priority], job)

	if e.metrics != nil {
		e.metrics.RecordEnqueued(string(job.Type), job.Priority.String())
		e.metrics.SetQueueDepth(job.Priority.String(), len(e.queues[job.Priority]))
	}
	e.logger.Debug("job enqueued",
		"job_id", job.ID,
		"type", string(job.Type),
		"priority", job.Priority.String())
	e.publish(job)
	e.serveWaiters()
	return nil
}

func (e *Engine) handleCancel(id string) bool {
	job, ok := e.jobs[id]
	if !ok {
		return false
	}
	switch job.state {
	case StateQueued:
		e.removeFromQueue(job)
		job.cancelled.Store(true)
		e.finalize(job, StateCancelled, "cancelled while queued")
		return true
	case StateRunning:
		job.cancelled.Store(true)
		if job.runCancel != nil {
			job.runCancel()
		}
		e.logger.Info("cancellation requested", "job_id", id)
		return true
	default:
		return false
	}
}

func (e *Engine) removeFromQueue(job *Job) {
	q := e.queues[job.Priority]
	for i := range q {
		if q[i] == job {
			e.queues[job.Priority] = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if e.metrics != nil {
		e.metrics.SetQueueDepth(job.Priority.String(), len(e.queues[job.Priority]))
	}
}

func (e *Engine) handleDequeue(reply chan *Job) {
	if e.stopping {
		reply <- nil
		return
	}
	if job := e.popNext(); job != nil {
		e.startJob(job, reply)
		return
	}
	e.waiters = append(e.waiters, reply)
}

// popNext pulls the head of the highest-priority non-empty queue.
func (e *Engine) popNext() *Job {
	for p := Priority(0); p < priorityCount; p++ {
		if len(e.queues[p]) == 0 {
			continue
		}
		job := e.queues[p][0]
		e.queues[p] = e.queues[p][1:]
		if e.metrics != nil {
			e.metrics.SetQueueDepth(p.String(), len(e.queues[p]))
		}
		return job
	}
	return nil
}

func (e *Engine) serveWaiters() {
	for len(e.waiters) > 0 {
		job := e.popNext()
		if job == nil {
			return
		}
		w := e.waiters[0]
		e.waiters = e.waiters[1:]
		e.startJob(job, w)
	}
}

func (e *Engine) startJob(job *Job, w chan *Job) {
	job.attempts++
	job.state = StateRunning
	job.startedAt = time.Now()
	ctx, cancel := context.WithCancel(e.baseCtx)
	job.runCtx, job.runCancel = ctx, cancel
	e.running++
	if e.metrics != nil {
		e.metrics.SetRunning(e.running)
	}
	e.publishMessage(job, "started")
	w <- job
}

func (e *Engine) handleProgress(id string, p Progress) {
	job, ok := e.jobs[id]
	if !ok || job.state != StateRunning {
		return
	}
	job.progress = p
	e.publish(job)
}

func (e *Engine) handleDone(c doneCmd) {
	job, ok := e.jobs[c.id]
	if !ok || job.state != StateRunning {
		return
	}
	e.running--
	if e.metrics != nil {
		e.metrics.SetRunning(e.running)
	}
	job.runCancel()

	switch {
	case job.cancelled.Load():
		e.finalize(job, StateCancelled, "cancelled")
	case c.err != nil && job.attempts < job.MaxAttempts && !e.stopping:
		e.scheduleRetry(job, c.err)
	case c.err != nil:
		job.errText = c.err.Error()
		e.finalize(job, StateFailed, c.err.Error())
	default:
		job.result = c.result
		job.progress = Progress{Phase: events.PhaseCompleted, Percent: percentCompleted, Message: "completed"}
		e.stats.Processed++
		e.stats.AvgProcessingTime += (c.duration - e.stats.AvgProcessingTime) / time.Duration(e.stats.Processed)
		if e.metrics != nil {
			e.metrics.RecordCompleted(string(job.Type), c.duration.Seconds())
		}
		job.state = StateCompleted
		job.finishedAt = time.Now()
		e.logger.Info("job completed",
			"job_id", job.ID,
			"type", string(job.Type),
			"attempts", job.attempts,
			"duration_ms", c.duration.Milliseconds())
		e.publishWithMetrics(job, map[string]float64{
			"durationMs": float64(c.duration.Milliseconds()),
			"attempts":   float64(job.attempts),
		})
	}
}

// scheduleRetry moves a failed job to RETRYING and arms the backoff timer:
// retryDelay doubled per prior attempt.
func (e *Engine) scheduleRetry(job *Job, cause error) {
	job.state = StateRetrying
	job.errText = cause.Error()
	job.progress.Phase = events.PhaseRetrying
	delay := e.backoff(job.attempts)
	e.stats.Retries++
	if e.metrics != nil {
		e.metrics.RecordRetry(string(job.Type))
	}
	e.logger.Warn("job failed, retry scheduled",
		"job_id", job.ID,
		"type", string(job.Type),
		"attempt", job.attempts,
		"max_attempts", job.MaxAttempts,
		"delay", delay,
		"error", cause.Error())
	e.publishMessage(job, "retrying in "+delay.String())

	id := job.ID
	job.retryTime = time.AfterFunc(delay, func() {
		e.post(requeueCmd{id: id})
	})
}

func (e *Engine) backoff(attempts int) time.Duration {
	return time.Duration(float64(e.retryDelay) * math.Pow(2, float64(attempts-1)))
}

// handleRequeue pushes a retrying job back to the front of its queue.
func (e *Engine) handleRequeue(id string) {
	job, ok := e.jobs[id]
	if !ok || job.state != StateRetrying {
		return
	}
	job.state = StateQueued
	job.progress = Progress{Phase: events.PhaseQueued, Percent: percentQueued, Message: "retry queued"}
	e.queues[job.Priority] = append([]*Job{job}, e.queues[job.Priority]...)
	if e.metrics != nil {
		e.metrics.SetQueueDepth(job.Priority.String(), len(e.queues[job.Priority]))
	}
	e.publish(job)
	e.serveWaiters()
}

// finalize records a terminal transition and publishes it.
func (e *Engine) finalize(job *Job, state State, message string) {
	job.state = state
	job.finishedAt = time.Now()
	switch state {
	case StateFailed:
		job.progress.Phase = events.PhaseFailed
		e.stats.Failed++
		if e.metrics != nil {
			e.metrics.RecordFailed(string(job.Type))
		}
		e.logger.Error("job failed",
			"job_id", job.ID,
			"type", string(job.Type),
			"attempts", job.attempts,
			"error", job.errText)
	case StateCancelled:
		job.progress.Phase = events.PhaseCancelled
		e.stats.Cancelled++
		if e.metrics != nil {
			e.metrics.RecordCancelled(string(job.Type))
		}
		e.logger.Info("job cancelled", "job_id", job.ID, "type", string(job.Type))
	}
	e.publishMessage(job, message)
}

func (e *Engine) buildSnapshot() Snapshot {
	s := Snapshot{
		Depths:  make(map[string]int, priorityCount),
		Running: e.running,
		Waiting: len(e.waiters),
		Stats:   e.stats,
		Jobs:    make([]JobView, 0, len(e.jobs)),
	}
	for p := Priority(0); p < priorityCount; p++ {
		s.Depths[p.String()] = len(e.queues[p])
	}
	for _, job := range e.jobs {
		s.Jobs = append(s.Jobs, job.view())
	}
	sort.Slice(s.Jobs, func(i, j int) bool {
		if !s.Jobs[i].CreatedAt.Equal(s.Jobs[j].CreatedAt) {
			return s.Jobs[i].CreatedAt.Before(s.Jobs[j].CreatedAt)
		}
		return s.Jobs[i].ID < s.Jobs[j].ID
	})
	return s
}

// publish emits the job's current state to its topics. Events leave the
// dispatcher in transition order, which is what guarantees per-job event
// ordering.
func (e *Engine) publish(job *Job) {
	e.publishWithMetrics(job, nil)
}

func (e *Engine) publishMessage(job *Job, message string) {
	ev := e.event(job, nil)
	if message != "" {
		ev.Message = message
	}
	e.bus.PublishJobUpdate(ev)
}

func (e *Engine) publishWithMetrics(job *Job, m map[string]float64) {
	e.bus.PublishJobUpdate(e.event(job, m))
}

func (e *Engine) event(job *Job, m map[string]float64) events.Event {
	return events.Event{
		Type:      events.TypeJobUpdate,
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		State:     string(job.state),
		Phase:     job.progress.Phase,
		Progress:  job.progress.Percent,
		Preset:    job.Preset,
		Message:   job.progress.Message,
		Metrics:   m,
	}
}

// worker pulls jobs until the dispatcher hands it nil.
func (e *Engine) worker(i int) {
	defer e.workersDone.Done()
	logger := e.logger.With("worker", i)
	for {
		job := e.dequeue()
		if job == nil {
			logger.Debug("worker exiting")
			return
		}
		e.runJob(job, logger)
	}
}

func (e *Engine) dequeue() *Job {
	reply := make(chan *Job, 1)
	if !e.post(dequeueCmd{reply: reply}) {
		return nil
	}
	select {
	case job := <-reply:
		return job
	case <-e.done:
		return nil
	}
}

func (e *Engine) runJob(job *Job, logger *slog.Logger) {
	start := time.Now()
	logger.Debug("job started",
		"job_id", job.ID,
		"type", string(job.Type),
		"attempt", job.attempts)

	rep := &Reporter{engine: e, job: job}
	result, err := e.runPipeline(job, rep)
	e.post(doneCmd{id: job.ID, result: result, err: err, duration: time.Since(start)})
}

// runPipeline contains the panic barrier: a panicking pipeline fails its
// job instead of killing the worker.
func (e *Engine) runPipeline(job *Job, rep *Reporter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("pipeline panicked: %v", r).
				Component("jobqueue").
				Category(errors.CategoryJob).
				Context("job_id", job.ID).
				Context("job_type", string(job.Type)).
				Build()
		}
	}()
	return job.pipeline.Run(job.runCtx, rep)
}

// Reporter lets a pipeline publish progress checkpoints and observe
// cancellation between stages.
type Reporter struct {
	engine *Engine
	job    *Job
}

// Checkpoint records progress and returns false when the job has been
// cancelled; pipelines must then stop at the next stage boundary.
func (r *Reporter) Checkpoint(phase string, percent int, message string) bool {
	if r.Cancelled() {
		return false
	}
	r.engine.post(progressCmd{
		id:       r.job.ID,
		progress: Progress{Phase: phase, Percent: percent, Message: message},
	})
	return true
}

// Cancelled reports the job's cancellation flag.
func (r *Reporter) Cancelled() bool {
	return r.job.cancelled.Load()
}

// JobID identifies the job being reported on.
func (r *Reporter) JobID() string { return r.job.ID }
