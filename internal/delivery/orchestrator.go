package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/events"
	"github.com/audiolens/masterqc/internal/jobqueue"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/observability/metrics"
)

// Request describes one delivery: a set of assets toward a set of platforms
// under a shared metadata record.
type Request struct {
	Assets    []string
	Platforms []string
	Metadata  map[string]string
	ProjectID string
}

// Orchestrator runs deliveries. Each run walks validate, process, upload
// sequentially; platforms fail independently, and a delivery counts as
// DELIVERED as soon as one platform made it all the way through.
type Orchestrator struct {
	settings *conf.Settings
	table    *Table
	bus      *events.Bus
	logger   *slog.Logger
	metrics  *metrics.DeliveryMetrics
	notify   Notifier

	inspect inspector
	process processor
	upload  Uploader

	mu         sync.RWMutex
	deliveries map[string]*Delivery
}

// NewOrchestrator wires an orchestrator to the job queue and the event bus.
// The platform table comes from the configured override file, or the
// embedded defaults.
func NewOrchestrator(settings *conf.Settings, engine *jobqueue.Engine, tools *jobqueue.Tools, bus *events.Bus) (*Orchestrator, error) {
	if engine == nil || tools == nil || tools.Runner == nil || bus == nil {
		return nil, errors.Newf("delivery orchestrator requires a queue engine, tools and an event bus").
			Component("delivery").
			Category(errors.CategoryValidation).
			Build()
	}
	table, err := LoadTable(settings.Delivery.PlatformsFile)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		settings:   settings,
		table:      table,
		bus:        bus,
		logger:     logging.ForService("delivery"),
		inspect:    runnerInspector{runner: tools.Runner},
		process:    queueProcessor{engine: engine, tools: tools, bus: bus},
		upload:     NewHTTPUploader(settings),
		deliveries: make(map[string]*Delivery),
	}, nil
}

// SetMetrics attaches delivery metrics. Safe to leave unset.
func (o *Orchestrator) SetMetrics(m *metrics.DeliveryMetrics) {
	o.metrics = m
	if hu, ok := o.upload.(*HTTPUploader); ok {
		hu.SetMetrics(m)
	}
}

// Notifier receives the snapshot of a delivery that reached a terminal
// status. Implementations own their failures; the orchestrator never
// checks them.
type Notifier interface {
	DeliverySettled(ctx context.Context, d *Delivery)
}

// SetNotifier wires an optional notifier for terminal deliveries.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notify = n }

// Table exposes the loaded platform contract table.
func (o *Orchestrator) Table() *Table { return o.table }

// Get returns a snapshot of one delivery.
func (o *Orchestrator) Get(id string) (*Delivery, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.deliveries[id]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// List returns snapshots of every delivery, newest first.
func (o *Orchestrator) List() []*Delivery {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Delivery, 0, len(o.deliveries))
	for _, d := range o.deliveries {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Run executes one delivery to its terminal status. Malformed requests
// return an error; everything that goes wrong past that point is recorded
// on the delivery itself, platform by platform.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Delivery, error) {
	if len(req.Assets) == 0 {
		return nil, errors.Newf("delivery requires at least one asset").
			Component("delivery").
			Category(errors.CategoryValidation).
			Build()
	}
	specs, err := o.table.Resolve(req.Platforms)
	if err != nil {
		return nil, err
	}

	d := o.register(req, specs)
	o.logger.Info("delivery started",
		"delivery_id", d.ID,
		"assets", len(d.Assets),
		"platforms", strings.Join(d.Platforms, ","))

	o.transition(d, StatusValidating, percentValidating, "validating platform contracts")
	infos, err := o.inspectAssets(ctx, d)
	if err != nil {
		o.logger.Error("asset inspection failed", "delivery_id", d.ID, "error", err)
		o.mutate(func() {
			for _, ps := range d.PerPlatform {
				ps.fail(StatusValidating, err)
			}
		})
		return o.finalize(ctx, d), nil
	}

	needs := o.validate(d, specs, infos)

	if countPending(d, specs, needs) > 0 {
		o.transition(d, StatusProcessing, percentProcessing, "rendering platform masters")
		o.processAssets(ctx, d, specs, needs)
	}

	if countEligible(d, specs) > 0 {
		o.transition(d, StatusUploading, percentUploading, "uploading to platforms")
		o.uploadAssets(ctx, d, specs)
	}

	return o.finalize(ctx, d), nil
}

// register creates the delivery record and makes it visible to Get/List.
func (o *Orchestrator) register(req Request, specs []*PlatformSpec) *Delivery {
	d := &Delivery{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		Assets:      append([]string(nil), req.Assets...),
		Metadata:    make(map[string]string, len(req.Metadata)),
		Status:      StatusPending,
		PerPlatform: make(map[string]*PlatformState, len(specs)),
		StartedAt:   time.Now(),
	}
	for k, v := range req.Metadata {
		d.Metadata[k] = v
	}
	for _, spec := range specs {
		d.Platforms = append(d.Platforms, spec.ID)
		assets := make([]AssetDelivery, len(d.Assets))
		for i, path := range d.Assets {
			assets[i] = AssetDelivery{Path: path, UploadPath: path}
		}
		d.PerPlatform[spec.ID] = &PlatformState{
			Platform: spec.ID,
			Status:   StatusPending,
			Stage:    StatusPending,
			Assets:   assets,
		}
	}

	o.mu.Lock()
	o.deliveries[d.ID] = d
	o.mu.Unlock()
	return d
}

// inspectAssets probes and measures every asset once; the results feed all
// platform checks.
func (o *Orchestrator) inspectAssets(ctx context.Context, d *Delivery) ([]*AssetInfo, error) {
	infos := make([]*AssetInfo, len(d.Assets))
	for i, path := range d.Assets {
		info, err := o.inspect.Inspect(ctx, path)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}

// validate applies each platform contract. Platforms with unfixable
// violations fail here; for the rest it returns which asset indexes need a
// render first.
func (o *Orchestrator) validate(d *Delivery, specs []*PlatformSpec, infos []*AssetInfo) map[string][]int {
	needs := make(map[string][]int, len(specs))
	o.mutate(func() {
		for _, spec := range specs {
			ps := d.PerPlatform[spec.ID]
			ps.Stage = StatusValidating
			if problems := validatePlatform(spec, d.Metadata, infos); len(problems) > 0 {
				ps.fail(StatusValidating, problemsError(spec, problems))
				o.recordValidationFailures(spec.ID, problems)
				o.logger.Warn("platform rejected the delivery",
					"delivery_id", d.ID, "platform", spec.ID, "error", ps.Error)
				continue
			}
			for i := range infos {
				if needsProcessing(spec, infos[i]) {
					needs[spec.ID] = append(needs[spec.ID], i)
				}
			}
		}
	})
	return needs
}

// processAssets renders every (asset, platform) pair that needs it, one
// platform at a time. A failed render fails only its platform.
func (o *Orchestrator) processAssets(ctx context.Context, d *Delivery, specs []*PlatformSpec, needs map[string][]int) {
	for _, spec := range specs {
		ps := d.PerPlatform[spec.ID]
		idxs := needs[spec.ID]
		if ps.Status == StatusFailed || len(idxs) == 0 {
			continue
		}
		ext, ok := spec.RenderFormat()
		if !ok {
			o.mutate(func() {
				ps.fail(StatusProcessing, errors.Newf("no renderable format in the %s contract", spec.ID).
					Component("delivery").
					Category(errors.CategoryValidation).
					Build())
			})
			continue
		}
		o.mutate(func() { ps.Stage = StatusProcessing })

		for _, i := range idxs {
			if err := ctx.Err(); err != nil {
				o.mutate(func() { ps.fail(StatusProcessing, err) })
				break
			}
			out := o.renderPath(d.Assets[i], spec, ext)
			jobID, err := o.process.Process(ctx, d.Assets[i], out, spec, d.ProjectID)
			o.mutate(func() {
				ad := &ps.Assets[i]
				ad.JobID = jobID
				if err != nil {
					ps.fail(StatusProcessing, err)
					return
				}
				ad.UploadPath = out
				ad.Processed = true
			})
			if err != nil {
				o.logger.Warn("platform render failed",
					"delivery_id", d.ID, "platform", spec.ID, "job_id", jobID, "error", err)
				break
			}
			if o.metrics != nil {
				o.metrics.RecordRender(spec.ID)
			}
		}
	}
}

// uploadAssets sends every surviving platform its assets, batched per the
// contract's batch size with the batch uploaded in parallel.
func (o *Orchestrator) uploadAssets(ctx context.Context, d *Delivery, specs []*PlatformSpec) {
	for _, spec := range specs {
		ps := d.PerPlatform[spec.ID]
		if ps.Status == StatusFailed {
			continue
		}
		o.mutate(func() { ps.Stage = StatusUploading })

		batch := spec.BatchSize
		if batch <= 0 {
			batch = len(ps.Assets)
		}
		var uploadErr error
		for start := 0; start < len(ps.Assets) && uploadErr == nil; start += batch {
			end := min(start+batch, len(ps.Assets))
			g, gctx := errgroup.WithContext(ctx)
			for i := start; i < end; i++ {
				g.Go(func() error {
					receipt, err := o.upload.Upload(gctx, spec, ps.Assets[i].UploadPath, d.Metadata)
					if err != nil {
						return err
					}
					o.mutate(func() {
						ad := &ps.Assets[i]
						ad.UploadID = receipt.UploadID
						ad.URL = receipt.URL
						ad.StartedAt = receipt.StartedAt
						ad.CompletedAt = receipt.CompletedAt
					})
					return nil
				})
			}
			uploadErr = g.Wait()
		}

		o.mutate(func() {
			if uploadErr != nil {
				ps.fail(StatusUploading, uploadErr)
				return
			}
			ps.Status = StatusDelivered
			ps.Stage = StatusDelivered
		})
		if uploadErr != nil {
			o.logger.Warn("platform upload failed",
				"delivery_id", d.ID, "platform", spec.ID, "error", uploadErr)
		}
	}
}

// finalize rolls platform outcomes up into the delivery status and writes
// the statistics in one step.
func (o *Orchestrator) finalize(ctx context.Context, d *Delivery) *Delivery {
	o.mu.Lock()
	stats := Stats{PerPlatform: make(map[string]int, len(d.PerPlatform))}
	delivered := 0
	rejectedOnly := true
	for id, ps := range d.PerPlatform {
		uploaded := 0
		for i := range ps.Assets {
			if ps.Assets[i].UploadID != "" {
				uploaded++
			}
		}
		stats.PerPlatform[id] = uploaded
		switch ps.Status {
		case StatusDelivered:
			stats.Successful++
			delivered++
			rejectedOnly = false
		case StatusFailed:
			stats.Failed++
			if ps.Stage != StatusValidating {
				rejectedOnly = false
			}
		}
	}
	d.Stats = stats
	switch {
	case delivered > 0:
		d.Status = StatusDelivered
	case rejectedOnly:
		d.Status = StatusRejected
	default:
		d.Status = StatusFailed
	}
	d.Progress = percentDone
	d.CompletedAt = time.Now()
	elapsed := d.CompletedAt.Sub(d.StartedAt)
	ev := o.event(d, "delivery "+strings.ToLower(string(d.Status)))
	snapshot := d.clone()
	o.mu.Unlock()

	o.publish(ev)
	if o.metrics != nil {
		o.metrics.RecordDelivery(string(snapshot.Status), elapsed.Seconds())
		for id, ps := range snapshot.PerPlatform {
			o.metrics.RecordPlatformOutcome(id, string(ps.Status))
		}
	}
	o.logger.Info("delivery finished",
		"delivery_id", snapshot.ID,
		"status", snapshot.Status,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"duration_ms", elapsed.Milliseconds())
	if o.notify != nil {
		o.notify.DeliverySettled(ctx, snapshot)
	}
	return snapshot
}

// mutate serializes delivery mutations against Get/List snapshots.
func (o *Orchestrator) mutate(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

func (o *Orchestrator) transition(d *Delivery, status Status, percent int, message string) {
	o.mu.Lock()
	d.Status = status
	d.Progress = percent
	ev := o.event(d, message)
	o.mu.Unlock()
	o.publish(ev)
}

func (o *Orchestrator) event(d *Delivery, message string) events.Event {
	return events.Event{
		Type:       events.TypeDeliveryUpdate,
		DeliveryID: d.ID,
		ProjectID:  d.ProjectID,
		State:      string(d.Status),
		Progress:   d.Progress,
		Message:    message,
	}
}

func (o *Orchestrator) publish(ev events.Event) {
	o.bus.Publish(events.TopicDelivery(ev.DeliveryID), ev)
	if ev.ProjectID != "" {
		o.bus.Publish(events.TopicProject(ev.ProjectID), ev)
	}
}

func (o *Orchestrator) recordValidationFailures(platform string, problems []problem) {
	if o.metrics == nil {
		return
	}
	for _, p := range problems {
		o.metrics.RecordValidationFailure(platform, p.reason)
	}
}

// renderPath places a platform render under the temp directory. The random
// suffix keeps concurrent deliveries of the same asset apart.
func (o *Orchestrator) renderPath(assetPath string, spec *PlatformSpec, ext string) string {
	stem := strings.TrimSuffix(filepath.Base(assetPath), filepath.Ext(assetPath))
	name := fmt.Sprintf("%s_%s_%s.%s", stem, spec.ID, uuid.NewString()[:8], ext)
	return filepath.Join(o.settings.TempDir(), name)
}

// countPending counts platforms that survived validation and have at least
// one asset to render.
func countPending(d *Delivery, specs []*PlatformSpec, needs map[string][]int) int {
	n := 0
	for _, spec := range specs {
		if d.PerPlatform[spec.ID].Status != StatusFailed && len(needs[spec.ID]) > 0 {
			n++
		}
	}
	return n
}

// countEligible counts platforms still in the running.
func countEligible(d *Delivery, specs []*PlatformSpec) int {
	n := 0
	for _, spec := range specs {
		if d.PerPlatform[spec.ID].Status != StatusFailed {
			n++
		}
	}
	return n
}
