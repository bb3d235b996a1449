package jobqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/audiolens/masterqc/internal/analyzer"
	"github.com/audiolens/masterqc/internal/conflict"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/events"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Overall progress percentages per phase. Workers report overall percent,
// not phase-local percent.
const (
	percentAnalyzeStart  = 15
	percentAnalyzeDone   = 30
	percentTransformLow  = 40
	percentTransformMid  = 60
	percentTransformHigh = 80
	percentFinalizing    = 85
)

// defaultLRA is the loudness-range target handed to loudnorm when the
// caller has no opinion. 11 LU is the filter's own default.
const defaultLRA = 11.0

// Tools bundles the shared dependencies every pipeline needs.
type Tools struct {
	Suite  *analyzer.Suite
	Runner *ffmpeg.Runner
}

func (t *Tools) validate() error {
	if t == nil || t.Suite == nil || t.Runner == nil {
		return errors.Newf("job tools incomplete: suite and runner are required").
			Component("jobqueue").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func newJob(jt JobType, priority Priority, projectID, preset string, p Pipeline) *Job {
	return &Job{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Type:      jt,
		Priority:  priority,
		Preset:    preset,
		pipeline:  p,
	}
}

func validationErr(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("jobqueue").
		Category(errors.CategoryValidation).
		Build()
}

// ---- ANALYZE ----

// AnalyzeRequest asks for an analyzer-suite pass over one file.
type AnalyzeRequest struct {
	Path      string
	Level     string // basic or full; empty means full
	ProjectID string
	Priority  Priority
	Preset    string
	Options   *analyzer.Options
}

// AnalyzeResult is the suite result unchanged.
type AnalyzeResult = analyzer.SuiteResult

// NewAnalyzeJob builds an ANALYZE job.
func NewAnalyzeJob(tools *Tools, req AnalyzeRequest) (*Job, error) {
	if err := tools.validate(); err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, validationErr("analyze job requires a path")
	}
	if req.Level == "" {
		req.Level = analyzer.LevelFull
	}
	if req.Level != analyzer.LevelBasic && req.Level != analyzer.LevelFull {
		return nil, validationErr("unknown analysis level %q", req.Level)
	}
	return newJob(TypeAnalyze, req.Priority, req.ProjectID, req.Preset, &analyzePipeline{
		tools: tools,
		req:   req,
	}), nil
}

type analyzePipeline struct {
	tools *Tools
	req   AnalyzeRequest
}

func (p *analyzePipeline) Type() JobType { return TypeAnalyze }

func (p *analyzePipeline) Run(ctx context.Context, rep *Reporter) (any, error) {
	if !rep.Checkpoint(events.PhaseAnalyzing, percentAnalyzeStart, "running analyzer suite") {
		return nil, ErrCancelled
	}
	result, err := p.tools.Suite.Run(ctx, p.req.Path, p.req.Level, p.req.Options)
	if err != nil {
		return nil, err
	}
	if !rep.Checkpoint(events.PhaseAnalyzing, percentAnalyzeDone,
		fmt.Sprintf("%d analyzers complete", len(result.Reports))) {
		return nil, ErrCancelled
	}
	if !rep.Checkpoint(events.PhaseFinalizing, percentFinalizing, "compiling report") {
		return nil, ErrCancelled
	}
	return result, nil
}

// ---- PROCESS ----

// ProcessRequest asks for a loudness-normalized, peak-limited render of one
// file toward a platform target.
type ProcessRequest struct {
	Path       string
	OutputPath string
	Platform   string // platform target table key; empty means the default
	ProjectID  string
	Priority   Priority
	Preset     string

	// Target overrides the platform table lookup when set. Delivery
	// contracts carry their own loudness targets and pass them here.
	Target *analyzer.PlatformTarget

	// Parameter maps merged and checked for conflicts before the job is
	// accepted. Analysis carries measured values, Intent the preset's
	// declared intent, Params the explicit overrides. Later maps win.
	Analysis map[string]any
	Intent   map[string]any
	Params   map[string]any
}

// ProcessResult reports what the render did and how the output verified.
type ProcessResult struct {
	OutputPath   string                     `json:"outputPath"`
	Platform     string                     `json:"platform"`
	TargetLUFS   float64                    `json:"targetLufs"`
	MeasuredLUFS float64                    `json:"measuredLufs"`
	GainDb       float64                    `json:"gainDb"`
	Measured     *ffmpeg.LoudnormMeasurement `json:"measured"`
	Verification *analyzer.SuiteResult      `json:"verification"`
}

// NewProcessJob builds a PROCESS job. The merged parameter set is validated
// against the conflict catalog first; a BLOCKING conflict refuses the job.
func NewProcessJob(tools *Tools, req ProcessRequest) (*Job, error) {
	if err := tools.validate(); err != nil {
		return nil, err
	}
	if req.Path == "" || req.OutputPath == "" {
		return nil, validationErr("process job requires a path and an output path")
	}
	target := analyzer.DefaultPlatform()
	switch {
	case req.Target != nil:
		target = *req.Target
	case req.Platform != "":
		t, ok := analyzer.LookupPlatform(req.Platform)
		if !ok {
			return nil, validationErr("unknown platform target %q", req.Platform)
		}
		target = t
	}
	v := conflict.ValidateParameters(conflict.Merge(req.Analysis, req.Intent, req.Params))
	if err := conflict.BlockingError(v.Conflicts); err != nil {
		return nil, err
	}
	return newJob(TypeProcess, req.Priority, req.ProjectID, req.Preset, &processPipeline{
		tools:  tools,
		req:    req,
		target: target,
	}), nil
}

type processPipeline struct {
	tools  *Tools
	req    ProcessRequest
	target analyzer.PlatformTarget
}

func (p *processPipeline) Type() JobType { return TypeProcess }

func (p *processPipeline) Run(ctx context.Context, rep *Reporter) (any, error) {
	if !rep.Checkpoint(events.PhaseAnalyzing, percentAnalyzeStart, "probing source") {
		return nil, ErrCancelled
	}
	probe, err := p.tools.Runner.Probe(ctx, p.req.Path)
	if err != nil {
		return nil, err
	}
	if _, err := probe.Asset(p.req.Path); err != nil {
		return nil, err
	}

	if !rep.Checkpoint(events.PhaseAnalyzing, percentAnalyzeDone, "measuring loudness") {
		return nil, ErrCancelled
	}
	measured, err := p.tools.Runner.MeasureLoudnorm(ctx, p.req.Path,
		p.target.LUFS, p.target.TruePeakMax, defaultLRA)
	if err != nil {
		return nil, err
	}

	if !rep.Checkpoint(events.PhaseTransforming, percentTransformLow, "building filter graph") {
		return nil, ErrCancelled
	}
	filter := ffmpeg.ChainFilters(
		ffmpeg.LoudnormRenderFilter(p.target.LUFS, p.target.TruePeakMax, defaultLRA, measured),
		ffmpeg.LimiterFilter(p.target.TruePeakMax),
	)
	codec, err := codecArgsForExt(filepath.Ext(p.req.OutputPath))
	if err != nil {
		return nil, err
	}

	if !rep.Checkpoint(events.PhaseTransforming, percentTransformMid, "rendering") {
		return nil, ErrCancelled
	}
	args := ffmpeg.RenderArgs(p.req.Path, p.req.OutputPath, filter, codec...)
	if _, err := p.tools.Runner.FFmpeg(ctx, args...); err != nil {
		return nil, err
	}
	if !rep.Checkpoint(events.PhaseTransforming, percentTransformHigh, "render complete") {
		return nil, ErrCancelled
	}

	if !rep.Checkpoint(events.PhaseFinalizing, percentFinalizing, "verifying output") {
		return nil, ErrCancelled
	}
	verification, err := p.tools.Suite.Run(ctx, p.req.OutputPath, analyzer.LevelBasic, &analyzer.Options{
		Platform: p.target.Name,
	})
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		OutputPath:   p.req.OutputPath,
		Platform:     p.target.Name,
		TargetLUFS:   p.target.LUFS,
		MeasuredLUFS: measured.InputI,
		GainDb:       p.target.LUFS - measured.InputI,
		Measured:     measured,
		Verification: verification,
	}, nil
}

// codecArgsForExt picks render codec arguments from the output extension.
// Unknown extensions are refused rather than silently re-encoded.
func codecArgsForExt(ext string) ([]string, error) {
	switch strings.ToLower(ext) {
	case ".wav":
		return []string{"-c:a", "pcm_s24le"}, nil
	case ".flac":
		return []string{"-c:a", "flac"}, nil
	case ".aiff", ".aif":
		return []string{"-c:a", "pcm_s24be"}, nil
	default:
		return nil, validationErr("unsupported render output extension %q", ext)
	}
}

// ---- EXPORT ----

// exportFormats maps the format names callers may request to the encoder
// arguments and file extension each produces.
var exportFormats = map[string]struct {
	ext  string
	args []string
}{
	"wav-16":  {ext: ".wav", args: []string{"-c:a", "pcm_s16le"}},
	"wav-24":  {ext: ".wav", args: []string{"-c:a", "pcm_s24le"}},
	"flac":    {ext: ".flac", args: []string{"-c:a", "flac"}},
	"mp3-320": {ext: ".mp3", args: []string{"-c:a", "libmp3lame", "-b:a", "320k"}},
	"aac-256": {ext: ".m4a", args: []string{"-c:a", "aac", "-b:a", "256k"}},
	"ogg":     {ext: ".ogg", args: []string{"-c:a", "libvorbis", "-q:a", "6"}},
}

// ExportFormats lists the accepted format names sorted.
func ExportFormats() []string {
	names := make([]string, 0, len(exportFormats))
	for name := range exportFormats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExportRequest asks for one artifact per requested format.
type ExportRequest struct {
	Path      string
	OutputDir string
	Formats   []string
	ProjectID string
	Priority  Priority
	Preset    string
}

// ExportArtifact is one produced file.
type ExportArtifact struct {
	Format    string `json:"format"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ExportResult lists the artifacts in request order.
type ExportResult struct {
	Artifacts []ExportArtifact `json:"artifacts"`
}

// NewExportJob builds an EXPORT job. Formats are checked up front so a bad
// name fails at submission, not mid-run.
func NewExportJob(tools *Tools, req ExportRequest) (*Job, error) {
	if err := tools.validate(); err != nil {
		return nil, err
	}
	if req.Path == "" || req.OutputDir == "" {
		return nil, validationErr("export job requires a path and an output directory")
	}
	if len(req.Formats) == 0 {
		return nil, validationErr("export job requires at least one format")
	}
	for _, f := range req.Formats {
		if _, ok := exportFormats[f]; !ok {
			return nil, validationErr("unknown export format %q (supported: %s)",
				f, strings.Join(ExportFormats(), ", "))
		}
	}
	return newJob(TypeExport, req.Priority, req.ProjectID, req.Preset, &exportPipeline{
		tools: tools,
		req:   req,
	}), nil
}

type exportPipeline struct {
	tools *Tools
	req   ExportRequest
}

func (p *exportPipeline) Type() JobType { return TypeExport }

func (p *exportPipeline) Run(ctx context.Context, rep *Reporter) (any, error) {
	if !rep.Checkpoint(events.PhaseAnalyzing, percentAnalyzeStart, "probing source") {
		return nil, ErrCancelled
	}
	if _, err := p.tools.Runner.Probe(ctx, p.req.Path); err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(p.req.Path), filepath.Ext(p.req.Path))
	span := percentTransformHigh - percentTransformLow
	artifacts := make([]ExportArtifact, 0, len(p.req.Formats))
	for i, format := range p.req.Formats {
		percent := percentTransformLow + i*span/len(p.req.Formats)
		if !rep.Checkpoint(events.PhaseTransforming, percent, "encoding "+format) {
			return nil, ErrCancelled
		}
		spec := exportFormats[format]
		outPath := filepath.Join(p.req.OutputDir, fmt.Sprintf("%s_%s%s", stem, format, spec.ext))
		args := ffmpeg.RenderArgs(p.req.Path, outPath, "", spec.args...)
		if _, err := p.tools.Runner.FFmpeg(ctx, args...); err != nil {
			return nil, err
		}
		size := int64(0)
		if fi, err := os.Stat(outPath); err == nil {
			size = fi.Size()
		}
		artifacts = append(artifacts, ExportArtifact{Format: format, Path: outPath, SizeBytes: size})
	}

	if !rep.Checkpoint(events.PhaseFinalizing, percentFinalizing,
		fmt.Sprintf("%d artifacts complete", len(artifacts))) {
		return nil, ErrCancelled
	}
	return &ExportResult{Artifacts: artifacts}, nil
}

// ---- VALIDATE ----

// Broadcast standards checked by name; platform names from the target table
// are accepted too, with a 1 LU tolerance.
const (
	StandardEBUR128 = "ebu-r128"
	StandardATSCA85 = "atsc-a85"
)

// ValidateRequest asks for conformance reports against named standards.
type ValidateRequest struct {
	Path      string
	Standards []string
	ProjectID string
	Priority  Priority
	Preset    string
}

// StandardReport is the conformance verdict for one standard.
type StandardReport struct {
	Standard     string  `json:"standard"`
	TargetLUFS   float64 `json:"targetLufs"`
	MeasuredLUFS float64 `json:"measuredLufs"`
	OffsetLU     float64 `json:"offsetLu"`
	Tolerance    float64 `json:"tolerance"`
	TruePeakDb   float64 `json:"truePeakDb"`
	TruePeakMax  float64 `json:"truePeakMax"`
	Compliant    bool    `json:"compliant"`
}

// ValidateResult aggregates per-standard reports. Compliant is the AND over
// all requested standards.
type ValidateResult struct {
	Reports   []StandardReport `json:"reports"`
	Compliant bool             `json:"compliant"`
}

type standardTarget struct {
	lufs      float64
	tolerance float64
	tpMax     float64
}

func lookupStandard(name string) (standardTarget, bool) {
	switch name {
	case StandardEBUR128:
		return standardTarget{lufs: -23, tolerance: 0.5, tpMax: -1}, true
	case StandardATSCA85:
		return standardTarget{lufs: -24, tolerance: 2, tpMax: -2}, true
	}
	if t, ok := analyzer.LookupPlatform(name); ok {
		return standardTarget{lufs: t.LUFS, tolerance: 1, tpMax: t.TruePeakMax}, true
	}
	return standardTarget{}, false
}

// NewValidateJob builds a VALIDATE job.
func NewValidateJob(tools *Tools, req ValidateRequest) (*Job, error) {
	if err := tools.validate(); err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, validationErr("validate job requires a path")
	}
	if len(req.Standards) == 0 {
		return nil, validationErr("validate job requires at least one standard")
	}
	for _, s := range req.Standards {
		if _, ok := lookupStandard(s); !ok {
			return nil, validationErr("unknown standard %q", s)
		}
	}
	return newJob(TypeValidate, req.Priority, req.ProjectID, req.Preset, &validatePipeline{
		tools: tools,
		req:   req,
	}), nil
}

type validatePipeline struct {
	tools *Tools
	req   ValidateRequest
}

func (p *validatePipeline) Type() JobType { return TypeValidate }

func (p *validatePipeline) Run(ctx context.Context, rep *Reporter) (any, error) {
	if !rep.Checkpoint(events.PhaseAnalyzing, percentAnalyzeStart, "measuring loudness") {
		return nil, ErrCancelled
	}
	// Measured values are target-independent; one pass serves every
	// requested standard.
	measured, err := p.tools.Runner.MeasureLoudnorm(ctx, p.req.Path, -23, -1, defaultLRA)
	if err != nil {
		return nil, err
	}
	if !rep.Checkpoint(events.PhaseAnalyzing, percentAnalyzeDone, "comparing against standards") {
		return nil, ErrCancelled
	}

	result := &ValidateResult{Compliant: true}
	for _, name := range p.req.Standards {
		target, _ := lookupStandard(name)
		offset := target.lufs - measured.InputI
		compliant := offset >= -target.tolerance && offset <= target.tolerance &&
			measured.InputTP <= target.tpMax
		result.Reports = append(result.Reports, StandardReport{
			Standard:     name,
			TargetLUFS:   target.lufs,
			MeasuredLUFS: measured.InputI,
			OffsetLU:     offset,
			Tolerance:    target.tolerance,
			TruePeakDb:   measured.InputTP,
			TruePeakMax:  target.tpMax,
			Compliant:    compliant,
		})
		if !compliant {
			result.Compliant = false
		}
	}

	if !rep.Checkpoint(events.PhaseFinalizing, percentFinalizing,
		fmt.Sprintf("%d standards checked", len(result.Reports))) {
		return nil, ErrCancelled
	}
	return result, nil
}

// ---- METADATA ----

// Metadata operations.
const (
	MetadataExtract  = "extract"
	MetadataUpdate   = "update"
	MetadataValidate = "validate"
)

// MetadataRequest selects one metadata operation. Extract reads tags from
// the file; update rewrites them into OutputPath without re-encoding;
// validate checks a release-level record plus optional per-track records.
type MetadataRequest struct {
	Path       string
	Op         string
	Tags       map[string]string
	Tracks     []map[string]string
	OutputPath string
	ProjectID  string
	Priority   Priority
	Preset     string
}

// MetadataResult carries whichever fields the operation produced.
type MetadataResult struct {
	Op         string                   `json:"op"`
	Tags       map[string]string        `json:"tags,omitempty"`
	OutputPath string                   `json:"outputPath,omitempty"`
	Report     *analyzer.Report         `json:"report,omitempty"`
	Issues     []analyzer.MetadataIssue `json:"issues,omitempty"`
}

// NewMetadataJob builds a METADATA job.
func NewMetadataJob(tools *Tools, req MetadataRequest) (*Job, error) {
	if err := tools.validate(); err != nil {
		return nil, err
	}
	switch req.Op {
	case MetadataExtract:
		if req.Path == "" {
			return nil, validationErr("metadata extract requires a path")
		}
	case MetadataUpdate:
		if req.Path == "" || req.OutputPath == "" {
			return nil, validationErr("metadata update requires a path and an output path")
		}
		if len(req.Tags) == 0 {
			return nil, validationErr("metadata update requires at least one tag")
		}
	case MetadataValidate:
		if len(req.Tags) == 0 {
			return nil, validationErr("metadata validate requires a tag record")
		}
	default:
		return nil, validationErr("unknown metadata operation %q", req.Op)
	}
	return newJob(TypeMetadata, req.Priority, req.ProjectID, req.Preset, &metadataPipeline{
		tools: tools,
		req:   req,
	}), nil
}

type metadataPipeline struct {
	tools *Tools
	req   MetadataRequest
}

func (p *metadataPipeline) Type() JobType { return TypeMetadata }

func (p *metadataPipeline) Run(ctx context.Context, rep *Reporter) (any, error) {
	if !rep.Checkpoint(events.PhaseAnalyzing, percentAnalyzeStart, "metadata "+p.req.Op) {
		return nil, ErrCancelled
	}
	var (
		result *MetadataResult
		err    error
	)
	switch p.req.Op {
	case MetadataExtract:
		result, err = p.extract(ctx)
	case MetadataUpdate:
		if !rep.Checkpoint(events.PhaseTransforming, percentTransformLow, "rewriting tags") {
			return nil, ErrCancelled
		}
		result, err = p.update(ctx)
	case MetadataValidate:
		result, err = p.validateTags()
	}
	if err != nil {
		return nil, err
	}
	if !rep.Checkpoint(events.PhaseFinalizing, percentFinalizing, "metadata "+p.req.Op+" complete") {
		return nil, ErrCancelled
	}
	return result, nil
}

// extract merges stream-level tags under container-level tags, keys
// lowercased. Container tags win on collision.
func (p *metadataPipeline) extract(ctx context.Context) (*MetadataResult, error) {
	probe, err := p.tools.Runner.Probe(ctx, p.req.Path)
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string)
	if s := probe.FirstAudioStream(); s != nil {
		for k, v := range s.Tags {
			tags[strings.ToLower(k)] = v
		}
	}
	for k, v := range probe.Format.Tags {
		tags[strings.ToLower(k)] = v
	}
	return &MetadataResult{Op: MetadataExtract, Tags: tags}, nil
}

// update copies every stream untouched and rewrites container tags.
func (p *metadataPipeline) update(ctx context.Context) (*MetadataResult, error) {
	args := []string{"-hide_banner", "-nostats", "-y", "-i", p.req.Path, "-map", "0", "-codec", "copy"}
	keys := make([]string, 0, len(p.req.Tags))
	for k := range p.req.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-metadata", k+"="+p.req.Tags[k])
	}
	args = append(args, p.req.OutputPath)
	if _, err := p.tools.Runner.FFmpeg(ctx, args...); err != nil {
		return nil, err
	}
	return &MetadataResult{Op: MetadataUpdate, OutputPath: p.req.OutputPath, Tags: p.req.Tags}, nil
}

func (p *metadataPipeline) validateTags() (*MetadataResult, error) {
	report, issues := analyzer.ValidateMetadata(p.req.Tags, p.req.Tracks)
	return &MetadataResult{Op: MetadataValidate, Report: report, Issues: issues}, nil
}
