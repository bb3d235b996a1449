// Package analyzer implements the audio quality analyzer suite. Every
// analyzer measures one concern (loudness, intersample peaks, clipping,
// club system stress, gain reduction, spectral balance, channel topology,
// normalization prediction, metadata) through the shared ffmpeg runner and
// classifies the result into a status ladder with recommendations.
//
// Classification is separated from measurement: each analyzer exposes an
// exported Classify* function that is pure over already-extracted metrics,
// so pipelines and tests can drive classification without spawning tools.
package analyzer

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/observability/metrics"
)

// StatusUnknown is the neutral status reported when measurement fails.
// Neutral reports carry confidence 0 so downstream consumers aggregate
// them without treating the failure as a finding.
const StatusUnknown = "UNKNOWN"

// Analyzer is one member of the suite. Analyze runs a full measurement and
// classification pass; QuickCheck trades depth for speed and returns a
// compact summary suitable for triage listings.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, path string, opts *Options) (*Report, error)
	QuickCheck(ctx context.Context, path string) (*CompactReport, error)
}

// Options carries per-run analyzer inputs. Zero values fall back to the
// configured defaults at use site.
type Options struct {
	// Platform selects the loudness target table entry, e.g. "spotify".
	Platform string
	// ReferenceCurve selects the spectral balance reference profile.
	ReferenceCurve string
	// Granularity is the gain-reduction window in seconds (0.1, 0.4, 2, 8).
	Granularity float64
	// Codec projects intersample overshoot after lossy encoding,
	// e.g. "mp3-320". Empty skips the projection.
	Codec string
	// Metadata is the tag dictionary for the metadata checker.
	Metadata map[string]string
	// Tracks holds sibling track metadata for cross-track checks
	// such as duplicate ISRC detection.
	Tracks []map[string]string
}

// Report is the full result of one analyzer run.
type Report struct {
	// Status is the classified bucket on the analyzer's ladder.
	Status string `json:"status"`
	// Score is an optional 0-100 scalar where the analyzer defines one.
	Score *float64 `json:"score,omitempty"`
	// Measurements holds every extracted numeric metric by name.
	Measurements map[string]float64 `json:"measurements"`
	// Details holds non-numeric facets such as clipping source or
	// imbalance region.
	Details map[string]string `json:"details,omitempty"`
	// Series holds sampled time series, capped at 100 points each.
	Series map[string][]float64 `json:"series,omitempty"`
	// Description is a one-line human summary of the finding.
	Description string `json:"description"`
	// Recommendations lists concrete corrective actions, worst first.
	Recommendations []string `json:"recommendations,omitempty"`
	// Confidence is 0-1; neutral reports carry 0.
	Confidence float64 `json:"confidence"`
	// Problem marks statuses that count against overall track quality.
	Problem bool `json:"problem"`
	// AnalysisTimeMs is the wall-clock cost of the run.
	AnalysisTimeMs int64 `json:"analysisTimeMs"`
	// Err holds the measurement error for neutral reports.
	Err string `json:"error,omitempty"`
}

// CompactReport is the quick-check result.
type CompactReport struct {
	Status         string             `json:"status"`
	Ok             bool               `json:"ok"`
	Summary        string             `json:"summary"`
	KeyMetrics     map[string]float64 `json:"keyMetrics,omitempty"`
	AnalysisTimeMs int64              `json:"analysisTimeMs"`
}

// base carries the collaborators every analyzer shares.
type base struct {
	runner  *ffmpeg.Runner
	logger  *slog.Logger
	metrics *metrics.AnalyzerMetrics
}

func newBase(runner *ffmpeg.Runner) base {
	return base{
		runner: runner,
		logger: logging.ForService("analyzer"),
	}
}

// observe finalizes a report: stamps timing, records run metrics and logs
// the outcome. Call it on every exit path that produced a report.
func (b *base) observe(name string, start time.Time, r *Report) *Report {
	r.AnalysisTimeMs = time.Since(start).Milliseconds()
	if b.metrics != nil {
		b.metrics.RecordRun(name, r.Status)
		b.metrics.RecordRunDuration(name, time.Since(start).Seconds())
	}
	b.logger.Debug("analyzer run complete",
		"analyzer", name,
		"status", r.Status,
		"problem", r.Problem,
		"duration_ms", r.AnalysisTimeMs)
	return r
}

// neutral builds the report returned when measurement itself failed.
func (b *base) neutral(name string, start time.Time, err error) *Report {
	if b.metrics != nil {
		b.metrics.RecordRunError(name)
		b.metrics.RecordNeutralFallback(name)
	}
	b.logger.Warn("analyzer measurement failed, reporting neutral",
		"analyzer", name, "error", err)
	r := &Report{
		Status:       StatusUnknown,
		Measurements: map[string]float64{},
		Description:  "measurement failed, no classification possible",
		Confidence:   0,
		Err:          err.Error(),
	}
	r.AnalysisTimeMs = time.Since(start).Milliseconds()
	return r
}

// compact converts a full report into its quick-check shape, keeping only
// the named metrics.
func (r *Report) compact(keys ...string) *CompactReport {
	c := &CompactReport{
		Status:         r.Status,
		Ok:             !r.Problem && r.Status != StatusUnknown,
		Summary:        r.Description,
		AnalysisTimeMs: r.AnalysisTimeMs,
	}
	if len(keys) > 0 {
		c.KeyMetrics = make(map[string]float64, len(keys))
		for _, k := range keys {
			if v, ok := r.Measurements[k]; ok {
				c.KeyMetrics[k] = v
			}
		}
	}
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round1 rounds to one decimal place, the resolution all gain and level
// recommendations are expressed in.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func scorePtr(v float64) *float64 {
	return &v
}

// metric derefs a nullable parsed metric, reporting presence.
func metric(m map[string]*float64, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// titleCase renders a status token as a camelCase suffix, HEAVY to Heavy.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// lowerStatus renders a status token for prose, VERSE_CHORUS_VARIANCE to
// "verse chorus variance".
func lowerStatus(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", " "))
}

// sampleSeries downsamples a series to at most maxPoints, keeping order.
func sampleSeries(series []float64, maxPoints int) []float64 {
	if len(series) <= maxPoints || maxPoints <= 0 {
		return series
	}
	out := make([]float64, 0, maxPoints)
	step := float64(len(series)) / float64(maxPoints)
	for i := 0; i < maxPoints; i++ {
		out = append(out, series[int(float64(i)*step)])
	}
	return out
}
