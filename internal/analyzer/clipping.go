package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Clipping source attribution.
const (
	ClipSourceNone         = "NONE"
	ClipSourceSoftClip     = "SOFT_CLIP"
	ClipSourceUpstream     = "UPSTREAM"
	ClipSourceDownstream   = "DOWNSTREAM"
	ClipSourceMixed        = "MIXED"
	ClipSourceUndetermined = "UNDETERMINED"
)

// Temporal distribution of clipping events across track thirds.
const (
	ClipDistConsistent = "CONSISTENT"
	ClipDistLate       = "LATE"
	ClipDistEarly      = "EARLY"
	ClipDistScattered  = "SCATTERED"
	ClipDistUnknown    = "UNKNOWN"
)

// Clipping severity ladder, bucketed by clip density.
const (
	ClipSeverityNone     = "NONE"
	ClipSeverityMinimal  = "MINIMAL"
	ClipSeverityMild     = "MILD"
	ClipSeverityModerate = "MODERATE"
	ClipSeveritySevere   = "SEVERE"
	ClipSeverityExtreme  = "EXTREME"
)

// clipWindowSeconds is the timeline resolution used for temporal
// attribution. Attribution cares about track thirds, so it stays fixed
// rather than following the gain-map granularity option.
const clipWindowSeconds = 0.4

// clipWindowPeakDb marks a timeline window as clipped when its peak
// reaches this close to full scale.
const clipWindowPeakDb = -0.1

// ClippingAnalyzer detects clipped material, attributes it to a pipeline
// stage by its temporal distribution and grades severity by clip density.
type ClippingAnalyzer struct {
	base
}

func NewClipping(runner *ffmpeg.Runner) *ClippingAnalyzer {
	return &ClippingAnalyzer{base: newBase(runner)}
}

func (a *ClippingAnalyzer) Name() string { return "clipping" }

// ClippingMetrics are the extracted values ClassifyClipping operates on.
type ClippingMetrics struct {
	PeakDb         float64
	FlatFactor     float64
	ClipDensityPct float64
	// ChannelPeaks holds per-channel peak levels in file order.
	ChannelPeaks []float64
	// Thirds counts clipped timeline windows per track third. A zero
	// total means no timeline was available.
	Thirds [3]int
}

func (a *ClippingAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	m, err := a.measureSummary(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}

	// The windowed timeline is only needed to attribute hard clipping.
	if m.PeakDb >= clipWindowPeakDb || m.FlatFactor >= 0.2 {
		frames := int(clipWindowSeconds * conf.CanonicalSampleRate)
		res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.WindowedAstatsFilter(frames))...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			a.logger.Warn("clipping timeline measurement failed, attribution degraded",
				"path", path, "error", err)
		} else {
			m.Thirds = clipThirds(a.runner.ParseWindows(string(res.Stderr)))
		}
	}
	return a.observe(a.Name(), start, ClassifyClipping(*m)), nil
}

// QuickCheck classifies from the summary statistics alone; hard clipping
// is reported without source attribution.
func (a *ClippingAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	m, err := a.measureSummary(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.neutral(a.Name(), start, err).compact(), nil
	}
	rep := ClassifyClipping(*m)
	rep.AnalysisTimeMs = time.Since(start).Milliseconds()
	return rep.compact("peakDb", "flatFactor", "clipDensityPct"), nil
}

func (a *ClippingAnalyzer) measureSummary(ctx context.Context, path string) (*ClippingMetrics, error) {
	res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.AstatsFilter())...)
	if err != nil {
		return nil, err
	}
	stderr := string(res.Stderr)
	astats := a.runner.ParseMetrics(stderr, ffmpeg.AstatsSchema())

	peakDb, okPeak := metric(astats, "peakDb")
	flat, okFlat := metric(astats, "flatFactor")
	if !okPeak || !okFlat {
		return nil, errors.Newf("peak/flat statistics missing for %s", path).
			Component("analyzer").
			Category(errors.CategoryMeasurement).
			Build()
	}

	m := &ClippingMetrics{PeakDb: peakDb, FlatFactor: flat}
	if peakCount, ok := metric(astats, "peakCount"); ok {
		if samples, ok := metric(astats, "sampleCount"); ok && samples > 0 {
			m.ClipDensityPct = peakCount / samples * 100
		}
	}
	// Per-channel peaks: the overall block repeats the worst channel, so
	// drop the final overall match.
	peaks := ffmpeg.ParseMetricSeries(stderr, "peakDb", ffmpeg.AstatsSchema())
	if len(peaks) > 1 {
		m.ChannelPeaks = peaks[:len(peaks)-1]
	}
	return m, nil
}

// clipThirds buckets clipped windows into track thirds.
func clipThirds(windows []ffmpeg.WindowStats) [3]int {
	var thirds [3]int
	if len(windows) == 0 {
		return thirds
	}
	for i := range windows {
		if windows[i].PeakDb < clipWindowPeakDb {
			continue
		}
		third := i * 3 / len(windows)
		if third > 2 {
			third = 2
		}
		thirds[third]++
	}
	return thirds
}

// ClassifyClipping attributes clipping to a pipeline stage and grades its
// severity. Pure over already-measured values.
func ClassifyClipping(m ClippingMetrics) *Report {
	source, distribution := clipSource(m)
	severity := clipSeverity(m.ClipDensityPct)
	if source == ClipSourceNone {
		severity = ClipSeverityNone
	} else if severity == ClipSeverityNone {
		// Flat-factor evidence without countable clipped samples.
		severity = ClipSeverityMinimal
	}

	rep := &Report{
		Status: severity,
		Measurements: map[string]float64{
			"peakDb":         m.PeakDb,
			"flatFactor":     m.FlatFactor,
			"clipDensityPct": m.ClipDensityPct,
		},
		Details: map[string]string{
			"source":       source,
			"distribution": distribution,
		},
		Confidence: 0.85,
		Problem: severity == ClipSeverityModerate ||
			severity == ClipSeveritySevere ||
			severity == ClipSeverityExtreme,
	}
	for i, peak := range m.ChannelPeaks {
		rep.Measurements[fmt.Sprintf("channelPeakDb%d", i)] = peak
	}

	switch source {
	case ClipSourceNone:
		rep.Description = fmt.Sprintf("no clipping: peak %.1f dBFS with flat factor %.3f", m.PeakDb, m.FlatFactor)
	case ClipSourceSoftClip:
		rep.Description = fmt.Sprintf("soft clipping or saturation: flat factor %.3f without ceiling pegging", m.FlatFactor)
		rep.Recommendations = append(rep.Recommendations,
			"inspect saturation and clipper stages for over-driven settings")
	case ClipSourceUpstream:
		rep.Description = fmt.Sprintf("hard clipping spread evenly across the track (%.3f%% of samples); introduced before mastering", m.ClipDensityPct)
		rep.Recommendations = append(rep.Recommendations,
			"request a non-clipped mix revision; mastering cannot repair upstream clipping")
	case ClipSourceDownstream:
		rep.Description = fmt.Sprintf("hard clipping concentrated late in the track (%.3f%% of samples); consistent with output-stage limiting", m.ClipDensityPct)
		rep.Recommendations = append(rep.Recommendations,
			"lower the output limiter drive or ceiling in the final stage")
	case ClipSourceMixed:
		rep.Description = fmt.Sprintf("hard clipping scattered across the track (%.3f%% of samples); multiple stages implicated", m.ClipDensityPct)
		rep.Recommendations = append(rep.Recommendations,
			"bypass processing stages one at a time to isolate the clipping source")
	case ClipSourceUndetermined:
		rep.Description = fmt.Sprintf("hard clipping present (%.3f%% of samples) but its origin could not be attributed", m.ClipDensityPct)
		rep.Recommendations = append(rep.Recommendations,
			"re-run with a timeline measurement or inspect the first section manually")
	}
	return rep
}

func clipSource(m ClippingMetrics) (source, distribution string) {
	hard := m.PeakDb >= clipWindowPeakDb || m.FlatFactor >= 0.2
	if !hard {
		if m.FlatFactor >= 0.01 {
			return ClipSourceSoftClip, ClipDistUnknown
		}
		return ClipSourceNone, ClipDistUnknown
	}

	total := m.Thirds[0] + m.Thirds[1] + m.Thirds[2]
	if total == 0 {
		return ClipSourceUndetermined, ClipDistUnknown
	}
	minT, maxT := m.Thirds[0], m.Thirds[0]
	for _, c := range m.Thirds[1:] {
		if c < minT {
			minT = c
		}
		if c > maxT {
			maxT = c
		}
	}
	evenness := float64(minT) / float64(maxT)
	switch {
	case evenness > 0.7:
		return ClipSourceUpstream, ClipDistConsistent
	case float64(m.Thirds[2])/float64(total) > 0.6:
		return ClipSourceDownstream, ClipDistLate
	case float64(m.Thirds[0])/float64(total) > 0.6:
		return ClipSourceUndetermined, ClipDistEarly
	default:
		return ClipSourceMixed, ClipDistScattered
	}
}

func clipSeverity(densityPct float64) string {
	switch {
	case densityPct <= 0:
		return ClipSeverityNone
	case densityPct < 0.001:
		return ClipSeverityMinimal
	case densityPct < 0.01:
		return ClipSeverityMild
	case densityPct < 0.1:
		return ClipSeverityModerate
	case densityPct < 1:
		return ClipSeveritySevere
	default:
		return ClipSeverityExtreme
	}
}
