package analyzer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Per-window compression intensity, from crest factor thresholds.
const (
	CompressionExtreme  = "EXTREME"
	CompressionHeavy    = "HEAVY"
	CompressionModerate = "MODERATE"
	CompressionLight    = "LIGHT"
	CompressionMinimal  = "MINIMAL"
	CompressionNone     = "NONE"
)

// Temporal distribution of compression across the track.
const (
	GainDistUniform      = "UNIFORM"
	GainDistEscalating   = "ESCALATING"
	GainDistDeEscalating = "DE_ESCALATING"
	GainDistVerseChorus  = "VERSE_CHORUS_VARIANCE"
	GainDistDynamic      = "DYNAMIC"
	GainDistSparse       = "SPARSE"
)

// compressionIntensities orders the per-window buckets for the
// distribution percentage roll-up.
var compressionIntensities = []string{
	CompressionExtreme, CompressionHeavy, CompressionModerate,
	CompressionLight, CompressionMinimal, CompressionNone,
}

// GainMapAnalyzer windows the asset and maps where gain reduction was
// applied, reconstructing the compression footprint from per-window crest
// factors.
type GainMapAnalyzer struct {
	base
	defaultGranularity float64
}

func NewGainMap(runner *ffmpeg.Runner, defaultGranularity float64) *GainMapAnalyzer {
	if !slices.Contains(conf.GainWindowSeconds, defaultGranularity) {
		defaultGranularity = 0.4
	}
	return &GainMapAnalyzer{base: newBase(runner), defaultGranularity: defaultGranularity}
}

func (a *GainMapAnalyzer) Name() string { return "gain_reduction" }

func (a *GainMapAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	granularity := a.defaultGranularity
	if opts != nil && slices.Contains(conf.GainWindowSeconds, opts.Granularity) {
		granularity = opts.Granularity
	}
	windows, err := a.measure(ctx, path, granularity)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}
	rep := ClassifyGainReduction(windowCrests(windows))
	rep.Measurements["granularity"] = granularity
	return a.observe(a.Name(), start, rep), nil
}

// QuickCheck maps at the coarsest granularity, trading temporal detail
// for fewer windows.
func (a *GainMapAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	windows, err := a.measure(ctx, path, 8)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.neutral(a.Name(), start, err).compact(), nil
	}
	rep := ClassifyGainReduction(windowCrests(windows))
	rep.AnalysisTimeMs = time.Since(start).Milliseconds()
	return rep.compact("meanScore", "meanCrestDb", "windowCount"), nil
}

func (a *GainMapAnalyzer) measure(ctx context.Context, path string, granularity float64) ([]ffmpeg.WindowStats, error) {
	frames := int(granularity * conf.CanonicalSampleRate)
	res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.WindowedAstatsFilter(frames))...)
	if err != nil {
		return nil, err
	}
	windows := a.runner.ParseWindows(string(res.Stderr))
	if len(windows) == 0 {
		return nil, errors.Newf("no analysis windows extracted from %s", path).
			Component("analyzer").
			Category(errors.CategoryMeasurement).
			Build()
	}
	return windows, nil
}

func windowCrests(windows []ffmpeg.WindowStats) []float64 {
	crests := make([]float64, len(windows))
	for i := range windows {
		crests[i] = windows[i].CrestDb
	}
	return crests
}

// CompressionIntensity buckets one window's crest factor.
func CompressionIntensity(crestDb float64) string {
	switch {
	case crestDb < 4:
		return CompressionExtreme
	case crestDb < 6:
		return CompressionHeavy
	case crestDb < 10:
		return CompressionModerate
	case crestDb < 14:
		return CompressionLight
	case crestDb < 18:
		return CompressionMinimal
	default:
		return CompressionNone
	}
}

// compressionScore maps a crest factor onto 0-100, where 100 means the
// window is fully crushed.
func compressionScore(crestDb float64) float64 {
	return clamp((18-crestDb)/18, 0, 1) * 100
}

// ClassifyGainReduction aggregates per-window crest factors into a
// compression footprint. Pure over the measured window crests.
func ClassifyGainReduction(crests []float64) *Report {
	if len(crests) == 0 {
		return &Report{
			Status:       StatusUnknown,
			Measurements: map[string]float64{},
			Description:  "no analysis windows available",
			Confidence:   0,
		}
	}

	scores := make([]float64, len(crests))
	counts := map[string]int{}
	for i, crest := range crests {
		scores[i] = compressionScore(crest)
		counts[CompressionIntensity(crest)]++
	}

	mean := stat.Mean(scores, nil)
	sigma := stat.StdDev(scores, nil)
	if len(scores) < 2 {
		sigma = 0
	}
	third := len(scores) / 3
	var firstThird, lastThird float64
	if third > 0 {
		firstThird = stat.Mean(scores[:third], nil)
		lastThird = stat.Mean(scores[len(scores)-third:], nil)
	} else {
		firstThird = mean
		lastThird = mean
	}

	distribution := classifyGainDistribution(mean, sigma, firstThird, lastThird)
	status := gainReductionStatus(mean)

	rep := &Report{
		Status: status,
		Score:  scorePtr(round1(mean)),
		Measurements: map[string]float64{
			"meanScore":      round1(mean),
			"stdDev":         round1(sigma),
			"firstThird":     round1(firstThird),
			"lastThird":      round1(lastThird),
			"windowCount":    float64(len(crests)),
			"meanCrestDb":    round1(stat.Mean(crests, nil)),
		},
		Details: map[string]string{"distribution": distribution},
		Series: map[string][]float64{
			"compressionScore": sampleSeries(scores, 100),
		},
		Confidence: 0.85,
		Problem:    status == CompressionHeavy || status == CompressionExtreme,
	}
	for _, intensity := range compressionIntensities {
		pct := float64(counts[intensity]) / float64(len(crests)) * 100
		rep.Measurements["pct"+titleCase(intensity)] = round1(pct)
	}

	rep.Description = fmt.Sprintf("%s compression overall (mean score %.0f), %s across the track",
		lowerStatus(status), mean, lowerStatus(distribution))
	switch distribution {
	case GainDistEscalating:
		rep.Recommendations = append(rep.Recommendations,
			"compression escalates toward the end; check limiter automation or cumulative bus drive")
	case GainDistVerseChorus:
		rep.Recommendations = append(rep.Recommendations,
			"compression varies strongly between sections; a section-aware limiter setting would even it out")
	}
	if status == CompressionHeavy || status == CompressionExtreme {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("mean crest factor %.1f dB indicates over-compression; back off master bus gain reduction",
				stat.Mean(crests, nil)))
	}
	return rep
}

func classifyGainDistribution(mean, sigma, firstThird, lastThird float64) string {
	switch {
	case mean < 10:
		return GainDistSparse
	case lastThird-firstThird > 15:
		return GainDistEscalating
	case firstThird-lastThird > 15:
		return GainDistDeEscalating
	case sigma > 25:
		return GainDistVerseChorus
	case sigma < 10:
		return GainDistUniform
	default:
		return GainDistDynamic
	}
}

func gainReductionStatus(meanScore float64) string {
	switch {
	case meanScore < 10:
		return CompressionNone
	case meanScore < 30:
		return CompressionLight
	case meanScore < 55:
		return CompressionModerate
	case meanScore < 75:
		return CompressionHeavy
	default:
		return CompressionExtreme
	}
}
