package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Normalization fit ladder, bucketed by the mean playback adjustment the
// platform set will apply.
const (
	NormalizationOptimal    = "OPTIMAL"
	NormalizationGood       = "GOOD"
	NormalizationAcceptable = "ACCEPTABLE"
	NormalizationPoor       = "POOR"
	NormalizationCritical   = "CRITICAL"
)

// replayGainReferenceLUFS is the ReplayGain 2.0 reference level.
const replayGainReferenceLUFS = -18

// soundCheckReferenceLUFS anchors Apple's 1000-unit Sound Check scale.
const soundCheckReferenceLUFS = -16

// Sweet spot search grid.
const (
	sweetSpotMin  = -20.0
	sweetSpotMax  = -6.0
	sweetSpotStep = 0.5
)

// ReplayGainAnalyzer predicts how playback normalization will treat the
// asset: ReplayGain and Sound Check metadata values, per-platform
// effective playback loudness and the loudness sweet spot across the
// platform table.
type ReplayGainAnalyzer struct {
	base
}

func NewReplayGain(runner *ffmpeg.Runner) *ReplayGainAnalyzer {
	return &ReplayGainAnalyzer{base: newBase(runner)}
}

func (a *ReplayGainAnalyzer) Name() string { return "normalization" }

func (a *ReplayGainAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	integrated, samplePeak, err := a.measure(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}
	return a.observe(a.Name(), start, PredictNormalization(integrated, samplePeak, PlatformTargets())), nil
}

func (a *ReplayGainAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	rep, err := a.Analyze(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return rep.compact("replayGain", "soundCheck", "sweetSpot"), nil
}

func (a *ReplayGainAnalyzer) measure(ctx context.Context, path string) (integrated, samplePeak float64, err error) {
	filter := ffmpeg.ChainFilters(ffmpeg.AstatsFilter(), ffmpeg.EBUR128Filter())
	res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, filter)...)
	if err != nil {
		return 0, 0, err
	}
	stderr := string(res.Stderr)
	ebur := a.runner.ParseMetrics(stderr, ffmpeg.EBUR128Schema())
	astats := a.runner.ParseMetrics(stderr, ffmpeg.AstatsSchema())
	integrated, okI := metric(ebur, "integrated")
	samplePeak, okP := metric(astats, "peakDb")
	if !okI || !okP {
		return 0, 0, errors.Newf("loudness/peak measurement incomplete for %s", path).
			Component("analyzer").
			Category(errors.CategoryMeasurement).
			Build()
	}
	return integrated, samplePeak, nil
}

// ReplayGainValue computes the RG 2.0 track gain with clip prevention:
// the gain is capped so the post-gain sample peak stays at or below
// 0 dBFS.
func ReplayGainValue(integrated, samplePeak float64) float64 {
	gain := replayGainReferenceLUFS - integrated
	if samplePeak+gain > 0 {
		gain = -samplePeak
	}
	return round1(gain)
}

// SoundCheckValue computes the Apple Sound Check value on its 1000-unit
// reference scale.
func SoundCheckValue(integrated float64) float64 {
	return math.Round(1000 * math.Pow(10, (soundCheckReferenceLUFS-integrated)/10))
}

// SweetSpot searches the mastering level that minimizes the total
// playback adjustment across the platform set. Ties resolve to the
// loudest candidate.
func SweetSpot(platforms []PlatformTarget) float64 {
	best := sweetSpotMin
	bestCost := math.Inf(1)
	for t := sweetSpotMin; t <= sweetSpotMax+1e-9; t += sweetSpotStep {
		var cost float64
		for _, p := range platforms {
			if p.Mode == UpAndDown {
				cost += absf(p.LUFS - t)
			} else {
				cost += math.Max(0, t-p.LUFS)
			}
		}
		if cost < bestCost-1e-9 || (absf(cost-bestCost) < 1e-9 && t > best) {
			best = t
			bestCost = cost
		}
	}
	return best
}

// PredictNormalization builds the full playback prediction report. Pure
// over measured values.
func PredictNormalization(integrated, samplePeak float64, platforms []PlatformTarget) *Report {
	rg := ReplayGainValue(integrated, samplePeak)
	sweetSpot := SweetSpot(platforms)

	rep := &Report{
		Measurements: map[string]float64{
			"integrated": integrated,
			"samplePeak": samplePeak,
			"replayGain": rg,
			"soundCheck": SoundCheckValue(integrated),
			"sweetSpot":  sweetSpot,
		},
		Details: map[string]string{},
	}

	var totalAdjustment float64
	for _, p := range platforms {
		playback := p.PredictedPlayback(integrated)
		adjustment := p.Adjustment(integrated)
		rep.Measurements["playback_"+p.Name] = round1(playback)
		rep.Measurements["adjustment_"+p.Name] = round1(adjustment)
		totalAdjustment += absf(adjustment)
	}
	meanAdjustment := totalAdjustment / float64(len(platforms))
	rep.Measurements["meanAdjustment"] = round1(meanAdjustment)

	switch {
	case meanAdjustment < 1:
		rep.Status = NormalizationOptimal
	case meanAdjustment < 3:
		rep.Status = NormalizationGood
	case meanAdjustment < 6:
		rep.Status = NormalizationAcceptable
	case meanAdjustment < 10:
		rep.Status = NormalizationPoor
	default:
		rep.Status = NormalizationCritical
	}
	rep.Confidence = 0.9
	rep.Problem = rep.Status == NormalizationPoor || rep.Status == NormalizationCritical
	rep.Description = fmt.Sprintf("platforms will adjust playback by %.1f dB on average; sweet spot for this platform set is %.1f LUFS",
		meanAdjustment, sweetSpot)

	if rg == round1(-samplePeak) && replayGainReferenceLUFS-integrated > -samplePeak {
		rep.Details["clipPrevented"] = "true"
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("ReplayGain capped at %.1f dB to keep the post-gain peak at 0 dBFS", rg))
	}
	if delta := sweetSpot - integrated; absf(delta) > 1 {
		verb := "raise"
		if delta < 0 {
			verb = "lower"
		}
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("%s the master by %.1f dB toward %.1f LUFS to minimize cross-platform adjustment", verb, absf(delta), sweetSpot))
	}
	return rep
}
