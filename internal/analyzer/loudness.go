package analyzer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Loudness status ladder, ordered by distance from the platform target.
const (
	LoudnessCompliant     = "COMPLIANT"
	LoudnessSlightlyLoud  = "SLIGHTLY_LOUD"
	LoudnessTooLoud       = "TOO_LOUD"
	LoudnessSlightlyQuiet = "SLIGHTLY_QUIET"
	LoudnessTooQuiet      = "TOO_QUIET"
)

// absoluteGateLUFS is the BS.1770 absolute gate. Momentary and short-term
// readings below it are silence lead-in/out and are excluded from series
// statistics.
const absoluteGateLUFS = -70

// LoudnessAnalyzer measures integrated, momentary and short-term loudness
// and compares them against a streaming platform target.
type LoudnessAnalyzer struct {
	base
}

func NewLoudness(runner *ffmpeg.Runner) *LoudnessAnalyzer {
	return &LoudnessAnalyzer{base: newBase(runner)}
}

func (a *LoudnessAnalyzer) Name() string { return "loudness" }

// LoudnessMetrics are the extracted values ClassifyLoudness operates on.
type LoudnessMetrics struct {
	Integrated float64
	TruePeak   float64
	SamplePeak float64
	LRA        float64
}

func (a *LoudnessAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	if opts == nil {
		opts = &Options{}
	}

	filter := ffmpeg.ChainFilters(ffmpeg.AstatsFilter(), ffmpeg.EBUR128Filter())
	res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, filter)...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}

	stderr := string(res.Stderr)
	astats := a.runner.ParseMetrics(stderr, ffmpeg.AstatsSchema())
	ebur := a.runner.ParseMetrics(stderr, ffmpeg.EBUR128Schema())

	integrated, ok := metric(ebur, "integrated")
	if !ok {
		err := errors.Newf("integrated loudness missing from measurement of %s", path).
			Component("analyzer").
			Category(errors.CategoryMeasurement).
			Build()
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}
	truePeak, _ := metric(ebur, "truePeak")
	lra, _ := metric(ebur, "lra")
	samplePeak, _ := metric(astats, "peakDb")

	target := resolvePlatform(opts.Platform)
	rep := ClassifyLoudness(LoudnessMetrics{
		Integrated: integrated,
		TruePeak:   truePeak,
		SamplePeak: samplePeak,
		LRA:        lra,
	}, target)

	attachLoudnessSeries(rep, a.runner.ParseTimeSeries(stderr))
	return a.observe(a.Name(), start, rep), nil
}

// QuickCheck runs the loudness meter alone against the default platform.
func (a *LoudnessAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.EBUR128Filter())...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.neutral(a.Name(), start, err).compact(), nil
	}
	ebur := a.runner.ParseMetrics(string(res.Stderr), ffmpeg.EBUR128Schema())
	integrated, ok := metric(ebur, "integrated")
	if !ok {
		err := errors.Newf("integrated loudness missing from measurement of %s", path).
			Component("analyzer").
			Category(errors.CategoryMeasurement).
			Build()
		return a.neutral(a.Name(), start, err).compact(), nil
	}
	truePeak, _ := metric(ebur, "truePeak")
	rep := ClassifyLoudness(LoudnessMetrics{Integrated: integrated, TruePeak: truePeak}, DefaultPlatform())
	rep.AnalysisTimeMs = time.Since(start).Milliseconds()
	return rep.compact("integrated", "truePeak", "gain"), nil
}

// ClassifyLoudness buckets integrated loudness against a platform target
// with a 1 LU tolerance and derives the normalization gain, true-peak
// headroom and limiter requirement. Pure over already-measured values.
func ClassifyLoudness(m LoudnessMetrics, target PlatformTarget) *Report {
	delta := m.Integrated - target.LUFS
	gain := round1(target.LUFS - m.Integrated)
	playback := round1(target.PredictedPlayback(m.Integrated))
	truePeakOk := m.TruePeak <= target.TruePeakMax
	needsLimiter := m.TruePeak+gain > target.TruePeakMax

	var status string
	switch {
	case delta > 4:
		status = LoudnessTooLoud
	case delta > 1:
		status = LoudnessSlightlyLoud
	case delta >= -1:
		status = LoudnessCompliant
	case delta >= -4:
		status = LoudnessSlightlyQuiet
	default:
		status = LoudnessTooQuiet
	}

	rep := &Report{
		Status: status,
		Score:  scorePtr(clamp(100-absf(delta)*10, 0, 100)),
		Measurements: map[string]float64{
			"integrated":        m.Integrated,
			"truePeak":          m.TruePeak,
			"samplePeak":        m.SamplePeak,
			"lra":               m.LRA,
			"target":            target.LUFS,
			"delta":             round1(delta),
			"gain":              gain,
			"predictedPlayback": playback,
		},
		Details: map[string]string{
			"platform":     target.Name,
			"mode":         string(target.Mode),
			"truePeakOk":   strconv.FormatBool(truePeakOk),
			"needsLimiter": strconv.FormatBool(needsLimiter),
		},
		Confidence: 0.95,
		Problem:    status == LoudnessTooLoud || status == LoudnessTooQuiet || !truePeakOk,
	}

	switch status {
	case LoudnessCompliant:
		rep.Description = fmt.Sprintf("integrated %.1f LUFS is within 1 LU of the %s target of %.1f LUFS",
			m.Integrated, target.Name, target.LUFS)
	case LoudnessTooLoud, LoudnessSlightlyLoud:
		rep.Description = fmt.Sprintf("integrated %.1f LUFS is %.1f LU above the %s target of %.1f LUFS",
			m.Integrated, delta, target.Name, target.LUFS)
	default:
		rep.Description = fmt.Sprintf("integrated %.1f LUFS is %.1f LU below the %s target of %.1f LUFS",
			m.Integrated, -delta, target.Name, target.LUFS)
	}

	switch status {
	case LoudnessTooLoud:
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("loudness is significantly above target; %s will turn playback down to %.1f LUFS", target.Name, playback),
			fmt.Sprintf("reduce level by %.1f dB to reach the %s target", -gain, target.Name))
	case LoudnessSlightlyLoud:
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("reduce level by %.1f dB to reach the %s target", -gain, target.Name))
	case LoudnessTooQuiet:
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("loudness is significantly below target; raise level by %.1f dB", gain))
		if target.Mode == DownOnly {
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("%s will not raise quiet material; playback stays at %.1f LUFS", target.Name, playback))
		}
	case LoudnessSlightlyQuiet:
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("raise level by %.1f dB to reach the %s target", gain, target.Name))
	}
	if !truePeakOk {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("true peak %.1f dBTP exceeds the %s ceiling of %.1f dBTP", m.TruePeak, target.Name, target.TruePeakMax))
	}
	if needsLimiter {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("apply a true-peak limiter at %.1f dBTP before the %.1f dB gain change", target.TruePeakMax, gain))
	}
	return rep
}

// attachLoudnessSeries summarizes the momentary and short-term tracks into
// min/max/mean measurements plus sampled series of at most 100 points.
func attachLoudnessSeries(rep *Report, points []ffmpeg.TimePoint) {
	if len(points) == 0 {
		return
	}
	momentary := make([]float64, 0, len(points))
	shortTerm := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Momentary > absoluteGateLUFS {
			momentary = append(momentary, p.Momentary)
		}
		if p.ShortTerm > absoluteGateLUFS {
			shortTerm = append(shortTerm, p.ShortTerm)
		}
	}
	if len(momentary) > 0 {
		lo, hi := minMax(momentary)
		rep.Measurements["momentaryMin"] = lo
		rep.Measurements["momentaryMax"] = hi
		rep.Measurements["momentaryMean"] = stat.Mean(momentary, nil)
	}
	if len(shortTerm) > 0 {
		lo, hi := minMax(shortTerm)
		rep.Measurements["shortTermMin"] = lo
		rep.Measurements["shortTermMax"] = hi
		rep.Measurements["shortTermMean"] = stat.Mean(shortTerm, nil)
	}
	if len(momentary) > 0 || len(shortTerm) > 0 {
		rep.Series = map[string][]float64{}
		if len(momentary) > 0 {
			rep.Series["momentary"] = sampleSeries(momentary, 100)
		}
		if len(shortTerm) > 0 {
			rep.Series["shortTerm"] = sampleSeries(shortTerm, 100)
		}
	}
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
