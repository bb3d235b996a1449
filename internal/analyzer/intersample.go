package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Intersample status ladder.
const (
	IntersampleSafe     = "SAFE"
	IntersampleMarginal = "MARGINAL"
	IntersampleExceeds  = "EXCEEDS"
	IntersampleCritical = "CRITICAL"
)

// codecOvershootDb is the additional true-peak overshoot each lossy codec
// typically introduces at the given bitrate.
var codecOvershootDb = map[string]float64{
	"mp3-128":  0.8,
	"mp3-192":  0.5,
	"mp3-320":  0.3,
	"aac-128":  0.4,
	"aac-256":  0.2,
	"ogg-160":  0.4,
	"opus-128": 0.3,
}

// CodecNames lists the codecs with an overshoot projection, sorted.
func CodecNames() []string {
	names := make([]string, 0, len(codecOvershootDb))
	for name := range codecOvershootDb {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IntersampleAnalyzer measures sample peak and oversampled true peak
// independently and classifies the reconstruction overshoot risk.
type IntersampleAnalyzer struct {
	base
}

func NewIntersample(runner *ffmpeg.Runner) *IntersampleAnalyzer {
	return &IntersampleAnalyzer{base: newBase(runner)}
}

func (a *IntersampleAnalyzer) Name() string { return "intersample" }

// IntersampleMetrics are the extracted values ClassifyIntersample operates on.
type IntersampleMetrics struct {
	SamplePeak float64
	TruePeak   float64
	// Codec selects a post-encode overshoot projection; empty skips it.
	Codec string
}

func (a *IntersampleAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	if opts == nil {
		opts = &Options{}
	}
	m, err := a.measure(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}
	m.Codec = opts.Codec
	return a.observe(a.Name(), start, ClassifyIntersample(*m)), nil
}

func (a *IntersampleAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	m, err := a.measure(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.neutral(a.Name(), start, err).compact(), nil
	}
	rep := ClassifyIntersample(*m)
	rep.AnalysisTimeMs = time.Since(start).Milliseconds()
	return rep.compact("samplePeak", "truePeak", "overshoot"), nil
}

func (a *IntersampleAnalyzer) measure(ctx context.Context, path string) (*IntersampleMetrics, error) {
	filter := ffmpeg.ChainFilters(ffmpeg.AstatsFilter(), ffmpeg.EBUR128Filter())
	res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, filter)...)
	if err != nil {
		return nil, err
	}
	stderr := string(res.Stderr)
	astats := a.runner.ParseMetrics(stderr, ffmpeg.AstatsSchema())
	ebur := a.runner.ParseMetrics(stderr, ffmpeg.EBUR128Schema())

	samplePeak, okSP := metric(astats, "peakDb")
	truePeak, okTP := metric(ebur, "truePeak")
	if !okSP || !okTP {
		return nil, errors.Newf("peak measurement incomplete for %s (sample=%t true=%t)", path, okSP, okTP).
			Component("analyzer").
			Category(errors.CategoryMeasurement).
			Build()
	}
	return &IntersampleMetrics{SamplePeak: samplePeak, TruePeak: truePeak}, nil
}

// ClassifyIntersample grades reconstruction overshoot. CRITICAL and EXCEEDS
// take precedence over the SAFE window so overlapping conditions resolve
// to the worse grade.
func ClassifyIntersample(m IntersampleMetrics) *Report {
	overshoot := math.Max(0, m.TruePeak-m.SamplePeak)

	var status string
	switch {
	case m.TruePeak > 0 || (m.TruePeak > -1 && overshoot > 1.5):
		status = IntersampleCritical
	case overshoot > 0.8:
		status = IntersampleExceeds
	case overshoot < 0.3 && m.TruePeak <= -2:
		status = IntersampleSafe
	default:
		status = IntersampleMarginal
	}

	rep := &Report{
		Status: status,
		Measurements: map[string]float64{
			"samplePeak": m.SamplePeak,
			"truePeak":   m.TruePeak,
			"overshoot":  round1(overshoot),
		},
		Confidence: 0.9,
		Problem:    status == IntersampleExceeds || status == IntersampleCritical,
	}

	switch status {
	case IntersampleSafe:
		rep.Description = fmt.Sprintf("true peak %.1f dBTP with %.1f dB overshoot leaves safe reconstruction headroom",
			m.TruePeak, overshoot)
	case IntersampleMarginal:
		rep.Description = fmt.Sprintf("true peak %.1f dBTP with %.1f dB overshoot leaves little reconstruction headroom",
			m.TruePeak, overshoot)
	case IntersampleExceeds:
		rep.Description = fmt.Sprintf("intersample overshoot of %.1f dB exceeds the safe margin", overshoot)
	case IntersampleCritical:
		rep.Description = fmt.Sprintf("true peak %.1f dBTP will clip DAC reconstruction and lossy encoders", m.TruePeak)
	}

	if status == IntersampleExceeds || status == IntersampleCritical {
		rep.Recommendations = append(rep.Recommendations,
			"apply a true-peak limiter with a -1.0 dBTP ceiling before distribution")
	} else if status == IntersampleMarginal {
		rep.Recommendations = append(rep.Recommendations,
			"consider a true-peak limiter at -1.0 dBTP for lossy delivery formats")
	}

	if addon, ok := codecOvershootDb[m.Codec]; ok {
		projectedTP := m.TruePeak + addon
		rep.Measurements["codecOvershootAddon"] = addon
		rep.Measurements["projectedTruePeak"] = round1(projectedTP)
		rep.Measurements["projectedOvershoot"] = round1(overshoot + addon)
		rep.Details = map[string]string{"codec": m.Codec}
		if projectedTP > -1 {
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("%s encoding is projected to push true peak to %.1f dBTP; leave at least %.1f dB extra headroom",
					m.Codec, projectedTP, projectedTP+1))
		}
	}
	return rep
}
