package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Channel topology classes.
const (
	TopologyMono         = "MONO"
	TopologyStereo       = "STEREO"
	TopologyDualMono     = "DUAL_MONO"
	TopologyMidSide      = "MID_SIDE"
	TopologyMultichannel = "MULTICHANNEL"
)

// Stereo width classes derived from the diff/sum RMS ratio.
const (
	WidthNarrow   = "NARROW"
	WidthModerate = "MODERATE"
	WidthWide     = "WIDE"
)

// ChannelMetrics are the extracted values ClassifyChannelTopology
// operates on. Pan measurements are only meaningful for two channels.
type ChannelMetrics struct {
	Channels    int
	LeftPeak    float64
	LeftRMS     float64
	RightPeak   float64
	RightRMS    float64
	SumPeak     float64
	SumRMS      float64
	DiffPeak    float64
	DiffRMS     float64
	Correlation float64
}

// ChannelAnalyzer detects the actual channel topology of an asset:
// files tagged stereo often carry dual mono or undecoded mid/side.
type ChannelAnalyzer struct {
	base
}

func NewChannels(runner *ffmpeg.Runner) *ChannelAnalyzer {
	return &ChannelAnalyzer{base: newBase(runner)}
}

func (a *ChannelAnalyzer) Name() string { return "channels" }

func (a *ChannelAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	m, err := a.measure(ctx, path, true)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}
	return a.observe(a.Name(), start, ClassifyChannelTopology(*m)), nil
}

// QuickCheck skips the phase correlation measurement; undecoded mid/side
// then reports as wide stereo, which the full pass disambiguates.
func (a *ChannelAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	m, err := a.measure(ctx, path, false)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.neutral(a.Name(), start, err).compact(), nil
	}
	rep := ClassifyChannelTopology(*m)
	rep.AnalysisTimeMs = time.Since(start).Milliseconds()
	return rep.compact("channels", "diffPeak", "stereoWidth"), nil
}

func (a *ChannelAnalyzer) measure(ctx context.Context, path string, withCorrelation bool) (*ChannelMetrics, error) {
	probe, err := a.runner.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	stream := probe.FirstAudioStream()
	if stream == nil {
		return nil, errors.Newf("no audio stream in %s", path).
			Component("analyzer").
			Category(errors.CategoryValidation).
			Build()
	}
	m := &ChannelMetrics{Channels: stream.Channels, Correlation: 1}
	if stream.Channels != 2 {
		return m, nil
	}

	pans := []struct {
		expr string
		peak *float64
		rms  *float64
	}{
		{ffmpeg.PanLeft, &m.LeftPeak, &m.LeftRMS},
		{ffmpeg.PanRight, &m.RightPeak, &m.RightRMS},
		{ffmpeg.PanSum, &m.SumPeak, &m.SumRMS},
		{ffmpeg.PanDiff, &m.DiffPeak, &m.DiffRMS},
	}
	for _, p := range pans {
		res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.PanMono(p.expr))...)
		if err != nil {
			return nil, err
		}
		astats := a.runner.ParseMetrics(string(res.Stderr), ffmpeg.AstatsSchema())
		peak, okPeak := metric(astats, "peakDb")
		rms, okRMS := metric(astats, "rmsDb")
		if !okPeak || !okRMS {
			return nil, errors.Newf("pan measurement %q incomplete for %s", p.expr, path).
				Component("analyzer").
				Category(errors.CategoryMeasurement).
				Build()
		}
		*p.peak = peak
		*p.rms = rms
	}

	if withCorrelation {
		res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.PhaseMeterFilter())...)
		if err != nil {
			return nil, err
		}
		phase := a.runner.ParseMetrics(string(res.Stderr), ffmpeg.AphasemeterSchema())
		if corr, ok := metric(phase, "phaseAvg"); ok {
			m.Correlation = corr
		}
	}
	return m, nil
}

// ClassifyChannelTopology resolves the actual topology. The dual-mono
// check runs before the correlation checks: identical channels correlate
// perfectly, so correlation alone cannot separate them from true stereo.
func ClassifyChannelTopology(m ChannelMetrics) *Report {
	rep := &Report{
		Measurements: map[string]float64{"channels": float64(m.Channels)},
		Details:      map[string]string{},
	}

	switch {
	case m.Channels == 1:
		rep.Status = TopologyMono
		rep.Confidence = 1
		rep.Description = "single channel asset"
	case m.Channels > 2:
		rep.Status = TopologyMultichannel
		rep.Confidence = 1
		rep.Description = fmt.Sprintf("%d channel asset; analysis targets stereo delivery", m.Channels)
		rep.Recommendations = append(rep.Recommendations,
			"provide a stereo fold-down for streaming delivery")
	case m.DiffPeak < -80 || m.DiffRMS < -60:
		rep.Status = TopologyDualMono
		rep.Confidence = 0.95
		rep.Description = fmt.Sprintf("both channels carry identical content (difference peak %.1f dB)", m.DiffPeak)
		rep.Problem = true
		rep.Recommendations = append(rep.Recommendations,
			"deliver as true mono or restore the stereo mix; dual mono wastes bandwidth and flags upstream conversion errors")
	case m.Correlation >= -0.3 && m.Correlation <= 0.3 && absf(m.LeftRMS-m.RightRMS) > 10:
		rep.Status = TopologyMidSide
		rep.Confidence = 0.8
		rep.Description = fmt.Sprintf("channel pair looks like undecoded mid/side (correlation %.2f, level difference %.1f dB)",
			m.Correlation, absf(m.LeftRMS-m.RightRMS))
		rep.Problem = true
		rep.Recommendations = append(rep.Recommendations,
			"decode mid/side to left/right before delivery")
	default:
		rep.Status = TopologyStereo
		rep.Confidence = 0.9
		width := math.Pow(10, (m.DiffRMS-m.SumRMS)/20)
		rep.Measurements["stereoWidth"] = math.Round(width*100) / 100
		rep.Details["widthClass"] = widthClass(width)
		rep.Description = fmt.Sprintf("stereo with %s width %.2f (correlation %.2f)",
			lowerStatus(widthClass(width)), width, m.Correlation)
	}

	if m.Channels == 2 {
		rep.Measurements["leftPeak"] = m.LeftPeak
		rep.Measurements["leftRms"] = m.LeftRMS
		rep.Measurements["rightPeak"] = m.RightPeak
		rep.Measurements["rightRms"] = m.RightRMS
		rep.Measurements["sumPeak"] = m.SumPeak
		rep.Measurements["sumRms"] = m.SumRMS
		rep.Measurements["diffPeak"] = m.DiffPeak
		rep.Measurements["diffRms"] = m.DiffRMS
		rep.Measurements["correlation"] = m.Correlation
	}
	rep.Details["confidenceLabel"] = confidenceLabel(rep.Confidence)
	return rep
}

func widthClass(width float64) string {
	switch {
	case width < 0.25:
		return WidthNarrow
	case width < 0.7:
		return WidthModerate
	default:
		return WidthWide
	}
}

func confidenceLabel(confidence float64) string {
	switch {
	case confidence >= 0.9:
		return "HIGH"
	case confidence >= 0.7:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
