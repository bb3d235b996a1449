package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Spectral balance status ladder, bucketed by RMS deviation from the
// reference curve.
const (
	SpectralBalanced    = "BALANCED"
	SpectralSlight      = "SLIGHT"
	SpectralModerate    = "MODERATE"
	SpectralSignificant = "SIGNIFICANT"
	SpectralExtreme     = "EXTREME"
)

// octaveCenters are the ISO 266 octave band centers measured by the
// spectral analyzer. Band edges are center/sqrt2 and center*sqrt2.
var octaveCenters = []float64{31.5, 63, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

// spectralRegions maps pairs of adjacent octave bands onto named regions
// for imbalance attribution.
var spectralRegions = []struct {
	name       string
	lo, hi     int
	centerDesc string
}{
	{"LOW", 0, 1, "31.5-63 Hz"},
	{"LOW_MID", 2, 3, "125-250 Hz"},
	{"MID", 4, 5, "500 Hz-1 kHz"},
	{"HIGH_MID", 6, 7, "2-4 kHz"},
	{"HIGH", 8, 9, "8-16 kHz"},
}

// referenceCurves holds zero-mean per-band level offsets in dB. Pink noise
// carries equal energy per octave, so its curve is flat; white noise gains
// 3 dB per octave; genre curves reflect typical club-oriented masters.
var referenceCurves = map[string][]float64{
	"pink":    {0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	"flat":    {-13.5, -10.5, -7.5, -4.5, -1.5, 1.5, 4.5, 7.5, 10.5, 13.5},
	"neutral": {4, 3, 2, 1, 0.5, -0.5, -1, -2, -3, -4},
	"house":   {6, 5, 3, 1, -0.5, -1.5, -2, -3, -3.5, -4.5},
	"techno":  {7, 5.5, 3, 0.5, -1, -1.5, -2.5, -3, -3.5, -4.5},
	"trance":  {5, 4.5, 2.5, 1, 0, -1, -1.5, -2.5, -3.5, -4.5},
	"dnb":     {8, 6, 2.5, 0, -1.5, -2, -2.5, -3, -3.5, -4},
}

// SpectralAnalyzer measures ten octave bands and compares the zero-mean
// spectrum against a reference curve.
type SpectralAnalyzer struct {
	base
	defaultCurve string
}

func NewSpectral(runner *ffmpeg.Runner, defaultCurve string) *SpectralAnalyzer {
	if _, ok := referenceCurves[defaultCurve]; !ok {
		defaultCurve = "neutral"
	}
	return &SpectralAnalyzer{base: newBase(runner), defaultCurve: defaultCurve}
}

func (a *SpectralAnalyzer) Name() string { return "spectral_balance" }

func (a *SpectralAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	curve := a.defaultCurve
	if opts != nil && opts.ReferenceCurve != "" {
		if _, ok := referenceCurves[opts.ReferenceCurve]; ok {
			curve = opts.ReferenceCurve
		}
	}
	bands, err := a.measure(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}
	return a.observe(a.Name(), start, ClassifySpectralBalance(bands, curve)), nil
}

// QuickCheck runs the full octave sweep against the default curve.
func (a *SpectralAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	rep, err := a.Analyze(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return rep.compact("rmsDeviation", "tilt"), nil
}

func (a *SpectralAnalyzer) measure(ctx context.Context, path string) ([]float64, error) {
	sqrt2 := math.Sqrt2
	bands := make([]float64, 0, len(octaveCenters))
	for _, center := range octaveCenters {
		res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.BandAstatsFilter(center/sqrt2, center*sqrt2))...)
		if err != nil {
			return nil, err
		}
		astats := a.runner.ParseMetrics(string(res.Stderr), ffmpeg.AstatsSchema())
		rms, ok := metric(astats, "rmsDb")
		if !ok {
			return nil, errors.Newf("octave band %g Hz statistics missing for %s", center, path).
				Component("analyzer").
				Category(errors.CategoryMeasurement).
				Build()
		}
		bands = append(bands, rms)
	}
	return bands, nil
}

// ClassifySpectralBalance normalizes the band spectrum to zero mean,
// compares it against the named reference curve and attributes the
// dominant imbalance region. Pure over measured band levels.
func ClassifySpectralBalance(bandRMS []float64, curve string) *Report {
	ref, ok := referenceCurves[curve]
	if !ok || len(bandRMS) != len(octaveCenters) {
		return &Report{
			Status:       StatusUnknown,
			Measurements: map[string]float64{},
			Description:  fmt.Sprintf("spectral measurement incomplete (%d of %d bands)", len(bandRMS), len(octaveCenters)),
			Confidence:   0,
		}
	}

	mean := stat.Mean(bandRMS, nil)
	dev := make([]float64, len(bandRMS))
	diff := make([]float64, len(bandRMS))
	indices := make([]float64, len(bandRMS))
	var sq float64
	for i, rms := range bandRMS {
		dev[i] = rms - mean
		diff[i] = dev[i] - ref[i]
		indices[i] = float64(i)
		sq += diff[i] * diff[i]
	}
	rmsDev := math.Sqrt(sq / float64(len(diff)))
	_, tilt := stat.LinearRegression(indices, dev, nil, false)
	_, refTilt := stat.LinearRegression(indices, ref, nil, false)

	status := spectralStatus(rmsDev)
	region, regionDev := dominantRegion(diff)

	rep := &Report{
		Status: status,
		Measurements: map[string]float64{
			"rmsDeviation":  round1(rmsDev),
			"tilt":          math.Round(tilt*100) / 100,
			"referenceTilt": math.Round(refTilt*100) / 100,
		},
		Details:    map[string]string{"curve": curve},
		Series:     map[string][]float64{"bandDeviation": diff},
		Confidence: 0.8,
		Problem:    status == SpectralSignificant || status == SpectralExtreme,
	}
	for i, center := range octaveCenters {
		rep.Measurements[fmt.Sprintf("band%gHz", center)] = round1(dev[i])
	}

	if region == "" {
		rep.Description = fmt.Sprintf("spectrum within %.1f dB RMS of the %s curve", rmsDev, curve)
	} else {
		direction := "excess"
		if regionDev < 0 {
			direction = "deficit"
		}
		rep.Details["region"] = region
		rep.Description = fmt.Sprintf("spectrum deviates %.1f dB RMS from the %s curve, dominated by a %.1f dB %s in the %s region",
			rmsDev, curve, absf(regionDev), direction, lowerStatus(region))
		for _, r := range spectralRegions {
			if r.name != region {
				continue
			}
			if regionDev > 0 {
				rep.Recommendations = append(rep.Recommendations,
					fmt.Sprintf("cut around %s by %.1f dB to approach the %s balance", r.centerDesc, regionDev, curve))
			} else {
				rep.Recommendations = append(rep.Recommendations,
					fmt.Sprintf("boost around %s by %.1f dB to approach the %s balance", r.centerDesc, -regionDev, curve))
			}
		}
	}
	if tilt-refTilt > 1 {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("spectral tilt %.1f dB/octave is brighter than the %s reference", tilt, curve))
	} else if refTilt-tilt > 1 {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("spectral tilt %.1f dB/octave is darker than the %s reference", tilt, curve))
	}
	return rep
}

func spectralStatus(rmsDev float64) string {
	switch {
	case rmsDev < 2:
		return SpectralBalanced
	case rmsDev < 4:
		return SpectralSlight
	case rmsDev < 6:
		return SpectralModerate
	case rmsDev < 10:
		return SpectralSignificant
	default:
		return SpectralExtreme
	}
}

// dominantRegion returns the named region with the largest mean absolute
// deviation, or empty when no region deviates more than 3 dB.
func dominantRegion(diff []float64) (string, float64) {
	var name string
	var worst float64
	for _, r := range spectralRegions {
		regionMean := (diff[r.lo] + diff[r.hi]) / 2
		if absf(regionMean) > 3 && absf(regionMean) > absf(worst) {
			name = r.name
			worst = regionMean
		}
	}
	return name, round1(worst)
}
