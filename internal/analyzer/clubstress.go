package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Club stress status ladder.
const (
	ClubStressNone     = "NONE"
	ClubStressLow      = "LOW"
	ClubStressModerate = "MODERATE"
	ClubStressHigh     = "HIGH"
	ClubStressCritical = "CRITICAL"
)

// BandEnergy is one band-pass measurement of the club stress analyzer.
type BandEnergy struct {
	Name    string
	Low     float64
	High    float64
	RMSDb   float64
	PeakDb  float64
	CrestDb float64
}

// stressBands are the five band-pass regions measured for club playback.
var stressBands = []struct {
	name     string
	low, high float64
}{
	{"sub", 20, 60},
	{"bass", 60, 120},
	{"lowmid", 120, 250},
	{"mid", 250, 2000},
	{"high", 2000, 20000},
}

// ClubStressAnalyzer estimates how hard a master will drive a club
// playback chain: amplifier limiter stress from sustained bass energy and
// driver excursion risk from dense sub-bass content.
type ClubStressAnalyzer struct {
	base
}

func NewClubStress(runner *ffmpeg.Runner) *ClubStressAnalyzer {
	return &ClubStressAnalyzer{base: newBase(runner)}
}

func (a *ClubStressAnalyzer) Name() string { return "club_stress" }

func (a *ClubStressAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	bands, integrated, err := a.measure(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
	}
	return a.observe(a.Name(), start, ClassifyClubStress(bands, integrated)), nil
}

// QuickCheck runs the full band sweep; there is no cheaper measurement
// that preserves the scoring model.
func (a *ClubStressAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	rep, err := a.Analyze(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return rep.compact("limiterStressScore", "excursionRiskScore", "bassRatio"), nil
}

func (a *ClubStressAnalyzer) measure(ctx context.Context, path string) ([]BandEnergy, float64, error) {
	bands := make([]BandEnergy, 0, len(stressBands))
	for _, b := range stressBands {
		res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.BandAstatsFilter(b.low, b.high))...)
		if err != nil {
			return nil, 0, err
		}
		astats := a.runner.ParseMetrics(string(res.Stderr), ffmpeg.AstatsSchema())
		rms, okRMS := metric(astats, "rmsDb")
		peak, okPeak := metric(astats, "peakDb")
		if !okRMS || !okPeak {
			return nil, 0, errors.Newf("band %s (%g-%g Hz) statistics missing for %s", b.name, b.low, b.high, path).
				Component("analyzer").
				Category(errors.CategoryMeasurement).
				Build()
		}
		bands = append(bands, BandEnergy{
			Name:    b.name,
			Low:     b.low,
			High:    b.high,
			RMSDb:   rms,
			PeakDb:  peak,
			CrestDb: peak - rms,
		})
	}

	res, err := a.runner.FFmpeg(ctx, ffmpeg.MeasureArgs(path, ffmpeg.EBUR128Filter())...)
	if err != nil {
		return nil, 0, err
	}
	ebur := a.runner.ParseMetrics(string(res.Stderr), ffmpeg.EBUR128Schema())
	integrated, ok := metric(ebur, "integrated")
	if !ok {
		return nil, 0, errors.Newf("integrated loudness missing from measurement of %s", path).
			Component("analyzer").
			Category(errors.CategoryMeasurement).
			Build()
	}
	return bands, integrated, nil
}

// ClassifyClubStress scores limiter stress and excursion risk from the
// five band measurements plus integrated loudness. Pure over measured
// values; bands must appear in sub/bass/lowmid/mid/high order.
func ClassifyClubStress(bands []BandEnergy, integrated float64) *Report {
	powers := make([]float64, len(bands))
	var total float64
	for i, b := range bands {
		powers[i] = math.Pow(10, b.RMSDb/10)
		total += powers[i]
	}
	if total <= 0 || len(bands) < 5 {
		return &Report{
			Status:       StatusUnknown,
			Measurements: map[string]float64{},
			Description:  "band energy measurement empty, no classification possible",
			Confidence:   0,
		}
	}

	subRatio := powers[0] / total
	bassRatio := (powers[0] + powers[1]) / total
	var bassToMid float64
	if powers[3] > 0 {
		bassToMid = (powers[0] + powers[1]) / powers[3]
	}
	bassCrest := math.Min(bands[0].CrestDb, bands[1].CrestDb)

	// Limiter stress: sustained bass share up to 40 points, crushed bass
	// crest up to 35, overall loudness up to 25.
	limiterScore := clamp((bassRatio-0.2)/0.3, 0, 1)*40 +
		clamp((12-bassCrest)/8, 0, 1)*35 +
		clamp((integrated+16)/8, 0, 1)*25

	// Excursion risk: sub-bass share up to 50 points, dense sub-bass
	// crest up to 50.
	excursionScore := clamp((subRatio-0.1)/0.25, 0, 1)*50 +
		clamp((10-bands[0].CrestDb)/8, 0, 1)*50

	worst := math.Max(limiterScore, excursionScore)
	status := clubStressStatus(worst)
	if subRatio > 0.4 {
		status = raiseClubStress(status)
	}

	rep := &Report{
		Status: status,
		Score:  scorePtr(round1(worst)),
		Measurements: map[string]float64{
			"limiterStressScore": round1(limiterScore),
			"excursionRiskScore": round1(excursionScore),
			"subRatio":           subRatio,
			"bassRatio":          bassRatio,
			"bassToMid":          bassToMid,
			"integrated":         integrated,
		},
		Confidence: 0.85,
		Problem:    status == ClubStressHigh || status == ClubStressCritical,
	}
	dominant := bands[0]
	for _, b := range bands[1:] {
		if b.RMSDb > dominant.RMSDb {
			dominant = b
		}
	}
	rep.Details = map[string]string{"dominantBand": dominant.Name}
	for _, b := range bands {
		rep.Measurements[b.Name+"RmsDb"] = b.RMSDb
		rep.Measurements[b.Name+"CrestDb"] = round1(b.CrestDb)
	}

	switch status {
	case ClubStressNone, ClubStressLow:
		rep.Description = fmt.Sprintf("bass energy share %.0f%% with %.1f dB bass crest leaves club headroom",
			bassRatio*100, bassCrest)
	case ClubStressModerate:
		rep.Description = fmt.Sprintf("moderate club stress: bass share %.0f%%, limiter score %.0f, excursion score %.0f",
			bassRatio*100, limiterScore, excursionScore)
	default:
		rep.Description = fmt.Sprintf("club playback will stress the system: limiter score %.0f, excursion score %.0f",
			limiterScore, excursionScore)
	}

	if subRatio > 0.4 {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("sub-bass carries %.0f%% of total energy; high-pass or rebalance below %g Hz", subRatio*100, bands[0].High))
	}
	if excursionScore >= 60 {
		rep.Recommendations = append(rep.Recommendations,
			"sustained sub-bass density risks driver excursion; restore dynamics below 60 Hz")
	}
	if limiterScore >= 60 {
		rep.Recommendations = append(rep.Recommendations,
			"system limiters will engage on sustained bass; reduce low-end limiting on the master")
	}
	return rep
}

func clubStressStatus(score float64) string {
	switch {
	case score < 20:
		return ClubStressNone
	case score < 40:
		return ClubStressLow
	case score < 60:
		return ClubStressModerate
	case score < 80:
		return ClubStressHigh
	default:
		return ClubStressCritical
	}
}

// raiseClubStress bumps the status one step when sub-bass dominates.
func raiseClubStress(status string) string {
	switch status {
	case ClubStressNone:
		return ClubStressLow
	case ClubStressLow:
		return ClubStressModerate
	case ClubStressModerate:
		return ClubStressHigh
	default:
		return ClubStressCritical
	}
}
