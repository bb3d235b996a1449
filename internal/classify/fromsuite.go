package classify

import (
	"github.com/audiolens/masterqc/internal/analyzer"
)

// FromSuite derives classification signals and a risk vector from a suite
// result. Only measurements the suite actually produced are mapped; every
// other field stays absent so classification scores on real evidence and
// risks fall back to the neutral default. Vinyl noise and reverb decay
// have no measuring analyzer yet and always stay absent.
func FromSuite(result *analyzer.SuiteResult) (Signals, Risks) {
	var s Signals
	var r Risks
	if result == nil {
		return s, r
	}

	if rep := usable(result.Reports["club_stress"]); rep != nil {
		if sub, ok := rep.Measurements["subRatio"]; ok {
			if bass, okBass := rep.Measurements["bassRatio"]; okBass {
				s.SubBassEnergy = ptr(clamp01(sub + bass))
			}
		}
		if limiter, ok := rep.Measurements["limiterStressScore"]; ok {
			if bass, okBass := rep.Measurements["bassRatio"]; okBass {
				r.Masking = ptr(clamp01(limiter/100*0.5 + clamp01(bass)*0.5))
			}
		}
	}

	if rep := usable(result.Reports["gain_reduction"]); rep != nil {
		if crest, ok := rep.Measurements["meanCrestDb"]; ok {
			s.TransientDensity = ptr(clamp01(crest / 18))
		}
		if score, ok := rep.Measurements["meanScore"]; ok {
			r.OverCompression = ptr(clamp01(score / 100))
		}
	}

	if rep := usable(result.Reports["loudness"]); rep != nil {
		if lra, ok := rep.Measurements["lra"]; ok {
			s.DynamicRange = ptr(clamp01(lra / 20))
		}
	}

	if rep := usable(result.Reports["channels"]); rep != nil {
		if width, ok := rep.Measurements["stereoWidth"]; ok {
			s.StereoWidth = ptr(clamp01(width))
		}
		switch rep.Status {
		case analyzer.TopologyMidSide:
			r.PhaseCollapse = ptr(0.9)
		default:
			if corr, ok := rep.Measurements["correlation"]; ok {
				r.PhaseCollapse = ptr(clamp01((0.3 - corr) / 1.3))
			}
		}
	}

	if rep := usable(result.Reports["spectral_balance"]); rep != nil {
		low := bandMean(rep.Measurements, "band31.5Hz", "band63Hz")
		mid := bandMean(rep.Measurements, "band500Hz", "band1000Hz")
		high := bandMean(rep.Measurements, "band8000Hz", "band16000Hz")
		if low != nil && mid != nil {
			switch {
			case *mid-*low > 3:
				s.MixBalance = MixVocalDominant
			case *low-*mid > 3:
				s.MixBalance = MixBeatDominant
			default:
				s.MixBalance = MixBalanced
			}
			if *mid < 0 {
				r.VocalIntelligibility = ptr(clamp01(-*mid / 8))
			} else {
				r.VocalIntelligibility = ptr(0.1)
			}
		}
		if high != nil && *high < 0 {
			s.HighFreqRolloff = ptr(clamp01(-*high / 12))
		} else if high != nil {
			s.HighFreqRolloff = ptr(0.0)
		}
		if dev, ok := rep.Measurements["rmsDeviation"]; ok {
			r.Translation = ptr(clamp01(dev / 10))
		}
	}

	if rep := usable(result.Reports["clipping"]); rep != nil {
		if flat, ok := rep.Measurements["flatFactor"]; ok {
			s.Distortion = ptr(clamp01(flat * 2))
		}
		if v, ok := clipRiskByStatus[rep.Status]; ok {
			r.Clipping = ptr(v)
		}
	}

	if rep := usable(result.Reports["intersample"]); rep != nil {
		if overshoot, ok := rep.Measurements["overshoot"]; ok {
			r.Artifact = ptr(clamp01(overshoot / 2))
		}
	}

	return s, r
}

// clipRiskByStatus maps clipping severities onto risk levels.
var clipRiskByStatus = map[string]float64{
	analyzer.ClipSeverityNone:     0.05,
	analyzer.ClipSeverityMinimal:  0.2,
	analyzer.ClipSeverityMild:     0.35,
	analyzer.ClipSeverityModerate: 0.55,
	analyzer.ClipSeveritySevere:   0.8,
	analyzer.ClipSeverityExtreme:  0.95,
}

// usable filters out missing reports and neutral fallbacks.
func usable(rep *analyzer.Report) *analyzer.Report {
	if rep == nil || rep.Status == analyzer.StatusUnknown {
		return nil
	}
	return rep
}

func bandMean(m map[string]float64, keys ...string) *float64 {
	var sum float64
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			return nil
		}
		sum += v
	}
	return ptr(sum / float64(len(keys)))
}

func ptr(v float64) *float64 { return &v }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
