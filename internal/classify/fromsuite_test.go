package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolens/masterqc/internal/analyzer"
)

func TestFromSuiteMapsMeasurements(t *testing.T) {
	t.Parallel()

	result := &analyzer.SuiteResult{
		Reports: map[string]*analyzer.Report{
			"club_stress": {
				Status: analyzer.ClubStressHigh,
				Measurements: map[string]float64{
					"subRatio":           0.5,
					"bassRatio":          0.4,
					"limiterStressScore": 80,
				},
			},
			"gain_reduction": {
				Status: analyzer.CompressionModerate,
				Measurements: map[string]float64{
					"meanCrestDb": 9,
					"meanScore":   60,
				},
			},
			"loudness": {
				Status:       analyzer.LoudnessCompliant,
				Measurements: map[string]float64{"lra": 8},
			},
			"channels": {
				Status: analyzer.TopologyStereo,
				Measurements: map[string]float64{
					"stereoWidth": 0.7,
					"correlation": 0.9,
				},
			},
			"spectral_balance": {
				Status: analyzer.SpectralModerate,
				Measurements: map[string]float64{
					"band31.5Hz":   6,
					"band63Hz":     4,
					"band500Hz":    -2,
					"band1000Hz":   -2,
					"band8000Hz":   -6,
					"band16000Hz":  -6,
					"rmsDeviation": 4,
				},
			},
			"clipping": {
				Status:       analyzer.ClipSeverityModerate,
				Measurements: map[string]float64{"flatFactor": 0.3},
			},
			"intersample": {
				Status:       analyzer.IntersampleCritical,
				Measurements: map[string]float64{"overshoot": 0.9},
			},
		},
	}

	signals, risks := FromSuite(result)

	require.NotNil(t, signals.SubBassEnergy)
	assert.InDelta(t, 0.9, *signals.SubBassEnergy, 1e-9)
	require.NotNil(t, signals.TransientDensity)
	assert.InDelta(t, 0.5, *signals.TransientDensity, 1e-9)
	require.NotNil(t, signals.DynamicRange)
	assert.InDelta(t, 0.4, *signals.DynamicRange, 1e-9)
	require.NotNil(t, signals.StereoWidth)
	assert.InDelta(t, 0.7, *signals.StereoWidth, 1e-9)
	assert.Equal(t, MixBeatDominant, signals.MixBalance)
	require.NotNil(t, signals.HighFreqRolloff)
	assert.InDelta(t, 0.5, *signals.HighFreqRolloff, 1e-9)
	require.NotNil(t, signals.Distortion)
	assert.InDelta(t, 0.6, *signals.Distortion, 1e-9)
	assert.Nil(t, signals.VinylNoise, "no analyzer measures vinyl noise")
	assert.Nil(t, signals.ReverbDecay)

	require.NotNil(t, risks.Masking)
	assert.InDelta(t, 0.6, *risks.Masking, 1e-9)
	require.NotNil(t, risks.OverCompression)
	assert.InDelta(t, 0.6, *risks.OverCompression, 1e-9)
	require.NotNil(t, risks.PhaseCollapse)
	assert.InDelta(t, 0.0, *risks.PhaseCollapse, 1e-9)
	require.NotNil(t, risks.VocalIntelligibility)
	assert.InDelta(t, 0.25, *risks.VocalIntelligibility, 1e-9)
	require.NotNil(t, risks.Translation)
	assert.InDelta(t, 0.4, *risks.Translation, 1e-9)
	require.NotNil(t, risks.Clipping)
	assert.InDelta(t, 0.55, *risks.Clipping, 1e-9)
	require.NotNil(t, risks.Artifact)
	assert.InDelta(t, 0.45, *risks.Artifact, 1e-9)
	assert.Nil(t, risks.LofiAesthetic)
}

func TestFromSuiteIgnoresNeutralReports(t *testing.T) {
	t.Parallel()

	result := &analyzer.SuiteResult{
		Reports: map[string]*analyzer.Report{
			"loudness": {
				Status:       analyzer.StatusUnknown,
				Measurements: map[string]float64{"lra": 8},
			},
		},
	}
	signals, risks := FromSuite(result)

	assert.Nil(t, signals.DynamicRange)
	assert.Nil(t, risks.Clipping)

	signals, risks = FromSuite(nil)
	assert.Equal(t, Signals{}, signals)
	assert.Equal(t, Risks{}, risks)
}

func TestFromSuiteMidSideRaisesPhaseRisk(t *testing.T) {
	t.Parallel()

	result := &analyzer.SuiteResult{
		Reports: map[string]*analyzer.Report{
			"channels": {
				Status: analyzer.TopologyMidSide,
				Measurements: map[string]float64{
					"stereoWidth": 0.4,
					"correlation": 0.05,
				},
			},
		},
	}
	_, risks := FromSuite(result)

	require.NotNil(t, risks.PhaseCollapse)
	assert.InDelta(t, 0.9, *risks.PhaseCollapse, 1e-9)
}

func TestFromSuiteAntiCorrelationIsHighPhaseRisk(t *testing.T) {
	t.Parallel()

	result := &analyzer.SuiteResult{
		Reports: map[string]*analyzer.Report{
			"channels": {
				Status:       analyzer.TopologyStereo,
				Measurements: map[string]float64{"correlation": -1},
			},
		},
	}
	_, risks := FromSuite(result)

	require.NotNil(t, risks.PhaseCollapse)
	assert.InDelta(t, 1.0, *risks.PhaseCollapse, 1e-9)
}

func TestFromSuiteFeedsClassifier(t *testing.T) {
	t.Parallel()

	c, err := New(nil)
	require.NoError(t, err)

	result := &analyzer.SuiteResult{
		Reports: map[string]*analyzer.Report{
			"club_stress": {
				Status: analyzer.ClubStressHigh,
				Measurements: map[string]float64{
					"subRatio":           0.45,
					"bassRatio":          0.40,
					"limiterStressScore": 70,
				},
			},
			"gain_reduction": {
				Status:       analyzer.CompressionHeavy,
				Measurements: map[string]float64{"meanCrestDb": 12, "meanScore": 70},
			},
		},
	}
	signals, risks := FromSuite(result)
	cl := c.Classify(signals)

	assert.NotEqual(t, SubgenreUnknown, cl.Primary)
	summary := WeightedConfidence(risks, c.RiskWeights(cl))
	assert.Greater(t, summary.AggregateRisk, 0.0)
	assert.LessOrEqual(t, summary.Confidence, 1.0)
}
