package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stressTestBands(subRMS, subPeak, bassRMS, bassPeak, lowmidRMS, midRMS, highRMS float64) []BandEnergy {
	return []BandEnergy{
		{Name: "sub", Low: 20, High: 60, RMSDb: subRMS, PeakDb: subPeak, CrestDb: subPeak - subRMS},
		{Name: "bass", Low: 60, High: 120, RMSDb: bassRMS, PeakDb: bassPeak, CrestDb: bassPeak - bassRMS},
		{Name: "lowmid", Low: 120, High: 250, RMSDb: lowmidRMS, PeakDb: lowmidRMS + 10, CrestDb: 10},
		{Name: "mid", Low: 250, High: 2000, RMSDb: midRMS, PeakDb: midRMS + 10, CrestDb: 10},
		{Name: "high", Low: 2000, High: 20000, RMSDb: highRMS, PeakDb: highRMS + 10, CrestDb: 10},
	}
}

func TestClassifyClubStressCrushedBassHeavyMaster(t *testing.T) {
	t.Parallel()

	// Dominant sub and bass with 2-3 dB crest factors and a -7 LUFS
	// master maxes both scores.
	bands := stressTestBands(-8, -6, -9, -6, -20, -18, -24)
	rep := ClassifyClubStress(bands, -7)

	assert.Equal(t, ClubStressCritical, rep.Status)
	require.NotNil(t, rep.Score)
	assert.InDelta(t, 100, *rep.Score, 0.5)
	assert.InDelta(t, 100, rep.Measurements["limiterStressScore"], 0.5)
	assert.InDelta(t, 100, rep.Measurements["excursionRiskScore"], 0.5)
	assert.True(t, rep.Problem)
	assert.True(t, hasRecommendation(rep, "sub-bass"))
	assert.Equal(t, "sub", rep.Details["dominantBand"])
}

func TestClassifyClubStressBalancedDynamicMaster(t *testing.T) {
	t.Parallel()

	bands := stressTestBands(-30, -16, -26, -13, -22, -14, -20)
	rep := ClassifyClubStress(bands, -16)

	assert.Equal(t, ClubStressNone, rep.Status)
	assert.InDelta(t, 0, rep.Measurements["limiterStressScore"], 0.5)
	assert.InDelta(t, 0, rep.Measurements["excursionRiskScore"], 0.5)
	assert.False(t, rep.Problem)
	assert.Equal(t, "mid", rep.Details["dominantBand"])
}

func TestClassifyClubStressSubDominanceRaisesStatus(t *testing.T) {
	t.Parallel()

	// Moderate scores but the sub band alone carries nearly half the
	// energy, which bumps the grade one step.
	bands := []BandEnergy{
		{Name: "sub", Low: 20, High: 60, RMSDb: -10, PeakDb: -1, CrestDb: 9},
		{Name: "bass", Low: 60, High: 120, RMSDb: -16, PeakDb: -6, CrestDb: 10},
		{Name: "lowmid", Low: 120, High: 250, RMSDb: -18, PeakDb: -6, CrestDb: 12},
		{Name: "mid", Low: 250, High: 2000, RMSDb: -14, PeakDb: -2, CrestDb: 12},
		{Name: "high", Low: 2000, High: 20000, RMSDb: -20, PeakDb: -8, CrestDb: 12},
	}
	rep := ClassifyClubStress(bands, -12)

	assert.Greater(t, rep.Measurements["subRatio"], 0.4)
	base := clubStressStatus(maxFloat(rep.Measurements["limiterStressScore"], rep.Measurements["excursionRiskScore"]))
	assert.Equal(t, raiseClubStress(base), rep.Status)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func TestClubStressStatusBuckets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		score float64
		want  string
	}{
		{0, ClubStressNone},
		{19.9, ClubStressNone},
		{20, ClubStressLow},
		{39.9, ClubStressLow},
		{40, ClubStressModerate},
		{60, ClubStressHigh},
		{80, ClubStressCritical},
		{100, ClubStressCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, clubStressStatus(tc.score), "score %g", tc.score)
	}
}

func TestRaiseClubStressTopsOutAtCritical(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ClubStressLow, raiseClubStress(ClubStressNone))
	assert.Equal(t, ClubStressModerate, raiseClubStress(ClubStressLow))
	assert.Equal(t, ClubStressHigh, raiseClubStress(ClubStressModerate))
	assert.Equal(t, ClubStressCritical, raiseClubStress(ClubStressHigh))
	assert.Equal(t, ClubStressCritical, raiseClubStress(ClubStressCritical))
}

func TestClassifyClubStressEmptyBandsIsNeutral(t *testing.T) {
	t.Parallel()

	rep := ClassifyClubStress(nil, -14)
	assert.Equal(t, StatusUnknown, rep.Status)
	assert.InDelta(t, 0, rep.Confidence, 1e-9)
}
