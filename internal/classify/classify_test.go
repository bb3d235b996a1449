package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolens/masterqc/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init()
	goleak.VerifyTestMain(m)
}

func TestLoadHeuristicsEmbeddedTable(t *testing.T) {
	t.Parallel()

	h, err := LoadHeuristics("")
	require.NoError(t, err)

	assert.Equal(t, 2, h.Version)
	assert.GreaterOrEqual(t, len(h.Subgenres), 4)
	require.NotNil(t, h.Profile("TRAP"))
	require.NotNil(t, h.Profile("BOOM_BAP"))
	assert.Nil(t, h.Profile("POLKA"))

	for _, p := range h.Subgenres {
		assert.NotEmpty(t, p.Signals, "subgenre %s needs signal targets", p.Name)
		for name, target := range p.Signals {
			assert.True(t, knownSignal(name), "%s: %s", p.Name, name)
			assert.Greater(t, target.Tolerance, 0.0)
			assert.Greater(t, target.Weight, 0.0)
		}
		for kind := range p.Risks {
			assert.True(t, knownRiskKind(kind), "%s: %s", p.Name, kind)
		}
	}
}

func TestLoadHeuristicsRejectsBadTables(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"old schema version", "version: 1\nsubgenres:\n  - name: TRAP\n    signals:\n      subBassEnergy: {ideal: 0.8}\n"},
		{"no subgenres", "version: 2\nsubgenres: []\n"},
		{"unknown signal", "version: 2\nsubgenres:\n  - name: TRAP\n    signals:\n      grooveFactor: {ideal: 0.8}\n"},
		{"unknown risk kind", "version: 2\nsubgenres:\n  - name: TRAP\n    signals:\n      subBassEnergy: {ideal: 0.8}\n    risks:\n      boredom: 1.2\n"},
		{"duplicate subgenre", "version: 2\nsubgenres:\n  - name: TRAP\n    signals:\n      subBassEnergy: {ideal: 0.8}\n  - name: TRAP\n    signals:\n      subBassEnergy: {ideal: 0.6}\n"},
		{"bad mix balance", "version: 2\nsubgenres:\n  - name: TRAP\n    mixBalance: drums-first\n    signals:\n      subBassEnergy: {ideal: 0.8}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "heuristics.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o644))

			_, err := LoadHeuristics(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadHeuristicsAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "heuristics.yaml")
	raw := "version: 2\nsubgenres:\n  - name: TRAP\n    signals:\n      subBassEnergy: {ideal: 0.8}\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	h, err := LoadHeuristics(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.55, h.UncertainConfidence, 1e-9)
	assert.InDelta(t, 0.10, h.ConflictMargin, 1e-9)
	target := h.Profile("TRAP").Signals["subBassEnergy"]
	assert.InDelta(t, 0.25, target.Tolerance, 1e-9)
	assert.InDelta(t, 1.0, target.Weight, 1e-9)
}

func trapSignals() Signals {
	return Signals{
		SubBassEnergy:    ptr(0.85),
		TransientDensity: ptr(0.70),
		DynamicRange:     ptr(0.35),
		StereoWidth:      ptr(0.55),
		HighFreqRolloff:  ptr(0.25),
		Distortion:       ptr(0.35),
		MixBalance:       MixBeatDominant,
	}
}

func TestClassifyIdealTrapSignals(t *testing.T) {
	t.Parallel()

	c, err := New(nil)
	require.NoError(t, err)

	cl := c.Classify(trapSignals())

	assert.Equal(t, "TRAP", cl.Primary)
	assert.InDelta(t, 1.0, cl.Confidence, 1e-4)
	assert.False(t, cl.IsUncertain)
	assert.False(t, cl.ConflictingSignals)
	assert.Len(t, cl.TopCandidates, 3)
	assert.Len(t, cl.Likelihoods, len(c.Table().Subgenres))
	assert.Equal(t, "TRAP", cl.TopCandidates[0].Subgenre)
}

func TestClassifySparseSignalsRankOnPresentEvidence(t *testing.T) {
	t.Parallel()

	c, err := New(nil)
	require.NoError(t, err)

	cl := c.Classify(Signals{
		VinylNoise:      ptr(0.75),
		HighFreqRolloff: ptr(0.70),
	})

	assert.Equal(t, "LOFI", cl.Primary)
	assert.InDelta(t, 1.0, cl.Confidence, 1e-4)
}

func TestClassifyNoSignalsIsUnknown(t *testing.T) {
	t.Parallel()

	c, err := New(nil)
	require.NoError(t, err)

	cl := c.Classify(Signals{})

	assert.Equal(t, SubgenreUnknown, cl.Primary)
	assert.Zero(t, cl.Confidence)
	assert.True(t, cl.IsUncertain)
}

func TestClassifyNearTieFlagsConflict(t *testing.T) {
	t.Parallel()

	table := &Heuristics{
		Version:             2,
		UncertainConfidence: 0.55,
		ConflictMargin:      0.10,
		Subgenres: []SubgenreProfile{
			{Name: "ALPHA", Signals: map[string]SignalTarget{
				"subBassEnergy": {Ideal: 0.40, Tolerance: 0.50, Weight: 1},
			}},
			{Name: "BETA", Signals: map[string]SignalTarget{
				"subBassEnergy": {Ideal: 0.50, Tolerance: 0.50, Weight: 1},
			}},
		},
	}
	c := NewWithTable(table)

	cl := c.Classify(Signals{SubBassEnergy: ptr(0.45)})

	assert.Equal(t, "ALPHA", cl.Primary, "ties break alphabetically")
	assert.True(t, cl.ConflictingSignals)
	assert.False(t, cl.IsUncertain)
	assert.InDelta(t, 0.9, cl.Confidence, 1e-4)
}

func TestRiskWeightsBySubgenre(t *testing.T) {
	t.Parallel()

	c, err := New(nil)
	require.NoError(t, err)

	w := c.RiskWeights(Classification{Primary: "TRAP"})
	assert.InDelta(t, 1.3, w.Of("masking"), 1e-9)
	assert.InDelta(t, 0.5, w.Of("lofiAesthetic"), 1e-9)
	assert.Len(t, w, len(RiskKinds))

	neutral := c.RiskWeights(Classification{Primary: SubgenreUnknown})
	for _, kind := range RiskKinds {
		assert.InDelta(t, 1.0, neutral.Of(kind), 1e-9, kind)
	}
}

func TestWeightedConfidence(t *testing.T) {
	t.Parallel()

	flat := Weights{}
	neutralOnly := WeightedConfidence(Risks{}, flat)
	assert.InDelta(t, 0.3, neutralOnly.AggregateRisk, 1e-4)
	assert.InDelta(t, 0.7, neutralOnly.Confidence, 1e-4)

	risks := Risks{Clipping: ptr(0.8)}
	summary := WeightedConfidence(risks, flat)
	assert.InDelta(t, 0.3625, summary.AggregateRisk, 1e-4)
	assert.InDelta(t, 0.6375, summary.Confidence, 1e-4)
	assert.InDelta(t, 0.8, summary.WeightedRisks["clipping"], 1e-4)

	emphasized := WeightedConfidence(risks, Weights{"clipping": 2})
	assert.InDelta(t, 0.4111, emphasized.AggregateRisk, 1e-4)
	assert.InDelta(t, 1.6, emphasized.WeightedRisks["clipping"], 1e-4)
	assert.Greater(t, emphasized.AggregateRisk, summary.AggregateRisk,
		"upweighting a hot risk must raise the aggregate")
}
