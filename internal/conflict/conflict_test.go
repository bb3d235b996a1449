package conflict

import (
	"strings"
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

func findConflict(conflicts []Conflict, ruleID string) *Conflict {
	for i := range conflicts {
		if conflicts[i].RuleID == ruleID {
			return &conflicts[i]
		}
	}
	return nil
}

func TestDetectConflictsEqBoostVsLimiter(t *testing.T) {
	t.Parallel()

	params := Params{"eqBoostMax": 9.0, "limiterThreshold": -1.0}

	conflicts := DetectConflicts(params)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "EQ_BOOST_LIMITING", conflicts[0].RuleID)
	assert.Equal(t, SeverityHigh, conflicts[0].Severity)
	assert.ElementsMatch(t, []string{"eqBoostMax", "limiterThreshold"}, conflicts[0].Parameters)
	assert.Contains(t, conflicts[0].Message, "9.0 dB")

	res := SuggestResolutions(params, conflicts)
	assert.Equal(t, 6.0, res.Suggestions["eqBoostMax"])
	assert.Equal(t, -6.0, res.Suggestions["limiterThreshold"])
	assert.Equal(t, 1, res.ResolvedConflictCount)
}

func TestDetectConflictsEqBoostSeverityLadder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		boost     float64
		threshold float64
		want      Severity
	}{
		{"within margin", 4.9, -1.0, ""},
		{"low", 6.0, -1.0, SeverityLow},
		{"medium", 7.0, -1.0, SeverityMedium},
		{"high", 9.0, -1.0, SeverityHigh},
		{"blocking", 13.0, -1.0, SeverityBlocking},
		{"blocking at zero threshold", 12.0, 0.0, SeverityBlocking},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conflicts := DetectConflicts(Params{
				"eqBoostMax":       tc.boost,
				"limiterThreshold": tc.threshold,
			})
			if tc.want == "" {
				assert.Empty(t, conflicts)
				return
			}
			require.Len(t, conflicts, 1)
			assert.Equal(t, tc.want, conflicts[0].Severity)
		})
	}
}

func TestDetectConflictsNormalizesAliases(t *testing.T) {
	t.Parallel()

	conflicts := DetectConflicts(Params{"eq_boost": 9.0, "limiter_threshold": -1.0})
	require.Len(t, conflicts, 1)
	assert.Equal(t, "EQ_BOOST_LIMITING", conflicts[0].RuleID)
	assert.Equal(t, SeverityHigh, conflicts[0].Severity)
}

func TestNormalizeCanonicalKeyWins(t *testing.T) {
	t.Parallel()

	normalized := Normalize(Params{
		"eq_boost":   2.0,
		"eqBoostMax": 9.0,
		"custom":     "kept",
	})
	assert.Equal(t, 9.0, normalized["eqBoostMax"])
	assert.Equal(t, "kept", normalized["custom"])
	assert.NotContains(t, normalized, "eq_boost")
}

func TestMergeLaterMapsWin(t *testing.T) {
	t.Parallel()

	analysis := map[string]any{"integratedLufs": -20.0, "truePeakDb": -0.5}
	intent := map[string]any{"targetLufs": -14.0, "truePeakDb": -1.0}
	proposed := map[string]any{"targetLufs": -9.0}

	merged := Merge(analysis, intent, proposed)
	assert.Equal(t, -9.0, merged["targetLufs"])
	assert.Equal(t, -1.0, merged["truePeakDb"])
	assert.Equal(t, -20.0, merged["integratedLufs"])
}

func TestDetectConflictsSortsBlockingFirst(t *testing.T) {
	t.Parallel()

	conflicts := DetectConflicts(Params{
		"clipSeverity":     "EXTREME",
		"eqBoostMax":       9.0,
		"limiterThreshold": -1.0,
		"outputBitDepth":   24,
		"dither":           true,
	})
	require.Len(t, conflicts, 3)
	assert.Equal(t, "CLIPPED_SOURCE_BOOST", conflicts[0].RuleID)
	assert.Equal(t, SeverityBlocking, conflicts[0].Severity)
	assert.Equal(t, "EQ_BOOST_LIMITING", conflicts[1].RuleID)
	assert.Equal(t, SeverityHigh, conflicts[1].Severity)
	assert.Equal(t, "REDUNDANT_DITHER", conflicts[2].RuleID)
	assert.Equal(t, SeverityLow, conflicts[2].Severity)

	for i := 1; i < len(conflicts); i++ {
		assert.LessOrEqual(t, conflicts[i].Severity.Rank(), conflicts[i-1].Severity.Rank())
	}
}

func TestSuggestResolutionsMostSevereWinsOverlap(t *testing.T) {
	t.Parallel()

	params := Params{
		"clipSeverity":     "EXTREME",
		"eqBoostMax":       9.0,
		"limiterThreshold": -1.0,
	}
	conflicts := DetectConflicts(params)
	require.Len(t, conflicts, 2)

	res := SuggestResolutions(params, conflicts)
	// CLIPPED_SOURCE_BOOST is blocking, so its zero boost beats the
	// limiter rule's clamp to 6.
	assert.Equal(t, 0.0, res.Suggestions["eqBoostMax"])
	assert.Equal(t, -6.0, res.Suggestions["limiterThreshold"])
	assert.Equal(t, 2, res.ResolvedConflictCount)
}

func TestSuggestResolutionsEmptyInput(t *testing.T) {
	t.Parallel()

	res := SuggestResolutions(Params{"eqBoostMax": 2.0}, nil)
	assert.Empty(t, res.Suggestions)
	assert.Zero(t, res.ResolvedConflictCount)
}

func TestValidateParameters(t *testing.T) {
	t.Parallel()

	t.Run("clean", func(t *testing.T) {
		t.Parallel()
		v := ValidateParameters(Params{"eqBoostMax": 2.0, "limiterThreshold": -6.0})
		assert.True(t, v.IsValid)
		assert.False(t, v.HasErrors)
		assert.False(t, v.HasWarnings)
		assert.Empty(t, v.Conflicts)
		assert.Empty(t, v.Recommendations)
	})

	t.Run("warning only", func(t *testing.T) {
		t.Parallel()
		v := ValidateParameters(Params{"outputBitDepth": 24, "dither": true})
		assert.True(t, v.IsValid)
		assert.False(t, v.HasErrors)
		assert.True(t, v.HasWarnings)
		require.Len(t, v.Recommendations, 1)
		assert.Contains(t, v.Recommendations[0], "dither=false")
	})

	t.Run("high severity is an error but still valid", func(t *testing.T) {
		t.Parallel()
		v := ValidateParameters(Params{"eqBoostMax": 9.0, "limiterThreshold": -1.0})
		assert.True(t, v.IsValid)
		assert.True(t, v.HasErrors)
		assert.False(t, v.HasWarnings)
		require.Len(t, v.Recommendations, 1)
		assert.Contains(t, v.Recommendations[0], "eqBoostMax=6")
		assert.Contains(t, v.Recommendations[0], "limiterThreshold=-6")
	})

	t.Run("blocking invalidates", func(t *testing.T) {
		t.Parallel()
		v := ValidateParameters(Params{"clipSeverity": "EXTREME", "eqBoostMax": 3.0})
		assert.False(t, v.IsValid)
		assert.True(t, v.HasErrors)
	})
}

func TestBlockingError(t *testing.T) {
	t.Parallel()

	clean := DetectConflicts(Params{"eqBoostMax": 9.0, "limiterThreshold": -1.0})
	assert.NoError(t, BlockingError(clean))

	blocked := DetectConflicts(Params{"clipSeverity": "EXTREME", "eqBoostMax": 3.0})
	err := BlockingError(blocked)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLIPPED_SOURCE_BOOST")
}

func TestEachRuleFiresInIsolation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		params Params
		ruleID string
		want   Severity
	}{
		{"clipped source severe", Params{"clipSeverity": "SEVERE", "eqBoostMax": 2.0}, "CLIPPED_SOURCE_BOOST", SeverityHigh},
		{"clipped source moderate", Params{"clipSeverity": "MODERATE", "eqBoostMax": 1.0}, "CLIPPED_SOURCE_BOOST", SeverityMedium},
		{"gain blocking", Params{"gainDb": 2.5, "truePeakDb": -0.5}, "GAIN_INTO_HOT_PEAKS", SeverityBlocking},
		{"gain high", Params{"gainDb": 1.2, "truePeakDb": -1.0}, "GAIN_INTO_HOT_PEAKS", SeverityHigh},
		{"gain medium", Params{"gainDb": 0.5, "truePeakDb": -0.9}, "GAIN_INTO_HOT_PEAKS", SeverityMedium},
		{"loudness push blocking", Params{"targetLufs": -6.0, "integratedLufs": -21.0}, "LOUDNESS_PUSH_EXCESSIVE", SeverityBlocking},
		{"loudness push high", Params{"targetLufs": -8.0, "integratedLufs": -20.0}, "LOUDNESS_PUSH_EXCESSIVE", SeverityHigh},
		{"loudness push medium", Params{"targetLufs": -9.0, "integratedLufs": -19.0}, "LOUDNESS_PUSH_EXCESSIVE", SeverityMedium},
		{"loudness push low", Params{"targetLufs": -10.0, "integratedLufs": -18.0}, "LOUDNESS_PUSH_EXCESSIVE", SeverityLow},
		{"transient crush high", Params{"attackMs": 0.2, "compressionRatio": 10.0}, "TRANSIENT_CRUSH", SeverityHigh},
		{"transient crush medium", Params{"attackMs": 0.8, "compressionRatio": 8.0}, "TRANSIENT_CRUSH", SeverityMedium},
		{"widen anticorrelated", Params{"stereoWidenAmount": 0.4, "correlation": -0.1}, "WIDEN_DECORRELATED", SeverityHigh},
		{"widen hard", Params{"stereoWidenAmount": 0.7, "correlation": 0.1}, "WIDEN_DECORRELATED", SeverityHigh},
		{"widen mild", Params{"stereoWidenAmount": 0.4, "correlation": 0.1}, "WIDEN_DECORRELATED", SeverityMedium},
		{"sub boost heavy", Params{"subBoostDb": 7.0, "monoBelowHz": 0.0}, "SUB_BOOST_NO_MONO_FOLD", SeverityHigh},
		{"sub boost mild", Params{"subBoostDb": 4.0, "monoBelowHz": 40.0}, "SUB_BOOST_NO_MONO_FOLD", SeverityMedium},
		{"intent contradiction", Params{"presetIntent": "preserve_dynamics", "compressionRatio": 8.0}, "INTENT_DYNAMICS_CONTRADICTION", SeverityHigh},
		{"lossy ceiling high", Params{"outputFormat": "mp3", "ceilingDb": -0.5}, "LOSSY_CEILING_OVERSHOOT", SeverityHigh},
		{"lossy ceiling medium", Params{"outputFormat": "aac", "ceilingDb": -1.5}, "LOSSY_CEILING_OVERSHOOT", SeverityMedium},
		{"redundant dither", Params{"outputBitDepth": 32, "dither": true}, "REDUNDANT_DITHER", SeverityLow},
		{"widen dual mono", Params{"stereoWidenAmount": 0.2, "topology": "DUAL_MONO"}, "WIDEN_NON_STEREO", SeverityMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conflicts := DetectConflicts(tc.params)
			require.Len(t, conflicts, 1, "expected exactly one conflict")
			assert.Equal(t, tc.ruleID, conflicts[0].RuleID)
			assert.Equal(t, tc.want, conflicts[0].Severity)
			assert.NotEmpty(t, conflicts[0].Message)

			res := SuggestResolutions(tc.params, conflicts)
			assert.Equal(t, 1, res.ResolvedConflictCount,
				"suggestion for %s must clear its own rule", tc.ruleID)
		})
	}
}

func TestMultichannelWidenIsNotAConflict(t *testing.T) {
	t.Parallel()

	conflicts := DetectConflicts(Params{"stereoWidenAmount": 0.2, "topology": "MULTICHANNEL"})
	assert.Empty(t, conflicts)
}

func TestConditionOperators(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		cond   Condition
		params Params
		want   bool
	}{
		{"gt holds", Condition{Param: "x", Op: OpGT, Value: 1.0}, Params{"x": 2.0}, true},
		{"gt boundary fails", Condition{Param: "x", Op: OpGT, Value: 1.0}, Params{"x": 1.0}, false},
		{"gte boundary holds", Condition{Param: "x", Op: OpGTE, Value: 1.0}, Params{"x": 1.0}, true},
		{"lt holds", Condition{Param: "x", Op: OpLT, Value: 1.0}, Params{"x": 0.5}, true},
		{"lte boundary holds", Condition{Param: "x", Op: OpLTE, Value: 1.0}, Params{"x": 1.0}, true},
		{"absent param never holds", Condition{Param: "x", Op: OpGT, Value: 1.0}, Params{}, false},
		{"non numeric comparison fails", Condition{Param: "x", Op: OpGT, Value: 1.0}, Params{"x": "loud"}, false},
		{"eq int against float", Condition{Param: "x", Op: OpEQ, Value: 24.0}, Params{"x": 24}, true},
		{"eq string", Condition{Param: "x", Op: OpEQ, Value: "mp3"}, Params{"x": "mp3"}, true},
		{"neq", Condition{Param: "x", Op: OpNEQ, Value: "STEREO"}, Params{"x": "MONO"}, true},
		{"in strings", Condition{Param: "x", Op: OpIn, Value: []any{"mp3", "aac"}}, Params{"x": "aac"}, true},
		{"in miss", Condition{Param: "x", Op: OpIn, Value: []any{"mp3", "aac"}}, Params{"x": "wav"}, false},
		{"in numbers", Condition{Param: "x", Op: OpIn, Value: []any{24, 32}}, Params{"x": 24.0}, true},
		{"customGap holds", Condition{Param: "x", Op: OpCustomGap, Value: 4.0, Other: "y"}, Params{"x": 9.0, "y": -1.0}, true},
		{"customGap safe pair", Condition{Param: "x", Op: OpCustomGap, Value: 4.0, Other: "y"}, Params{"x": 6.0, "y": -6.0}, false},
		{"customGap missing other", Condition{Param: "x", Op: OpCustomGap, Value: 4.0, Other: "y"}, Params{"x": 9.0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.cond.holds(tc.params))
		})
	}
}

func TestCatalogShape(t *testing.T) {
	t.Parallel()

	rules := Rules()
	require.NotEmpty(t, rules)

	seen := make(map[string]bool)
	for _, r := range rules {
		assert.NotEmpty(t, r.ID)
		assert.False(t, seen[r.ID], "duplicate rule id %s", r.ID)
		seen[r.ID] = true
		assert.NotEmpty(t, r.Name)
		assert.NotEmpty(t, r.Conditions, "%s needs conditions", r.ID)
		assert.NotNil(t, r.Severity, "%s needs a severity function", r.ID)
		assert.NotNil(t, r.Message, "%s needs a message function", r.ID)
		assert.NotEmpty(t, r.Suggest, "%s needs a safe substitution", r.ID)
		assert.Equal(t, strings.ToUpper(r.ID), r.ID)

		// Conditions and suggestions must use canonical names, never aliases.
		for _, c := range r.Conditions {
			_, isAlias := aliases[c.Param]
			assert.False(t, isAlias, "%s condition uses alias %s", r.ID, c.Param)
			if c.Other != "" {
				_, isAlias := aliases[c.Other]
				assert.False(t, isAlias, "%s condition uses alias %s", r.ID, c.Other)
			}
		}
		for k := range r.Suggest {
			_, isAlias := aliases[k]
			assert.False(t, isAlias, "%s suggestion uses alias %s", r.ID, k)
		}
	}
}
