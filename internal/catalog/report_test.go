package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolens/masterqc/internal/classify"
)

func TestConfidenceTier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		confidence float64
		tier       string
	}{
		{0.95, TierHigh},
		{0.85, TierHigh},
		{0.84, TierGood},
		{0.70, TierGood},
		{0.69, TierModerate},
		{0.55, TierModerate},
		{0.54, TierLow},
		{0.40, TierLow},
		{0.39, TierVeryLow},
		{0, TierVeryLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.tier, ConfidenceTier(tc.confidence), "confidence %.2f", tc.confidence)
	}
}

func TestAggregateWithoutGroundTruth(t *testing.T) {
	t.Parallel()

	results := []FileResult{
		{File: "a.wav", Path: "/c/a.wav", Subgenre: "techno_peak", Confidence: 0.9, Tier: TierHigh},
		{File: "b.wav", Path: "/c/b.wav", Error: "decode failed", Subgenre: classify.SubgenreUnknown, Tier: TierVeryLow},
		{File: "c.wav", Path: "/c/c.wav", Subgenre: "deep_dub", Confidence: 0.5, Tier: TierLow,
			Issues: []Issue{{Source: "phase", Detail: "wide channel decorrelation"}}},
		{File: "d.wav", Path: "/c/d.wav", Subgenre: "trap_808", Confidence: 0.3, Tier: TierVeryLow},
	}

	report := aggregate("/c", 6, results, 1500*time.Millisecond)

	assert.Equal(t, "/c", report.Catalog)
	assert.Equal(t, 6, report.Scanned)
	assert.Equal(t, 4, report.Sampled)
	assert.Equal(t, 3, report.Analyzed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, int64(1500), report.DurationMs)
	assert.False(t, report.GeneratedAt.IsZero())

	assert.Nil(t, report.Accuracy, "no ground truth, no accuracy block")
	assert.Nil(t, report.PerSubgenreAccuracy)
	assert.Empty(t, report.Misclassified)
	assert.Equal(t, map[string]int{"phase": 1}, report.IssueCounts)

	require.Len(t, report.LowConfidence, 2)
	assert.Equal(t, "d.wav", report.LowConfidence[0].File, "lowest confidence first")
	assert.Equal(t, "c.wav", report.LowConfidence[1].File)
}

func TestWriteReports(t *testing.T) {
	t.Parallel()

	exact := true
	results := []FileResult{
		{File: "a.wav", Path: "/c/a.wav", Subgenre: "techno_peak", Confidence: 0.92, Tier: TierHigh,
			Expected: "techno_peak", ExactMatch: &exact, Top3Match: &exact},
	}
	report := aggregate("/c", 1, results, time.Second)

	out := filepath.Join(t.TempDir(), "validation")
	summaryPath, fullPath, err := report.Write(out)
	require.NoError(t, err)
	assert.Equal(t, out+".json", summaryPath)
	assert.Equal(t, out+".full.json", fullPath)

	raw, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.NotContains(t, summary, "files", "summary stays per-catalog, not per-file")
	assert.EqualValues(t, 1, summary["analyzed"])

	raw, err = os.ReadFile(fullPath)
	require.NoError(t, err)
	var full Report
	require.NoError(t, json.Unmarshal(raw, &full))
	require.Len(t, full.Files, 1)
	assert.Equal(t, "a.wav", full.Files[0].File)
	assert.Equal(t, report.Analyzed, full.Analyzed)
	require.NotNil(t, full.Accuracy)
	assert.Equal(t, 1, full.Accuracy.Exact)
	assert.InDelta(t, 1.0, full.Accuracy.ExactRate, 1e-9)
}

func TestWriteBadPath(t *testing.T) {
	t.Parallel()

	report := aggregate("/c", 0, nil, 0)
	_, _, err := report.Write(filepath.Join(t.TempDir(), "missing", "out.json"))
	require.Error(t, err)
}
