package catalog

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/audiolens/masterqc/internal/classify"
	"github.com/audiolens/masterqc/internal/errors"
)

// Confidence tiers, highest first.
const (
	TierHigh     = "HIGH"
	TierGood     = "GOOD"
	TierModerate = "MODERATE"
	TierLow      = "LOW"
	TierVeryLow  = "VERY_LOW"
)

// Tier thresholds; a confidence belongs to the highest tier it reaches.
const (
	tierHighMin     = 0.85
	tierGoodMin     = 0.70
	tierModerateMin = 0.55
	tierLowMin      = 0.40
)

// ConfidenceTier buckets a classification confidence.
func ConfidenceTier(c float64) string {
	switch {
	case c >= tierHighMin:
		return TierHigh
	case c >= tierGoodMin:
		return TierGood
	case c >= tierModerateMin:
		return TierModerate
	case c >= tierLowMin:
		return TierLow
	default:
		return TierVeryLow
	}
}

// Issue is one finding on one file, attributed to the analyzer or check
// that raised it.
type Issue struct {
	Source string `json:"source"`
	Detail string `json:"detail"`
}

// FileResult is the per-file outcome. Match fields stay nil when the file
// has no ground-truth entry, keeping unlabeled files out of the accuracy
// denominators.
type FileResult struct {
	File          string               `json:"file"`
	Path          string               `json:"path"`
	Subgenre      string               `json:"subgenre"`
	Confidence    float64              `json:"confidence"`
	Tier          string               `json:"tier"`
	TopCandidates []classify.Candidate `json:"topCandidates,omitempty"`
	Problems      int                  `json:"problems"`
	Issues        []Issue              `json:"issues,omitempty"`
	Expected      string               `json:"expected,omitempty"`
	ExactMatch    *bool                `json:"exactMatch,omitempty"`
	Top3Match     *bool                `json:"top3Match,omitempty"`
	DurationMs    int64                `json:"durationMs"`
	Error         string               `json:"error,omitempty"`
}

// SampleRef points at one notable file in the summary.
type SampleRef struct {
	File       string  `json:"file"`
	Subgenre   string  `json:"subgenre"`
	Expected   string  `json:"expected,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Accuracy aggregates ground-truth comparisons.
type Accuracy struct {
	Evaluated int     `json:"evaluated"`
	Exact     int     `json:"exact"`
	Top3      int     `json:"top3"`
	ExactRate float64 `json:"exactRate"`
	Top3Rate  float64 `json:"top3Rate"`
}

func (a *Accuracy) finish() {
	if a.Evaluated == 0 {
		return
	}
	a.ExactRate = float64(a.Exact) / float64(a.Evaluated)
	a.Top3Rate = float64(a.Top3) / float64(a.Evaluated)
}

// Summary is the catalog-level report without per-file results.
type Summary struct {
	Catalog              string               `json:"catalog"`
	GeneratedAt          time.Time            `json:"generatedAt"`
	Scanned              int                  `json:"scanned"`
	Sampled              int                  `json:"sampled"`
	Analyzed             int                  `json:"analyzed"`
	Failed               int                  `json:"failed"`
	SubgenreDistribution map[string]int       `json:"subgenreDistribution"`
	ConfidenceTiers      map[string]int       `json:"confidenceTiers"`
	Accuracy             *Accuracy            `json:"accuracy,omitempty"`
	PerSubgenreAccuracy  map[string]*Accuracy `json:"perSubgenreAccuracy,omitempty"`
	IssueCounts          map[string]int       `json:"issueCounts"`
	LowConfidence        []SampleRef          `json:"lowConfidence,omitempty"`
	Misclassified        []SampleRef          `json:"misclassified,omitempty"`
	DurationMs           int64                `json:"durationMs"`
}

// Report is the full validation outcome: the summary plus every per-file
// result.
type Report struct {
	Summary
	Files []FileResult `json:"files"`
}

// aggregate rolls per-file results up into the summary. Files that failed
// analysis count toward Failed and nothing else.
func aggregate(catalogPath string, scanned int, results []FileResult, elapsed time.Duration) *Report {
	s := Summary{
		Catalog:              catalogPath,
		GeneratedAt:          time.Now(),
		Scanned:              scanned,
		Sampled:              len(results),
		SubgenreDistribution: map[string]int{},
		ConfidenceTiers:      map[string]int{},
		IssueCounts:          map[string]int{},
		DurationMs:           elapsed.Milliseconds(),
	}

	var acc Accuracy
	perSub := map[string]*Accuracy{}
	for i := range results {
		fr := &results[i]
		if fr.Error != "" {
			s.Failed++
			continue
		}
		s.Analyzed++
		s.SubgenreDistribution[fr.Subgenre]++
		s.ConfidenceTiers[fr.Tier]++
		for _, issue := range fr.Issues {
			s.IssueCounts[issue.Source]++
		}
		if fr.Confidence < tierModerateMin {
			s.LowConfidence = append(s.LowConfidence, SampleRef{
				File:       fr.File,
				Subgenre:   fr.Subgenre,
				Expected:   fr.Expected,
				Confidence: fr.Confidence,
			})
		}
		if fr.ExactMatch == nil {
			continue
		}

		acc.Evaluated++
		sub := perSub[fr.Expected]
		if sub == nil {
			sub = &Accuracy{}
			perSub[fr.Expected] = sub
		}
		sub.Evaluated++
		if *fr.ExactMatch {
			acc.Exact++
			sub.Exact++
		} else {
			s.Misclassified = append(s.Misclassified, SampleRef{
				File:       fr.File,
				Subgenre:   fr.Subgenre,
				Expected:   fr.Expected,
				Confidence: fr.Confidence,
			})
		}
		if fr.Top3Match != nil && *fr.Top3Match {
			acc.Top3++
			sub.Top3++
		}
	}

	if acc.Evaluated > 0 {
		acc.finish()
		for _, sub := range perSub {
			sub.finish()
		}
		s.Accuracy = &acc
		s.PerSubgenreAccuracy = perSub
	}

	sort.Slice(s.LowConfidence, func(i, j int) bool {
		if s.LowConfidence[i].Confidence != s.LowConfidence[j].Confidence {
			return s.LowConfidence[i].Confidence < s.LowConfidence[j].Confidence
		}
		return s.LowConfidence[i].File < s.LowConfidence[j].File
	})
	sort.Slice(s.Misclassified, func(i, j int) bool {
		return s.Misclassified[i].File < s.Misclassified[j].File
	})

	return &Report{Summary: s, Files: results}
}

// Write persists the summary to outPath and the full report next to it
// under the .full.json suffix, returning both paths.
func (r *Report) Write(outPath string) (summaryPath, fullPath string, err error) {
	summaryPath = outPath
	if summaryPath == "" {
		summaryPath = "catalog-report.json"
	}
	if !strings.HasSuffix(summaryPath, ".json") {
		summaryPath += ".json"
	}
	fullPath = strings.TrimSuffix(summaryPath, ".json") + ".full.json"

	if err := writeJSON(summaryPath, r.Summary); err != nil {
		return "", "", err
	}
	if err := writeJSON(fullPath, r); err != nil {
		return "", "", err
	}
	return summaryPath, fullPath, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return nil
}
