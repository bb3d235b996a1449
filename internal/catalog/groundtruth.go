package catalog

import (
	"encoding/json"
	"os"

	"github.com/audiolens/masterqc/internal/errors"
)

// Expectation is one ground-truth entry: the subgenre a file is known to be,
// and how confident the labeler was.
type Expectation struct {
	Subgenre   string  `json:"subgenre"`
	Confidence float64 `json:"confidence"`
}

// GroundTruth maps file base names to their expected classification.
type GroundTruth map[string]Expectation

// LoadGroundTruth reads a ground-truth JSON map from disk.
func LoadGroundTruth(path string) (GroundTruth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	var gt GroundTruth
	if err := json.Unmarshal(data, &gt); err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryParsing).
			FileContext(path, 0).
			Build()
	}
	return gt, nil
}

// Lookup finds the expectation for a file base name.
func (g GroundTruth) Lookup(file string) (Expectation, bool) {
	if g == nil {
		return Expectation{}, false
	}
	exp, ok := g[file]
	return exp, ok
}
