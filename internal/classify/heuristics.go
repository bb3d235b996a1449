package classify

import (
	_ "embed"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/audiolens/masterqc/internal/errors"
)

//go:embed heuristics.yaml
var defaultHeuristics []byte

// heuristicsVersion is the only schema accepted by the loader. Earlier
// tables used a split v1 rule vocabulary; those must be migrated.
const heuristicsVersion = 2

// SignalTarget describes one subgenre's expectation for a signal: the
// ideal value, how far off it may drift before contributing nothing, and
// its weight relative to the other signals of the profile.
type SignalTarget struct {
	Ideal     float64 `yaml:"ideal" json:"ideal"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	Weight    float64 `yaml:"weight" json:"weight"`
}

// SubgenreProfile is one row of the heuristics table.
type SubgenreProfile struct {
	Name       string                  `yaml:"name" json:"name"`
	MixBalance string                  `yaml:"mixBalance" json:"mixBalance,omitempty"`
	Signals    map[string]SignalTarget `yaml:"signals" json:"signals"`
	Risks      map[string]float64      `yaml:"risks" json:"risks"`
}

// Heuristics is the config-driven classification table.
type Heuristics struct {
	Version             int               `yaml:"version" json:"version"`
	UncertainConfidence float64           `yaml:"uncertainConfidence" json:"uncertainConfidence"`
	ConflictMargin      float64           `yaml:"conflictMargin" json:"conflictMargin"`
	Subgenres           []SubgenreProfile `yaml:"subgenres" json:"subgenres"`
}

// LoadHeuristics reads a heuristics table from path, or the embedded
// default table when path is empty.
func LoadHeuristics(path string) (*Heuristics, error) {
	raw := defaultHeuristics
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New(err).
				Component("classify").
				Category(errors.CategoryFileIO).
				FileContext(path, 0).
				Build()
		}
		raw = data
	}

	var h Heuristics
	if err := yaml.Unmarshal(raw, &h); err != nil {
		return nil, errors.New(err).
			Component("classify").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

func (h *Heuristics) validate() error {
	if h.Version != heuristicsVersion {
		return errors.Newf("heuristics schema version %d, want %d", h.Version, heuristicsVersion).
			Component("classify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if len(h.Subgenres) == 0 {
		return errors.Newf("heuristics table has no subgenres").
			Component("classify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if h.UncertainConfidence <= 0 {
		h.UncertainConfidence = 0.55
	}
	if h.ConflictMargin <= 0 {
		h.ConflictMargin = 0.10
	}

	seen := make(map[string]bool, len(h.Subgenres))
	for i := range h.Subgenres {
		p := &h.Subgenres[i]
		if p.Name == "" {
			return errors.Newf("heuristics subgenre %d has no name", i).
				Component("classify").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if seen[p.Name] {
			return errors.Newf("duplicate heuristics subgenre %s", p.Name).
				Component("classify").
				Category(errors.CategoryConfiguration).
				Build()
		}
		seen[p.Name] = true

		if p.MixBalance != "" && p.MixBalance != MixVocalDominant &&
			p.MixBalance != MixBeatDominant && p.MixBalance != MixBalanced {
			return errors.Newf("subgenre %s: unknown mixBalance %q", p.Name, p.MixBalance).
				Component("classify").
				Category(errors.CategoryConfiguration).
				Build()
		}
		for name, target := range p.Signals {
			if !knownSignal(name) {
				return errors.Newf("subgenre %s: unknown signal %q", p.Name, name).
					Component("classify").
					Category(errors.CategoryConfiguration).
					Build()
			}
			if target.Tolerance <= 0 {
				target.Tolerance = 0.25
			}
			if target.Weight <= 0 {
				target.Weight = 1
			}
			p.Signals[name] = target
		}
		for kind := range p.Risks {
			if !knownRiskKind(kind) {
				return errors.Newf("subgenre %s: unknown risk kind %q", p.Name, kind).
					Component("classify").
					Category(errors.CategoryConfiguration).
					Build()
			}
		}
	}
	return nil
}

// Profile returns the row for a subgenre name, or nil.
func (h *Heuristics) Profile(name string) *SubgenreProfile {
	for i := range h.Subgenres {
		if h.Subgenres[i].Name == name {
			return &h.Subgenres[i]
		}
	}
	return nil
}
