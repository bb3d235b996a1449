// Package classify turns analyzer signals into a subgenre classification
// and resolves it against a priority-ordered decision rule set. The engine
// emits named processing constraints with reasons; it never chooses
// presets or DSP parameters itself.
package classify

import (
	"log/slog"
	"math"
	"sort"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/logging"
)

// Mix balance vocabulary.
const (
	MixVocalDominant = "vocal-dominant"
	MixBeatDominant  = "beat-dominant"
	MixBalanced      = "balanced"
)

// SubgenreUnknown is the primary when no signal supports any profile.
const SubgenreUnknown = "UNKNOWN"

// mixBalanceWeight is the scoring weight of a matching mix balance,
// relative to the per-signal weights of a profile.
const mixBalanceWeight = 1.0

// Signals are measurement-derived inputs to classification. Scalar fields
// are normalized to [0,1]; nil means the underlying measurement failed or
// was not attempted, and profiles skip absent signals when scoring.
type Signals struct {
	SubBassEnergy    *float64 `json:"subBassEnergy,omitempty"`
	TransientDensity *float64 `json:"transientDensity,omitempty"`
	DynamicRange     *float64 `json:"dynamicRange,omitempty"`
	StereoWidth      *float64 `json:"stereoWidth,omitempty"`
	MixBalance       string   `json:"mixBalance,omitempty"`
	VinylNoise       *float64 `json:"vinylNoise,omitempty"`
	ReverbDecay      *float64 `json:"reverbDecay,omitempty"`
	HighFreqRolloff  *float64 `json:"highFreqRolloff,omitempty"`
	Distortion       *float64 `json:"distortion,omitempty"`
}

// signalNames is the canonical scoring order. Iterating this slice rather
// than the profile map keeps floating-point accumulation deterministic.
var signalNames = []string{
	"subBassEnergy",
	"transientDensity",
	"dynamicRange",
	"stereoWidth",
	"vinylNoise",
	"reverbDecay",
	"highFreqRolloff",
	"distortion",
}

func knownSignal(name string) bool {
	for _, n := range signalNames {
		if n == name {
			return true
		}
	}
	return false
}

// Value returns the named scalar signal and whether it is present.
func (s Signals) Value(name string) (float64, bool) {
	var p *float64
	switch name {
	case "subBassEnergy":
		p = s.SubBassEnergy
	case "transientDensity":
		p = s.TransientDensity
	case "dynamicRange":
		p = s.DynamicRange
	case "stereoWidth":
		p = s.StereoWidth
	case "vinylNoise":
		p = s.VinylNoise
	case "reverbDecay":
		p = s.ReverbDecay
	case "highFreqRolloff":
		p = s.HighFreqRolloff
	case "distortion":
		p = s.Distortion
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Candidate is one scored subgenre.
type Candidate struct {
	Subgenre string  `json:"subgenre"`
	Score    float64 `json:"score"`
}

// Classification is the scored outcome over the heuristics table.
type Classification struct {
	Primary            string             `json:"primary"`
	Confidence         float64            `json:"confidence"`
	IsUncertain        bool               `json:"isUncertain"`
	ConflictingSignals bool               `json:"conflictingSignals"`
	TopCandidates      []Candidate        `json:"topCandidates"`
	Likelihoods        map[string]float64 `json:"likelihoods"`
}

// Classifier scores signals against a heuristics table.
type Classifier struct {
	table  *Heuristics
	logger *slog.Logger
}

// New builds a classifier from the active settings, falling back to the
// embedded heuristics table when no file is configured.
func New(settings *conf.Settings) (*Classifier, error) {
	path := ""
	if settings != nil {
		path = settings.Classify.HeuristicsFile
	}
	table, err := LoadHeuristics(path)
	if err != nil {
		return nil, err
	}
	return &Classifier{table: table, logger: logging.ForService("classify")}, nil
}

// NewWithTable builds a classifier over an explicit table.
func NewWithTable(table *Heuristics) *Classifier {
	return &Classifier{table: table, logger: logging.ForService("classify")}
}

// Table exposes the loaded heuristics table.
func (c *Classifier) Table() *Heuristics { return c.table }

// Classify scores the signals against every subgenre profile. Each present
// signal contributes weight·max(0, 1−|value−ideal|/tolerance); a matching
// mix balance contributes one full weight unit. Scores are normalized by
// the weight of the signals actually present, so a sparse measurement set
// ranks on what it has rather than being punished for gaps.
func (c *Classifier) Classify(signals Signals) Classification {
	likelihoods := make(map[string]float64, len(c.table.Subgenres))
	candidates := make([]Candidate, 0, len(c.table.Subgenres))

	for i := range c.table.Subgenres {
		profile := &c.table.Subgenres[i]
		score := scoreProfile(profile, signals)
		likelihoods[profile.Name] = score
		candidates = append(candidates, Candidate{Subgenre: profile.Name, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Subgenre < candidates[j].Subgenre
	})
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	cl := Classification{
		TopCandidates: candidates,
		Likelihoods:   likelihoods,
	}
	if len(candidates) == 0 || candidates[0].Score <= 0 {
		cl.Primary = SubgenreUnknown
		cl.IsUncertain = true
		c.logger.Debug("classification inconclusive", "candidates", len(candidates))
		return cl
	}

	cl.Primary = candidates[0].Subgenre
	cl.Confidence = candidates[0].Score
	cl.IsUncertain = cl.Confidence < c.table.UncertainConfidence
	if len(candidates) > 1 {
		margin := candidates[0].Score - candidates[1].Score
		cl.ConflictingSignals = margin < c.table.ConflictMargin
	}
	c.logger.Debug("classified signals",
		"primary", cl.Primary,
		"confidence", cl.Confidence,
		"uncertain", cl.IsUncertain,
		"conflicting", cl.ConflictingSignals)
	return cl
}

func scoreProfile(profile *SubgenreProfile, signals Signals) float64 {
	var num, den float64
	for _, name := range signalNames {
		target, ok := profile.Signals[name]
		if !ok {
			continue
		}
		value, present := signals.Value(name)
		if !present {
			continue
		}
		match := 1 - math.Abs(value-target.Ideal)/target.Tolerance
		if match < 0 {
			match = 0
		}
		num += target.Weight * match
		den += target.Weight
	}
	if profile.MixBalance != "" && signals.MixBalance != "" {
		den += mixBalanceWeight
		if signals.MixBalance == profile.MixBalance {
			num += mixBalanceWeight
		}
	}
	if den == 0 {
		return 0
	}
	return math.Round(num/den*10000) / 10000
}
