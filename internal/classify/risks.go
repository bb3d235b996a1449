package classify

import "math"

// NeutralRisk substitutes for any risk the measurement layer left absent.
const NeutralRisk = 0.3

// RiskKinds is the canonical risk vocabulary in evaluation order.
var RiskKinds = []string{
	"masking",
	"clipping",
	"translation",
	"phaseCollapse",
	"overCompression",
	"vocalIntelligibility",
	"artifact",
	"lofiAesthetic",
}

func knownRiskKind(kind string) bool {
	for _, k := range RiskKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Risks are failure-mode likelihoods in [0,1]. nil fields read as the
// neutral 0.3: unlike signals, an unmeasured risk still participates in
// weighting so a sparse analysis cannot claim full confidence.
type Risks struct {
	Masking              *float64 `json:"maskingRisk,omitempty"`
	Clipping             *float64 `json:"clippingRisk,omitempty"`
	Translation          *float64 `json:"translationRisk,omitempty"`
	PhaseCollapse        *float64 `json:"phaseCollapseRisk,omitempty"`
	OverCompression      *float64 `json:"overCompressionRisk,omitempty"`
	VocalIntelligibility *float64 `json:"vocalIntelligibilityRisk,omitempty"`
	Artifact             *float64 `json:"artifactRisk,omitempty"`
	LofiAesthetic        *float64 `json:"lofiAestheticRisk,omitempty"`
}

// Value returns the named risk, or NeutralRisk when absent.
func (r Risks) Value(kind string) float64 {
	var p *float64
	switch kind {
	case "masking":
		p = r.Masking
	case "clipping":
		p = r.Clipping
	case "translation":
		p = r.Translation
	case "phaseCollapse":
		p = r.PhaseCollapse
	case "overCompression":
		p = r.OverCompression
	case "vocalIntelligibility":
		p = r.VocalIntelligibility
	case "artifact":
		p = r.Artifact
	case "lofiAesthetic":
		p = r.LofiAesthetic
	}
	if p == nil {
		return NeutralRisk
	}
	return *p
}

// Weights scale risks per subgenre; kinds not listed weigh 1.0.
type Weights map[string]float64

// Of returns the weight for a risk kind, defaulting to 1.0.
func (w Weights) Of(kind string) float64 {
	if v, ok := w[kind]; ok && v > 0 {
		return v
	}
	return 1.0
}

// RiskWeights returns the weight vector for a classification's primary
// subgenre. Unknown subgenres get an explicit all-ones vector.
func (c *Classifier) RiskWeights(cl Classification) Weights {
	w := make(Weights, len(RiskKinds))
	profile := c.table.Profile(cl.Primary)
	for _, kind := range RiskKinds {
		w[kind] = 1.0
		if profile != nil {
			if v, ok := profile.Risks[kind]; ok && v > 0 {
				w[kind] = v
			}
		}
	}
	return w
}

// RiskSummary is the weighted roll-up of a risk vector.
type RiskSummary struct {
	WeightedRisks map[string]float64 `json:"weightedRisks"`
	AggregateRisk float64            `json:"aggregateRisk"`
	Confidence    float64            `json:"confidence"`
}

// WeightedConfidence scales each risk by its subgenre weight and collapses
// the vector into an aggregate risk and its complementary confidence.
// The aggregate is the weighted mean of the raw risks, clamped to [0,1].
func WeightedConfidence(risks Risks, weights Weights) RiskSummary {
	weighted := make(map[string]float64, len(RiskKinds))
	var num, den float64
	for _, kind := range RiskKinds {
		v := risks.Value(kind)
		w := weights.Of(kind)
		weighted[kind] = math.Round(v*w*10000) / 10000
		num += v * w
		den += w
	}
	aggregate := 0.0
	if den > 0 {
		aggregate = num / den
	}
	if aggregate < 0 {
		aggregate = 0
	} else if aggregate > 1 {
		aggregate = 1
	}
	return RiskSummary{
		WeightedRisks: weighted,
		AggregateRisk: math.Round(aggregate*10000) / 10000,
		Confidence:    math.Round((1-aggregate)*10000) / 10000,
	}
}
