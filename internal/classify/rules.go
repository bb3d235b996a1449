package classify

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/audiolens/masterqc/internal/logging"
)

// Rule categories.
const (
	CategoryLoudness    = "loudness"
	CategoryLowEnd      = "lowEnd"
	CategoryVocal       = "vocal"
	CategoryStereo      = "stereo"
	CategoryDynamics    = "dynamics"
	CategoryTranslation = "translation"
	CategoryUncertainty = "uncertainty"
)

// RuleContext carries everything a rule may inspect. Rules treat it as
// read-only.
type RuleContext struct {
	Signals        Signals
	Risks          Risks
	Classification Classification
	Summary        RiskSummary
}

// Action is a fired rule's output: one named constraint with a reason.
type Action struct {
	Constraint string
	Value      any
	Reason     string
}

// Rule is one decision rule. When and Then must be side-effect free;
// a panic in either is logged and the rule is skipped.
type Rule struct {
	ID           string
	Name         string
	Category     string
	Priority     int
	Overrideable bool
	When         func(*RuleContext) bool
	Then         func(*RuleContext) Action
}

// RuleResult records one fired rule.
type RuleResult struct {
	RuleID       string `json:"ruleId"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Constraint   string `json:"constraintName"`
	Value        any    `json:"value"`
	Reason       string `json:"reason"`
	Overrideable bool   `json:"overrideable"`
	Priority     int    `json:"priority"`
}

// Constraint is one entry of a ConstraintSet.
type Constraint struct {
	Value        any    `json:"value"`
	Reason       string `json:"reason"`
	SourceRuleID string `json:"sourceRuleId"`
	Overrideable bool   `json:"overrideable"`
}

// ConstraintSet maps constraint names to their first writer. Insertion is
// first-writer-wins: later rules never mutate an existing entry, so a
// lower-priority rule can only "relax" a decision by choosing a different
// constraint name.
type ConstraintSet map[string]Constraint

// Decision is the outcome of one rule evaluation pass.
type Decision struct {
	Constraints ConstraintSet `json:"constraints"`
	Order       []string      `json:"order"`
	Fired       []RuleResult  `json:"fired"`
}

// Binding returns the names of non-overrideable constraints, in insertion
// order. Callers are contractually bound by these.
func (d *Decision) Binding() []string {
	var out []string
	for _, name := range d.Order {
		if !d.Constraints[name].Overrideable {
			out = append(out, name)
		}
	}
	return out
}

// Engine evaluates a fixed rule list. Rules are flattened from their
// category groups and sorted once: priority descending, ties by ID, so
// evaluation order is total and repeat runs produce identical decisions.
type Engine struct {
	rules  []Rule
	logger *slog.Logger
}

// NewEngine builds an engine over the built-in rule set.
func NewEngine() *Engine {
	return NewEngineWithRules(builtinRules())
}

// NewEngineWithRules builds an engine over an explicit rule list.
func NewEngineWithRules(rules []Rule) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &Engine{rules: sorted, logger: logging.ForService("classify")}
}

// Rules returns the evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every rule against the context and collects constraints
// first-writer-wins. Rule panics are contained per rule.
func (e *Engine) Evaluate(ctx *RuleContext) *Decision {
	d := &Decision{Constraints: ConstraintSet{}}
	for i := range e.rules {
		rule := &e.rules[i]
		fired, action := e.apply(rule, ctx)
		if !fired {
			continue
		}
		d.Fired = append(d.Fired, RuleResult{
			RuleID:       rule.ID,
			Name:         rule.Name,
			Category:     rule.Category,
			Constraint:   action.Constraint,
			Value:        action.Value,
			Reason:       action.Reason,
			Overrideable: rule.Overrideable,
			Priority:     rule.Priority,
		})
		if _, exists := d.Constraints[action.Constraint]; exists {
			continue
		}
		d.Constraints[action.Constraint] = Constraint{
			Value:        action.Value,
			Reason:       action.Reason,
			SourceRuleID: rule.ID,
			Overrideable: rule.Overrideable,
		}
		d.Order = append(d.Order, action.Constraint)
	}
	return d
}

func (e *Engine) apply(rule *Rule, ctx *RuleContext) (fired bool, action Action) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("decision rule panicked, skipping",
				"rule", rule.ID,
				"category", rule.Category,
				"panic", fmt.Sprint(r))
			fired = false
		}
	}()
	if rule.When == nil || rule.Then == nil || !rule.When(ctx) {
		return false, Action{}
	}
	return true, rule.Then(ctx)
}

// EvaluateRules runs the built-in rule set against a context.
func EvaluateRules(ctx *RuleContext) *Decision {
	return NewEngine().Evaluate(ctx)
}

// above reports whether a signal is present and at or above a threshold.
func above(v *float64, threshold float64) bool {
	return v != nil && *v >= threshold
}

// below reports whether a signal is present and at or below a threshold.
func below(v *float64, threshold float64) bool {
	return v != nil && *v <= threshold
}

// builtinRules is the default decision catalog. Risk conditions read
// through Risks.Value so an unmeasured risk participates at the neutral
// level; signal conditions require the signal to be present.
func builtinRules() []Rule {
	return []Rule{
		{
			ID:       "loudness.true-peak-ceiling",
			Name:     "true peak ceiling under clipping risk",
			Category: CategoryLoudness,
			Priority: 95,
			When: func(ctx *RuleContext) bool {
				return ctx.Risks.Value("clipping") >= 0.6
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "truePeakCeilingDb",
					Value:      -1.0,
					Reason:     fmt.Sprintf("clipping risk %.2f requires a -1.0 dBTP ceiling", ctx.Risks.Value("clipping")),
				}
			},
		},
		{
			ID:           "loudness.limit-push",
			Name:         "cap loudness push on compressed material",
			Category:     CategoryLoudness,
			Priority:     85,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return ctx.Risks.Value("overCompression") >= 0.6
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "maxLoudnessPushDb",
					Value:      2.0,
					Reason:     fmt.Sprintf("over-compression risk %.2f leaves little headroom for further loudness", ctx.Risks.Value("overCompression")),
				}
			},
		},
		{
			ID:       "stereo.mono-compat",
			Name:     "mono compatibility check on phase risk",
			Category: CategoryStereo,
			Priority: 85,
			When: func(ctx *RuleContext) bool {
				return ctx.Risks.Value("phaseCollapse") >= 0.7
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "requireMonoCompatCheck",
					Value:      true,
					Reason:     fmt.Sprintf("phase collapse risk %.2f, fold-down must be verified", ctx.Risks.Value("phaseCollapse")),
				}
			},
		},
		{
			ID:           "lowEnd.mono-bass",
			Name:         "mono the low end of sub-heavy stereo mixes",
			Category:     CategoryLowEnd,
			Priority:     80,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return above(ctx.Signals.SubBassEnergy, 0.7) && ctx.Risks.Value("phaseCollapse") >= 0.5
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "monoBelowHz",
					Value:      120,
					Reason:     fmt.Sprintf("sub-bass energy %.2f with phase collapse risk %.2f", *ctx.Signals.SubBassEnergy, ctx.Risks.Value("phaseCollapse")),
				}
			},
		},
		{
			ID:           "lowEnd.sub-control",
			Name:         "cap additional sub boost",
			Category:     CategoryLowEnd,
			Priority:     75,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return above(ctx.Signals.SubBassEnergy, 0.85)
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "maxSubBoostDb",
					Value:      2.0,
					Reason:     fmt.Sprintf("sub-bass already carries %.2f of the spectrum", *ctx.Signals.SubBassEnergy),
				}
			},
		},
		{
			ID:           "dynamics.preserve-transients",
			Name:         "limit gain reduction on transient-rich material",
			Category:     CategoryDynamics,
			Priority:     75,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return above(ctx.Signals.TransientDensity, 0.7) && ctx.Risks.Value("overCompression") >= 0.4
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "maxGainReductionDb",
					Value:      4.0,
					Reason:     fmt.Sprintf("transient density %.2f would smear under heavy limiting", *ctx.Signals.TransientDensity),
				}
			},
		},
		{
			ID:           "vocal.presence-floor",
			Name:         "protect vocal presence band",
			Category:     CategoryVocal,
			Priority:     70,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return ctx.Signals.MixBalance == MixVocalDominant && ctx.Risks.Value("vocalIntelligibility") >= 0.5
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "vocalPresenceFloorDb",
					Value:      -1.5,
					Reason:     fmt.Sprintf("vocal-dominant mix with intelligibility risk %.2f", ctx.Risks.Value("vocalIntelligibility")),
				}
			},
		},
		{
			ID:           "dynamics.open-dynamics",
			Name:         "keep a minimum crest on flattened material",
			Category:     CategoryDynamics,
			Priority:     70,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return below(ctx.Signals.DynamicRange, 0.25)
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "minCrestFactorDb",
					Value:      6.0,
					Reason:     fmt.Sprintf("dynamic range %.2f is already flattened", *ctx.Signals.DynamicRange),
				}
			},
		},
		{
			ID:           "vocal.de-ess",
			Name:         "de-ess bright material with artifact risk",
			Category:     CategoryVocal,
			Priority:     65,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return ctx.Risks.Value("artifact") >= 0.6 && below(ctx.Signals.HighFreqRolloff, 0.3)
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "deEssStrength",
					Value:      "moderate",
					Reason:     fmt.Sprintf("bright top end with artifact risk %.2f", ctx.Risks.Value("artifact")),
				}
			},
		},
		{
			ID:           "translation.small-speaker",
			Name:         "verify small-speaker translation",
			Category:     CategoryTranslation,
			Priority:     65,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return ctx.Risks.Value("translation") >= 0.6
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "requireTranslationCheck",
					Value:      true,
					Reason:     fmt.Sprintf("translation risk %.2f across playback systems", ctx.Risks.Value("translation")),
				}
			},
		},
		{
			ID:           "translation.mid-clarity",
			Name:         "bounded mid clarity lift under masking",
			Category:     CategoryTranslation,
			Priority:     60,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return ctx.Risks.Value("masking") >= 0.7
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "midClarityBoostMaxDb",
					Value:      1.5,
					Reason:     fmt.Sprintf("masking risk %.2f, midrange needs room", ctx.Risks.Value("masking")),
				}
			},
		},
		{
			ID:           "stereo.width-cap",
			Name:         "no widening of already wide mixes",
			Category:     CategoryStereo,
			Priority:     60,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return above(ctx.Signals.StereoWidth, 0.8)
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "maxWidthBoost",
					Value:      0.0,
					Reason:     fmt.Sprintf("stereo width %.2f is at the usable limit", *ctx.Signals.StereoWidth),
				}
			},
		},
		{
			ID:       "dynamics.preserve-noise-floor",
			Name:     "protect deliberate lo-fi texture",
			Category: CategoryDynamics,
			Priority: 55,
			When: func(ctx *RuleContext) bool {
				return ctx.Risks.Value("lofiAesthetic") >= 0.6 || above(ctx.Signals.VinylNoise, 0.5)
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "preserveNoiseFloor",
					Value:      true,
					Reason:     "noise floor is part of the aesthetic, denoising would damage it",
				}
			},
		},
		{
			ID:       "uncertainty.conservative",
			Name:     "conservative processing on uncertain classification",
			Category: CategoryUncertainty,
			Priority: 50,
			When: func(ctx *RuleContext) bool {
				return ctx.Classification.IsUncertain
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "processingMode",
					Value:      "conservative",
					Reason:     fmt.Sprintf("classification confidence %.2f below the certainty floor", ctx.Classification.Confidence),
				}
			},
		},
		{
			ID:           "uncertainty.manual-review",
			Name:         "manual review on conflicting signals",
			Category:     CategoryUncertainty,
			Priority:     45,
			Overrideable: true,
			When: func(ctx *RuleContext) bool {
				return ctx.Classification.ConflictingSignals
			},
			Then: func(ctx *RuleContext) Action {
				return Action{
					Constraint: "requireManualReview",
					Value:      true,
					Reason:     "top subgenre candidates are within the conflict margin",
				}
			},
		},
	}
}
