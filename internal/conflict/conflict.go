// Package conflict validates proposed processing parameter sets against a
// static rule catalog before they are committed to a job. Rules evaluate a
// merged view of the current analysis, the preset intent, and the proposed
// parameters; every match carries a severity and a hard-coded safe
// substitution. Callers must refuse to enqueue work while any BLOCKING
// conflict stands.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/logging"
)

// Severity grades a detected conflict. BLOCKING conflicts stop the job.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityBlocking Severity = "BLOCKING"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityBlocking: 4,
}

// Rank orders severities for sorting, BLOCKING highest.
func (s Severity) Rank() int { return severityRank[s] }

// Params is the merged parameter view a rule evaluates against. Values are
// numbers, strings, or bools depending on the parameter.
type Params map[string]any

// Merge unions parameter maps, later maps overriding earlier ones. The
// conventional order is current analysis, preset intent, proposed
// parameters, so that explicit proposals win.
func Merge(maps ...map[string]any) Params {
	merged := make(Params)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// Normalize returns a copy of params with alias keys rewritten to their
// canonical names. A canonical key already present wins over its alias.
func Normalize(params Params) Params {
	out := make(Params, len(params))
	for key, value := range params {
		canonical, isAlias := aliases[key]
		if !isAlias {
			out[key] = value
			continue
		}
		if _, exists := params[canonical]; exists {
			continue
		}
		out[canonical] = value
	}
	return out
}

// Op is a condition operator.
type Op string

const (
	OpGT        Op = "gt"
	OpGTE       Op = "gte"
	OpLT        Op = "lt"
	OpLTE       Op = "lte"
	OpEQ        Op = "eq"
	OpNEQ       Op = "neq"
	OpIn        Op = "in"
	OpCustomGap Op = "customGap"
)

// Condition tests one parameter. A condition over an absent parameter never
// holds. customGap reads a second parameter and holds when param+other
// exceeds the value: boost-vs-headroom pairs are expressed so that a safe
// combination sums to zero or less.
type Condition struct {
	Param string
	Op    Op
	Value any
	Other string
}

func (c Condition) holds(params Params) bool {
	value, ok := params[c.Param]
	if !ok {
		return false
	}
	switch c.Op {
	case OpGT, OpGTE, OpLT, OpLTE:
		have, haveOK := num(value)
		want, wantOK := num(c.Value)
		if !haveOK || !wantOK {
			return false
		}
		switch c.Op {
		case OpGT:
			return have > want
		case OpGTE:
			return have >= want
		case OpLT:
			return have < want
		default:
			return have <= want
		}
	case OpEQ:
		return equal(value, c.Value)
	case OpNEQ:
		return !equal(value, c.Value)
	case OpIn:
		members, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, member := range members {
			if equal(value, member) {
				return true
			}
		}
		return false
	case OpCustomGap:
		have, haveOK := num(value)
		other, otherOK := num(params[c.Other])
		margin, marginOK := num(c.Value)
		if !haveOK || !otherOK || !marginOK {
			return false
		}
		return have+other > margin
	default:
		return false
	}
}

// num coerces the numeric types that reach the detector from YAML presets,
// CLI flags, and analyzer measurements.
func num(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// equal compares numerically when both sides are numbers, otherwise by
// string form.
func equal(a, b any) bool {
	if x, ok := num(a); ok {
		if y, ok := num(b); ok {
			return x == y
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Rule is one catalog entry. Conditions AND together; Severity refines the
// grade once every condition holds and may return NONE to drop the match.
// Suggest holds the hard-coded safe substitution for the rule.
type Rule struct {
	ID         string
	Name       string
	Conditions []Condition
	Severity   func(params Params) Severity
	Message    func(params Params) string
	Suggest    Params
}

func (r Rule) matches(params Params) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for _, c := range r.Conditions {
		if !c.holds(params) {
			return false
		}
	}
	return true
}

// paramNames lists the parameters the rule reads, in declaration order.
func (r Rule) paramNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, c := range r.Conditions {
		add(c.Param)
		add(c.Other)
	}
	return names
}

// Conflict is one detected rule violation.
type Conflict struct {
	RuleID     string   `json:"ruleId"`
	Name       string   `json:"name"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Parameters []string `json:"parameters"`
}

// DetectConflicts evaluates the catalog against the merged parameter map
// and returns every conflict graded above NONE, most severe first, ties by
// rule ID. Aliases are normalized before evaluation.
func DetectConflicts(params Params) []Conflict {
	normalized := Normalize(params)
	var conflicts []Conflict
	for _, rule := range catalog {
		if !rule.matches(normalized) {
			continue
		}
		severity := rule.Severity(normalized)
		if severity == SeverityNone {
			continue
		}
		conflicts = append(conflicts, Conflict{
			RuleID:     rule.ID,
			Name:       rule.Name,
			Severity:   severity,
			Message:    rule.Message(normalized),
			Parameters: rule.paramNames(),
		})
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Severity.Rank() != conflicts[j].Severity.Rank() {
			return conflicts[i].Severity.Rank() > conflicts[j].Severity.Rank()
		}
		return conflicts[i].RuleID < conflicts[j].RuleID
	})
	if len(conflicts) > 0 {
		logging.ForService("conflict").Debug("parameter conflicts detected",
			"count", len(conflicts),
			"worst", string(conflicts[0].Severity),
			"rule", conflicts[0].RuleID)
	}
	return conflicts
}

// Validation summarizes a detection pass. HasErrors covers HIGH and
// BLOCKING conflicts, HasWarnings covers LOW and MEDIUM. IsValid stays
// true until a BLOCKING conflict appears.
type Validation struct {
	IsValid         bool       `json:"isValid"`
	HasErrors       bool       `json:"hasErrors"`
	HasWarnings     bool       `json:"hasWarnings"`
	Conflicts       []Conflict `json:"conflicts"`
	Recommendations []string   `json:"recommendations"`
}

// ValidateParameters runs detection and folds the result into the flags a
// job builder checks before enqueueing.
func ValidateParameters(params Params) Validation {
	conflicts := DetectConflicts(params)
	v := Validation{IsValid: true, Conflicts: conflicts}
	for _, c := range conflicts {
		switch c.Severity {
		case SeverityBlocking:
			v.IsValid = false
			v.HasErrors = true
		case SeverityHigh:
			v.HasErrors = true
		default:
			v.HasWarnings = true
		}
		if rec := recommendationFor(c); rec != "" {
			v.Recommendations = append(v.Recommendations, rec)
		}
	}
	return v
}

func recommendationFor(c Conflict) string {
	rule, ok := ruleByID(c.RuleID)
	if !ok || len(rule.Suggest) == 0 {
		return ""
	}
	keys := make([]string, 0, len(rule.Suggest))
	for k := range rule.Suggest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, rule.Suggest[k]))
	}
	return fmt.Sprintf("%s: set %s", c.RuleID, strings.Join(parts, ", "))
}

// Resolution carries the safe substitutions for a set of conflicts and how
// many of them the substitutions clear.
type Resolution struct {
	Suggestions           Params `json:"suggestions"`
	ResolvedConflictCount int    `json:"resolvedConflictCount"`
}

// SuggestResolutions merges each conflicting rule's substitution into one
// patch. Conflicts are expected in DetectConflicts order so the most severe
// rule wins overlapping keys. The patch is applied over the original
// parameters and re-detected to count the conflicts it clears.
func SuggestResolutions(params Params, conflicts []Conflict) Resolution {
	res := Resolution{Suggestions: make(Params)}
	for _, c := range conflicts {
		rule, ok := ruleByID(c.RuleID)
		if !ok {
			continue
		}
		for k, v := range rule.Suggest {
			if _, exists := res.Suggestions[k]; !exists {
				res.Suggestions[k] = v
			}
		}
	}
	if len(res.Suggestions) == 0 {
		return res
	}
	patched := Normalize(params)
	for k, v := range res.Suggestions {
		patched[k] = v
	}
	remaining := make(map[string]bool)
	for _, c := range DetectConflicts(patched) {
		remaining[c.RuleID] = true
	}
	for _, c := range conflicts {
		if !remaining[c.RuleID] {
			res.ResolvedConflictCount++
		}
	}
	return res
}

// BlockingError builds the refusal error for a parameter set whose
// validation found BLOCKING conflicts. Returns nil when none block.
func BlockingError(conflicts []Conflict) error {
	var blocking []string
	for _, c := range conflicts {
		if c.Severity == SeverityBlocking {
			blocking = append(blocking, c.RuleID)
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	return errors.Newf("parameter set blocked by %s", strings.Join(blocking, ", ")).
		Component("conflict").
		Category(errors.CategoryConflict).
		Context("blocking_rules", strings.Join(blocking, ",")).
		Context("conflict_count", len(conflicts)).
		Build()
}
