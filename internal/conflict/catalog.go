package conflict

import "fmt"

// aliases maps legacy and snake_case parameter names onto the canonical
// camelCase vocabulary the catalog evaluates.
var aliases = map[string]string{
	"eq_boost":            "eqBoostMax",
	"eq_boost_max":        "eqBoostMax",
	"limiter_threshold":   "limiterThreshold",
	"gain":                "gainDb",
	"gain_db":             "gainDb",
	"true_peak":           "truePeakDb",
	"true_peak_db":        "truePeakDb",
	"target_lufs":         "targetLufs",
	"integrated_lufs":     "integratedLufs",
	"attack_ms":           "attackMs",
	"compression_ratio":   "compressionRatio",
	"stereo_widen":        "stereoWidenAmount",
	"stereo_widen_amount": "stereoWidenAmount",
	"sub_boost":           "subBoostDb",
	"sub_boost_db":        "subBoostDb",
	"mono_below_hz":       "monoBelowHz",
	"preset_intent":       "presetIntent",
	"output_format":       "outputFormat",
	"ceiling":             "ceilingDb",
	"ceiling_db":          "ceilingDb",
	"output_bit_depth":    "outputBitDepth",
	"bit_depth":           "outputBitDepth",
	"clip_severity":       "clipSeverity",
}

// Rules returns a copy of the catalog for inspection.
func Rules() []Rule {
	out := make([]Rule, len(catalog))
	copy(out, catalog)
	return out
}

func ruleByID(id string) (Rule, bool) {
	for _, r := range catalog {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

func fnum(params Params, name string) float64 {
	v, _ := num(params[name])
	return v
}

func str(params Params, name string) string {
	s, _ := params[name].(string)
	return s
}

// catalog is the static conflict rule set. Suggestions are conservative
// substitutions known to clear their own rule.
var catalog = []Rule{
	{
		ID:   "EQ_BOOST_LIMITING",
		Name: "EQ boost exceeds limiter headroom",
		Conditions: []Condition{
			{Param: "eqBoostMax", Op: OpCustomGap, Value: 4.0, Other: "limiterThreshold"},
		},
		Severity: func(p Params) Severity {
			overrun := fnum(p, "eqBoostMax") + fnum(p, "limiterThreshold")
			switch {
			case overrun >= 12:
				return SeverityBlocking
			case overrun >= 8:
				return SeverityHigh
			case overrun >= 6:
				return SeverityMedium
			default:
				return SeverityLow
			}
		},
		Message: func(p Params) string {
			boost := fnum(p, "eqBoostMax")
			threshold := fnum(p, "limiterThreshold")
			return fmt.Sprintf("%.1f dB of EQ boost overruns the %.1f dBFS limiter threshold by %.1f dB",
				boost, threshold, boost+threshold)
		},
		Suggest: Params{"eqBoostMax": 6.0, "limiterThreshold": -6.0},
	},
	{
		ID:   "CLIPPED_SOURCE_BOOST",
		Name: "EQ boost on a clipped source",
		Conditions: []Condition{
			{Param: "clipSeverity", Op: OpIn, Value: []any{"MODERATE", "SEVERE", "EXTREME"}},
			{Param: "eqBoostMax", Op: OpGT, Value: 0.0},
		},
		Severity: func(p Params) Severity {
			switch str(p, "clipSeverity") {
			case "EXTREME":
				return SeverityBlocking
			case "SEVERE":
				return SeverityHigh
			default:
				return SeverityMedium
			}
		},
		Message: func(p Params) string {
			return fmt.Sprintf("boosting EQ on a source with %s clipping compounds the damage",
				str(p, "clipSeverity"))
		},
		Suggest: Params{"eqBoostMax": 0.0},
	},
	{
		ID:   "GAIN_INTO_HOT_PEAKS",
		Name: "positive gain over hot true peaks",
		Conditions: []Condition{
			{Param: "gainDb", Op: OpGT, Value: 0.0},
			{Param: "truePeakDb", Op: OpGTE, Value: -1.0},
		},
		Severity: func(p Params) Severity {
			projected := fnum(p, "gainDb") + fnum(p, "truePeakDb")
			switch {
			case projected >= 1:
				return SeverityBlocking
			case projected >= 0:
				return SeverityHigh
			default:
				return SeverityMedium
			}
		},
		Message: func(p Params) string {
			return fmt.Sprintf("+%.1f dB of gain pushes a %.1f dBTP master toward clipping",
				fnum(p, "gainDb"), fnum(p, "truePeakDb"))
		},
		Suggest: Params{"gainDb": 0.0},
	},
	{
		ID:   "LOUDNESS_PUSH_EXCESSIVE",
		Name: "loudness target far above the measured loudness",
		Conditions: []Condition{
			{Param: "targetLufs", Op: OpGTE, Value: -10.0},
			{Param: "integratedLufs", Op: OpLTE, Value: -18.0},
		},
		Severity: func(p Params) Severity {
			push := fnum(p, "targetLufs") - fnum(p, "integratedLufs")
			switch {
			case push >= 14:
				return SeverityBlocking
			case push >= 11:
				return SeverityHigh
			case push >= 9:
				return SeverityMedium
			default:
				return SeverityLow
			}
		},
		Message: func(p Params) string {
			integrated := fnum(p, "integratedLufs")
			target := fnum(p, "targetLufs")
			return fmt.Sprintf("raising %.1f LUFS material to %.1f LUFS needs %.1f dB of limiting",
				integrated, target, target-integrated)
		},
		Suggest: Params{"targetLufs": -14.0},
	},
	{
		ID:   "TRANSIENT_CRUSH",
		Name: "fast attack at a high compression ratio",
		Conditions: []Condition{
			{Param: "attackMs", Op: OpLT, Value: 1.0},
			{Param: "compressionRatio", Op: OpGTE, Value: 8.0},
		},
		Severity: func(p Params) Severity {
			if fnum(p, "attackMs") < 0.3 {
				return SeverityHigh
			}
			return SeverityMedium
		},
		Message: func(p Params) string {
			return fmt.Sprintf("%.2f ms attack at %.0f:1 flattens transients",
				fnum(p, "attackMs"), fnum(p, "compressionRatio"))
		},
		Suggest: Params{"attackMs": 2.0, "compressionRatio": 4.0},
	},
	{
		ID:   "WIDEN_DECORRELATED",
		Name: "widening an already decorrelated mix",
		Conditions: []Condition{
			{Param: "stereoWidenAmount", Op: OpGT, Value: 0.3},
			{Param: "correlation", Op: OpLT, Value: 0.2},
		},
		Severity: func(p Params) Severity {
			if fnum(p, "correlation") < 0 || fnum(p, "stereoWidenAmount") >= 0.6 {
				return SeverityHigh
			}
			return SeverityMedium
		},
		Message: func(p Params) string {
			return fmt.Sprintf("widening by %.2f at %.2f channel correlation risks mono cancellation",
				fnum(p, "stereoWidenAmount"), fnum(p, "correlation"))
		},
		Suggest: Params{"stereoWidenAmount": 0.15},
	},
	{
		ID:   "SUB_BOOST_NO_MONO_FOLD",
		Name: "sub boost without a bass mono fold",
		Conditions: []Condition{
			{Param: "subBoostDb", Op: OpGT, Value: 3.0},
			{Param: "monoBelowHz", Op: OpLT, Value: 60.0},
		},
		Severity: func(p Params) Severity {
			if fnum(p, "subBoostDb") > 6 {
				return SeverityHigh
			}
			return SeverityMedium
		},
		Message: func(p Params) string {
			return fmt.Sprintf("boosting subs %.1f dB with the mono fold at %.0f Hz leaves the low end phasey on club systems",
				fnum(p, "subBoostDb"), fnum(p, "monoBelowHz"))
		},
		Suggest: Params{"subBoostDb": 3.0, "monoBelowHz": 120.0},
	},
	{
		ID:   "INTENT_DYNAMICS_CONTRADICTION",
		Name: "compression contradicts the preset intent",
		Conditions: []Condition{
			{Param: "presetIntent", Op: OpEQ, Value: "preserve_dynamics"},
			{Param: "compressionRatio", Op: OpGTE, Value: 6.0},
		},
		Severity: func(Params) Severity { return SeverityHigh },
		Message: func(p Params) string {
			return fmt.Sprintf("a %.0f:1 ratio contradicts the preserve_dynamics intent",
				fnum(p, "compressionRatio"))
		},
		Suggest: Params{"compressionRatio": 2.0},
	},
	{
		ID:   "LOSSY_CEILING_OVERSHOOT",
		Name: "true-peak ceiling too high for lossy delivery",
		Conditions: []Condition{
			{Param: "outputFormat", Op: OpIn, Value: []any{"mp3", "aac", "ogg"}},
			{Param: "ceilingDb", Op: OpGT, Value: -2.0},
		},
		Severity: func(p Params) Severity {
			if fnum(p, "ceilingDb") > -1 {
				return SeverityHigh
			}
			return SeverityMedium
		},
		Message: func(p Params) string {
			return fmt.Sprintf("a %.1f dBTP ceiling overshoots after %s encoding",
				fnum(p, "ceilingDb"), str(p, "outputFormat"))
		},
		Suggest: Params{"ceilingDb": -2.0},
	},
	{
		ID:   "REDUNDANT_DITHER",
		Name: "dither at high bit depth",
		Conditions: []Condition{
			{Param: "outputBitDepth", Op: OpIn, Value: []any{24, 32}},
			{Param: "dither", Op: OpEQ, Value: true},
		},
		Severity: func(Params) Severity { return SeverityLow },
		Message: func(p Params) string {
			return fmt.Sprintf("dither adds noise with no benefit at %.0f-bit output",
				fnum(p, "outputBitDepth"))
		},
		Suggest: Params{"dither": false},
	},
	{
		ID:   "WIDEN_NON_STEREO",
		Name: "widening a non-stereo topology",
		Conditions: []Condition{
			{Param: "stereoWidenAmount", Op: OpGT, Value: 0.0},
			{Param: "topology", Op: OpNEQ, Value: "STEREO"},
		},
		Severity: func(p Params) Severity {
			// Fold-down handling for multichannel is a separate pipeline,
			// not a parameter conflict.
			if str(p, "topology") == "MULTICHANNEL" {
				return SeverityNone
			}
			return SeverityMedium
		},
		Message: func(p Params) string {
			return fmt.Sprintf("stereo widening has no defined effect on a %s master",
				str(p, "topology"))
		},
		Suggest: Params{"stereoWidenAmount": 0.0},
	},
}
