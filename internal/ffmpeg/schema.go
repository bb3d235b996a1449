package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
)

// MetricPattern pairs a metric name with the regex that extracts its value
// from tool stderr. Each pattern carries exactly one capture group.
type MetricPattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// MetricSchema is an ordered set of patterns applied to one tool's output.
// Keeping every stderr regex in a schema (rather than scattered through the
// analyzers) means each pattern is exercised by the fixture tests below.
type MetricSchema struct {
	name     string
	patterns []MetricPattern
}

// NewSchema compiles a metric schema. Patterns must contain exactly one
// capture group; a pattern that fails to compile returns an error.
func NewSchema(name string, patterns []MetricPattern) *MetricSchema {
	return &MetricSchema{name: name, patterns: patterns}
}

// MustPattern compiles a single metric pattern, panicking on bad regex.
// Intended for package-level schema declarations only.
func MustPattern(name, expr string) MetricPattern {
	re := regexp.MustCompile(expr)
	if re.NumSubexp() != 1 {
		panic("ffmpeg: metric pattern " + name + " must have exactly one capture group")
	}
	return MetricPattern{Name: name, Pattern: re}
}

// Name returns the schema identifier used in logs and metrics.
func (s *MetricSchema) Name() string { return s.name }

// Keys returns the metric names in declaration order.
func (s *MetricSchema) Keys() []string {
	keys := make([]string, 0, len(s.patterns))
	for _, p := range s.patterns {
		keys = append(keys, p.Name)
	}
	return keys
}

// astats prints a per-channel block for every channel before the Overall
// block; the Overall values come last, so the last match wins.
var astatsSchema = NewSchema("astats", []MetricPattern{
	MustPattern("peakDb", `Peak level dB:\s*(-?\d+(?:\.\d+)?|-?inf)`),
	MustPattern("rmsDb", `RMS level dB:\s*(-?\d+(?:\.\d+)?|-?inf)`),
	MustPattern("crestFactor", `Crest factor:\s*(-?\d+(?:\.\d+)?|-?inf|nan)`),
	MustPattern("flatFactor", `Flat factor:\s*(-?\d+(?:\.\d+)?)`),
	MustPattern("peakCount", `Peak count:\s*(\d+(?:\.\d+)?)`),
	MustPattern("minLevel", `Min level:\s*(-?\d+(?:\.\d+)?)`),
	MustPattern("maxLevel", `Max level:\s*(-?\d+(?:\.\d+)?)`),
	MustPattern("sampleCount", `Number of samples:\s*(\d+)`),
})

// ebur128 prints a summary block at end of stream. The compact one-line form
// ("Integrated loudness: I: -14.2 LUFS") and ffmpeg's multi-line summary
// both satisfy these patterns.
var ebur128Schema = NewSchema("ebur128", []MetricPattern{
	MustPattern("integrated", `I:\s*(-?\d+(?:\.\d+)?)\s*LUFS`),
	MustPattern("lra", `LRA:\s*(-?\d+(?:\.\d+)?)\s*LU`),
	MustPattern("truePeak", `(?i)peak:\s*(-?\d+(?:\.\d+)?)\s*dB(?:TP|FS)`),
})

// aphasemeter emits one phase reading per frame plus an average on exit.
var aphasemeterSchema = NewSchema("aphasemeter", []MetricPattern{
	MustPattern("phaseAvg", `(?i)phase:\s*(-?\d+(?:\.\d+)?)`),
})

// AstatsSchema returns the schema for astats filter output.
func AstatsSchema() *MetricSchema { return astatsSchema }

// EBUR128Schema returns the schema for ebur128 summary output.
func EBUR128Schema() *MetricSchema { return ebur128Schema }

// AphasemeterSchema returns the schema for aphasemeter output.
func AphasemeterSchema() *MetricSchema { return aphasemeterSchema }

// ParseMetrics applies a schema to raw tool stderr. Every schema key is
// present in the returned map; a metric the tool did not emit maps to nil.
// Absent is explicit so callers never mistake a missing measurement for a
// zero measurement. When the same key matches multiple times the last match
// wins, which selects the Overall block of astats output.
func (r *Runner) ParseMetrics(output string, schema *MetricSchema) map[string]*float64 {
	if r.metrics != nil {
		r.metrics.RecordParseOperation("metrics")
	}
	results := make(map[string]*float64, len(schema.patterns))
	for _, p := range schema.patterns {
		results[p.Name] = nil
		matches := p.Pattern.FindAllStringSubmatch(output, -1)
		if len(matches) == 0 {
			continue
		}
		raw := matches[len(matches)-1][1]
		value, err := parseToolFloat(raw)
		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordParseError("metrics", p.Name)
			}
			r.logger.Debug("unparseable metric value",
				"schema", schema.name, "metric", p.Name, "raw", raw)
			continue
		}
		results[p.Name] = &value
	}
	return results
}

// ParseMetrics applies a schema without invoker bookkeeping. Used by tests
// and by callers that parse previously captured output.
func ParseMetrics(output string, schema *MetricSchema) map[string]*float64 {
	results := make(map[string]*float64, len(schema.patterns))
	for _, p := range schema.patterns {
		results[p.Name] = nil
		matches := p.Pattern.FindAllStringSubmatch(output, -1)
		if len(matches) == 0 {
			continue
		}
		if value, err := parseToolFloat(matches[len(matches)-1][1]); err == nil {
			results[p.Name] = &value
		}
	}
	return results
}

// ParseMetricSeries returns every occurrence of one schema metric, in
// emission order. astats callers use this to recover the per-channel values
// that precede the Overall block; ParseMetrics keeps only the last match.
// Unknown keys and unparseable values yield an empty slice.
func ParseMetricSeries(output, key string, schema *MetricSchema) []float64 {
	for _, p := range schema.patterns {
		if p.Name != key {
			continue
		}
		matches := p.Pattern.FindAllStringSubmatch(output, -1)
		values := make([]float64, 0, len(matches))
		for _, m := range matches {
			if v, err := parseToolFloat(m[1]); err == nil {
				values = append(values, v)
			}
		}
		return values
	}
	return nil
}

// parseToolFloat handles the numeric forms ffmpeg emits, including the
// "-inf" silence floor and "nan" crest factor of digital silence.
func parseToolFloat(raw string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "-inf", "inf", "nan":
		// Represent non-finite readings as the tool's silence floor so
		// downstream threshold comparisons stay total.
		return -150, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}
