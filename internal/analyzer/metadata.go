package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// Field requirement levels.
const (
	RequirementRequired    = "REQUIRED"
	RequirementRecommended = "RECOMMENDED"
	RequirementOptional    = "OPTIONAL"
)

// Issue severities.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Metadata readiness roll-up, overall and per platform.
const (
	MetadataComplete   = "COMPLETE"
	MetadataPartial    = "PARTIAL"
	MetadataIncomplete = "INCOMPLETE"
	MetadataMissing    = "MISSING"
)

// MetadataIssue is one finding of the metadata checker.
type MetadataIssue struct {
	Field    string `json:"field"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// fieldSpec describes validation for one tag field.
type fieldSpec struct {
	category    string
	requirement string
	pattern     *regexp.Regexp
	minLength   int
	maxLength   int
}

// metadataFields is the validation dictionary, keyed by normalized field
// name.
var metadataFields = map[string]fieldSpec{
	"title":        {category: "identity", requirement: RequirementRequired, minLength: 1, maxLength: 200},
	"artist":       {category: "identity", requirement: RequirementRequired, minLength: 1, maxLength: 200},
	"album":        {category: "release", requirement: RequirementRecommended, maxLength: 200},
	"album_artist": {category: "release", requirement: RequirementRecommended, maxLength: 200},
	"track":        {category: "release", requirement: RequirementRecommended, pattern: regexp.MustCompile(`^\d+(/\d+)?$`)},
	"date":         {category: "release", requirement: RequirementRecommended, pattern: regexp.MustCompile(`^\d{4}$`)},
	"genre":        {category: "classification", requirement: RequirementRecommended, maxLength: 100},
	"isrc":         {category: "rights", requirement: RequirementRecommended, pattern: regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{3}\d{7}$`)},
	"release_date": {category: "release", requirement: RequirementOptional, pattern: regexp.MustCompile(`^\d{4}(-\d{2}-\d{2})?$`)},
	"composer":     {category: "rights", requirement: RequirementOptional, maxLength: 200},
	"copyright":    {category: "rights", requirement: RequirementOptional, maxLength: 500},
	"label":        {category: "rights", requirement: RequirementOptional, maxLength: 200},
	"upc":          {category: "rights", requirement: RequirementOptional, pattern: regexp.MustCompile(`^\d{12,14}$`)},
	"bpm":          {category: "classification", requirement: RequirementOptional, pattern: regexp.MustCompile(`^\d{2,3}(\.\d+)?$`)},
	"key":          {category: "classification", requirement: RequirementOptional, pattern: regexp.MustCompile(`^([A-G][#b]?\s?(maj|min|m)?|([1-9]|1[0-2])[ABab])$`)},
	"comment":      {category: "misc", requirement: RequirementOptional, maxLength: 500},
}

// fieldAliases maps common tag spellings onto dictionary keys.
var fieldAliases = map[string]string{
	"albumartist":  "album_artist",
	"album artist": "album_artist",
	"year":         "date",
	"tracknumber":  "track",
	"track number": "track",
	"barcode":      "upc",
	"tbpm":         "bpm",
	"initialkey":   "key",
	"initial key":  "key",
	"publisher":    "label",
}

// platformMetadata lists per-platform fields promoted to required on top
// of the global dictionary.
var platformMetadata = map[string][]string{
	"spotify": {"isrc"},
	"apple":   {"isrc", "album"},
	"youtube": {},
	"tidal":   {"isrc"},
	"amazon":  {"upc"},
	"deezer":  {"isrc"},
	"ebu":     {},
}

// MetadataAnalyzer validates tag completeness and consistency. When no
// metadata is supplied it reads the tags embedded in the file.
type MetadataAnalyzer struct {
	base
}

func NewMetadata(runner *ffmpeg.Runner) *MetadataAnalyzer {
	return &MetadataAnalyzer{base: newBase(runner)}
}

func (a *MetadataAnalyzer) Name() string { return "metadata" }

func (a *MetadataAnalyzer) Analyze(ctx context.Context, path string, opts *Options) (*Report, error) {
	start := time.Now()
	var meta map[string]string
	var tracks []map[string]string
	if opts != nil {
		meta = opts.Metadata
		tracks = opts.Tracks
	}
	if meta == nil {
		probed, err := a.probeTags(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return a.observe(a.Name(), start, a.neutral(a.Name(), start, err)), nil
		}
		meta = probed
	}
	rep, _ := ValidateMetadata(meta, tracks)
	return a.observe(a.Name(), start, rep), nil
}

func (a *MetadataAnalyzer) QuickCheck(ctx context.Context, path string) (*CompactReport, error) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RecordQuickCheck(a.Name())
	}
	meta, err := a.probeTags(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return a.neutral(a.Name(), start, err).compact(), nil
	}
	rep, _ := ValidateMetadata(meta, nil)
	rep.AnalysisTimeMs = time.Since(start).Milliseconds()
	return rep.compact("errorCount", "warningCount", "requiredPresent"), nil
}

// probeTags merges container and stream tags, container tags winning.
func (a *MetadataAnalyzer) probeTags(ctx context.Context, path string) (map[string]string, error) {
	probe, err := a.runner.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{}
	if stream := probe.FirstAudioStream(); stream != nil {
		for k, v := range stream.Tags {
			meta[k] = v
		}
	}
	for k, v := range probe.Format.Tags {
		meta[k] = v
	}
	return meta, nil
}

// NormalizeTagKey lowercases a tag name and resolves aliases onto the
// dictionary vocabulary.
func NormalizeTagKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := fieldAliases[k]; ok {
		return canonical
	}
	return k
}

// ValidateMetadata checks a tag dictionary for completeness, per-field
// validity and cross-field consistency. Pure; the returned issues back
// the report's recommendations.
func ValidateMetadata(meta map[string]string, tracks []map[string]string) (*Report, []MetadataIssue) {
	normalized := make(map[string]string, len(meta))
	for k, v := range meta {
		normalized[NormalizeTagKey(k)] = strings.TrimSpace(v)
	}

	var issues []MetadataIssue
	counts := map[string]int{}
	var requiredTotal, requiredPresent, requiredValid int
	var recommendedTotal, recommendedPresent int

	for _, name := range sortedFieldNames() {
		spec := metadataFields[name]
		value, present := normalized[name]
		present = present && value != ""
		switch spec.requirement {
		case RequirementRequired:
			requiredTotal++
		case RequirementRecommended:
			recommendedTotal++
		}

		if !present {
			switch spec.requirement {
			case RequirementRequired:
				issues = append(issues, MetadataIssue{name, SeverityError, "required field missing"})
			case RequirementRecommended:
				issues = append(issues, MetadataIssue{name, SeverityWarning, "recommended field missing"})
			}
			continue
		}

		if spec.requirement == RequirementRequired {
			requiredPresent++
		} else if spec.requirement == RequirementRecommended {
			recommendedPresent++
		}

		if msg := validateFieldValue(spec, value); msg != "" {
			severity := SeverityInfo
			switch spec.requirement {
			case RequirementRequired:
				severity = SeverityError
			case RequirementRecommended:
				severity = SeverityWarning
			}
			issues = append(issues, MetadataIssue{name, severity, msg})
		} else if spec.requirement == RequirementRequired {
			requiredValid++
		}
	}

	issues = append(issues, crossFieldIssues(normalized)...)
	issues = append(issues, duplicateISRCIssues(normalized, tracks)...)
	for _, issue := range issues {
		counts[issue.Severity]++
	}

	allRequiredValid := requiredValid == requiredTotal
	status := metadataStatus(allRequiredValid, requiredPresent, recommendedPresent == recommendedTotal)

	rep := &Report{
		Status: status,
		Measurements: map[string]float64{
			"requiredPresent":    float64(requiredPresent),
			"requiredTotal":      float64(requiredTotal),
			"recommendedPresent": float64(recommendedPresent),
			"recommendedTotal":   float64(recommendedTotal),
			"criticalCount":      float64(counts[SeverityCritical]),
			"errorCount":         float64(counts[SeverityError]),
			"warningCount":       float64(counts[SeverityWarning]),
			"infoCount":          float64(counts[SeverityInfo]),
		},
		Details:    map[string]string{},
		Confidence: 1,
		Problem: status == MetadataIncomplete || status == MetadataMissing ||
			counts[SeverityError] > 0 || counts[SeverityCritical] > 0,
	}
	for platform, readiness := range PlatformReadiness(normalized) {
		rep.Details["readiness_"+platform] = readiness
	}
	for _, issue := range issues {
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("[%s] %s: %s", issue.Severity, issue.Field, issue.Message))
	}
	switch status {
	case MetadataComplete:
		rep.Description = "all required and recommended metadata present and valid"
	case MetadataPartial:
		rep.Description = fmt.Sprintf("required metadata complete, %d of %d recommended fields present",
			recommendedPresent, recommendedTotal)
	case MetadataIncomplete:
		rep.Description = fmt.Sprintf("%d of %d required fields present and valid", requiredValid, requiredTotal)
	default:
		rep.Description = "no required metadata present"
	}
	return rep, issues
}

func sortedFieldNames() []string {
	names := make([]string, 0, len(metadataFields))
	for name := range metadataFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateFieldValue(spec fieldSpec, value string) string {
	runes := len([]rune(value))
	if spec.minLength > 0 && runes < spec.minLength {
		return fmt.Sprintf("shorter than %d characters", spec.minLength)
	}
	if spec.maxLength > 0 && runes > spec.maxLength {
		return fmt.Sprintf("longer than %d characters", spec.maxLength)
	}
	if spec.pattern != nil && !spec.pattern.MatchString(value) {
		return fmt.Sprintf("value %q does not match the expected format", value)
	}
	return ""
}

func metadataStatus(allRequiredValid bool, requiredPresent int, allRecommendedPresent bool) string {
	switch {
	case allRequiredValid && allRecommendedPresent:
		return MetadataComplete
	case allRequiredValid:
		return MetadataPartial
	case requiredPresent > 0:
		return MetadataIncomplete
	default:
		return MetadataMissing
	}
}

// crossFieldIssues checks consistency between related fields.
func crossFieldIssues(meta map[string]string) []MetadataIssue {
	var issues []MetadataIssue

	if year, date := meta["date"], meta["release_date"]; year != "" && len(date) >= 4 {
		if year != date[:4] {
			issues = append(issues, MetadataIssue{"release_date", SeverityWarning,
				fmt.Sprintf("release date year %s disagrees with date %s", date[:4], year)})
		}
	}

	artist, albumArtist := meta["artist"], meta["album_artist"]
	if artist != "" && albumArtist != "" && !strings.EqualFold(albumArtist, "Various Artists") {
		a, aa := strings.ToLower(artist), strings.ToLower(albumArtist)
		if !strings.Contains(a, aa) && !strings.Contains(aa, a) {
			issues = append(issues, MetadataIssue{"album_artist", SeverityWarning,
				fmt.Sprintf("album artist %q unrelated to track artist %q", albumArtist, artist)})
		}
	}

	if title := meta["title"]; len([]rune(title)) > 3 && hasLetters(title) {
		if title == strings.ToUpper(title) || title == strings.ToLower(title) {
			issues = append(issues, MetadataIssue{"title", SeverityInfo, "unusual title casing"})
		}
	}
	return issues
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// duplicateISRCIssues flags ISRCs shared between the asset and sibling
// tracks or among the siblings themselves.
func duplicateISRCIssues(meta map[string]string, tracks []map[string]string) []MetadataIssue {
	if len(tracks) == 0 {
		return nil
	}
	seen := map[string][]int{}
	if isrc := meta["isrc"]; isrc != "" {
		seen[isrc] = append(seen[isrc], 0)
	}
	for i, track := range tracks {
		for k, v := range track {
			if NormalizeTagKey(k) == "isrc" && strings.TrimSpace(v) != "" {
				seen[strings.TrimSpace(v)] = append(seen[strings.TrimSpace(v)], i+1)
			}
		}
	}
	var issues []MetadataIssue
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if len(seen[code]) > 1 {
			issues = append(issues, MetadataIssue{"isrc", SeverityCritical,
				fmt.Sprintf("ISRC %s assigned to %d tracks", code, len(seen[code]))})
		}
	}
	return issues
}

// PlatformReadiness rolls up metadata completeness per delivery platform,
// with platform-specific fields promoted to required.
func PlatformReadiness(meta map[string]string) map[string]string {
	out := make(map[string]string, len(platformMetadata))
	for platform, extras := range platformMetadata {
		required := map[string]bool{}
		for name, spec := range metadataFields {
			if spec.requirement == RequirementRequired {
				required[name] = true
			}
		}
		for _, name := range extras {
			required[name] = true
		}

		var total, present, valid int
		for name := range required {
			total++
			value := meta[name]
			if value == "" {
				continue
			}
			present++
			if validateFieldValue(metadataFields[name], value) == "" {
				valid++
			}
		}
		recommendedOK := true
		for name, spec := range metadataFields {
			if spec.requirement != RequirementRecommended || required[name] {
				continue
			}
			if meta[name] == "" {
				recommendedOK = false
				break
			}
		}
		out[platform] = metadataStatus(valid == total, present, recommendedOK)
	}
	return out
}
