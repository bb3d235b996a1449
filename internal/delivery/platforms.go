// Package delivery validates assets against per-platform technical
// contracts, renders the transforms a contract demands through the job
// queue, uploads the results, and tracks per-platform outcome. One failing
// platform never takes the others down with it.
package delivery

import (
	_ "embed"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/audiolens/masterqc/internal/errors"
)

//go:embed platforms.yaml
var defaultPlatforms []byte

// tableVersion is the only schema accepted by the loader.
const tableVersion = 1

// Auth methods a platform contract may declare.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthBearer = "bearer"
)

// PlatformSpec is one platform's delivery contract: what it accepts, the
// loudness it wants, the metadata it insists on, and how uploads reach it.
type PlatformSpec struct {
	ID                string   `yaml:"id" json:"id"`
	Name              string   `yaml:"name" json:"name"`
	Formats           []string `yaml:"formats" json:"formats"`
	MinBitDepth       int      `yaml:"minBitDepth" json:"minBitDepth"`
	MinSampleRate     int      `yaml:"minSampleRate" json:"minSampleRate"`
	MaxFileSizeMB     int64    `yaml:"maxFileSizeMb" json:"maxFileSizeMb"`
	LoudnessTarget    float64  `yaml:"loudnessTarget" json:"loudnessTarget"`
	LoudnessTolerance float64  `yaml:"loudnessTolerance" json:"loudnessTolerance"`
	TruePeakMax       float64  `yaml:"truePeakMax" json:"truePeakMax"`
	RequiredMetadata  []string `yaml:"requiredMetadata" json:"requiredMetadata"`
	Endpoint          string   `yaml:"endpoint" json:"endpoint,omitempty"`
	Auth              string   `yaml:"auth" json:"auth"`
	BatchSize         int      `yaml:"batchSize" json:"batchSize"`
}

// MaxFileSizeBytes returns the size ceiling in bytes, 0 meaning unlimited.
func (s *PlatformSpec) MaxFileSizeBytes() int64 {
	return s.MaxFileSizeMB * 1024 * 1024
}

// AcceptsFormat reports whether the contract lists the container format.
func (s *PlatformSpec) AcceptsFormat(format string) bool {
	for _, f := range s.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// RenderFormat picks the lossless container the processing pipeline renders
// toward for this platform, preferring wav, then flac, then aiff. False when
// the contract lists no renderable format.
func (s *PlatformSpec) RenderFormat() (string, bool) {
	for _, want := range []string{"wav", "flac", "aiff"} {
		if s.AcceptsFormat(want) {
			return want, true
		}
	}
	return "", false
}

// Table is the loaded platform contract table.
type Table struct {
	Version   int            `yaml:"version" json:"version"`
	Platforms []PlatformSpec `yaml:"platforms" json:"platforms"`
}

// LoadTable reads a platform table from path, or the embedded default table
// when path is empty.
func LoadTable(path string) (*Table, error) {
	raw := defaultPlatforms
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New(err).
				Component("delivery").
				Category(errors.CategoryFileIO).
				FileContext(path, 0).
				Build()
		}
		raw = data
	}

	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, errors.New(err).
			Component("delivery").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) validate() error {
	if t.Version != tableVersion {
		return errors.Newf("platform table schema version %d, want %d", t.Version, tableVersion).
			Component("delivery").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if len(t.Platforms) == 0 {
		return errors.Newf("platform table has no platforms").
			Component("delivery").
			Category(errors.CategoryConfiguration).
			Build()
	}

	seen := make(map[string]bool, len(t.Platforms))
	for i := range t.Platforms {
		p := &t.Platforms[i]
		if p.ID == "" {
			return errors.Newf("platform %d has no id", i).
				Component("delivery").
				Category(errors.CategoryConfiguration).
				Build()
		}
		id := strings.ToLower(p.ID)
		if seen[id] {
			return errors.Newf("duplicate platform %s", p.ID).
				Component("delivery").
				Category(errors.CategoryConfiguration).
				Build()
		}
		seen[id] = true

		if len(p.Formats) == 0 {
			return errors.Newf("platform %s lists no formats", p.ID).
				Component("delivery").
				Category(errors.CategoryConfiguration).
				Build()
		}
		switch p.Auth {
		case AuthNone, AuthAPIKey, AuthBearer:
		case "":
			p.Auth = AuthNone
		default:
			return errors.Newf("platform %s: unknown auth method %q", p.ID, p.Auth).
				Component("delivery").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if p.LoudnessTolerance <= 0 {
			p.LoudnessTolerance = 1
		}
		if p.BatchSize <= 0 {
			p.BatchSize = 10
		}
	}
	return nil
}

// Lookup finds a platform contract by case-insensitive id.
func (t *Table) Lookup(id string) (*PlatformSpec, bool) {
	for i := range t.Platforms {
		if strings.EqualFold(t.Platforms[i].ID, id) {
			return &t.Platforms[i], true
		}
	}
	return nil, false
}

// IDs returns the platform ids sorted.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.Platforms))
	for i := range t.Platforms {
		ids = append(ids, t.Platforms[i].ID)
	}
	sort.Strings(ids)
	return ids
}

// Resolve maps requested platform names onto contracts, rejecting unknown
// names up front so a typo fails before any work starts.
func (t *Table) Resolve(names []string) ([]*PlatformSpec, error) {
	if len(names) == 0 {
		return nil, errors.Newf("no target platforms requested").
			Component("delivery").
			Category(errors.CategoryValidation).
			Build()
	}
	specs := make([]*PlatformSpec, 0, len(names))
	var seen []string
	for _, name := range names {
		spec, ok := t.Lookup(name)
		if !ok {
			return nil, errors.Newf("unknown platform %q (supported: %s)",
				name, strings.Join(t.IDs(), ", ")).
				Component("delivery").
				Category(errors.CategoryValidation).
				Build()
		}
		if slices.Contains(seen, spec.ID) {
			continue
		}
		seen = append(seen, spec.ID)
		specs = append(specs, spec)
	}
	return specs, nil
}
