package delivery

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/audiolens/masterqc/internal/analyzer"
	"github.com/audiolens/masterqc/internal/errors"
)

// processTriggerLU is the loudness offset above which an asset is rendered
// toward the platform target before upload, even when it sits inside the
// contract's tolerance.
const processTriggerLU = 0.1

// problem is one contract violation that processing cannot fix. Reason is a
// stable label for metrics; detail is the human-readable finding.
type problem struct {
	reason string
	detail string
}

// Validation failure reasons.
const (
	reasonMetadata   = "metadata"
	reasonBitDepth   = "bit_depth"
	reasonSampleRate = "sample_rate"
	reasonFileSize   = "file_size"
	reasonFormat     = "format"
)

// validatePlatform checks the metadata record and every asset against one
// platform contract, returning the violations a render cannot repair.
// Format mismatches and loudness offsets are absent here: those route
// through processing instead.
func validatePlatform(spec *PlatformSpec, metadata map[string]string, assets []*AssetInfo) []problem {
	var problems []problem

	normalized := make(map[string]string, len(metadata))
	for k, v := range metadata {
		normalized[analyzer.NormalizeTagKey(k)] = strings.TrimSpace(v)
	}
	for _, field := range spec.RequiredMetadata {
		if normalized[analyzer.NormalizeTagKey(field)] == "" {
			problems = append(problems, problem{
				reason: reasonMetadata,
				detail: fmt.Sprintf("required metadata field %q missing", field),
			})
		}
	}

	for _, info := range assets {
		asset := info.Asset
		name := filepath.Base(asset.Path)
		if spec.MinBitDepth > 0 && asset.BitDepth < spec.MinBitDepth {
			problems = append(problems, problem{
				reason: reasonBitDepth,
				detail: fmt.Sprintf("%s: %d-bit below the %d-bit minimum", name, asset.BitDepth, spec.MinBitDepth),
			})
		}
		if spec.MinSampleRate > 0 && asset.SampleRate < spec.MinSampleRate {
			problems = append(problems, problem{
				reason: reasonSampleRate,
				detail: fmt.Sprintf("%s: %d Hz below the %d Hz minimum", name, asset.SampleRate, spec.MinSampleRate),
			})
		}
		if ceiling := spec.MaxFileSizeBytes(); ceiling > 0 && asset.FileSize > ceiling {
			problems = append(problems, problem{
				reason: reasonFileSize,
				detail: fmt.Sprintf("%s: %d bytes over the %d MB ceiling", name, asset.FileSize, spec.MaxFileSizeMB),
			})
		}
		if !spec.AcceptsFormat(asset.Format) {
			if _, ok := spec.RenderFormat(); !ok {
				problems = append(problems, problem{
					reason: reasonFormat,
					detail: fmt.Sprintf("%s: format %s not accepted and no renderable format in the contract", name, asset.Format),
				})
			}
		}
	}
	return problems
}

// problemsError folds validation problems into one per-platform error.
func problemsError(spec *PlatformSpec, problems []problem) error {
	details := make([]string, len(problems))
	for i, p := range problems {
		details[i] = p.detail
	}
	return errors.Newf("platform %s contract: %s", spec.ID, strings.Join(details, "; ")).
		Component("delivery").
		Category(errors.CategoryValidation).
		Context("platform", spec.ID).
		Context("violations", len(problems)).
		Build()
}

// needsProcessing reports whether the asset must be rendered before it can
// go to this platform: the container format is not accepted, or the
// integrated loudness sits more than the trigger away from the target.
func needsProcessing(spec *PlatformSpec, info *AssetInfo) bool {
	if !spec.AcceptsFormat(info.Asset.Format) {
		return true
	}
	return math.Abs(info.IntegratedLUFS()-spec.LoudnessTarget) > processTriggerLU
}
