package analyzer

import (
	"math"
	"strings"
)

// NormalizationMode describes how a platform applies its loudness target.
type NormalizationMode string

const (
	// DownOnly platforms attenuate loud material but never raise quiet
	// material, so playback loudness is min(integrated, target).
	DownOnly NormalizationMode = "DOWN_ONLY"
	// UpAndDown platforms normalize in both directions, so playback
	// loudness is always the target.
	UpAndDown NormalizationMode = "UP_AND_DOWN"
)

// PlatformTarget is one row of the streaming loudness target table.
type PlatformTarget struct {
	Name        string            `json:"name"`
	LUFS        float64           `json:"lufs"`
	TruePeakMax float64           `json:"truePeakMax"`
	Mode        NormalizationMode `json:"mode"`
}

// platformTargets is the built-in loudness normalization table. Values
// reflect each platform's published or commonly measured behavior.
var platformTargets = []PlatformTarget{
	{Name: "spotify", LUFS: -14, TruePeakMax: -1, Mode: DownOnly},
	{Name: "apple", LUFS: -16, TruePeakMax: -1, Mode: UpAndDown},
	{Name: "youtube", LUFS: -14, TruePeakMax: -1, Mode: DownOnly},
	{Name: "tidal", LUFS: -14, TruePeakMax: -1, Mode: UpAndDown},
	{Name: "amazon", LUFS: -14, TruePeakMax: -2, Mode: DownOnly},
	{Name: "deezer", LUFS: -15, TruePeakMax: -1, Mode: UpAndDown},
	{Name: "ebu", LUFS: -23, TruePeakMax: -1, Mode: UpAndDown},
}

// PlatformTargets returns a copy of the loudness target table.
func PlatformTargets() []PlatformTarget {
	out := make([]PlatformTarget, len(platformTargets))
	copy(out, platformTargets)
	return out
}

// LookupPlatform finds a target by case-insensitive name.
func LookupPlatform(name string) (PlatformTarget, bool) {
	for _, p := range platformTargets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return PlatformTarget{}, false
}

// DefaultPlatform is the target used when no platform is configured.
func DefaultPlatform() PlatformTarget {
	return platformTargets[0]
}

// resolvePlatform maps an option string onto the table, falling back to
// the default target for unknown or empty names.
func resolvePlatform(name string) PlatformTarget {
	if p, ok := LookupPlatform(name); ok {
		return p
	}
	return DefaultPlatform()
}

// PredictedPlayback returns the loudness a listener hears on this platform
// for a track with the given integrated loudness.
func (p PlatformTarget) PredictedPlayback(integrated float64) float64 {
	if p.Mode == UpAndDown {
		return p.LUFS
	}
	return math.Min(integrated, p.LUFS)
}

// Adjustment returns the gain the platform applies at playback. DOWN_ONLY
// platforms never apply positive gain.
func (p PlatformTarget) Adjustment(integrated float64) float64 {
	return p.PredictedPlayback(integrated) - integrated
}
