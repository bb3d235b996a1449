// conf/consts.go hard coded constants
package conf

import "time"

const (
	// CanonicalSampleRate is the sample rate all analysis runs against.
	CanonicalSampleRate = 48000
	// CanonicalBitDepth is the bit depth of normalized analysis files.
	CanonicalBitDepth = 24

	// DefaultToolTimeout bounds a single external tool invocation.
	DefaultToolTimeout = 30 * time.Second

	// TempFilePrefix marks temp files owned by the normalizer.
	TempFilePrefix = "masterqc-norm-"
)

// SupportedExtensions lists the audio container types the platform accepts.
var SupportedExtensions = []string{".wav", ".flac", ".aiff", ".mp3", ".m4a", ".ogg"}

// GainWindowSeconds are the valid gain-reduction analysis granularities.
var GainWindowSeconds = []float64{0.1, 0.4, 2, 8}

// ReferenceCurves are the spectral balance reference profiles.
var ReferenceCurves = []string{"pink", "flat", "house", "techno", "trance", "dnb", "neutral"}
