// Package normalize decides whether an asset is in the canonical analysis
// format (48 kHz / 24-bit PCM in an uncompressed container) and produces a
// temporary normalized copy when it is not. Temp files live in a dedicated
// directory and are removed when the analysis scope exits; a background
// sweeper catches anything orphaned by a crash.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/logging"
)

// Sample rates and bit depths the analyzers accept without conversion.
var (
	analysisRates  = map[int]bool{44100: true, 48000: true, 88200: true, 96000: true}
	analysisDepths = map[int]bool{16: true, 24: true, 32: true}
	lossyCodecs    = map[string]bool{"mp3": true, "aac": true, "vorbis": true, "opus": true}
)

// Normalizer converts assets to the canonical analysis format and manages
// the temp-file lifecycle around each conversion.
type Normalizer struct {
	tempDir       string
	maxAge        time.Duration
	maxUsage      float64 // percent, 0 disables the disk-usage guard
	sweepInterval time.Duration
	logger        *slog.Logger

	// Seams for tests; New wires these to the runner.
	probe     func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
	transcode func(ctx context.Context, src, dst string) error
}

// New builds a Normalizer over the given runner, creating the temp
// directory if needed.
func New(settings *conf.Settings, runner *ffmpeg.Runner) (*Normalizer, error) {
	tempDir := settings.TempDir()
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("normalize").
			Category(errors.CategorySystem).
			Context("temp_dir", tempDir).
			Build()
	}

	maxUsage := 0.0
	if settings.Normalize.MaxUsage != "" {
		parsed, err := conf.ParsePercentage(settings.Normalize.MaxUsage)
		if err != nil {
			return nil, err
		}
		maxUsage = parsed
	}

	maxAge := settings.Normalize.MaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	sweepInterval := settings.Normalize.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}

	n := &Normalizer{
		tempDir:       tempDir,
		maxAge:        maxAge,
		maxUsage:      maxUsage,
		sweepInterval: sweepInterval,
		logger:        logging.ForService("normalize"),
	}
	n.probe = runner.Probe
	n.transcode = func(ctx context.Context, src, dst string) error {
		args := []string{
			"-hide_banner", "-nostats", "-y",
			"-i", src,
			"-vn",
			"-ar", strconv.Itoa(conf.CanonicalSampleRate),
			"-c:a", "pcm_s24le",
			dst,
		}
		_, err := runner.FFmpeg(ctx, args...)
		return err
	}
	return n, nil
}

// Needs reports whether the probed asset requires normalization before
// analysis, with one reason string per triggered rule.
func (n *Normalizer) Needs(info *ffmpeg.ProbeResult) (bool, []string) {
	stream := info.FirstAudioStream()
	if stream == nil {
		return true, []string{"no audio stream in probe"}
	}

	var reasons []string
	rate := stream.SampleRateHz()
	depth := stream.BitDepth()
	codec := stream.CodecName

	if !analysisRates[rate] {
		reasons = append(reasons, fmt.Sprintf("sample rate %d Hz outside analysis set", rate))
	}
	if rate > 96000 {
		reasons = append(reasons, fmt.Sprintf("sample rate %d Hz exceeds 96 kHz", rate))
	}
	if lossyCodecs[codec] {
		reasons = append(reasons, fmt.Sprintf("lossy codec %s", codec))
	} else if !analysisDepths[depth] {
		if depth == 0 {
			reasons = append(reasons, "bit depth unknown")
		} else {
			reasons = append(reasons, fmt.Sprintf("bit depth %d outside analysis set", depth))
		}
	}
	if isDSD(codec) {
		reasons = append(reasons, "DSD source")
	}

	return len(reasons) > 0, reasons
}

// isDSD matches the direct-stream-digital codec family (dsd_lsbf etc).
func isDSD(codec string) bool {
	return len(codec) >= 3 && codec[:3] == "dsd"
}

// WithNormalization probes path, normalizes it when needed, and runs fn
// with the path analysis should read. The normalized temp file is deleted
// on every exit path, including a panic inside fn.
func (n *Normalizer) WithNormalization(ctx context.Context, path string, fn func(analysisPath string) error) error {
	info, err := n.probe(ctx, path)
	if err != nil {
		return err
	}

	needs, reasons := n.Needs(info)
	if !needs {
		return fn(path)
	}

	tempPath := filepath.Join(n.tempDir, conf.TempFilePrefix+uuid.New().String()+".wav")
	n.logger.Info("normalizing for analysis",
		"path", path, "temp", tempPath, "reasons", reasons)

	start := time.Now()
	if err := n.transcode(ctx, path, tempPath); err != nil {
		// ffmpeg may have left a partial file behind.
		n.remove(tempPath)
		return errors.New(err).
			Component("normalize").
			Category(errors.CategoryNormalization).
			FileContext(path, 0).
			Timing("transcode", time.Since(start)).
			Build()
	}
	defer n.remove(tempPath)

	n.logger.Debug("normalized", "temp", tempPath, "duration_ms", time.Since(start).Milliseconds())
	return fn(tempPath)
}

func (n *Normalizer) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		n.logger.Warn("failed to remove normalized temp file", "path", path, "error", err)
	}
}
