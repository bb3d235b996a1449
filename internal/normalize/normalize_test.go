package normalize

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/testutil"
)

func TestMain(m *testing.M) {
	logging.Init()
	goleak.VerifyTestMain(m)
}

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	settings := &conf.Settings{}
	settings.Normalize.TempDir = t.TempDir()
	settings.Normalize.MaxAge = time.Hour
	settings.Normalize.SweepInterval = time.Minute

	n, err := New(settings, ffmpeg.NewRunner(settings))
	require.NoError(t, err)
	return n
}

func probeWith(stream ffmpeg.ProbeStream) *ffmpeg.ProbeResult {
	return &ffmpeg.ProbeResult{Streams: []ffmpeg.ProbeStream{stream}}
}

func TestNeeds(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name       string
		stream     ffmpeg.ProbeStream
		want       bool
		wantReason string
	}{
		{
			name:   "canonical wav passes",
			stream: ffmpeg.ProbeStream{CodecType: "audio", CodecName: "pcm_s24le", SampleRate: "48000"},
			want:   false,
		},
		{
			name:   "cd quality flac passes",
			stream: ffmpeg.ProbeStream{CodecType: "audio", CodecName: "flac", SampleRate: "44100", BitsPerRawSample: "16"},
			want:   false,
		},
		{
			name:       "odd sample rate",
			stream:     ffmpeg.ProbeStream{CodecType: "audio", CodecName: "pcm_s16le", SampleRate: "22050"},
			want:       true,
			wantReason: "sample rate 22050 Hz outside analysis set",
		},
		{
			name:       "lossy codec",
			stream:     ffmpeg.ProbeStream{CodecType: "audio", CodecName: "mp3", SampleRate: "44100"},
			want:       true,
			wantReason: "lossy codec mp3",
		},
		{
			name:       "above 96k",
			stream:     ffmpeg.ProbeStream{CodecType: "audio", CodecName: "pcm_s24le", SampleRate: "192000"},
			want:       true,
			wantReason: "sample rate 192000 Hz exceeds 96 kHz",
		},
		{
			name:       "dsd family",
			stream:     ffmpeg.ProbeStream{CodecType: "audio", CodecName: "dsd_lsbf", SampleRate: "2822400"},
			want:       true,
			wantReason: "DSD source",
		},
		{
			name:       "unknown depth lossless",
			stream:     ffmpeg.ProbeStream{CodecType: "audio", CodecName: "wavpack", SampleRate: "48000"},
			want:       true,
			wantReason: "bit depth unknown",
		},
		{
			name:       "unsupported depth",
			stream:     ffmpeg.ProbeStream{CodecType: "audio", CodecName: "pcm_s8", SampleRate: "48000"},
			want:       true,
			wantReason: "bit depth 8 outside analysis set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasons := n.Needs(probeWith(tt.stream))
			assert.Equal(t, tt.want, got)
			if tt.wantReason != "" {
				assert.Contains(t, reasons, tt.wantReason)
			}
			if !tt.want {
				assert.Empty(t, reasons)
			}
		})
	}
}

func TestNeedsNoAudioStream(t *testing.T) {
	n := newTestNormalizer(t)

	got, reasons := n.Needs(&ffmpeg.ProbeResult{})
	assert.True(t, got)
	assert.Equal(t, []string{"no audio stream in probe"}, reasons)
}

func countTempFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), conf.TempFilePrefix) {
			count++
		}
	}
	return count
}

func TestWithNormalizationPassthrough(t *testing.T) {
	n := newTestNormalizer(t)
	n.probe = func(context.Context, string) (*ffmpeg.ProbeResult, error) {
		return probeWith(ffmpeg.ProbeStream{CodecType: "audio", CodecName: "pcm_s24le", SampleRate: "48000"}), nil
	}
	n.transcode = func(context.Context, string, string) error {
		t.Fatal("compliant asset must not be transcoded")
		return nil
	}

	var seen string
	err := n.WithNormalization(context.Background(), "/music/ok.wav", func(p string) error {
		seen = p
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/music/ok.wav", seen)
	assert.Zero(t, countTempFiles(t, n.tempDir))
}

func TestWithNormalizationCreatesAndRemovesTemp(t *testing.T) {
	n := newTestNormalizer(t)
	n.probe = func(context.Context, string) (*ffmpeg.ProbeResult, error) {
		return probeWith(ffmpeg.ProbeStream{CodecType: "audio", CodecName: "mp3", SampleRate: "44100"}), nil
	}
	n.transcode = func(_ context.Context, _, dst string) error {
		return os.WriteFile(dst, []byte("normalized"), 0o644)
	}

	before := countTempFiles(t, n.tempDir)
	var seen string
	err := n.WithNormalization(context.Background(), "/music/hot.mp3", func(p string) error {
		seen = p
		assert.True(t, strings.HasPrefix(filepath.Base(p), conf.TempFilePrefix))
		assert.True(t, strings.HasSuffix(p, ".wav"))
		_, statErr := os.Stat(p)
		assert.NoError(t, statErr, "temp file must exist inside the scope")
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, seen)
	assert.Equal(t, before, countTempFiles(t, n.tempDir), "temp count must match pre-call count")
}

func TestWithNormalizationRemovesTempOnCallbackError(t *testing.T) {
	n := newTestNormalizer(t)
	n.probe = func(context.Context, string) (*ffmpeg.ProbeResult, error) {
		return probeWith(ffmpeg.ProbeStream{CodecType: "audio", CodecName: "mp3", SampleRate: "44100"}), nil
	}
	n.transcode = func(_ context.Context, _, dst string) error {
		return os.WriteFile(dst, []byte("normalized"), 0o644)
	}

	sentinel := errors.NewStd("analysis blew up")
	err := n.WithNormalization(context.Background(), "x.mp3", func(string) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Zero(t, countTempFiles(t, n.tempDir))
}

func TestWithNormalizationRemovesTempOnPanic(t *testing.T) {
	n := newTestNormalizer(t)
	n.probe = func(context.Context, string) (*ffmpeg.ProbeResult, error) {
		return probeWith(ffmpeg.ProbeStream{CodecType: "audio", CodecName: "mp3", SampleRate: "44100"}), nil
	}
	n.transcode = func(_ context.Context, _, dst string) error {
		return os.WriteFile(dst, []byte("normalized"), 0o644)
	}

	require.Panics(t, func() {
		_ = n.WithNormalization(context.Background(), "x.mp3", func(string) error {
			panic("worker crash")
		})
	})
	assert.Zero(t, countTempFiles(t, n.tempDir))
}

func TestWithNormalizationTranscodeFailureLeavesNothing(t *testing.T) {
	n := newTestNormalizer(t)
	n.probe = func(context.Context, string) (*ffmpeg.ProbeResult, error) {
		return probeWith(ffmpeg.ProbeStream{CodecType: "audio", CodecName: "mp3", SampleRate: "44100"}), nil
	}
	n.transcode = func(_ context.Context, _, dst string) error {
		// Simulate a partial write before the tool failed.
		_ = os.WriteFile(dst, []byte("partial"), 0o644)
		return errors.NewStd("exit status 1")
	}

	err := n.WithNormalization(context.Background(), "x.mp3", func(string) error {
		t.Fatal("callback must not run when transcode fails")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNormalization))
	assert.Zero(t, countTempFiles(t, n.tempDir))
}

func TestSweepRemovesOnlyExpiredTempFiles(t *testing.T) {
	n := newTestNormalizer(t)

	old := filepath.Join(n.tempDir, conf.TempFilePrefix+"old.wav")
	fresh := filepath.Join(n.tempDir, conf.TempFilePrefix+"fresh.wav")
	foreign := filepath.Join(n.tempDir, "keep.wav")
	for _, p := range []string{old, fresh, foreign} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	removed := n.sweep()

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, foreign, "files without the temp prefix are never touched")
}

func TestStartSweeperStopsOnCancel(t *testing.T) {
	n := newTestNormalizer(t)
	n.sweepInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := n.StartSweeper(ctx)

	time.Sleep(15 * time.Millisecond)
	cancel()

	testutil.Wait(t, done, time.Second, "sweeper did not stop after cancellation")
}
