package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/audiolens/masterqc/internal/errors"
)

// ProbeFormat is the container-level block of a probe. Numeric fields arrive
// as strings from the tool and stay strings here; use the ProbeResult
// accessors for typed values.
type ProbeFormat struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// ProbeStream is one stream block of a probe.
type ProbeStream struct {
	Index            int               `json:"index"`
	CodecType        string            `json:"codec_type"`
	CodecName        string            `json:"codec_name"`
	SampleRate       string            `json:"sample_rate"`
	Channels         int               `json:"channels"`
	BitsPerSample    int               `json:"bits_per_sample"`
	BitsPerRawSample string            `json:"bits_per_raw_sample"`
	BitRate          string            `json:"bit_rate"`
	Duration         string            `json:"duration"`
	Tags             map[string]string `json:"tags"`
}

// ProbeResult is the parsed JSON output of a container/stream probe.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// AudioAsset is the flattened description of one audio file, derived from a
// probe. It is immutable across a run.
type AudioAsset struct {
	Path       string  `json:"path"`
	Format     string  `json:"format"`
	Codec      string  `json:"codec"`
	SampleRate int     `json:"sampleRate"`
	BitDepth   int     `json:"bitDepth"`
	Channels   int     `json:"channels"`
	FileSize   int64   `json:"fileSize"`
	Duration   float64 `json:"duration"`
}

// FirstAudioStream returns the first stream with codec_type audio, or nil.
func (p *ProbeResult) FirstAudioStream() *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// DurationSeconds returns the container duration, preferring the format
// block and falling back to the first audio stream. Zero when absent.
func (p *ProbeResult) DurationSeconds() float64 {
	if d, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil {
		return d
	}
	if s := p.FirstAudioStream(); s != nil {
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
			return d
		}
	}
	return 0
}

// SizeBytes returns the container size in bytes, zero when absent.
func (p *ProbeResult) SizeBytes() int64 {
	n, err := strconv.ParseInt(p.Format.Size, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// SampleRateHz returns the stream sample rate as an integer, zero when the
// tool reported none.
func (s *ProbeStream) SampleRateHz() int {
	n, err := strconv.Atoi(s.SampleRate)
	if err != nil {
		return 0
	}
	return n
}

// BitDepth resolves the effective bit depth of a stream. The tool reports it
// in different fields depending on codec: bits_per_raw_sample for lossless
// codecs, bits_per_sample for PCM. PCM codec names carry the width when both
// fields are empty; FLAC and ALAC default to 16.
func (s *ProbeStream) BitDepth() int {
	if n, err := strconv.Atoi(s.BitsPerRawSample); err == nil && n > 0 {
		return n
	}
	if s.BitsPerSample > 0 {
		return s.BitsPerSample
	}
	name := strings.ToLower(s.CodecName)
	if strings.HasPrefix(name, "pcm_") {
		digits := strings.TrimFunc(name, func(r rune) bool { return r < '0' || r > '9' })
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			return n
		}
	}
	switch name {
	case "flac", "alac":
		return 16
	}
	return 0
}

// Asset flattens a probe into the immutable per-file description used by the
// analyzers and the delivery validator. Fails when the file carries no audio
// stream.
func (p *ProbeResult) Asset(path string) (*AudioAsset, error) {
	stream := p.FirstAudioStream()
	if stream == nil {
		return nil, errors.Newf("no audio stream in %s", filepath.Base(path)).
			Component("ffmpeg").
			Category(errors.CategoryValidation).
			FileContext(path, p.SizeBytes()).
			Build()
	}
	format := p.Format.FormatName
	if i := strings.IndexByte(format, ','); i > 0 {
		format = format[:i]
	}
	return &AudioAsset{
		Path:       path,
		Format:     format,
		Codec:      stream.CodecName,
		SampleRate: stream.SampleRateHz(),
		BitDepth:   stream.BitDepth(),
		Channels:   stream.Channels,
		FileSize:   p.SizeBytes(),
		Duration:   p.DurationSeconds(),
	}, nil
}

// Probe runs a JSON container/stream probe on path. Results are cached by
// absolute path and mtime, so re-probing an unchanged file within the cache
// TTL costs nothing.
func (r *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	key := path
	absPath, err := filepath.Abs(path)
	if err == nil {
		key = absPath
	}
	if info, statErr := os.Stat(key); statErr == nil {
		key = fmt.Sprintf("%s|%d", key, info.ModTime().UnixNano())
	}

	if cached, found := r.probeCache.Get(key); found {
		if r.metrics != nil {
			r.metrics.RecordProbeCache("hit")
		}
		return cached.(*ProbeResult), nil
	}
	if r.metrics != nil {
		r.metrics.RecordProbeCache("miss")
	}

	result, err := r.FFprobe(ctx, ProbeArgs(path)...)
	if err != nil {
		return nil, err
	}
	probe, err := decodeProbe(result.Stdout)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordParseError("probe", "json")
		}
		return nil, errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryParsing).
			Context("operation", "probe_decode").
			FileContext(path, int64(len(result.Stdout))).
			Build()
	}
	if r.metrics != nil {
		r.metrics.RecordParseOperation("probe")
	}
	r.probeCache.SetDefault(key, probe)
	return probe, nil
}

func decodeProbe(data []byte) (*ProbeResult, error) {
	var probe ProbeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	return &probe, nil
}
