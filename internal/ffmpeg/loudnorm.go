package ffmpeg

import (
	"context"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/audiolens/masterqc/internal/errors"
)

// LoudnormMeasurement is the result of a loudnorm measurement pass. Values
// are the filter's own gated measurements, which the platform normalization
// predictor prefers over the running meter for gain math.
type LoudnormMeasurement struct {
	InputI       float64
	InputTP      float64
	InputLRA     float64
	InputThresh  float64
	TargetOffset float64
}

// MeasureLoudnorm runs a loudnorm measurement pass against the given targets
// and parses the JSON block the filter prints at end of stream.
func (r *Runner) MeasureLoudnorm(ctx context.Context, path string, targetI, targetTP, targetLRA float64) (*LoudnormMeasurement, error) {
	filter := LoudnormMeasureFilter(targetI, targetTP, targetLRA)
	result, err := r.FFmpeg(ctx, MeasureArgs(path, filter)...)
	if err != nil {
		return nil, err
	}
	measurement, err := r.parseLoudnorm(string(result.Stderr))
	if err != nil {
		return nil, errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryParsing).
			Context("operation", "loudnorm_parse").
			FileContext(path, 0).
			Build()
	}
	return measurement, nil
}

// parseLoudnorm extracts the JSON object loudnorm appends to stderr. The
// filter emits values as quoted strings ("-8.00"), so each field is parsed
// as a float after extraction.
func (r *Runner) parseLoudnorm(output string) (*LoudnormMeasurement, error) {
	if r.metrics != nil {
		r.metrics.RecordParseOperation("loudnorm")
	}
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start == -1 || end <= start {
		return nil, errors.Newf("no JSON block in loudnorm output (%d bytes)", len(output)).
			Component("ffmpeg").
			Category(errors.CategoryParsing).
			Build()
	}

	obj, err := jason.NewObjectFromBytes([]byte(output[start : end+1]))
	if err != nil {
		return nil, err
	}

	m := &LoudnormMeasurement{}
	fields := []struct {
		key  string
		dest *float64
	}{
		{"input_i", &m.InputI},
		{"input_tp", &m.InputTP},
		{"input_lra", &m.InputLRA},
		{"input_thresh", &m.InputThresh},
		{"target_offset", &m.TargetOffset},
	}
	for _, f := range fields {
		raw, err := obj.GetString(f.key)
		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordParseError("loudnorm", f.key)
			}
			return nil, errors.Newf("loudnorm output missing %s", f.key).
				Component("ffmpeg").
				Category(errors.CategoryParsing).
				Build()
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordParseError("loudnorm", f.key)
			}
			return nil, errors.Newf("loudnorm %s is not numeric: %q", f.key, raw).
				Component("ffmpeg").
				Category(errors.CategoryParsing).
				Build()
		}
		*f.dest = value
	}
	return m, nil
}
