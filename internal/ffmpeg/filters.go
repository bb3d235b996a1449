package ffmpeg

import (
	"fmt"
	"math"
	"strings"
)

// dbToLinear converts a dBFS value to linear amplitude.
func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// Pan expressions for collapsing a stereo pair onto a mono bus. Used by the
// channel topology detector to measure sum and difference signals.
const (
	PanLeft  = "c0"
	PanRight = "c1"
	PanSum   = "0.5*c0+0.5*c1"
	PanDiff  = "c0-c1"
)

// AstatsFilter measures amplitude statistics over the whole file. astats
// prints one block per channel followed by an Overall block.
func AstatsFilter() string {
	return "astats"
}

// BandAstatsFilter measures amplitude statistics restricted to a frequency
// band. The band edges are realized as a highpass/lowpass pair ahead of
// astats.
func BandAstatsFilter(lo, hi float64) string {
	return fmt.Sprintf("highpass=f=%g,lowpass=f=%g,astats", lo, hi)
}

// EBUR128Filter runs the BS.1770 loudness meter with true-peak measurement.
// Per-frame readings and the final summary both arrive on stderr.
func EBUR128Filter() string {
	return "ebur128=metadata=1:peak=true"
}

// LoudnormMeasureFilter runs loudnorm in measurement mode. The filter prints
// a JSON block with input_i/input_tp/input_lra/input_thresh/target_offset
// when the stream ends.
func LoudnormMeasureFilter(i, tp, lra float64) string {
	return fmt.Sprintf("loudnorm=I=%g:TP=%g:LRA=%g:print_format=json", i, tp, lra)
}

// PhaseMeterFilter measures inter-channel phase correlation.
func PhaseMeterFilter() string {
	return "aphasemeter=video=0"
}

// PanMono collapses the input onto a mono bus with the given pan expression
// and chains astats behind it.
func PanMono(expr string) string {
	return fmt.Sprintf("pan=mono|c0=%s,astats", expr)
}

// WindowedAstatsFilter measures amplitude statistics per fixed-size window.
// asetnsamples regroups the stream into frames of the given length so that
// astats with reset=1 produces one measurement per window; ametadata prints
// the per-window values to stderr for ParseWindows.
func WindowedAstatsFilter(frames int) string {
	return fmt.Sprintf("asetnsamples=n=%d,astats=metadata=1:reset=1,ametadata=mode=print", frames)
}

// LoudnormRenderFilter runs loudnorm in linear render mode, feeding back the
// values from a prior measurement pass so the filter applies a single static
// gain instead of its dynamic fallback.
func LoudnormRenderFilter(i, tp, lra float64, m *LoudnormMeasurement) string {
	return fmt.Sprintf(
		"loudnorm=I=%g:TP=%g:LRA=%g:measured_I=%g:measured_TP=%g:measured_LRA=%g:measured_thresh=%g:offset=%g:linear=true",
		i, tp, lra, m.InputI, m.InputTP, m.InputLRA, m.InputThresh, m.TargetOffset)
}

// LimiterFilter caps peaks at the given ceiling. The ceiling arrives in
// dBFS and is converted to the linear limit alimiter expects.
func LimiterFilter(ceilingDb float64) string {
	return fmt.Sprintf("alimiter=limit=%.6f:level=false", dbToLinear(ceilingDb))
}

// MeasureArgs builds the argument list for a measurement-only invocation:
// the filtered audio is discarded through the null muxer and only stderr
// diagnostics are kept.
func MeasureArgs(path, filter string) []string {
	return []string{"-hide_banner", "-nostats", "-i", path, "-af", filter, "-f", "null", "-"}
}

// RenderArgs builds the argument list for a filtered re-encode. codecArgs
// selects the output codec ("-c:a", "pcm_s24le", ...); an empty filter
// renders a plain transcode.
func RenderArgs(input, output, filter string, codecArgs ...string) []string {
	args := []string{"-hide_banner", "-nostats", "-y", "-i", input}
	if filter != "" {
		args = append(args, "-af", filter)
	}
	args = append(args, codecArgs...)
	return append(args, output)
}

// ProbeArgs builds the argument list for a JSON container/stream probe.
func ProbeArgs(path string) []string {
	return []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path}
}

// ChainFilters joins filters into a single chain, skipping empties.
func ChainFilters(filters ...string) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, ",")
}
