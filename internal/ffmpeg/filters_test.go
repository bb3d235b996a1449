package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterBuilders(t *testing.T) {
	assert.Equal(t, "astats", AstatsFilter())
	assert.Equal(t, "highpass=f=20,lowpass=f=60,astats", BandAstatsFilter(20, 60))
	assert.Equal(t, "highpass=f=31.5,lowpass=f=44.5,astats", BandAstatsFilter(31.5, 44.5))
	assert.Equal(t, "ebur128=metadata=1:peak=true", EBUR128Filter())
	assert.Equal(t, "loudnorm=I=-14:TP=-1:LRA=11:print_format=json", LoudnormMeasureFilter(-14, -1, 11))
	assert.Equal(t, "aphasemeter=video=0", PhaseMeterFilter())
	assert.Equal(t, "pan=mono|c0=c0-c1,astats", PanMono(PanDiff))
	assert.Equal(t, "pan=mono|c0=0.5*c0+0.5*c1,astats", PanMono(PanSum))
	assert.Equal(t,
		"asetnsamples=n=19200,astats=metadata=1:reset=1,ametadata=mode=print",
		WindowedAstatsFilter(19200))
}

func TestLoudnormRenderFilterFeedsBackMeasurement(t *testing.T) {
	m := &LoudnormMeasurement{
		InputI:       -8.5,
		InputTP:      -0.3,
		InputLRA:     4.2,
		InputThresh:  -18.9,
		TargetOffset: 0.4,
	}
	assert.Equal(t,
		"loudnorm=I=-14:TP=-1:LRA=11:measured_I=-8.5:measured_TP=-0.3:measured_LRA=4.2:measured_thresh=-18.9:offset=0.4:linear=true",
		LoudnormRenderFilter(-14, -1, 11, m))
}

func TestLimiterFilterConvertsCeiling(t *testing.T) {
	// -1 dBFS is 0.891251 linear after rounding.
	assert.Equal(t, "alimiter=limit=0.891251:level=false", LimiterFilter(-1))
	assert.Equal(t, "alimiter=limit=1.000000:level=false", LimiterFilter(0))
}

func TestRenderArgs(t *testing.T) {
	args := RenderArgs("in.wav", "out.flac", "loudnorm", "-c:a", "flac")
	assert.Equal(t, []string{
		"-hide_banner", "-nostats", "-y", "-i", "in.wav",
		"-af", "loudnorm", "-c:a", "flac", "out.flac",
	}, args)

	plain := RenderArgs("in.wav", "out.wav", "", "-c:a", "pcm_s24le")
	assert.Equal(t, []string{
		"-hide_banner", "-nostats", "-y", "-i", "in.wav",
		"-c:a", "pcm_s24le", "out.wav",
	}, plain)
}

func TestMeasureArgsDiscardOutput(t *testing.T) {
	args := MeasureArgs("/music/track.wav", "astats")
	assert.Equal(t, []string{"-hide_banner", "-nostats", "-i", "/music/track.wav", "-af", "astats", "-f", "null", "-"}, args)
}

func TestProbeArgs(t *testing.T) {
	args := ProbeArgs("in.flac")
	assert.Equal(t, []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", "in.flac"}, args)
}

func TestChainFiltersSkipsEmpty(t *testing.T) {
	assert.Equal(t, "a,b", ChainFilters("a", "", "b"))
	assert.Equal(t, "", ChainFilters())
}
