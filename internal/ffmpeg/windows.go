package ffmpeg

import (
	"bufio"
	"regexp"
	"strings"
)

// WindowStats holds per-window amplitude statistics produced by the windowed
// astats chain (WindowedAstatsFilter). CrestDb is derived as peak minus RMS
// so it stays in decibels regardless of the tool's linear crest output.
type WindowStats struct {
	Index      int
	Time       float64
	PeakDb     float64
	RMSDb      float64
	CrestDb    float64
	FlatFactor float64
}

var (
	windowFramePattern = regexp.MustCompile(`^frame:(\d+)\s+pts:\S+\s+pts_time:(-?\d+(?:\.\d+)?)`)
	windowKeyPattern   = regexp.MustCompile(`^lavfi\.astats\.Overall\.(\w+)=(-?\d+(?:\.\d+)?|-?inf|inf|nan)`)
)

// ParseWindows extracts the per-window Overall statistics from ametadata
// print output. Windows missing either peak or RMS (a truncated final frame)
// are skipped. Order follows emission order, one entry per analysis window.
func (r *Runner) ParseWindows(output string) []WindowStats {
	if r.metrics != nil {
		r.metrics.RecordParseOperation("windows")
	}
	return ParseWindows(output)
}

// ParseWindows extracts per-window statistics without invoker bookkeeping.
func ParseWindows(output string) []WindowStats {
	var (
		windows []WindowStats
		current WindowStats
		open    bool
		hasPeak bool
		hasRMS  bool
	)
	flush := func() {
		if open && hasPeak && hasRMS {
			current.CrestDb = current.PeakDb - current.RMSDb
			current.Index = len(windows)
			windows = append(windows, current)
		}
		open, hasPeak, hasRMS = false, false, false
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if fm := windowFramePattern.FindStringSubmatch(line); fm != nil {
			flush()
			open = true
			current = WindowStats{}
			if t, err := parseToolFloat(fm[2]); err == nil {
				current.Time = t
			}
			continue
		}
		if !open {
			continue
		}
		km := windowKeyPattern.FindStringSubmatch(line)
		if km == nil {
			continue
		}
		value, err := parseToolFloat(km[2])
		if err != nil {
			continue
		}
		switch km[1] {
		case "Peak_level":
			current.PeakDb = value
			hasPeak = true
		case "RMS_level":
			current.RMSDb = value
			hasRMS = true
		case "Flat_factor":
			current.FlatFactor = value
		}
	}
	flush()
	return windows
}
