package ffmpeg

import (
	"bufio"
	"regexp"
	"strings"
)

// TimePoint is one periodic loudness reading from the meter: momentary
// (400 ms window) and short-term (3 s window) loudness at time T seconds.
type TimePoint struct {
	T         float64
	Momentary float64
	ShortTerm float64
}

// The meter emits one reading per 100 ms frame, e.g.
//
//	[Parsed_ebur128_0 @ ...] t: 2.5 TARGET:-23 LUFS M: -18.4 S: -17.9 I: -17.6 LUFS ...
//
// Only t/M/S are extracted; the integrated value comes from the summary
// block instead, where it is gated over the full program.
var (
	seriesTimePattern      = regexp.MustCompile(`t:\s*(-?\d+(?:\.\d+)?)`)
	seriesMomentaryPattern = regexp.MustCompile(`M:\s*(-?\d+(?:\.\d+)?|-?inf|nan)`)
	seriesShortTermPattern = regexp.MustCompile(`S:\s*(-?\d+(?:\.\d+)?|-?inf|nan)`)
)

// ParseTimeSeries extracts the periodic t/M/S readings from meter stderr.
// Readings are returned in emission order with monotonically non-decreasing
// T; a reading whose timestamp runs backwards is dropped, never reordered.
func (r *Runner) ParseTimeSeries(output string) []TimePoint {
	if r.metrics != nil {
		r.metrics.RecordParseOperation("timeseries")
	}
	points, dropped := parseTimeSeries(output)
	if dropped > 0 {
		if r.metrics != nil {
			r.metrics.RecordParseError("timeseries", "t")
		}
		r.logger.Debug("dropped out-of-order time-series readings",
			"dropped", dropped, "kept", len(points))
	}
	return points
}

// ParseTimeSeries extracts t/M/S readings without invoker bookkeeping.
func ParseTimeSeries(output string) []TimePoint {
	points, _ := parseTimeSeries(output)
	return points
}

func parseTimeSeries(output string) (points []TimePoint, dropped int) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lastT := -1.0
	for scanner.Scan() {
		line := scanner.Text()
		tm := seriesTimePattern.FindStringSubmatch(line)
		mm := seriesMomentaryPattern.FindStringSubmatch(line)
		sm := seriesShortTermPattern.FindStringSubmatch(line)
		if tm == nil || mm == nil || sm == nil {
			continue
		}
		t, errT := parseToolFloat(tm[1])
		m, errM := parseToolFloat(mm[1])
		s, errS := parseToolFloat(sm[1])
		if errT != nil || errM != nil || errS != nil {
			continue
		}
		if t < lastT {
			dropped++
			continue
		}
		lastT = t
		points = append(points, TimePoint{T: t, Momentary: m, ShortTerm: s})
	}
	return points, dropped
}
