// Package ffmpeg invokes the external measurement tools (ffmpeg, ffprobe)
// and parses their diagnostic output into typed records. All measurement
// values travel over stderr as labeled key/value lines or periodic
// time-series readings; this package owns every regex that touches that
// output so patterns are tested in one place against recorded fixtures.
package ffmpeg

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/observability/metrics"
	cache "github.com/patrickmn/go-cache"
)

// stderrTailBytes bounds how much tool stderr is attached to an error.
const stderrTailBytes = 2048

// RunResult holds the raw output of a completed tool invocation.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	ExitCode int
}

// Runner executes ffmpeg and ffprobe with a bounded per-invocation timeout.
// A zero-value Runner is not usable; construct with NewRunner.
type Runner struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.InvokerMetrics
	probeCache  *cache.Cache
}

// NewRunner builds a Runner from the tool settings. Empty binary paths fall
// back to resolution via PATH at spawn time.
func NewRunner(settings *conf.Settings) *Runner {
	ffmpegPath := settings.Tools.FfmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := settings.Tools.FfprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	timeout := settings.Tools.Timeout
	if timeout <= 0 {
		timeout = conf.DefaultToolTimeout
	}
	ttl := settings.Analyzer.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Runner{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     timeout,
		logger:      logging.ForService("ffmpeg"),
		probeCache:  cache.New(ttl, 2*ttl),
	}
}

// SetMetrics attaches invoker metrics. Safe to leave unset; recording is
// skipped when no metrics instance is present.
func (r *Runner) SetMetrics(m *metrics.InvokerMetrics) {
	r.metrics = m
}

// Timeout returns the per-invocation timeout applied when the caller's
// context carries no deadline.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// FFmpeg runs the ffmpeg binary with the given arguments.
func (r *Runner) FFmpeg(ctx context.Context, args ...string) (*RunResult, error) {
	return r.run(ctx, "ffmpeg", r.ffmpegPath, args)
}

// FFprobe runs the ffprobe binary with the given arguments.
func (r *Runner) FFprobe(ctx context.Context, args ...string) (*RunResult, error) {
	return r.run(ctx, "ffprobe", r.ffprobePath, args)
}

// run executes one tool invocation. Failures are classified so callers can
// distinguish a tool that ran and failed (exit error, stderr attached) from
// a tool that never ran (spawn error) or was cut short (timeout, cancel).
// It never panics; a RunResult is returned alongside exit errors so callers
// can still inspect partial output.
func (r *Runner) run(ctx context.Context, tool, bin string, args []string) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &RunResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: elapsed,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if r.metrics != nil {
		r.metrics.RecordInvocationDuration(tool, elapsed.Seconds())
	}

	if err == nil {
		r.recordStatus(tool, "success")
		return result, nil
	}

	// Context errors take precedence: a killed child also reports an exit
	// error, but the timeout is the actual cause.
	switch ctx.Err() {
	case context.DeadlineExceeded:
		r.recordStatus(tool, "timeout")
		r.logger.Warn("tool invocation timed out",
			"tool", tool, "args", firstArgs(args), "timeout", r.timeout)
		return result, errors.Newf("%s timed out after %v", tool, elapsed.Round(time.Millisecond)).
			Component("ffmpeg").
			Category(errors.CategoryTimeout).
			ToolContext(tool, result.ExitCode).
			Timing("invoke", elapsed).
			Build()
	case context.Canceled:
		r.recordStatus(tool, "canceled")
		return result, errors.Newf("%s canceled", tool).
			Component("ffmpeg").
			Category(errors.CategoryCancellation).
			ToolContext(tool, result.ExitCode).
			Build()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.recordStatus(tool, "exit_error")
		r.logger.Debug("tool exited non-zero",
			"tool", tool, "exit_code", result.ExitCode, "stderr_bytes", len(result.Stderr))
		return result, errors.Newf("%s exited with code %d", tool, result.ExitCode).
			Component("ffmpeg").
			Category(errors.CategoryCommandExecution).
			ToolContext(tool, result.ExitCode).
			Context("stderr_tail", tail(result.Stderr, stderrTailBytes)).
			Timing("invoke", elapsed).
			Build()
	}

	// Spawn failure: the binary is missing or not executable.
	r.recordStatus(tool, "spawn_error")
	r.logger.Error("tool could not be spawned", "tool", tool, "binary", bin, "error", err)
	return nil, errors.New(err).
		Component("ffmpeg").
		Category(errors.CategorySystem).
		Context("tool", tool).
		Context("binary", bin).
		Build()
}

func (r *Runner) recordStatus(tool, status string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordInvocation(tool, status)
	if status != "success" {
		r.metrics.RecordInvocationError(tool, status)
	}
}

// tail returns the last n bytes of b as a string.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

// firstArgs trims an argument list for log lines.
func firstArgs(args []string) []string {
	const maxLogged = 8
	if len(args) <= maxLogged {
		return args
	}
	return args[:maxLogged]
}
