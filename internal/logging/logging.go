// Package logging provides the application-wide structured logging setup.
// It maintains two global loggers: a JSON logger on stdout for machine
// consumption and a text logger on stderr for humans, plus helpers to build
// rotating per-service file loggers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Custom levels beyond the slog defaults.
const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

var (
	mu                  sync.RWMutex
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger
	currentLevel        = new(slog.LevelVar)
)

// renameLevels maps the custom trace/fatal levels to readable labels.
func renameLevels(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		label, exists := levelNames[level]
		if !exists {
			label = level.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

func newHandlers(structuredOut, humanOut io.Writer) (slog.Handler, slog.Handler) {
	structured := slog.NewJSONHandler(structuredOut, &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: renameLevels,
	})
	human := slog.NewTextHandler(humanOut, &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: renameLevels,
	})
	return structured, human
}

// Init configures the global loggers: JSON to stdout, text to stderr.
// The JSON logger becomes the slog default.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	currentLevel.Set(slog.LevelInfo)
	structured, human := newHandlers(os.Stdout, os.Stderr)
	structuredLogger = slog.New(structured)
	humanReadableLogger = slog.New(human)
	slog.SetDefault(structuredLogger)
}

// SetLevel adjusts the minimum level of both global loggers. Safe to call
// at runtime; handlers share a LevelVar.
func SetLevel(level slog.Level) {
	currentLevel.Set(level)
}

// SetOutput redirects both global loggers, preserving the configured level.
// Intended for tests and for the support-dump path.
func SetOutput(structuredOut, humanOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	structured, human := newHandlers(structuredOut, humanOut)
	structuredLogger = slog.New(structured)
	humanReadableLogger = slog.New(human)
	slog.SetDefault(structuredLogger)
}

// Structured returns the global JSON logger, or nil before Init.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the global text logger, or nil before Init.
func HumanReadable() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return humanReadableLogger
}

// ForService returns a child of the structured logger tagged with the
// given service name. Falls back to slog.Default when Init has not run,
// so package-level logger vars are always usable.
func ForService(serviceName string) *slog.Logger {
	mu.RLock()
	base := structuredLogger
	mu.RUnlock()
	if base == nil {
		base = slog.Default()
	}
	return base.With("service", serviceName)
}

// Debug logs through the default logger.
func Debug(msg string, args ...any) { slog.Debug(msg, args...) }

// Info logs through the default logger.
func Info(msg string, args ...any) { slog.Info(msg, args...) }

// Warn logs through the default logger.
func Warn(msg string, args ...any) { slog.Warn(msg, args...) }

// Error logs through the default logger.
func Error(msg string, args ...any) { slog.Error(msg, args...) }

// Trace logs at the custom trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// Fatal logs at the custom fatal level and exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// RotationPolicy controls file logger rotation. Zero values fall back to
// size-based rotation with the package defaults.
type RotationPolicy struct {
	MaxSizeMB  int  // rotate after this many megabytes, default 100
	MaxBackups int  // rotated files to keep, default 3
	MaxAgeDays int  // days to keep rotated files, default 28
	Compress   bool // gzip rotated files
}

func (p RotationPolicy) withDefaults() RotationPolicy {
	if p.MaxSizeMB <= 0 {
		p.MaxSizeMB = 100
	}
	if p.MaxBackups <= 0 {
		p.MaxBackups = 3
	}
	if p.MaxAgeDays <= 0 {
		p.MaxAgeDays = 28
	}
	return p
}

// NewFileLogger builds a JSON logger writing to filePath through lumberjack
// rotation, tagged with the service name. The returned func closes the
// underlying writer.
func NewFileLogger(filePath, serviceName string, level slog.Level, policy RotationPolicy) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	policy = policy.withDefaults()
	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    policy.MaxSizeMB,
		MaxBackups: policy.MaxBackups,
		MaxAge:     policy.MaxAgeDays,
		Compress:   policy.Compress,
	}

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: renameLevels,
	})
	logger := slog.New(fileHandler).With("service", serviceName)

	return logger, logWriter.Close, nil
}
