package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForServiceAddsServiceAttr(t *testing.T) {
	Init()
	var structured, human bytes.Buffer
	SetOutput(&structured, &human)

	logger := ForService("jobqueue")
	require.NotNil(t, logger)
	logger.Info("worker started", "workers", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(structured.Bytes(), &entry))
	assert.Equal(t, "jobqueue", entry["service"])
	assert.Equal(t, "worker started", entry["msg"])
	assert.InDelta(t, 3, entry["workers"], 0.01)
}

func TestSetLevelFiltersDebug(t *testing.T) {
	Init()
	var structured, human bytes.Buffer
	SetOutput(&structured, &human)

	SetLevel(slog.LevelInfo)
	Structured().Debug("hidden")
	assert.Empty(t, structured.String())

	SetLevel(slog.LevelDebug)
	Structured().Debug("visible")
	assert.Contains(t, structured.String(), "visible")
}

func TestCustomLevelNames(t *testing.T) {
	Init()
	var structured, human bytes.Buffer
	SetOutput(&structured, &human)
	SetLevel(LevelTrace)

	Trace("trace line")
	assert.Contains(t, structured.String(), `"TRACE"`)
}

func TestNewFileLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "analyzer.log")

	logger, closeFn, err := NewFileLogger(path, "analyzer", slog.LevelInfo, RotationPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	logger.Info("analysis complete", "analyzer", "loudness")
	require.NoError(t, closeFn())

	assert.FileExists(t, path)
}

func TestRotationPolicyDefaults(t *testing.T) {
	p := RotationPolicy{}.withDefaults()
	assert.Equal(t, 100, p.MaxSizeMB)
	assert.Equal(t, 3, p.MaxBackups)
	assert.Equal(t, 28, p.MaxAgeDays)

	custom := RotationPolicy{MaxSizeMB: 10, MaxBackups: 1, MaxAgeDays: 7}.withDefaults()
	assert.Equal(t, 10, custom.MaxSizeMB)
	assert.Equal(t, 1, custom.MaxBackups)
	assert.Equal(t, 7, custom.MaxAgeDays)
}
