package delivery

import (
	"context"

	"github.com/audiolens/masterqc/internal/ffmpeg"
)

// measurementLRA is the loudness-range target handed to the measurement
// pass. The measured values are target-independent; 11 LU is the filter's
// own default.
const measurementLRA = 11.0

// AssetInfo couples the probe-derived description of one asset with its
// measured loudness. One inspection is shared across every platform check
// of a delivery.
type AssetInfo struct {
	Asset    *ffmpeg.AudioAsset
	Loudness *ffmpeg.LoudnormMeasurement
}

// IntegratedLUFS returns the measured integrated loudness.
func (a *AssetInfo) IntegratedLUFS() float64 {
	return a.Loudness.InputI
}

// inspector measures the asset properties the platform contracts constrain.
// The orchestrator holds its collaborators behind small interfaces so tests
// can substitute them.
type inspector interface {
	Inspect(ctx context.Context, path string) (*AssetInfo, error)
}

// runnerInspector measures assets with the external tools.
type runnerInspector struct {
	runner *ffmpeg.Runner
}

func (r runnerInspector) Inspect(ctx context.Context, path string) (*AssetInfo, error) {
	probe, err := r.runner.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	asset, err := probe.Asset(path)
	if err != nil {
		return nil, err
	}
	// Measurement target values do not affect the measured input values.
	measured, err := r.runner.MeasureLoudnorm(ctx, path, -23, -1, measurementLRA)
	if err != nil {
		return nil, err
	}
	return &AssetInfo{Asset: asset, Loudness: measured}, nil
}
