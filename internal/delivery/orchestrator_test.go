package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/events"
	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/logging"
)

type fakeInspector struct {
	infos map[string]*AssetInfo
	err   error
}

func (f fakeInspector) Inspect(_ context.Context, path string) (*AssetInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[path]
	if !ok {
		return nil, errors.Newf("no probe fixture for %s", path).
			Component("delivery").
			Category(errors.CategoryValidation).
			Build()
	}
	return info, nil
}

type processCall struct {
	asset    string
	output   string
	platform string
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []processCall
	fail  map[string]error
}

func (f *fakeProcessor) Process(_ context.Context, assetPath, outputPath string, spec *PlatformSpec, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, processCall{asset: assetPath, output: outputPath, platform: spec.ID})
	if err := f.fail[spec.ID]; err != nil {
		return fmt.Sprintf("job-%d", len(f.calls)), err
	}
	return fmt.Sprintf("job-%d", len(f.calls)), nil
}

type uploadCall struct {
	platform string
	path     string
}

type fakeUploader struct {
	mu    sync.Mutex
	calls []uploadCall
	fail  map[string]error
}

func (f *fakeUploader) Upload(_ context.Context, spec *PlatformSpec, path string, _ map[string]string) (*UploadReceipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, uploadCall{platform: spec.ID, path: path})
	n := len(f.calls)
	f.mu.Unlock()
	if err := f.fail[spec.ID]; err != nil {
		return nil, err
	}
	now := time.Now()
	return &UploadReceipt{
		UploadID:    fmt.Sprintf("up-%d", n),
		URL:         fmt.Sprintf("https://open.example/%s/up-%d", spec.ID, n),
		StartedAt:   now,
		CompletedAt: now,
	}, nil
}

func (f *fakeUploader) platformCalls(platform string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.platform == platform {
			n++
		}
	}
	return n
}

// testContracts keeps the orchestrator tests independent of the embedded
// table: streamco sits at -14 LUFS, loudhouse at -8 and wav only.
func testContracts() *Table {
	return &Table{
		Version: tableVersion,
		Platforms: []PlatformSpec{
			{
				ID:                "streamco",
				Name:              "StreamCo",
				Formats:           []string{"wav", "flac"},
				MinBitDepth:       16,
				MinSampleRate:     44100,
				LoudnessTarget:    -14,
				LoudnessTolerance: 1,
				TruePeakMax:       -1,
				RequiredMetadata:  []string{"title", "artist"},
				Auth:              AuthBearer,
				BatchSize:         10,
			},
			{
				ID:                "loudhouse",
				Name:              "LoudHouse",
				Formats:           []string{"wav"},
				LoudnessTarget:    -8,
				LoudnessTolerance: 3,
				TruePeakMax:       -0.3,
				RequiredMetadata:  []string{"title", "artist", "genre"},
				Auth:              AuthAPIKey,
				BatchSize:         10,
			},
		},
	}
}

func testOrchestrator(t *testing.T, inspect inspector, process processor, upload Uploader) (*Orchestrator, *events.Bus) {
	t.Helper()
	settings := &conf.Settings{}
	settings.Normalize.TempDir = t.TempDir()
	bus := events.NewBus()
	return &Orchestrator{
		settings:   settings,
		table:      testContracts(),
		bus:        bus,
		logger:     logging.ForService("delivery"),
		inspect:    inspect,
		process:    process,
		upload:     upload,
		deliveries: make(map[string]*Delivery),
	}, bus
}

func wavInfo(path string, lufs float64) *AssetInfo {
	return &AssetInfo{
		Asset: &ffmpeg.AudioAsset{
			Path:       path,
			Format:     "wav",
			Codec:      "pcm_s24le",
			SampleRate: 48000,
			BitDepth:   24,
			Channels:   2,
			FileSize:   42 << 20,
			Duration:   212.4,
		},
		Loudness: &ffmpeg.LoudnormMeasurement{InputI: lufs, InputTP: -1.3, InputLRA: 6.2},
	}
}

func fullMetadata() map[string]string {
	return map[string]string{
		"title":  "Night Drive",
		"artist": "Volta Cartel",
		"genre":  "Techno",
	}
}

func TestRunDeliversAllPlatforms(t *testing.T) {
	const asset = "/catalog/night_drive.wav"
	inspect := fakeInspector{infos: map[string]*AssetInfo{asset: wavInfo(asset, -14.02)}}
	process := &fakeProcessor{}
	upload := &fakeUploader{}
	o, bus := testOrchestrator(t, inspect, process, upload)

	var states []string
	bus.Subscribe(events.TopicProject("proj-1"), func(ev events.Event) {
		states = append(states, ev.State)
	})

	d, err := o.Run(t.Context(), Request{
		Assets:    []string{asset},
		Platforms: []string{"streamco", "loudhouse"},
		Metadata:  fullMetadata(),
		ProjectID: "proj-1",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDelivered, d.Status)
	assert.Equal(t, percentDone, d.Progress)
	assert.False(t, d.CompletedAt.IsZero())
	assert.Equal(t, 2, d.Stats.Successful)
	assert.Zero(t, d.Stats.Failed)
	assert.Equal(t, map[string]int{"streamco": 1, "loudhouse": 1}, d.Stats.PerPlatform)

	// streamco sits within the trigger of -14, so only loudhouse renders.
	require.Len(t, process.calls, 1)
	assert.Equal(t, "loudhouse", process.calls[0].platform)
	assert.Equal(t, asset, process.calls[0].asset)
	assert.Contains(t, process.calls[0].output, "_loudhouse_")
	assert.True(t, strings.HasSuffix(process.calls[0].output, ".wav"))

	sc := d.PerPlatform["streamco"]
	require.NotNil(t, sc)
	assert.Equal(t, StatusDelivered, sc.Status)
	assert.False(t, sc.Assets[0].Processed)
	assert.Equal(t, asset, sc.Assets[0].UploadPath)
	assert.NotEmpty(t, sc.Assets[0].UploadID)

	lh := d.PerPlatform["loudhouse"]
	require.NotNil(t, lh)
	assert.Equal(t, StatusDelivered, lh.Status)
	assert.True(t, lh.Assets[0].Processed)
	assert.Equal(t, process.calls[0].output, lh.Assets[0].UploadPath)
	assert.Equal(t, "job-1", lh.Assets[0].JobID)

	assert.Equal(t, []string{"VALIDATING", "PROCESSING", "UPLOADING", "DELIVERED"}, states)

	got, ok := o.Get(d.ID)
	require.True(t, ok)
	assert.Equal(t, StatusDelivered, got.Status)
}

func TestRunValidationIsolatesPlatforms(t *testing.T) {
	const asset = "/catalog/night_drive.wav"
	inspect := fakeInspector{infos: map[string]*AssetInfo{asset: wavInfo(asset, -14.0)}}
	process := &fakeProcessor{}
	upload := &fakeUploader{}
	o, _ := testOrchestrator(t, inspect, process, upload)

	meta := fullMetadata()
	delete(meta, "genre")

	d, err := o.Run(t.Context(), Request{
		Assets:    []string{asset},
		Platforms: []string{"streamco", "loudhouse"},
		Metadata:  meta,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDelivered, d.Status, "one surviving platform is enough")
	assert.Equal(t, 1, d.Stats.Successful)
	assert.Equal(t, 1, d.Stats.Failed)

	lh := d.PerPlatform["loudhouse"]
	assert.Equal(t, StatusFailed, lh.Status)
	assert.Equal(t, StatusValidating, lh.Stage)
	assert.Contains(t, lh.Error, `"genre"`)

	assert.Equal(t, StatusDelivered, d.PerPlatform["streamco"].Status)
	assert.Zero(t, upload.platformCalls("loudhouse"), "rejected platforms never upload")
	assert.Empty(t, process.calls, "rejected platforms never render")
}

func TestRunRejectedWhenAllFailValidation(t *testing.T) {
	const asset = "/catalog/night_drive.wav"
	inspect := fakeInspector{infos: map[string]*AssetInfo{asset: wavInfo(asset, -14.0)}}
	process := &fakeProcessor{}
	upload := &fakeUploader{}
	o, bus := testOrchestrator(t, inspect, process, upload)

	var states []string
	bus.Subscribe(events.TopicProject("proj-2"), func(ev events.Event) {
		states = append(states, ev.State)
	})

	d, err := o.Run(t.Context(), Request{
		Assets:    []string{asset},
		Platforms: []string{"streamco", "loudhouse"},
		Metadata:  map[string]string{},
		ProjectID: "proj-2",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, d.Status)
	assert.Equal(t, 2, d.Stats.Failed)
	assert.Zero(t, d.Stats.Successful)
	assert.Empty(t, process.calls)
	assert.Empty(t, upload.calls)
	assert.Equal(t, []string{"VALIDATING", "REJECTED"}, states,
		"no processing or uploading stages when every platform rejects")
}

func TestRunUploadFailureFailsDelivery(t *testing.T) {
	const asset = "/catalog/night_drive.wav"
	inspect := fakeInspector{infos: map[string]*AssetInfo{asset: wavInfo(asset, -14.0)}}
	upload := &fakeUploader{fail: map[string]error{
		"streamco": errors.Newf("upload to streamco failed with status 500").
			Component("delivery").
			Category(errors.CategoryUpload).
			Build(),
	}}
	o, _ := testOrchestrator(t, inspect, &fakeProcessor{}, upload)

	d, err := o.Run(t.Context(), Request{
		Assets:    []string{asset},
		Platforms: []string{"streamco"},
		Metadata:  fullMetadata(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, d.Status)
	ps := d.PerPlatform["streamco"]
	assert.Equal(t, StatusFailed, ps.Status)
	assert.Equal(t, StatusUploading, ps.Stage)
	assert.Contains(t, ps.Error, "status 500")
	assert.Zero(t, d.Stats.Successful)
	assert.Equal(t, 1, d.Stats.Failed)
	assert.Zero(t, d.Stats.PerPlatform["streamco"])
}

func TestRunProcessFailureIsolatesPlatform(t *testing.T) {
	const asset = "/catalog/night_drive.wav"
	inspect := fakeInspector{infos: map[string]*AssetInfo{asset: wavInfo(asset, -14.0)}}
	process := &fakeProcessor{fail: map[string]error{
		"loudhouse": errors.Newf("loudness normalization job failed").
			Component("delivery").
			Category(errors.CategoryJob).
			Build(),
	}}
	upload := &fakeUploader{}
	o, _ := testOrchestrator(t, inspect, process, upload)

	d, err := o.Run(t.Context(), Request{
		Assets:    []string{asset},
		Platforms: []string{"streamco", "loudhouse"},
		Metadata:  fullMetadata(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDelivered, d.Status)

	lh := d.PerPlatform["loudhouse"]
	assert.Equal(t, StatusFailed, lh.Status)
	assert.Equal(t, StatusProcessing, lh.Stage)
	assert.NotEmpty(t, lh.Assets[0].JobID, "failed render still records its job")
	assert.Zero(t, upload.platformCalls("loudhouse"))

	assert.Equal(t, StatusDelivered, d.PerPlatform["streamco"].Status)
	assert.Equal(t, 1, upload.platformCalls("streamco"))
}

func TestRunFormatMismatchTriggersRender(t *testing.T) {
	const asset = "/catalog/night_drive.flac"
	info := wavInfo(asset, -8.0)
	info.Asset.Format = "flac"
	info.Asset.Codec = "flac"
	inspect := fakeInspector{infos: map[string]*AssetInfo{asset: info}}
	process := &fakeProcessor{}
	upload := &fakeUploader{}
	o, _ := testOrchestrator(t, inspect, process, upload)

	d, err := o.Run(t.Context(), Request{
		Assets:    []string{asset},
		Platforms: []string{"loudhouse"},
		Metadata:  fullMetadata(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDelivered, d.Status)
	require.Len(t, process.calls, 1, "flac renders to wav even at target loudness")
	assert.True(t, strings.HasSuffix(process.calls[0].output, ".wav"))

	require.Len(t, upload.calls, 1)
	assert.Equal(t, process.calls[0].output, upload.calls[0].path)
}

func TestRunInspectionFailureRejectsDelivery(t *testing.T) {
	inspect := fakeInspector{err: errors.Newf("ffprobe exited with status 1").
		Component("ffmpeg").
		Category(errors.CategoryCommandExecution).
		Build()}
	o, _ := testOrchestrator(t, inspect, &fakeProcessor{}, &fakeUploader{})

	d, err := o.Run(t.Context(), Request{
		Assets:    []string{"/catalog/broken.wav"},
		Platforms: []string{"streamco", "loudhouse"},
		Metadata:  fullMetadata(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, d.Status)
	for _, ps := range d.PerPlatform {
		assert.Equal(t, StatusFailed, ps.Status)
		assert.Equal(t, StatusValidating, ps.Stage)
		assert.Contains(t, ps.Error, "ffprobe")
	}
}

func TestRunRequestValidation(t *testing.T) {
	inspect := fakeInspector{infos: map[string]*AssetInfo{}}
	o, _ := testOrchestrator(t, inspect, &fakeProcessor{}, &fakeUploader{})

	_, err := o.Run(t.Context(), Request{Platforms: []string{"streamco"}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = o.Run(t.Context(), Request{
		Assets:    []string{"/catalog/a.wav"},
		Platforms: []string{"myspace"},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown platform "myspace"`)
}

func TestRunBatchedUploads(t *testing.T) {
	assets := []string{"/catalog/a.wav", "/catalog/b.wav", "/catalog/c.wav"}
	infos := make(map[string]*AssetInfo, len(assets))
	for _, a := range assets {
		infos[a] = wavInfo(a, -14.0)
	}
	upload := &fakeUploader{}
	o, _ := testOrchestrator(t, fakeInspector{infos: infos}, &fakeProcessor{}, upload)
	o.table.Platforms[0].BatchSize = 2

	d, err := o.Run(t.Context(), Request{
		Assets:    assets,
		Platforms: []string{"streamco"},
		Metadata:  fullMetadata(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDelivered, d.Status)
	assert.Equal(t, 3, upload.platformCalls("streamco"))
	assert.Equal(t, 3, d.Stats.PerPlatform["streamco"])
	for _, ad := range d.PerPlatform["streamco"].Assets {
		assert.NotEmpty(t, ad.UploadID)
		assert.NotEmpty(t, ad.URL)
	}
}

func TestGetAndListSnapshots(t *testing.T) {
	const asset = "/catalog/night_drive.wav"
	inspect := fakeInspector{infos: map[string]*AssetInfo{asset: wavInfo(asset, -14.0)}}
	o, _ := testOrchestrator(t, inspect, &fakeProcessor{}, &fakeUploader{})

	first, err := o.Run(t.Context(), Request{
		Assets: []string{asset}, Platforms: []string{"streamco"}, Metadata: fullMetadata(),
	})
	require.NoError(t, err)
	second, err := o.Run(t.Context(), Request{
		Assets: []string{asset}, Platforms: []string{"loudhouse"}, Metadata: fullMetadata(),
	})
	require.NoError(t, err)

	_, ok := o.Get("no-such-delivery")
	assert.False(t, ok)

	got, ok := o.Get(first.ID)
	require.True(t, ok)
	got.PerPlatform["streamco"].Status = StatusPending
	again, _ := o.Get(first.ID)
	assert.Equal(t, StatusDelivered, again.PerPlatform["streamco"].Status,
		"snapshots do not write back")

	list := o.List()
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

type fakeNotifier struct {
	mu      sync.Mutex
	settled []*Delivery
}

func (f *fakeNotifier) DeliverySettled(_ context.Context, d *Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, d)
}

func TestRunNotifiesOnTerminalStatus(t *testing.T) {
	const asset = "/catalog/night_drive.wav"
	inspect := fakeInspector{infos: map[string]*AssetInfo{asset: wavInfo(asset, -14.02)}}
	o, _ := testOrchestrator(t, inspect, &fakeProcessor{}, &fakeUploader{})

	notifier := &fakeNotifier{}
	o.SetNotifier(notifier)

	d, err := o.Run(t.Context(), Request{
		Assets:    []string{asset},
		Platforms: []string{"streamco"},
		Metadata:  fullMetadata(),
	})
	require.NoError(t, err)

	require.Len(t, notifier.settled, 1)
	assert.Equal(t, d.ID, notifier.settled[0].ID)
	assert.Equal(t, StatusDelivered, notifier.settled[0].Status)
}
