package analyzer

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/logging"
)

type stubAnalyzer struct {
	name       string
	report     *Report
	err        error
	calls      int
	quickCalls int
	lastPath   string
}

func (s *stubAnalyzer) Name() string { return s.name }

func (s *stubAnalyzer) Analyze(_ context.Context, path string, _ *Options) (*Report, error) {
	s.calls++
	s.lastPath = path
	if s.err != nil {
		return nil, s.err
	}
	if s.report != nil {
		return s.report, nil
	}
	return &Report{Status: "OK", Measurements: map[string]float64{}}, nil
}

func (s *stubAnalyzer) QuickCheck(context.Context, string) (*CompactReport, error) {
	s.quickCalls++
	if s.err != nil {
		return nil, s.err
	}
	return &CompactReport{Status: "OK", Ok: true}, nil
}

type passthroughScope struct {
	calls int
	err   error
}

func (p *passthroughScope) WithNormalization(_ context.Context, path string, fn func(string) error) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	return fn(path + ".norm.wav")
}

func stubMembers() []*stubAnalyzer {
	names := []string{
		"loudness", "intersample", "clipping", "club_stress", "gain_reduction",
		"spectral_balance", "channels", "normalization", "metadata",
	}
	members := make([]*stubAnalyzer, len(names))
	for i, name := range names {
		members[i] = &stubAnalyzer{name: name}
	}
	return members
}

func newStubSuite(scope normalizeScope, members []*stubAnalyzer) *Suite {
	s := &Suite{
		normalizer: scope,
		analyzers:  make(map[string]Analyzer, len(members)),
		logger:     logging.ForService("analyzer"),
	}
	for _, m := range members {
		s.analyzers[m.name] = m
		s.order = append(s.order, m.name)
	}
	return s
}

func TestSuiteRunBasicRunsThreeMembers(t *testing.T) {
	t.Parallel()

	scope := &passthroughScope{}
	members := stubMembers()
	s := newStubSuite(scope, members)

	result, err := s.Run(context.Background(), "/assets/a.wav", LevelBasic, nil)
	require.NoError(t, err)

	assert.Len(t, result.Reports, 3)
	assert.Equal(t, 1, scope.calls)
	assert.Equal(t, "/assets/a.wav", result.Path)
	for _, m := range members {
		switch m.name {
		case "loudness", "intersample", "clipping":
			assert.Equal(t, 1, m.calls, "%s must run", m.name)
			assert.Equal(t, "/assets/a.wav.norm.wav", m.lastPath,
				"%s must see the normalized copy", m.name)
		default:
			assert.Zero(t, m.calls, "%s must not run at basic level", m.name)
		}
	}
}

func TestSuiteRunFullAggregatesAllMembers(t *testing.T) {
	t.Parallel()

	scope := &passthroughScope{}
	members := stubMembers()
	s := newStubSuite(scope, members)

	result, err := s.Run(context.Background(), "/assets/a.flac", LevelFull, nil)
	require.NoError(t, err)

	assert.Len(t, result.Reports, len(members))
	assert.Equal(t, 1, scope.calls, "one normalization scope per run")
	for _, m := range members {
		assert.Equal(t, 1, m.calls, "%s must run exactly once", m.name)
	}
	assert.Equal(t, LevelFull, result.Level)
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
}

func TestSuiteRunRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	s := newStubSuite(&passthroughScope{}, stubMembers())
	result, err := s.Run(context.Background(), "/a.wav", "deep", nil)

	require.Error(t, err)
	assert.Nil(t, result)
}

func TestSuiteRunPropagatesNormalizationError(t *testing.T) {
	t.Parallel()

	errNoScratch := stderrors.New("no scratch space")
	scope := &passthroughScope{err: errNoScratch}
	members := stubMembers()
	s := newStubSuite(scope, members)

	result, err := s.Run(context.Background(), "/a.wav", LevelBasic, nil)

	require.ErrorIs(t, err, errNoScratch)
	assert.Nil(t, result)
	for _, m := range members {
		assert.Zero(t, m.calls)
	}
}

func TestSuiteRunAbortsOnAnalyzerError(t *testing.T) {
	t.Parallel()

	members := stubMembers()
	members[0].err = context.Canceled
	s := newStubSuite(&passthroughScope{}, members)

	result, err := s.Run(context.Background(), "/a.wav", LevelBasic, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

func TestSuiteQuickUsesBasicMembers(t *testing.T) {
	t.Parallel()

	members := stubMembers()
	s := newStubSuite(&passthroughScope{}, members)

	out, err := s.Quick(context.Background(), "/a.wav")
	require.NoError(t, err)

	assert.Len(t, out, 3)
	for _, m := range members {
		switch m.name {
		case "loudness", "intersample", "clipping":
			assert.Equal(t, 1, m.quickCalls)
		default:
			assert.Zero(t, m.quickCalls)
		}
	}
}

func TestScoreSuite(t *testing.T) {
	t.Parallel()

	clean := map[string]*Report{
		"loudness": {Status: LoudnessCompliant},
		"clipping": {Status: ClipSeverityNone},
	}
	problems, confidence := scoreSuite(clean)
	assert.Zero(t, problems)
	assert.InDelta(t, 0.95, confidence, 1e-9)

	flagged := map[string]*Report{
		"loudness":    {Status: LoudnessTooLoud, Problem: true},
		"intersample": {Status: IntersampleCritical, Problem: true},
		"clipping":    {Status: ClipSeveritySevere, Problem: true},
	}
	problems, confidence = scoreSuite(flagged)
	assert.Equal(t, 3, problems)
	assert.InDelta(t, 0.70, confidence, 1e-9)
}

func TestScoreSuiteClampsAtFloor(t *testing.T) {
	t.Parallel()

	reports := map[string]*Report{
		"loudness": {Status: LoudnessTooQuiet, Problem: true},
	}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		reports[name] = &Report{Problem: true}
	}
	problems, confidence := scoreSuite(reports)

	assert.Equal(t, 8, problems)
	assert.InDelta(t, 0.60, confidence, 1e-9)
}

func TestNewSuiteRegistersAllAnalyzers(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Analyzer.Platform = "spotify"
	settings.Analyzer.ReferenceCurve = "techno"
	settings.Analyzer.Granularity = 0.4

	s := NewSuite(settings, ffmpeg.NewRunner(settings), &passthroughScope{})

	want := []string{
		"loudness", "intersample", "clipping", "club_stress", "gain_reduction",
		"spectral_balance", "channels", "normalization", "metadata",
	}
	assert.Equal(t, want, s.Names())
	for _, name := range want {
		a, ok := s.Analyzer(name)
		require.True(t, ok, name)
		assert.Equal(t, name, a.Name())
	}
}
