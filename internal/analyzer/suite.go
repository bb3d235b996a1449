package analyzer

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/observability/metrics"
)

// Suite depth levels.
const (
	LevelBasic = "basic"
	LevelFull  = "full"
)

// basicAnalyzers are the members of a basic run, in execution order.
var basicAnalyzers = []string{"loudness", "intersample", "clipping"}

// normalizeScope provides one normalized analysis file for the duration
// of a callback. Satisfied by normalize.Normalizer.
type normalizeScope interface {
	WithNormalization(ctx context.Context, path string, fn func(analysisPath string) error) error
}

// SuiteResult aggregates one suite run over a single asset.
type SuiteResult struct {
	Path       string             `json:"path"`
	Level      string             `json:"level"`
	Reports    map[string]*Report `json:"reports"`
	Problems   int                `json:"problems"`
	Confidence float64            `json:"confidence"`
	DurationMs int64              `json:"durationMs"`
}

// Suite owns the nine analyzers and runs them against one normalization
// scope per asset.
type Suite struct {
	normalizer normalizeScope
	analyzers  map[string]Analyzer
	order      []string
	defaults   Options
	logger     *slog.Logger
	ametrics   *metrics.AnalyzerMetrics
}

// NewSuite wires the full analyzer set from the active settings.
func NewSuite(settings *conf.Settings, runner *ffmpeg.Runner, normalizer normalizeScope) *Suite {
	members := []Analyzer{
		NewLoudness(runner),
		NewIntersample(runner),
		NewClipping(runner),
		NewClubStress(runner),
		NewGainMap(runner, settings.Analyzer.Granularity),
		NewSpectral(runner, settings.Analyzer.ReferenceCurve),
		NewChannels(runner),
		NewReplayGain(runner),
		NewMetadata(runner),
	}
	s := &Suite{
		normalizer: normalizer,
		analyzers:  make(map[string]Analyzer, len(members)),
		order:      make([]string, 0, len(members)),
		defaults: Options{
			Platform:       settings.Analyzer.Platform,
			ReferenceCurve: settings.Analyzer.ReferenceCurve,
			Granularity:    settings.Analyzer.Granularity,
		},
		logger: logging.ForService("analyzer"),
	}
	for _, a := range members {
		s.analyzers[a.Name()] = a
		s.order = append(s.order, a.Name())
	}
	return s
}

// SetMetrics attaches the analyzer metrics collector to the suite and all
// of its members.
func (s *Suite) SetMetrics(m *metrics.AnalyzerMetrics) {
	s.ametrics = m
	for _, a := range s.analyzers {
		switch v := a.(type) {
		case *LoudnessAnalyzer:
			v.metrics = m
		case *IntersampleAnalyzer:
			v.metrics = m
		case *ClippingAnalyzer:
			v.metrics = m
		case *ClubStressAnalyzer:
			v.metrics = m
		case *GainMapAnalyzer:
			v.metrics = m
		case *SpectralAnalyzer:
			v.metrics = m
		case *ChannelAnalyzer:
			v.metrics = m
		case *ReplayGainAnalyzer:
			v.metrics = m
		case *MetadataAnalyzer:
			v.metrics = m
		}
	}
}

// Analyzer returns a suite member by name.
func (s *Suite) Analyzer(name string) (Analyzer, bool) {
	a, ok := s.analyzers[name]
	return a, ok
}

// Names returns the member names in execution order.
func (s *Suite) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Run executes the suite at the given level inside one normalization
// scope. Basic runs loudness, intersample and clipping sequentially; full
// fans all nine out concurrently. Analyzers that fail measurement have
// already demoted themselves to neutral reports, so an error here means
// the run was cancelled or the asset could not be prepared.
func (s *Suite) Run(ctx context.Context, path, level string, opts *Options) (*SuiteResult, error) {
	start := time.Now()
	if level != LevelBasic && level != LevelFull {
		return nil, errors.Newf("unknown analysis level %q", level).
			Component("analyzer").
			Category(errors.CategoryValidation).
			Build()
	}
	if opts == nil {
		o := s.defaults
		opts = &o
	}

	names := basicAnalyzers
	if level == LevelFull {
		names = s.order
	}
	reports := make(map[string]*Report, len(names))

	err := s.normalizer.WithNormalization(ctx, path, func(analysisPath string) error {
		if level == LevelBasic {
			for _, name := range names {
				rep, err := s.analyzers[name].Analyze(ctx, analysisPath, opts)
				if err != nil {
					return err
				}
				reports[name] = rep
			}
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		slots := make([]*Report, len(names))
		for i, name := range names {
			g.Go(func() error {
				rep, err := s.analyzers[name].Analyze(gctx, analysisPath, opts)
				if err != nil {
					return err
				}
				slots[i] = rep
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i, name := range names {
			reports[name] = slots[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{
		Path:       path,
		Level:      level,
		Reports:    reports,
		DurationMs: time.Since(start).Milliseconds(),
	}
	result.Problems, result.Confidence = scoreSuite(reports)
	if s.ametrics != nil {
		s.ametrics.RecordSuiteRun(level, time.Since(start).Seconds())
	}
	s.logger.Info("suite run complete",
		"path", path,
		"level", level,
		"problems", result.Problems,
		"confidence", result.Confidence,
		"duration_ms", result.DurationMs)
	return result, nil
}

// Quick runs the basic members' quick checks sequentially.
func (s *Suite) Quick(ctx context.Context, path string) (map[string]*CompactReport, error) {
	out := make(map[string]*CompactReport, len(basicAnalyzers))
	for _, name := range basicAnalyzers {
		c, err := s.analyzers[name].QuickCheck(ctx, path)
		if err != nil {
			return nil, err
		}
		out[name] = c
	}
	return out, nil
}

// scoreSuite derives the aggregate problem count and confidence. Every
// flagged problem costs 5 points and an out-of-range loudness a further
// 10, on a 60..98 scale.
func scoreSuite(reports map[string]*Report) (problems int, confidence float64) {
	for _, rep := range reports {
		if rep != nil && rep.Problem {
			problems++
		}
	}
	score := 95 - 5*float64(problems)
	if loud, ok := reports["loudness"]; ok && loud != nil {
		if loud.Status == LoudnessTooLoud || loud.Status == LoudnessTooQuiet {
			score -= 10
		}
	}
	return problems, clamp(score, 60, 98) / 100
}
