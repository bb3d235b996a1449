// Package catalog validates classification quality across a whole music
// catalog: it scans for audio, optionally samples a subset, runs the full
// analyzer suite plus subgenre classification on every file in parallel
// batches, compares against an optional ground-truth map, and writes a
// summary report alongside a full per-file report.
package catalog

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolens/masterqc/internal/analyzer"
	"github.com/audiolens/masterqc/internal/classify"
	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/logging"
)

// batchSize is how many files one batch holds; batches run sequentially,
// files within a batch in parallel.
const batchSize = 50

// Options configures one validation run. Zero values fall back to the
// catalog settings.
type Options struct {
	Catalog     string
	GroundTruth string
	Sample      int
	Parallel    int
}

// fileAnalyzer turns one asset into a suite result and a classification.
type fileAnalyzer interface {
	AnalyzeFile(ctx context.Context, path string) (*analyzer.SuiteResult, classify.Classification, error)
}

// suiteAnalyzer is the production analyzer: a full suite run feeding the
// subgenre classifier.
type suiteAnalyzer struct {
	suite      *analyzer.Suite
	classifier *classify.Classifier
}

func (s suiteAnalyzer) AnalyzeFile(ctx context.Context, path string) (*analyzer.SuiteResult, classify.Classification, error) {
	res, err := s.suite.Run(ctx, path, analyzer.LevelFull, nil)
	if err != nil {
		return nil, classify.Classification{}, err
	}
	signals, _ := classify.FromSuite(res)
	return res, s.classifier.Classify(signals), nil
}

// Validator runs catalog-wide classification validation.
type Validator struct {
	settings *conf.Settings
	analyze  fileAnalyzer
	logger   *slog.Logger
	rng      *rand.Rand
}

// New builds a validator over the given suite and classifier.
func New(settings *conf.Settings, suite *analyzer.Suite, classifier *classify.Classifier) (*Validator, error) {
	if suite == nil || classifier == nil {
		return nil, errors.Newf("catalog validator requires an analyzer suite and a classifier").
			Component("catalog").
			Category(errors.CategoryValidation).
			Build()
	}
	return &Validator{
		settings: settings,
		analyze:  suiteAnalyzer{suite: suite, classifier: classifier},
		logger:   logging.ForService("catalog"),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// Run validates the catalog to completion. Per-file analysis failures land
// in the report, not in the returned error; only unusable inputs and
// cancellation abort the run.
func (v *Validator) Run(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()

	files, err := Scan(opts.Catalog)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Newf("no supported audio files under %s", opts.Catalog).
			Component("catalog").
			Category(errors.CategoryCatalog).
			Build()
	}
	scanned := len(files)

	sampleSize := opts.Sample
	if sampleSize <= 0 {
		sampleSize = v.settings.Catalog.SampleSize
	}
	files = sample(files, sampleSize, v.rng)

	var truth GroundTruth
	if opts.GroundTruth != "" {
		if truth, err = LoadGroundTruth(opts.GroundTruth); err != nil {
			return nil, err
		}
	}

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = v.settings.Catalog.Parallel
	}
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}

	v.logger.Info("catalog validation started",
		"catalog", opts.Catalog,
		"scanned", scanned,
		"selected", len(files),
		"parallel", parallel,
		"labeled", len(truth))

	results := make([]FileResult, len(files))
	for from := 0; from < len(files); from += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Component("catalog").
				Category(errors.CategoryCancellation).
				Build()
		}
		to := min(from+batchSize, len(files))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallel)
		for i := from; i < to; i++ {
			g.Go(func() error {
				results[i] = v.analyzeOne(gctx, files[i], truth)
				return nil
			})
		}
		_ = g.Wait()
		v.logger.Info("batch complete", "done", to, "total", len(files))
	}

	report := aggregate(opts.Catalog, scanned, results, time.Since(start))
	v.logger.Info("catalog validation finished",
		"analyzed", report.Analyzed,
		"failed", report.Failed,
		"duration_ms", report.DurationMs)
	return report, nil
}

// analyzeOne produces the per-file result; analysis errors are recorded on
// the result so one broken file never sinks the batch.
func (v *Validator) analyzeOne(ctx context.Context, path string, truth GroundTruth) FileResult {
	started := time.Now()
	fr := FileResult{File: filepath.Base(path), Path: path}

	res, cls, err := v.analyze.AnalyzeFile(ctx, path)
	fr.DurationMs = time.Since(started).Milliseconds()
	if err != nil {
		v.logger.Warn("file analysis failed", "file", fr.File, "error", err)
		fr.Error = err.Error()
		fr.Subgenre = classify.SubgenreUnknown
		fr.Tier = TierVeryLow
		return fr
	}

	fr.Subgenre = cls.Primary
	fr.Confidence = cls.Confidence
	fr.Tier = ConfidenceTier(cls.Confidence)
	fr.TopCandidates = cls.TopCandidates
	fr.Problems = res.Problems
	fr.Issues = collectIssues(res, cls)

	if exp, ok := truth.Lookup(fr.File); ok {
		fr.Expected = exp.Subgenre
		exact := cls.Primary == exp.Subgenre
		top3 := false
		for _, c := range cls.TopCandidates {
			if c.Subgenre == exp.Subgenre {
				top3 = true
				break
			}
		}
		fr.ExactMatch = &exact
		fr.Top3Match = &top3
	}
	return fr
}

// collectIssues attributes findings to their source: one entry per analyzer
// that flagged a problem, plus classification-level flags.
func collectIssues(res *analyzer.SuiteResult, cls classify.Classification) []Issue {
	names := make([]string, 0, len(res.Reports))
	for name := range res.Reports {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []Issue
	for _, name := range names {
		rep := res.Reports[name]
		if rep != nil && rep.Problem {
			issues = append(issues, Issue{Source: name, Detail: rep.Description})
		}
	}
	if cls.IsUncertain {
		issues = append(issues, Issue{Source: "classification", Detail: "confidence below the uncertainty threshold"})
	}
	if cls.ConflictingSignals {
		issues = append(issues, Issue{Source: "classification", Detail: "top candidates score within the conflict margin"})
	}
	return issues
}
