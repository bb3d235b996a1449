package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/audiolens/masterqc/internal/analyzer"
	"github.com/audiolens/masterqc/internal/catalog"
	"github.com/audiolens/masterqc/internal/classify"
	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/normalize"
)

type options struct {
	catalog     string
	groundTruth string
	output      string
	verbose     bool
}

// Command creates the catalog command for validating classification
// quality across a directory of reference masters.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate the classifier against a catalog of masters",
		Long:  "Scan a catalog directory, analyze a sample of it and report subgenre distribution, confidence tiers and, with ground truth, classification accuracy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidation(cmd, settings, opts)
		},
	}

	if err := setupFlags(cmd, settings, opts); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the catalog command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	cmd.Flags().StringVar(&opts.catalog, "catalog", "", "Path to the catalog directory to scan")
	cmd.Flags().StringVar(&opts.groundTruth, "ground-truth", "", "Path to a JSON file mapping relative paths to expected subgenres")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Path for the JSON summary, a .full.json companion is written beside it")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print one line per analyzed file")
	cmd.Flags().IntVar(&settings.Catalog.SampleSize, "sample", viper.GetInt("catalog.samplesize"), "Number of files to analyze, 0 analyzes the whole catalog")
	cmd.Flags().IntVar(&settings.Catalog.Parallel, "parallel", viper.GetInt("catalog.parallel"), "Files analyzed concurrently per batch")

	if err := cmd.MarkFlagRequired("catalog"); err != nil {
		return fmt.Errorf("error marking flag required: %v", err)
	}

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

// runValidation builds the analysis stack and runs one validation pass.
// Per-file failures are reported inside the JSON, not as an exit code.
func runValidation(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	runner := ffmpeg.NewRunner(settings)
	normalizer, err := normalize.New(settings, runner)
	if err != nil {
		return err
	}
	suite := analyzer.NewSuite(settings, runner, normalizer)
	classifier, err := classify.New(settings)
	if err != nil {
		return err
	}

	validator, err := catalog.New(settings, suite, classifier)
	if err != nil {
		return err
	}

	report, err := validator.Run(cmd.Context(), catalog.Options{
		Catalog:     opts.catalog,
		GroundTruth: opts.groundTruth,
		Sample:      settings.Catalog.SampleSize,
		Parallel:    settings.Catalog.Parallel,
	})
	if err != nil {
		return err
	}

	if opts.verbose {
		printFiles(report)
	}
	printSummary(report)

	summaryPath, fullPath, err := report.Write(opts.output)
	if err != nil {
		return err
	}
	fmt.Printf("\nSummary written to %s\nPer-file results written to %s\n", summaryPath, fullPath)
	return nil
}

func printFiles(report *catalog.Report) {
	for i := range report.Files {
		f := &report.Files[i]
		if f.Error != "" {
			fmt.Printf("  %-40s analysis failed: %s\n", f.File, f.Error)
			continue
		}
		line := fmt.Sprintf("  %-40s %-16s %.2f %-10s", f.File, f.Subgenre, f.Confidence, f.Tier)
		if f.Expected != "" && f.ExactMatch != nil && !*f.ExactMatch {
			line += fmt.Sprintf(" expected %s", f.Expected)
		}
		if f.Problems > 0 {
			line += fmt.Sprintf(" (%d problems)", f.Problems)
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func printSummary(report *catalog.Report) {
	s := &report.Summary
	fmt.Printf("Catalog: %s\n", s.Catalog)
	fmt.Printf("Scanned %d, sampled %d, analyzed %d, failed %d (%.1fs)\n",
		s.Scanned, s.Sampled, s.Analyzed, s.Failed, float64(s.DurationMs)/1000)

	if len(s.SubgenreDistribution) > 0 {
		fmt.Println("\nSubgenre distribution:")
		for _, name := range sortedKeys(s.SubgenreDistribution) {
			fmt.Printf("  %-22s %d\n", name, s.SubgenreDistribution[name])
		}
	}

	fmt.Println("\nConfidence tiers:")
	for _, tier := range []string{catalog.TierHigh, catalog.TierGood, catalog.TierModerate, catalog.TierLow, catalog.TierVeryLow} {
		if n, ok := s.ConfidenceTiers[tier]; ok {
			fmt.Printf("  %-12s %d\n", tier, n)
		}
	}

	if s.Accuracy != nil {
		fmt.Printf("\nAccuracy: %d evaluated, exact %.1f%%, top-3 %.1f%%\n",
			s.Accuracy.Evaluated, s.Accuracy.ExactRate*100, s.Accuracy.Top3Rate*100)
	}
	if len(s.IssueCounts) > 0 {
		fmt.Println("\nIssues:")
		for _, name := range sortedKeys(s.IssueCounts) {
			fmt.Printf("  %-22s %d\n", name, s.IssueCounts[name])
		}
	}
	if len(s.Misclassified) > 0 {
		fmt.Printf("\nMisclassified: %d, lowest confidence: %d\n", len(s.Misclassified), len(s.LowConfidence))
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
