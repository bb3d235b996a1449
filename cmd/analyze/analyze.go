package analyze

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/audiolens/masterqc/internal/analyzer"
	"github.com/audiolens/masterqc/internal/classify"
	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/normalize"
	"github.com/audiolens/masterqc/internal/privacy"
)

// flags local to the analyze command, not persisted in settings
type options struct {
	level      string
	quick      bool
	output     string
	codec      string
	metadata   map[string]string
	dumpConfig bool
}

// Command creates the analyze command for checking a single master.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "analyze [input.wav]",
		Short: "Analyze a single master for quality issues",
		Long:  "Run the quality analyzer suite against one audio file and report per-check findings, the overall verdict and the subgenre classification.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dumpConfig {
				return dumpConfig(settings)
			}
			if len(args) != 1 {
				return errors.Newf("an audio file argument is required").
					Component("analyze").
					Category(errors.CategoryValidation).
					Build()
			}
			return runAnalysis(cmd, settings, opts, args[0])
		},
	}

	if err := setupFlags(cmd, settings, opts); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the analyze command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	cmd.Flags().StringVarP(&opts.level, "level", "l", analyzer.LevelFull, "Analysis level: basic or full")
	cmd.Flags().BoolVarP(&opts.quick, "quick", "q", false, "Run cheap single-pass checks only")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Path to write the full report as JSON")
	cmd.Flags().StringVar(&opts.codec, "codec", "", "Project intersample overshoot after lossy encoding, e.g. mp3-320")
	cmd.Flags().StringToStringVar(&opts.metadata, "metadata", nil, "Metadata tags as key=value pairs for the metadata check")
	cmd.Flags().BoolVar(&opts.dumpConfig, "dump-config", false, "Print the effective configuration with secrets redacted and exit")
	cmd.Flags().StringVar(&settings.Analyzer.Platform, "platform", viper.GetString("analyzer.platform"), "Loudness target platform, e.g. spotify")
	cmd.Flags().StringVar(&settings.Analyzer.ReferenceCurve, "reference-curve", viper.GetString("analyzer.referencecurve"), "Spectral balance reference profile")
	cmd.Flags().Float64Var(&settings.Analyzer.Granularity, "granularity", viper.GetFloat64("analyzer.granularity"), "Gain-reduction window in seconds: 0.1, 0.4, 2 or 8")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

// runAnalysis wires the tool stack together and runs one suite pass.
func runAnalysis(cmd *cobra.Command, settings *conf.Settings, opts *options, path string) error {
	runner := ffmpeg.NewRunner(settings)
	normalizer, err := normalize.New(settings, runner)
	if err != nil {
		return err
	}
	suite := analyzer.NewSuite(settings, runner, normalizer)

	if opts.quick {
		return runQuick(cmd, suite, opts, path)
	}

	result, err := suite.Run(cmd.Context(), path, opts.level, &analyzer.Options{
		Platform:       settings.Analyzer.Platform,
		ReferenceCurve: settings.Analyzer.ReferenceCurve,
		Granularity:    settings.Analyzer.Granularity,
		Codec:          opts.codec,
		Metadata:       opts.metadata,
	})
	if err != nil {
		return err
	}

	classifier, err := classify.New(settings)
	if err != nil {
		return err
	}
	signals, risks := classify.FromSuite(result)
	cls := classifier.Classify(signals)
	weights := classifier.RiskWeights(cls)

	printResult(result, &cls, risks, weights)

	if opts.output != "" {
		report := fullReport{Result: result, Classification: &cls, Risks: risks}
		if err := writeJSON(opts.output, &report); err != nil {
			return err
		}
		fmt.Printf("Full report written to %s\n", opts.output)
	}
	return nil
}

// runQuick runs the cheap single-pass checks and prints one line per check.
func runQuick(cmd *cobra.Command, suite *analyzer.Suite, opts *options, path string) error {
	reports, err := suite.Quick(cmd.Context(), path)
	if err != nil {
		return err
	}

	fmt.Printf("Quick check: %s\n\n", path)
	for _, name := range sortedKeys(reports) {
		r := reports[name]
		fmt.Printf("  %-16s %-14s %s\n", name, r.Status, r.Summary)
	}

	if opts.output != "" {
		if err := writeJSON(opts.output, reports); err != nil {
			return err
		}
		fmt.Printf("\nQuick report written to %s\n", opts.output)
	}
	return nil
}

// fullReport is the JSON artifact written by --output.
type fullReport struct {
	Result         *analyzer.SuiteResult    `json:"result"`
	Classification *classify.Classification `json:"classification"`
	Risks          classify.Risks           `json:"risks"`
}

func printResult(result *analyzer.SuiteResult, cls *classify.Classification, risks classify.Risks, weights classify.Weights) {
	fmt.Printf("Analysis: %s (level %s)\n\n", result.Path, result.Level)

	for _, name := range sortedKeys(result.Reports) {
		r := result.Reports[name]
		fmt.Printf("  %-16s %-14s %s\n", name, r.Status, r.Description)
	}

	fmt.Printf("\nProblems: %d of %d checks, confidence %.2f (%.1fs)\n",
		result.Problems, len(result.Reports), result.Confidence, float64(result.DurationMs)/1000)

	fmt.Printf("\nSubgenre: %s (confidence %.2f)\n", cls.Primary, cls.Confidence)
	if cls.IsUncertain {
		fmt.Println("  classification is uncertain, treat the subgenre as advisory")
	}
	if cls.ConflictingSignals {
		fmt.Println("  top candidates score within the conflict margin")
	}
	if len(cls.TopCandidates) > 0 {
		parts := make([]string, 0, len(cls.TopCandidates))
		for _, c := range cls.TopCandidates {
			parts = append(parts, fmt.Sprintf("%s %.2f", c.Subgenre, c.Score))
		}
		fmt.Printf("  candidates: %s\n", strings.Join(parts, ", "))
	}

	fmt.Println("\nRisk profile (weighted for subgenre):")
	for _, kind := range classify.RiskKinds {
		v := risks.Value(kind)
		w := weights.Of(kind)
		fmt.Printf("  %-22s %.2f x %.2f = %.2f\n", kind, v, w, v*w)
	}
}

// dumpConfig prints the effective configuration as YAML with credentials
// and notification URLs masked.
func dumpConfig(settings *conf.Settings) error {
	redacted := *settings
	if redacted.Delivery.APIKey != "" {
		redacted.Delivery.APIKey = "[redacted]"
	}
	if redacted.Delivery.BearerToken != "" {
		redacted.Delivery.BearerToken = "[redacted]"
	}
	// Endpoint URLs may carry basic auth or a signed query.
	redacted.Delivery.Endpoint = privacy.SanitizeURL(redacted.Delivery.Endpoint)
	if redacted.Telemetry.DSN != "" {
		redacted.Telemetry.DSN = "[redacted]"
	}
	if len(redacted.Notification.URLs) > 0 {
		urls := make([]string, len(redacted.Notification.URLs))
		for i := range urls {
			urls[i] = "[redacted]"
		}
		redacted.Notification.URLs = urls
	}
	if len(redacted.Notification.Webhooks) > 0 {
		hooks := make([]conf.WebhookSettings, len(redacted.Notification.Webhooks))
		copy(hooks, redacted.Notification.Webhooks)
		for i := range hooks {
			hooks[i].URL = privacy.SanitizeURL(hooks[i].URL)
			if hooks[i].Token != "" {
				hooks[i].Token = "[redacted]"
			}
		}
		redacted.Notification.Webhooks = hooks
	}

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("analyze").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(err).
			Component("analyze").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
