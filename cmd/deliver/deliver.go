package deliver

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolens/masterqc/internal/analyzer"
	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/delivery"
	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/events"
	"github.com/audiolens/masterqc/internal/ffmpeg"
	"github.com/audiolens/masterqc/internal/jobqueue"
	"github.com/audiolens/masterqc/internal/normalize"
	"github.com/audiolens/masterqc/internal/notify"
	"github.com/audiolens/masterqc/internal/observability"
	"github.com/audiolens/masterqc/internal/telemetry"
)

type options struct {
	platforms []string
	project   string
	metadata  map[string]string
	output    string
}

// Command creates the deliver command for orchestrating platform delivery.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "deliver [assets...]",
		Short: "Validate, process and upload masters to platforms",
		Long:  "Run the delivery pipeline for one or more assets against the requested platform contracts. Platforms fail independently; the delivery succeeds when at least one platform takes every asset.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelivery(cmd, settings, opts, args)
		},
	}

	if err := setupFlags(cmd, opts); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the deliver command.
func setupFlags(cmd *cobra.Command, opts *options) error {
	cmd.Flags().StringSliceVarP(&opts.platforms, "platforms", "p", nil, "Target platforms, e.g. spotify,tidal")
	cmd.Flags().StringVar(&opts.project, "project", "", "Project identifier attached to the delivery and its events")
	cmd.Flags().StringToStringVarP(&opts.metadata, "metadata", "m", nil, "Release metadata as key=value pairs, validated per platform contract")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Path to write the final delivery record as JSON")

	if err := cmd.MarkFlagRequired("platforms"); err != nil {
		return fmt.Errorf("error marking flag required: %v", err)
	}

	return nil
}

// runDelivery assembles the pipeline stack, runs one delivery to a
// terminal state and reports the per-platform outcome.
func runDelivery(cmd *cobra.Command, settings *conf.Settings, opts *options, assets []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := ffmpeg.NewRunner(settings)
	normalizer, err := normalize.New(settings, runner)
	if err != nil {
		return err
	}
	suite := analyzer.NewSuite(settings, runner, normalizer)
	tools := &jobqueue.Tools{Suite: suite, Runner: runner}
	bus := events.NewBus()
	telemetry.Attach(bus)
	engine := jobqueue.NewEngine(settings, bus)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	runner.SetMetrics(metrics.Invoker)
	suite.SetMetrics(metrics.Analyzer)
	engine.SetMetrics(metrics.JobQueue)

	orchestrator, err := delivery.NewOrchestrator(settings, engine, tools, bus)
	if err != nil {
		return err
	}
	orchestrator.SetMetrics(metrics.Delivery)

	notifier, err := notify.New(settings)
	if err != nil {
		fmt.Printf("Notifications disabled: %v\n", err)
	} else {
		defer notifier.Close()
		if notifier.Enabled() {
			orchestrator.SetNotifier(notifier)
		}
	}

	var wg sync.WaitGroup
	quitChan := make(chan struct{})
	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics, bus)
		if err != nil {
			return err
		}
		endpoint.Start(&wg, quitChan)
	}

	engine.Start(ctx)
	sweeperDone := normalizer.StartSweeper(ctx)
	defer func() {
		if err := engine.Stop(); err != nil {
			fmt.Printf("Job queue stop: %v\n", err)
		}
		stop()
		<-sweeperDone
		close(quitChan)
		wg.Wait()
	}()

	result, err := orchestrator.Run(ctx, delivery.Request{
		Assets:    assets,
		Platforms: opts.platforms,
		Metadata:  opts.metadata,
		ProjectID: opts.project,
	})
	if err != nil {
		return err
	}

	printDelivery(result)

	if opts.output != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errors.New(err).
				Component("deliver").
				Category(errors.CategoryFileIO).
				Build()
		}
		if err := os.WriteFile(opts.output, data, 0o644); err != nil {
			return errors.New(err).
				Component("deliver").
				Category(errors.CategoryFileIO).
				Context("path", opts.output).
				Build()
		}
		fmt.Printf("\nDelivery record written to %s\n", opts.output)
	}

	if result.Status != delivery.StatusDelivered {
		return errors.Newf("delivery %s finished %s", result.ID, result.Status).
			Component("deliver").
			Category(errors.CategoryDelivery).
			Build()
	}
	return nil
}

func printDelivery(d *delivery.Delivery) {
	elapsed := d.CompletedAt.Sub(d.StartedAt)
	fmt.Printf("Delivery %s: %s (%.1fs)\n\n", d.ID, d.Status, elapsed.Seconds())

	platforms := make([]string, 0, len(d.PerPlatform))
	for name := range d.PerPlatform {
		platforms = append(platforms, name)
	}
	sort.Strings(platforms)

	for _, name := range platforms {
		p := d.PerPlatform[name]
		switch p.Status {
		case delivery.StatusDelivered:
			fmt.Printf("  %-14s %-10s %d assets\n", name, p.Status, len(p.Assets))
		default:
			fmt.Printf("  %-14s %-10s at %s: %s\n", name, p.Status, p.Stage, p.Error)
		}
	}

	fmt.Printf("\n%d delivered, %d failed of %d platforms\n",
		d.Stats.Successful, d.Stats.Failed, len(d.Platforms))
}
