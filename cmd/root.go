package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/audiolens/masterqc/cmd/analyze"
	"github.com/audiolens/masterqc/cmd/catalog"
	"github.com/audiolens/masterqc/cmd/deliver"
	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "masterqc",
		Short: "MasterQC CLI",
		Long:  "Audio mastering quality control: analyze masters, validate catalogs and deliver to platforms.",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	// Add sub-commands to the root command.
	subcommands := []*cobra.Command{
		analyze.Command(settings),
		catalog.Command(settings),
		deliver.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Tools.FfmpegPath, "ffmpeg", viper.GetString("tools.ffmpegpath"), "Path to the ffmpeg binary, resolved from PATH when empty")
	rootCmd.PersistentFlags().StringVar(&settings.Tools.FfprobePath, "ffprobe", viper.GetString("tools.ffprobepath"), "Path to the ffprobe binary, resolved from PATH when empty")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
