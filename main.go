package main

import (
	"fmt"
	"os"
	"time"

	"github.com/audiolens/masterqc/cmd"
	"github.com/audiolens/masterqc/internal/conf"
	"github.com/audiolens/masterqc/internal/logging"
	"github.com/audiolens/masterqc/internal/telemetry"
)

// version and buildDate are injected at build time via ldflags.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version
	settings.BuildDate = buildDate

	if err := telemetry.Init(settings); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing telemetry: %v\n", err)
	}

	rootCmd := cmd.RootCommand(settings)
	err = rootCmd.Execute()
	telemetry.Flush(2 * time.Second)
	if err != nil {
		os.Exit(1)
	}
}
