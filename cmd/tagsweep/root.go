package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tagsweep/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath   string
	providerName string
	region       string
	profile      string
	concurrency  int
	debug        bool

	rootCmd = &cobra.Command{
		Use:   "tagsweep",
		Short: "Tag-driven orphan detection and cleanup",
		Long: `tagsweep - Tag-driven orphan detection and cleanup

tagsweep lists cloud resources of one kind, groups them by a classification
tag, checks whether each one is still in use and reports the detached ones.
Reconcile removes them, or simulates removal with --dry-run.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}
)

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	telemetry.ServiceVersion = version
	rootCmd.SetVersionTemplate(`tagsweep {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	flags.StringVar(&providerName, "provider", "", "Cloud provider: aws or azure (overrides config)")
	flags.StringVarP(&region, "region", "r", "", "AWS region (overrides config regions)")
	flags.StringVar(&profile, "profile", "", "AWS shared config profile")
	flags.IntVar(&concurrency, "concurrency", 0, "Maximum concurrent per-resource lookups")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
}

// setupLogging applies the configured log level; --debug overrides it.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return telemetry.SetupGlobal(cfg.Log.Level, true)
}
