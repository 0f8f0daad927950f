package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nvandessel/mergeq/internal/config"
	"github.com/nvandessel/mergeq/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mergeq",
		Short: "Two-lane merge queue simulator for competing coalitions",
		Long: `mergeq simulates two approach lanes feeding a single merge point.

Vehicles belong to an ego and an opponent coalition. Each step both
controllers choose which lanes may release a vehicle, and the world
rewards them for how the queues drain.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.mergeq/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, or trace")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newRenderCmd(),
		newStateSpaceCmd(),
		newResultsCmd(),
		newConfigCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// loadConfig resolves configuration for a command: --config if given,
// otherwise the default locations, then --log-level.
func loadConfig(cmd *cobra.Command) (*config.MergeConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.MergeConfig
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// newLogger builds the operational logger; it writes to stderr so stdout
// stays clean for --json.
func newLogger(cmd *cobra.Command, cfg *config.MergeConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}
