package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coadapt/coadapt/core"
)

var (
	// Shared CLI flags
	configPath string // YAML config file; empty = built-in defaults
	logLevel   string // log verbosity level
	seed       int64  // master seed for deterministic bandit sampling
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "coadapt",
	Short: "Closed-loop decision core for control/network co-adaptation",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 42, "Master seed for deterministic policy sampling")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
}

// loadConfig resolves the effective configuration from the --config flag.
func loadConfig() *core.Config {
	if configPath == "" {
		return core.DefaultConfig()
	}
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("Loading config: %v", err)
	}
	return cfg
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
