package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "polaris",
	Short: "Polaris - intelligent key router for LLM providers",
	Long: `Polaris is an intelligent key router that manages pools of LLM provider
API keys and routes each request to the best key under the active objective.

It provides:
  - Key lifecycle management with AES-256-GCM encrypted material at rest
  - Per-key quota tracking with exhaustion prediction
  - Cost estimation, budget enforcement, and estimate reconciliation
  - Policy-based candidate filtering and steering
  - Cost, reliability, fairness, and multi-objective routing strategies
  - A queryable, exportable routing decision audit trail`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "polaris.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
