package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"northstar-hq/polaris/pkg/cli"
	"northstar-hq/polaris/pkg/config"
)

var validateFlags struct {
	noEnv bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load, default, and validate the configuration file without starting
anything. Every violation is reported, not just the first.

Examples:
  # Validate the default config file
  polaris validate

  # Validate a specific file
  polaris validate --config /etc/polaris/polaris.yaml

  # Ignore POLARIS_* environment overrides
  polaris validate --no-env`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.noEnv, "no-env", false, "skip POLARIS_* environment overrides")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	load := config.LoadWithEnvOverrides
	if validateFlags.noEnv {
		load = config.Load
	}

	cfg, err := load(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "✗ Configuration invalid (%d errors):\n", len(verr.Errors))
			for _, fe := range verr.Errors {
				fmt.Fprintf(os.Stderr, "  - %s\n", fe.Error())
			}
			return cli.NewConfigError("", "validation failed")
		}
		return cli.NewConfigError("", err.Error())
	}

	fmt.Println("✓ Configuration valid")
	fmt.Printf("  Store backend:  %s\n", cfg.Store.Backend)
	fmt.Printf("  Providers:      %d\n", len(cfg.Providers))
	fmt.Printf("  Bootstrap keys: %d\n", len(cfg.Keys))
	fmt.Printf("  Policies:       %d\n", len(cfg.Policies))
	fmt.Printf("  Budgets:        %d\n", len(cfg.Cost.Budgets))
	if verbose {
		fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddress)
		fmt.Printf("  Objective:      %s\n", cfg.Routing.DefaultObjective)
		fmt.Printf("  Quota window:   %s\n", cfg.Quota.Window)
	}
	return nil
}
