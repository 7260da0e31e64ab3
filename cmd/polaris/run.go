package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/cli"
	"northstar-hq/polaris/pkg/config"
	"northstar-hq/polaris/pkg/server"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Polaris management server",
	Long: `Start the Polaris management server with the specified configuration.

The server wires the key manager, quota engine, cost controller, policy
engine, and routing engine around the configured state store, registers
the bootstrap inventory, starts the background recovery task, and serves
the management API.

Examples:
  # Start with default config
  polaris run

  # Start with custom config
  polaris run --config /etc/polaris/polaris.yaml

  # Override listen address
  polaris run --listen 0.0.0.0:8080

  # Validate config and wiring without starting the server
  polaris run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	printBanner(cfg)

	// Cancelled on SIGINT/SIGTERM; every background task hangs off it.
	ctx := cli.SetupSignalHandler()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer app.Close()

	fmt.Printf("✓ State store opened (%s)\n", cfg.Store.Backend)
	fmt.Printf("✓ Providers registered (%d adapters)\n", len(app.registry.List()))
	fmt.Printf("✓ Bootstrap inventory loaded (%d keys, %d policies, %d budgets)\n",
		len(cfg.Keys), len(cfg.Policies), len(cfg.Cost.Budgets))

	if err := app.recovery.Start(ctx); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("starting recovery task: %w", err))
	}
	fmt.Printf("✓ Recovery task scheduled (%s)\n", cfg.Routing.RecoverySchedule)

	// Hot reload: validated snapshots land in history; a failed reload
	// keeps the running configuration.
	history := config.NewHistory(0)
	history.Push(cfg, cfgFile, clock.Real{}.Now())
	watcher, err := config.NewWatcher(config.WatcherOptions{
		Path:    cfgFile,
		History: history,
		Emitter: app.emitter,
		Logger:  app.logger,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			app.logger.Warn("config watcher stopped", "error", err)
		}
	}()
	defer func() { _ = watcher.Stop() }()

	srv, err := server.New(server.Options{
		Config:       cfg,
		Orchestrator: app.orch,
		Keys:         app.keys,
		Store:        app.store,
		Policies:     app.policies,
		Budgets:      app.costs,
		Quota:        app.quota,
		Metrics:      app.metrics,
		Watcher:      watcher,
		History:      history,
		AuthToken:    os.Getenv(cfg.Server.AuthTokenEnv),
		Logger:       app.logger,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	scheme := "http"
	if cfg.Security.TLS.Enabled {
		scheme = "https"
	}
	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: %s://%s/health\n", scheme, cfg.Server.ListenAddress)
	if app.metrics != nil {
		fmt.Printf("✓ Metrics endpoint: %s://%s%s\n", scheme, cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Start blocks until the context is cancelled, a signal arrives, or
	// the listener fails; it drains in-flight requests before returning.
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Println("✓ Server stopped")
	return nil
}

func printBanner(cfg *config.Config) {
	fmt.Printf("Polaris v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")
	if verbose {
		fmt.Printf("  Default objective: %s\n", cfg.Routing.DefaultObjective)
		fmt.Printf("  Quota window:      %s\n", cfg.Quota.Window)
		fmt.Printf("  Store backend:     %s\n", cfg.Store.Backend)
	}
}
