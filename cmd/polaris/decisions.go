package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"northstar-hq/polaris/pkg/cli"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/state/export"
)

var decisionsFlags struct {
	format   string
	output   string
	provider string
	key      string
	since    string
	until    string
	limit    int
	pretty   bool
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Work with the routing decision trail",
	Long: `Query and export the routing decision audit trail from the configured
state store.

Every routing decision records the selected key, the objective, the
scores of all eligible keys, and the explanation for the choice.

Examples:
  # Export everything as JSON to stdout
  polaris decisions export

  # Export one provider's decisions as CSV
  polaris decisions export --provider openai --format csv --output decisions.csv

  # Export a time slice
  polaris decisions export --since 2026-08-01T00:00:00Z --until 2026-08-26T00:00:00Z`,
}

var decisionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export routing decisions",
	Long: `Export routing decisions as CSV or JSON.

CSV renders one decision per row with scores and alternatives flattened;
JSON preserves the full record structure. Filters combine with AND.`,
	RunE: runDecisionsExport,
}

func init() {
	rootCmd.AddCommand(decisionsCmd)
	decisionsCmd.AddCommand(decisionsExportCmd)

	decisionsExportCmd.Flags().StringVar(&decisionsFlags.format, "format", "json", "export format: csv, json")
	decisionsExportCmd.Flags().StringVarP(&decisionsFlags.output, "output", "o", "", "output file (default stdout)")
	decisionsExportCmd.Flags().StringVar(&decisionsFlags.provider, "provider", "", "filter by provider id")
	decisionsExportCmd.Flags().StringVar(&decisionsFlags.key, "key", "", "filter by selected key id")
	decisionsExportCmd.Flags().StringVar(&decisionsFlags.since, "since", "", "only decisions at or after this RFC 3339 instant")
	decisionsExportCmd.Flags().StringVar(&decisionsFlags.until, "until", "", "only decisions before this RFC 3339 instant")
	decisionsExportCmd.Flags().IntVar(&decisionsFlags.limit, "limit", 0, "maximum records (0 = all)")
	decisionsExportCmd.Flags().BoolVar(&decisionsFlags.pretty, "pretty", false, "indent JSON output")
}

func runDecisionsExport(cmd *cobra.Command, args []string) error {
	q := state.Query{
		EntityType: state.EntityDecision,
		ProviderID: decisionsFlags.provider,
		KeyID:      decisionsFlags.key,
		Limit:      decisionsFlags.limit,
	}
	if decisionsFlags.since != "" {
		ts, err := time.Parse(time.RFC3339, decisionsFlags.since)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		q.Since = ts
	}
	if decisionsFlags.until != "" {
		ts, err := time.Parse(time.RFC3339, decisionsFlags.until)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}
		q.Until = ts
	}

	ctx := context.Background()
	_, store, err := adminStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.QueryState(ctx, q)
	if err != nil {
		return cli.NewCommandError("decisions export", err)
	}

	if decisionsFlags.format != "csv" && decisionsFlags.format != "json" {
		return fmt.Errorf("unknown format %q: use csv or json", decisionsFlags.format)
	}

	if decisionsFlags.output == "" {
		return exportTo(ctx, os.Stdout, result.Decisions)
	}

	f, err := os.Create(decisionsFlags.output)
	if err != nil {
		return cli.NewCommandError("decisions export", err)
	}
	defer f.Close()

	// File exports stream with a progress bar on stderr.
	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(int64(len(result.Decisions)))
	ch := make(chan *state.RoutingDecision)
	go func() {
		defer close(ch)
		for i, d := range result.Decisions {
			select {
			case ch <- d:
				progress.Update(int64(i + 1))
			case <-ctx.Done():
				return
			}
		}
	}()

	switch decisionsFlags.format {
	case "csv":
		err = export.NewCSVExporter(true).ExportStream(ctx, ch, f)
	case "json":
		err = export.NewJSONExporter(decisionsFlags.pretty).ExportStream(ctx, ch, f)
	}
	if err != nil {
		progress.Error(err)
		return cli.NewCommandError("decisions export", err)
	}
	progress.Finish()

	fmt.Printf("✓ Exported %d decisions to %s\n", len(result.Decisions), decisionsFlags.output)
	return nil
}

func exportTo(ctx context.Context, w io.Writer, decisions []*state.RoutingDecision) error {
	var err error
	switch decisionsFlags.format {
	case "csv":
		err = export.NewCSVExporter(true).Export(ctx, decisions, w)
	case "json":
		err = export.NewJSONExporter(decisionsFlags.pretty).Export(ctx, decisions, w)
	}
	if err != nil {
		return cli.NewCommandError("decisions export", err)
	}
	return nil
}
