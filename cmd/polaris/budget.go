package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"northstar-hq/polaris/pkg/cli"
	"northstar-hq/polaris/pkg/config"
	"northstar-hq/polaris/pkg/cost"
)

var budgetFlags struct {
	format string
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect configured budgets",
	Long: `Inspect the bootstrap budget set in the configuration file.

Spend accounting lives in the server process; these commands read the
configuration file only and show each budget's scope, limit, period,
and enforcement mode.

Subcommands:
  list - List configured budgets
  show - Show one budget

Examples:
  # List configured budgets
  polaris budget list

  # Show one budget as JSON
  polaris budget show team-alpha-monthly --format json`,
}

var budgetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured budgets",
	RunE:  runBudgetList,
}

var budgetShowCmd = &cobra.Command{
	Use:   "show <budget-id>",
	Short: "Show one budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudgetShow,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetListCmd, budgetShowCmd)

	budgetListCmd.Flags().StringVar(&budgetFlags.format, "format", "text", "output format: text, json")
	budgetShowCmd.Flags().StringVar(&budgetFlags.format, "format", "text", "output format: text, json")
}

func loadBudgets() ([]*cost.Budget, error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	out := make([]*cost.Budget, 0, len(cfg.Cost.Budgets))
	for _, bc := range cfg.Cost.Budgets {
		b, err := configBudget(bc)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func runBudgetList(cmd *cobra.Command, args []string) error {
	budgets, err := loadBudgets()
	if err != nil {
		return err
	}

	if budgetFlags.format == "json" {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, budgets)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCOPE\tLIMIT\tPERIOD\tENFORCEMENT")
	for _, b := range budgets {
		scope := string(b.Scope)
		if b.ScopeID != "" {
			scope += ":" + b.ScopeID
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\n",
			b.ID, scope, b.Limit.StringFixed(2), b.Currency, b.Period, b.Enforcement)
	}
	return w.Flush()
}

func runBudgetShow(cmd *cobra.Command, args []string) error {
	budgets, err := loadBudgets()
	if err != nil {
		return err
	}

	for _, b := range budgets {
		if b.ID != args[0] {
			continue
		}
		if budgetFlags.format == "json" {
			return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, b)
		}
		fmt.Printf("ID:          %s\n", b.ID)
		fmt.Printf("Scope:       %s", b.Scope)
		if b.ScopeID != "" {
			fmt.Printf(" (%s)", b.ScopeID)
		}
		fmt.Println()
		fmt.Printf("Limit:       %s %s\n", b.Limit.StringFixed(2), b.Currency)
		fmt.Printf("Period:      %s\n", b.Period)
		if b.CustomPeriod > 0 {
			fmt.Printf("Custom:      %s\n", b.CustomPeriod)
		}
		fmt.Printf("Enforcement: %s\n", b.Enforcement)
		fmt.Printf("Alert at:    %.0f%%\n", b.AlertThreshold*100)
		return nil
	}
	return fmt.Errorf("no configured budget with id %q", args[0])
}
