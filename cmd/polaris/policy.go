package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"northstar-hq/polaris/pkg/cli"
	"northstar-hq/polaris/pkg/config"
	"northstar-hq/polaris/pkg/policy"
)

var policyFlags struct {
	format string
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect configured policies",
	Long: `Inspect the bootstrap policy set in the configuration file.

Policies created at runtime through the management API live in the
server process; these commands read the configuration file only.

Subcommands:
  list - List configured policies in evaluation order
  show - Show one policy with its full rule set
  lint - Check every policy's rules for unknown or malformed fields

Examples:
  # List configured policies
  polaris policy list

  # Show one policy as JSON
  polaris policy show block-eu-traffic --format json

  # Catch rule typos before deploying a config change
  polaris policy lint --config polaris.yaml`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured policies",
	RunE:  runPolicyList,
}

var policyShowCmd = &cobra.Command{
	Use:   "show <name-or-id>",
	Short: "Show one policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyShow,
}

var policyLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check configured policy rules",
	Long: `Convert every configured policy's rules into the engine's closed rule
set, reporting unknown fields and malformed values. The server performs
the same conversion at startup; linting catches mistakes earlier.`,
	RunE: runPolicyLint,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd, policyShowCmd, policyLintCmd)

	policyListCmd.Flags().StringVar(&policyFlags.format, "format", "text", "output format: text, json")
	policyShowCmd.Flags().StringVar(&policyFlags.format, "format", "text", "output format: text, json")
}

func loadPolicies() (*config.Config, []*policy.Policy, error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, cli.NewConfigError("", err.Error())
	}
	out := make([]*policy.Policy, 0, len(cfg.Policies))
	for _, pc := range cfg.Policies {
		p, err := configPolicy(pc)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, p)
	}
	return cfg, out, nil
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	_, policies, err := loadPolicies()
	if err != nil {
		return err
	}

	if policyFlags.format == "json" {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, policies)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSCOPE\tPRIORITY\tENABLED")
	for _, p := range policies {
		scope := string(p.Scope)
		if p.ScopeID != "" {
			scope += ":" + p.ScopeID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n", p.Name, p.Type, scope, p.Priority, p.Enabled)
	}
	return w.Flush()
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	_, policies, err := loadPolicies()
	if err != nil {
		return err
	}

	for _, p := range policies {
		if p.Name != args[0] && p.ID != args[0] {
			continue
		}
		if policyFlags.format == "json" {
			return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, p)
		}
		fmt.Printf("Name:     %s\n", p.Name)
		if p.ID != "" {
			fmt.Printf("ID:       %s\n", p.ID)
		}
		fmt.Printf("Type:     %s\n", p.Type)
		fmt.Printf("Scope:    %s", p.Scope)
		if p.ScopeID != "" {
			fmt.Printf(" (%s)", p.ScopeID)
		}
		fmt.Println()
		fmt.Printf("Priority: %d\n", p.Priority)
		fmt.Printf("Enabled:  %t\n", p.Enabled)
		fmt.Println("Rules:")
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, p.Rules)
	}
	return fmt.Errorf("no configured policy named %q", args[0])
}

func runPolicyLint(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	failed := 0
	for _, pc := range cfg.Policies {
		if _, err := configPolicy(pc); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s\n", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d policies failed lint", failed, len(cfg.Policies))
	}
	fmt.Printf("✓ %d policies OK\n", len(cfg.Policies))
	return nil
}
