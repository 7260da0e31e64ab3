package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"northstar-hq/polaris/pkg/cli"
	"northstar-hq/polaris/pkg/config"
	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/state"
)

var keysFlags struct {
	provider    string
	material    string
	materialEnv string
	format      string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the key inventory",
	Long: `Inspect and administer provider keys against the configured state store.

These commands operate on the store directly and can run while the server
is up or down. Registration and rotation need the envelope master secret
to seal key material; listing does not.

Subcommands:
  list     - List keys, optionally filtered by provider
  show     - Show one key record
  register - Register a new key
  rotate   - Replace a key's material in place
  revoke   - Permanently disable a key

Examples:
  # List every key
  polaris keys list

  # List one provider's keys as JSON
  polaris keys list --provider openai --format json

  # Register a key with material from the environment
  polaris keys register --provider openai --material-env OPENAI_KEY_2

  # Revoke a key
  polaris keys revoke 7f3b9c`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys",
	Long:  `List keys with their provider, state, and usage counters.`,
	RunE:  runKeysList,
}

var keysShowCmd = &cobra.Command{
	Use:   "show <key-id>",
	Short: "Show one key record",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysShow,
}

var keysRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new key",
	Long: `Register a new key for a provider. The material is sealed with the
envelope master secret before it is stored; the plaintext never touches
disk.

Exactly one of --material and --material-env must be given. Prefer
--material-env: a literal flag value lands in shell history.`,
	RunE: runKeysRegister,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <key-id>",
	Short: "Replace a key's material",
	Long: `Seal new material into an existing key record. The key keeps its id,
state, and usage counters.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysRotate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Permanently disable a key",
	Long:  `Move a key to the disabled state. Revocation is terminal.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysListCmd, keysShowCmd, keysRegisterCmd, keysRotateCmd, keysRevokeCmd)

	keysListCmd.Flags().StringVar(&keysFlags.provider, "provider", "", "filter by provider id")
	keysListCmd.Flags().StringVar(&keysFlags.format, "format", "text", "output format: text, json")
	keysShowCmd.Flags().StringVar(&keysFlags.format, "format", "text", "output format: text, json")
	keysRegisterCmd.Flags().StringVar(&keysFlags.provider, "provider", "", "provider id (required)")
	keysRegisterCmd.Flags().StringVar(&keysFlags.material, "material", "", "literal key material")
	keysRegisterCmd.Flags().StringVar(&keysFlags.materialEnv, "material-env", "", "environment variable holding the material")
	keysRotateCmd.Flags().StringVar(&keysFlags.material, "material", "", "literal key material")
	keysRotateCmd.Flags().StringVar(&keysFlags.materialEnv, "material-env", "", "environment variable holding the material")
}

// keyRow is the list/show projection. Encrypted material stays out of
// command output entirely.
type keyRow struct {
	ID         string `json:"id"`
	Provider   string `json:"provider_id"`
	State      string `json:"state"`
	Successes  int64  `json:"usage_count"`
	Failures   int64  `json:"failure_count"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
}

func rowFromKey(k *state.Key) keyRow {
	row := keyRow{
		ID:        k.ID,
		Provider:  k.ProviderID,
		State:     string(k.State),
		Successes: k.UsageCount,
		Failures:  k.FailureCount,
		CreatedAt: k.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if k.LastUsedAt != nil {
		row.LastUsedAt = k.LastUsedAt.Format("2006-01-02 15:04:05")
	}
	return row
}

// adminStore opens the configured store without the full engine stack.
func adminStore(ctx context.Context) (*config.Config, state.StateStore, error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, cli.NewConfigError("", err.Error())
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

// adminManager opens the store and a key manager around it. Needs the
// envelope master secret.
func adminManager(ctx context.Context) (state.StateStore, *keys.Manager, error) {
	cfg, store, err := adminStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	env, err := newEnvelope(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	km, err := keys.NewManager(keys.Options{Store: store, Envelope: env})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, km, nil
}

func materialFromFlags() (string, error) {
	switch {
	case keysFlags.material != "" && keysFlags.materialEnv != "":
		return "", fmt.Errorf("--material and --material-env are mutually exclusive")
	case keysFlags.material != "":
		return keysFlags.material, nil
	case keysFlags.materialEnv != "":
		v := os.Getenv(keysFlags.materialEnv)
		if v == "" {
			return "", fmt.Errorf("%s is unset", keysFlags.materialEnv)
		}
		return v, nil
	default:
		return "", fmt.Errorf("one of --material or --material-env is required")
	}
}

func runKeysList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, store, err := adminStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListKeys(ctx, keysFlags.provider)
	if err != nil {
		return cli.NewCommandError("keys list", err)
	}

	rows := make([]keyRow, len(list))
	for i, k := range list {
		rows[i] = rowFromKey(k)
	}

	if keysFlags.format == "json" {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tSTATE\tOK\tFAIL\tCREATED\tLAST USED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Provider, r.State, r.Successes, r.Failures, r.CreatedAt, r.LastUsedAt)
	}
	return w.Flush()
}

func runKeysShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, store, err := adminStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	key, err := store.GetKey(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("keys show", err)
	}

	row := rowFromKey(key)
	if keysFlags.format == "json" {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, row)
	}

	fmt.Printf("ID:        %s\n", row.ID)
	fmt.Printf("Provider:  %s\n", row.Provider)
	fmt.Printf("State:     %s\n", row.State)
	fmt.Printf("Successes: %d\n", row.Successes)
	fmt.Printf("Failures:  %d\n", row.Failures)
	fmt.Printf("Created:   %s\n", row.CreatedAt)
	if row.LastUsedAt != "" {
		fmt.Printf("Last used: %s\n", row.LastUsedAt)
	}
	if len(key.Metadata) > 0 {
		fmt.Println("Metadata:")
		for k, v := range key.Metadata {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}
	return nil
}

func runKeysRegister(cmd *cobra.Command, args []string) error {
	if keysFlags.provider == "" {
		return fmt.Errorf("--provider is required")
	}
	material, err := materialFromFlags()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, km, err := adminManager(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	key, err := km.Register(ctx, material, keysFlags.provider, nil)
	if err != nil {
		return cli.NewCommandError("keys register", err)
	}

	fmt.Printf("✓ Key registered\n")
	fmt.Printf("  ID:       %s\n", key.ID)
	fmt.Printf("  Provider: %s\n", key.ProviderID)
	return nil
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	material, err := materialFromFlags()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, km, err := adminManager(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := km.Rotate(ctx, args[0], material); err != nil {
		return cli.NewCommandError("keys rotate", err)
	}
	fmt.Printf("✓ Key %s rotated\n", args[0])
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, km, err := adminManager(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := km.Revoke(ctx, args[0]); err != nil {
		return cli.NewCommandError("keys revoke", err)
	}
	fmt.Printf("✓ Key %s revoked\n", args[0])
	return nil
}
