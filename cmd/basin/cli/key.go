package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used to authenticate against the Basin data API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		in      service.KeyInput
		owner   int64
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  basin key create --name "CI pipeline" --type secret
  basin key create --name storefront --scopes read --tables products,categories`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("owner") {
				in.OwnerID = &owner
			}
			if expires > 0 {
				at := time.Now().Add(expires).UTC()
				in.ExpiresAt = &at
			}
			return runKeyCreate(in)
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&in.Type, "type", model.KeyTypePublic, "Key type: public or secret")
	cmd.Flags().StringSliceVar(&in.Scopes, "scopes", nil, "Scopes: read, write, delete (default depends on type)")
	cmd.Flags().StringSliceVar(&in.AllowedTables, "tables", nil, "Restrict the key to these tables")
	cmd.Flags().IntVar(&in.RateLimit, "rate-limit", 0, "Requests per minute (0 uses the default)")
	cmd.Flags().Int64Var(&owner, "owner", 0, "User id the key acts as")
	cmd.Flags().DurationVar(&expires, "expires-in", 0, "Expire the key after this duration")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(in service.KeyInput) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	auth := service.NewAuthService(store, "cli", cfg.Auth.JWTExpiry, newLogger(cfg.Logging))
	token, key, err := auth.CreateAPIKey(cmdCtx(), in)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Printf("API key created (id %d, prefix %s)\n", key.ID, key.KeyPrefix)
	fmt.Printf("  type:   %s\n", key.Type)
	fmt.Printf("  scopes: %s\n", strings.Join(key.Scopes.Names(), ", "))
	if len(key.AllowedTables) > 0 {
		fmt.Printf("  tables: %s\n", strings.Join(key.AllowedTables, ", "))
	}
	fmt.Println()
	fmt.Printf("  %s\n", token)
	fmt.Println()
	fmt.Println("Store this key now. It will not be shown again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(cmdCtx())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys found. Use 'basin key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-16s %-24s %-8s %-20s %-8s\n", "ID", "PREFIX", "NAME", "TYPE", "SCOPES", "ACTIVE")
	fmt.Printf("%-6s %-16s %-24s %-8s %-20s %-8s\n", "--", "------", "----", "----", "------", "------")
	for _, k := range keys {
		fmt.Printf("%-6d %-16s %-24s %-8s %-20s %-8s\n",
			k.ID, k.KeyPrefix, k.Name, k.Type, strings.Join(k.Scopes.Names(), ","), yesNo(k.IsActive))
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id|prefix>",
		Short: "Revoke an API key by id or prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}
}

func runKeyRevoke(ref string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := cmdCtx()
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		err = store.RevokeAPIKey(ctx, id)
	} else {
		err = store.RevokeAPIKeyByPrefix(ctx, ref)
	}
	if errors.Is(err, config.ErrNotFound) {
		return fmt.Errorf("no active API key matches %q", ref)
	}
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %q\n", ref)
	return nil
}
