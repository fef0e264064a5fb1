package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Inspect and test webhooks",
	}

	cmd.AddCommand(newWebhookListCmd())
	cmd.AddCommand(newWebhookTestCmd())

	return cmd
}

func newWebhookListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			hooks, err := store.ListWebhooks(cmdCtx())
			if err != nil {
				return fmt.Errorf("list webhooks: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(hooks)
			}
			if len(hooks) == 0 {
				fmt.Println("No webhooks configured.")
				return nil
			}

			fmt.Printf("%-6s %-40s %-28s %-8s %-8s\n", "ID", "URL", "EVENTS", "ACTIVE", "FAILURES")
			fmt.Printf("%-6s %-40s %-28s %-8s %-8s\n", "--", "---", "------", "------", "--------")
			for _, h := range hooks {
				fmt.Printf("%-6d %-40s %-28s %-8s %-8d\n",
					h.ID, h.URL, strings.Join(h.Events, ","), yesNo(h.IsActive), h.FailureCount)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newWebhookTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Send a signed ping to a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid webhook id %q", args[0])
			}
			b, err := openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			res, err := b.webhooks.Test(cmdCtx(), id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				color.New(color.FgRed).Println("Delivery failed")
			}
			return nil
		},
	}
}
