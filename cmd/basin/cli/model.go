package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/schema"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage model definitions",
		Long:  "Apply model files, list models, and synchronize or drop their backing tables.",
	}

	cmd.AddCommand(newModelApplyCmd())
	cmd.AddCommand(newModelListCmd())
	cmd.AddCommand(newModelSyncCmd())
	cmd.AddCommand(newModelDriftCmd())
	cmd.AddCommand(newModelDropCmd())

	return cmd
}

// ---------- model apply ----------

func newModelApplyCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update models from a YAML file",
		Long: `Apply a model file. New models are created and their tables built; existing
models get their attributes updated and any missing fields and relationships
added. Nothing is removed.`,
		Example: `  basin model apply -f models.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelApply(file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Model file to apply (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runModelApply(file string) error {
	defs, err := config.LoadModelFile(file)
	if err != nil {
		return err
	}
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	results, err := b.models.Apply(cmdCtx(), defs)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)
	for _, r := range results {
		if r.Created {
			green.Printf("  + %s (created)\n", r.Table)
		} else {
			fmt.Printf("  ~ %s\n", r.Table)
		}
		for _, f := range r.FieldsAdded {
			fmt.Printf("      field %s\n", f)
		}
		for _, rel := range r.RelationsDone {
			fmt.Printf("      relationship %s\n", rel)
		}
		printSyncErrors(yellow, r.Sync)
	}
	if err != nil {
		return fmt.Errorf("apply %s: %w", file, err)
	}
	fmt.Printf("Applied %d model(s)\n", len(results))
	return nil
}

func printSyncErrors(c *color.Color, res *schema.SyncResult) {
	if res == nil {
		return
	}
	for _, e := range res.Errors {
		c.Printf("      warning: %s\n", e)
	}
}

// ---------- model list ----------

func newModelListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runModelList(jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	models, err := store.ListModels(cmdCtx())
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	if len(models) == 0 {
		fmt.Println("No models defined. Use 'basin model apply -f models.yaml' to add some.")
		return nil
	}

	fmt.Printf("%-24s %-24s %-7s %-5s %-8s\n", "TABLE", "NAME", "FIELDS", "API", "ACTIVE")
	fmt.Printf("%-24s %-24s %-7s %-5s %-8s\n", "-----", "----", "------", "---", "------")
	for _, m := range models {
		fmt.Printf("%-24s %-24s %-7d %-5s %-8s\n",
			m.TableName, m.Name, len(m.Fields), yesNo(m.APIEnabled), yesNo(m.IsActive))
	}

	return nil
}

// ---------- model sync ----------

func newModelSyncCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sync [table...]",
		Short: "Create missing tables and columns",
		Long:  "Synchronize the backing store with the model definitions. Only additive changes are made.",
		Example: `  basin model sync products
  basin model sync --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("specify a table or use --all")
			}
			return runModelSync(args, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Synchronize every model")

	return cmd
}

func runModelSync(tables []string, all bool) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := cmdCtx()
	if all {
		models, err := b.models.List(ctx)
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		tables = tables[:0]
		for _, m := range models {
			tables = append(tables, m.TableName)
		}
	}

	yellow := color.New(color.FgYellow)
	var failed []string
	for _, table := range tables {
		res, err := b.models.Sync(ctx, table)
		if err != nil {
			color.New(color.FgRed).Printf("  ✗ %s: %v\n", table, err)
			failed = append(failed, table)
			continue
		}
		switch {
		case res.Created:
			fmt.Printf("  + %s (table created)\n", table)
		case len(res.ColumnsAdded) > 0:
			fmt.Printf("  ~ %s (added %s)\n", table, strings.Join(res.ColumnsAdded, ", "))
		default:
			fmt.Printf("  = %s (up to date)\n", table)
		}
		printSyncErrors(yellow, res)
	}
	if len(failed) > 0 {
		return fmt.Errorf("sync failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

// ---------- model drift ----------

func newModelDriftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drift <table>",
		Short: "Compare a model with its live table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			report, err := b.models.Drift(cmdCtx(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

// ---------- model drop ----------

func newModelDropCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop <table>",
		Short: "Delete a model and drop its table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("dropping %s deletes all of its records; re-run with --yes to confirm", args[0])
			}
			b, err := openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.models.Delete(cmdCtx(), args[0]); err != nil {
				return fmt.Errorf("drop %s: %w", args[0], err)
			}
			fmt.Printf("Dropped model %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the drop")

	return cmd
}

