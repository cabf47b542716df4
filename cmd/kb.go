package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kognit-ai/kognit/internal/kb"
)

func newKBCmd() *cobra.Command {
	kbCmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
	}

	kbCmd.AddCommand(newKBCreateCmd())
	kbCmd.AddCommand(newKBListCmd())
	kbCmd.AddCommand(newKBDeleteCmd())

	return kbCmd
}

func newKBCreateCmd() *cobra.Command {
	var (
		tenant       string
		scope        string
		instructions string
		grounded     bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a knowledge base and its vector collection",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			created, err := app.KB.Create(ctx, tenant, args[0], kb.Scope(scope), instructions, grounded)
			if err != nil {
				return fmt.Errorf("creating knowledge base: %w", err)
			}
			fmt.Printf("Created knowledge base %q\n", created.Name)
			fmt.Printf("  ID:     %s\n", created.ID)
			fmt.Printf("  Tenant: %s\n", created.TenantID)
			fmt.Printf("  Scope:  %s\n", created.Scope)
			return nil
		}),
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant that owns the knowledge base (required)")
	cmd.Flags().StringVar(&scope, "scope", string(kb.ScopePersonal), "sharing scope: personal, team, department, organization")
	cmd.Flags().StringVar(&instructions, "instructions", "", "custom instructions injected into assembled prompts")
	cmd.Flags().BoolVar(&grounded, "grounded", false, "restrict answers to retrieved content only")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newKBListCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's knowledge bases",
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			kbs, err := app.KB.List(ctx, tenant)
			if err != nil {
				return fmt.Errorf("listing knowledge bases: %w", err)
			}
			if len(kbs) == 0 {
				fmt.Println("No knowledge bases.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCOPE\tGROUNDED\tCREATED")
			for _, b := range kbs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					b.ID, b.Name, b.Scope, b.GroundedOnly, b.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		}),
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to list (required)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newKBDeleteCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "delete <kb-id>",
		Short: "Delete a knowledge base, its vectors, and its cache namespace",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid knowledge base ID %q: %w", args[0], err)
			}
			if err := app.KB.Delete(ctx, tenant, id); err != nil {
				return fmt.Errorf("deleting knowledge base: %w", err)
			}
			fmt.Printf("Deleted knowledge base %s\n", id)
			return nil
		}),
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant that owns the knowledge base (required)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
