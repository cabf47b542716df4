package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kognit-ai/kognit/internal/config"
	"github.com/kognit-ai/kognit/internal/kb"
	"github.com/kognit-ai/kognit/internal/retrieve"
)

func newSearchCmd() *cobra.Command {
	var (
		kbIDs      []string
		tenant     string
		user       string
		groups     []string
		limit      int
		threshold  float32
		maxChars   int
		showPrompt bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve passages matching a query, filtered by access control",
		Long: `Search embeds the query once and fans out to every named knowledge base.
Results are filtered server-side by the requesting user's ID and group
memberships, merged deterministically, and numbered for citation.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			bases := make([]kb.KnowledgeBase, 0, len(kbIDs))
			collections := make([]string, 0, len(kbIDs))
			for _, raw := range kbIDs {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid knowledge base ID %q: %w", raw, err)
				}
				base, err := app.KB.Get(ctx, tenant, id)
				if err != nil {
					return fmt.Errorf("looking up knowledge base %s: %w", id, err)
				}
				bases = append(bases, base)
				collections = append(collections, base.CollectionID())
			}

			passages, err := app.Retriever.Retrieve(ctx, args[0], collections,
				retrieve.Requester{UserID: user, TenantID: tenant, GroupIDs: groups},
				searchOptions(app.Config, limit, threshold, maxChars),
			)
			if err != nil {
				return fmt.Errorf("retrieving: %w", err)
			}

			if len(passages) == 0 {
				fmt.Println("No matching passages.")
			}
			for _, p := range passages {
				fmt.Printf("[%d] %s (score %.3f)\n", p.Ref, sourceLabel(p), p.Score)
				fmt.Printf("    %s\n", p.Excerpt)
			}

			if showPrompt {
				fmt.Println()
				fmt.Println("--- assembled system prompt ---")
				fmt.Println(app.Prompt.Assemble(bases, passages))
			}
			return nil
		}),
	}

	cmd.Flags().StringSliceVar(&kbIDs, "kb", nil, "knowledge base IDs to search (repeatable, required)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "requesting tenant (required)")
	cmd.Flags().StringVar(&user, "user", "", "requesting user ID (required)")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "requesting user's group IDs")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum passages to return (default from retrieval_limit config)")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "minimum similarity score (default per embedding model)")
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "context character budget (default from retrieval_max_chars config)")
	cmd.Flags().BoolVar(&showPrompt, "prompt", false, "print the assembled system prompt")
	_ = cmd.MarkFlagRequired("kb")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// searchOptions layers explicit flags over the configured retrieval
// defaults. An unset flag (zero) falls back to the config value; the timeout
// has no flag and always comes from configuration.
func searchOptions(cfg *config.Config, limit int, threshold float32, maxChars int) retrieve.Options {
	opts := retrieve.Options{
		Limit:          limit,
		ScoreThreshold: threshold,
		MaxChars:       maxChars,
		Timeout:        time.Duration(cfg.RetrievalTimeoutSeconds) * time.Second,
	}
	if opts.Limit == 0 {
		opts.Limit = cfg.RetrievalLimit
	}
	if opts.MaxChars == 0 {
		opts.MaxChars = cfg.RetrievalMaxChars
	}
	return opts
}

func sourceLabel(p retrieve.Passage) string {
	if p.Filename == "" {
		return p.DocumentID
	}
	if p.Page > 0 {
		return fmt.Sprintf("%s (page %d)", p.Filename, p.Page)
	}
	return p.Filename
}
