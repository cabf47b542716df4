package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kognit-ai/kognit/internal/ingest"
)

// ingestFlags are shared by the file and dir subcommands.
type ingestFlags struct {
	kbID   string
	tenant string
	users  []string
	groups []string
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kbID, "kb", "", "knowledge base ID (required)")
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "owning tenant (required)")
	cmd.Flags().StringSliceVar(&f.users, "users", nil, "user IDs allowed to retrieve this content")
	cmd.Flags().StringSliceVar(&f.groups, "groups", nil, "group IDs allowed to retrieve this content")
	_ = cmd.MarkFlagRequired("kb")
	_ = cmd.MarkFlagRequired("tenant")
}

// target validates knowledge-base ownership before any chunks are written.
func (f *ingestFlags) target(ctx context.Context, app *App) (ingest.Target, error) {
	id, err := uuid.Parse(f.kbID)
	if err != nil {
		return ingest.Target{}, fmt.Errorf("invalid knowledge base ID %q: %w", f.kbID, err)
	}
	base, err := app.KB.Get(ctx, f.tenant, id)
	if err != nil {
		return ingest.Target{}, fmt.Errorf("looking up knowledge base: %w", err)
	}
	return ingest.Target{
		KBID:      base.CollectionID(),
		TenantID:  f.tenant,
		ACLUsers:  f.users,
		ACLGroups: f.groups,
	}, nil
}

func newIngestCmd() *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index documents into a knowledge base",
	}

	ingestCmd.AddCommand(newIngestFileCmd())
	ingestCmd.AddCommand(newIngestDirCmd())
	ingestCmd.AddCommand(newIngestDeleteCmd())

	return ingestCmd
}

func newIngestFileCmd() *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Chunk, embed, and index a single file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			target, err := flags.target(ctx, app)
			if err != nil {
				return err
			}
			indexer := ingest.NewIndexer(app.Processor, nil)
			result, err := indexer.AddFile(ctx, args[0], target)
			if err != nil {
				return fmt.Errorf("indexing %s: %w", args[0], err)
			}
			fmt.Printf("Indexed %s: %d chunks in %s\n", args[0], result.ChunkCount, result.Duration.Round(time.Millisecond))
			return nil
		}),
	}

	flags.register(cmd)
	return cmd
}

func newIngestDirCmd() *cobra.Command {
	var (
		flags ingestFlags
		exts  []string
	)

	cmd := &cobra.Command{
		Use:   "dir <path>",
		Short: "Recursively index a directory, honoring .gitignore",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			target, err := flags.target(ctx, app)
			if err != nil {
				return err
			}
			indexer := ingest.NewIndexer(app.Processor, exts)
			result, err := indexer.AddDirectory(ctx, args[0], target)
			if err != nil {
				return fmt.Errorf("indexing %s: %w", args[0], err)
			}
			fmt.Printf("Indexed %s in %s\n", args[0], result.Duration.Round(time.Millisecond))
			fmt.Printf("  Files added:   %d\n", result.FilesAdded)
			fmt.Printf("  Files skipped: %d\n", result.FilesSkipped)
			fmt.Printf("  Files failed:  %d\n", result.FilesFailed)
			fmt.Printf("  Chunks added:  %d\n", result.ChunksAdded)
			fmt.Printf("  Total size:    %d bytes\n", result.TotalSize)
			return nil
		}),
	}

	flags.register(cmd)
	cmd.Flags().StringSliceVar(&exts, "ext", nil, "file extensions to index (default .txt, .md, .html)")
	return cmd
}

func newIngestDeleteCmd() *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document's chunks from a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			target, err := flags.target(ctx, app)
			if err != nil {
				return err
			}
			n, err := app.Processor.DeleteDocument(ctx, target.KBID, target.TenantID, args[0])
			if err != nil {
				return fmt.Errorf("deleting document: %w", err)
			}
			fmt.Printf("Deleted %d chunks of document %s\n", n, args[0])
			return nil
		}),
	}

	flags.register(cmd)
	return cmd
}
