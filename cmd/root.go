// Package cmd provides the kognit CLI.
//
// Commands:
//   - kb: manage knowledge bases (create, list, delete)
//   - ingest: index files and directories into a knowledge base
//   - search: run an access-controlled retrieval against knowledge bases
//   - cache: inspect and clear the semantic cache
//   - migrate: apply database migrations
//
// All commands load configuration the same way: flags, then KOGNIT_*
// environment variables, then the config file (--config or
// ~/.kognit/config.yaml), then defaults.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kognit",
	Short: "Kognit - access-controlled retrieval over enterprise knowledge bases",
	Long: `Kognit indexes documents into per-tenant knowledge bases and answers
semantic queries with citation-ready passages. Every search is filtered
server-side by the caller's user ID and group memberships.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.kognit/config.yaml)")

	rootCmd.AddCommand(newKBCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}
