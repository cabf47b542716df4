package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kognit-ai/kognit/db"
	"github.com/kognit-ai/kognit/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.PostgresURL()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			fmt.Println("Migrations applied.")
			return nil
		},
	}
}
