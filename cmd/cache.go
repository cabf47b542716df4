package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kognit-ai/kognit/internal/config"
	"github.com/kognit-ai/kognit/internal/semcache"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the semantic cache",
	}

	cacheCmd.AddCommand(newCacheStatsCmd())
	cacheCmd.AddCommand(newCacheClearCmd())

	return cacheCmd
}

// setupCache connects only to Redis. Cache commands never touch the
// database or the embedding provider.
func setupCache(cmd *cobra.Command) (*semcache.Cache, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.CacheEnabled {
		return nil, nil, errors.New("semantic cache is disabled in configuration")
	}

	rdb, cache := provideCache(cmd.Context(), cfg, newLogger())
	if cache == nil {
		return nil, nil, fmt.Errorf("redis unavailable at %s", cfg.RedisAddr)
	}
	cleanup := func() { _ = rdb.Close() }
	return cache, cleanup, nil
}

func newCacheStatsCmd() *cobra.Command {
	var tenant, kbID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry and hit counts for one cache namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, cleanup, err := setupCache(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := cache.Stats(cmd.Context(), tenant, kbID)
			if err != nil {
				return fmt.Errorf("reading cache stats: %w", err)
			}
			fmt.Printf("Namespace %s/%s\n", tenant, kbID)
			fmt.Printf("  Entries:    %d\n", stats.Entries)
			fmt.Printf("  Total hits: %d\n", stats.TotalHits)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant namespace (required)")
	cmd.Flags().StringVar(&kbID, "kb", "", "knowledge base namespace (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("kb")

	return cmd
}

func newCacheClearCmd() *cobra.Command {
	var tenant, kbID string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop all cached results for one cache namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, cleanup, err := setupCache(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cache.Invalidate(cmd.Context(), tenant, kbID); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			fmt.Printf("Cleared cache namespace %s/%s\n", tenant, kbID)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant namespace (required)")
	cmd.Flags().StringVar(&kbID, "kb", "", "knowledge base namespace (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("kb")

	return cmd
}
