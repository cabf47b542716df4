package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kognit-ai/kognit/db"
	"github.com/kognit-ai/kognit/internal/chunk"
	"github.com/kognit-ai/kognit/internal/config"
	"github.com/kognit-ai/kognit/internal/embed"
	"github.com/kognit-ai/kognit/internal/ingest"
	"github.com/kognit-ai/kognit/internal/kb"
	"github.com/kognit-ai/kognit/internal/log"
	"github.com/kognit-ai/kognit/internal/prompt"
	"github.com/kognit-ai/kognit/internal/retrieve"
	"github.com/kognit-ai/kognit/internal/semcache"
	"github.com/kognit-ai/kognit/internal/vectorstore"
)

// App holds every initialized component. Built once per command invocation;
// Close releases connections in reverse dependency order.
type App struct {
	Config    *config.Config
	Logger    log.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Embedder  *embed.Client
	Vectors   *vectorstore.Store
	Cache     *semcache.Cache
	Retriever *retrieve.Retriever
	KB        *kb.Manager
	Processor *ingest.Processor
	Prompt    *prompt.Builder
}

// setupApp loads configuration and wires the full pipeline. Commands that
// only need a subset (migrate, version) do their own lighter setup.
func setupApp(ctx context.Context) (_ *App, retErr error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: newLogger()}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	spec, err := cfg.EmbeddingSpec()
	if err != nil {
		return nil, err
	}

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	embedder, err := provideEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Embedder = embed.New(embedder, spec, a.Logger)

	a.Vectors = vectorstore.New(pool, a.Logger)

	if cfg.CacheEnabled {
		a.Redis, a.Cache = provideCache(ctx, cfg, a.Logger)
	}

	chunkOpts := chunk.Options{
		Size:    cfg.ChunkSize,
		Overlap: cfg.ChunkOverlap,
		MinSize: cfg.ChunkMinSize,
	}
	kbStore := kb.NewStore(pool, a.Logger)

	// A nil *semcache.Cache must become an untyped nil at the interface
	// boundary, so each branch passes the literal.
	if a.Cache != nil {
		a.Retriever = retrieve.New(a.Embedder, a.Vectors, a.Cache, a.Logger)
		a.KB = kb.NewManager(kbStore, a.Vectors, a.Cache, spec.Dimensions, a.Logger)
		a.Processor = ingest.NewProcessor(a.Embedder, a.Vectors, a.Cache, chunkOpts, a.Logger)
	} else {
		a.Retriever = retrieve.New(a.Embedder, a.Vectors, nil, a.Logger)
		a.KB = kb.NewManager(kbStore, a.Vectors, nil, spec.Dimensions, a.Logger)
		a.Processor = ingest.NewProcessor(a.Embedder, a.Vectors, nil, chunkOpts, a.Logger)
	}

	a.Prompt = prompt.NewBuilder()

	return a, nil
}

// Close waits for pending cache writes and releases connections.
func (a *App) Close() {
	if a.Retriever != nil {
		a.Retriever.Flush()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("closing redis client", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// withApp wraps a command run function with full application setup and
// teardown. The cobra command's context carries cancellation from main.
func withApp(run func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()
		return run(cmd.Context(), app, cmd, args)
	}
}

func newLogger() log.Logger {
	cfg := log.Config{}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

// provideDBPool runs migrations and opens the PostgreSQL connection pool.
// pgvector types are registered on every new connection so []float32 vectors
// bind directly in queries.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideEmbedder initializes Genkit with the configured provider plugin and
// looks up the embedding model.
func provideEmbedder(ctx context.Context, cfg *config.Config) (ai.Embedder, error) {
	var (
		g        *genkit.Genkit
		embedder ai.Embedder
	)

	switch cfg.Provider {
	case "openai":
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		embedder = genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbeddingModel))

	default: // "googleai"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbeddingModel)
	}

	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbeddingModel, cfg.Provider)
	}
	return embedder, nil
}

// provideCache connects to Redis. A failed ping disables the cache rather
// than failing the command; every cache miss falls through to the store.
func provideCache(ctx context.Context, cfg *config.Config, logger log.Logger) (*redis.Client, *semcache.Cache) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, semantic cache disabled", "addr", cfg.RedisAddr, "error", err)
		_ = rdb.Close()
		return nil, nil
	}

	cache := semcache.New(rdb, semcache.Config{
		Threshold:  float64(cfg.CacheThreshold),
		TTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		MaxEntries: cfg.CacheMaxEntries,
	}, logger)
	return rdb, cache
}
