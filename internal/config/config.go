// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (KOGNIT_ prefix, plus DATABASE_URL / REDIS_URL)
//  2. Config file (~/.kognit/config.yaml by default)
//  3. Default values
//
// Main configuration categories:
//   - Embedding: provider and embedding model selection (see embedding.go for
//     the per-model dimension and score-threshold table)
//   - Storage: PostgreSQL connection for the vector store (see storage.go)
//   - Cache: Redis connection and semantic-cache tuning
//   - Retrieval: limits, context budget, timeouts
//   - Chunking: default chunk size, overlap, and minimum chunk size
//
// Security: sensitive fields (passwords) are masked in MarshalJSON.
// Validation: range checks in validation.go with sentinel errors for
// Go-idiomatic checking via errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidEmbeddingModel indicates the embedding model is unknown.
	ErrInvalidEmbeddingModel = errors.New("invalid embedding model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRedisAddr indicates the Redis address is invalid.
	ErrInvalidRedisAddr = errors.New("invalid Redis address")

	// ErrInvalidCacheThreshold indicates the semantic-cache similarity threshold is out of range.
	ErrInvalidCacheThreshold = errors.New("invalid cache threshold")

	// ErrInvalidCacheTTL indicates the semantic-cache TTL is out of range.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidRetrievalLimit indicates the retrieval limit is out of range.
	ErrInvalidRetrievalLimit = errors.New("invalid retrieval limit")

	// ErrInvalidRetrievalMaxChars indicates the context budget is out of range.
	ErrInvalidRetrievalMaxChars = errors.New("invalid retrieval max chars")

	// ErrInvalidChunking indicates chunk size / overlap parameters are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// Embedding provider and model. The model name selects dimensions and
	// the retrieval score threshold from the table in embedding.go.
	Provider       string `mapstructure:"provider" json:"provider"`
	EmbeddingModel string `mapstructure:"embedding_model" json:"embedding_model"`

	// PostgreSQL (vector store + knowledge-base metadata)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_dbname" json:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgres_sslmode"`

	// Redis (semantic cache)
	RedisAddr     string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" json:"-"`
	RedisDB       int    `mapstructure:"redis_db" json:"redis_db"`

	// Semantic cache tuning. The hit threshold is stricter than retrieval's
	// score threshold: a false cache hit returns a wrong answer, not just an
	// imprecise citation.
	CacheEnabled    bool    `mapstructure:"cache_enabled" json:"cache_enabled"`
	CacheThreshold  float32 `mapstructure:"cache_threshold" json:"cache_threshold"`
	CacheTTLSeconds int     `mapstructure:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	CacheMaxEntries int     `mapstructure:"cache_max_entries" json:"cache_max_entries"`

	// Retrieval
	RetrievalLimit          int `mapstructure:"retrieval_limit" json:"retrieval_limit"`
	RetrievalMaxChars       int `mapstructure:"retrieval_max_chars" json:"retrieval_max_chars"`
	RetrievalTimeoutSeconds int `mapstructure:"retrieval_timeout_seconds" json:"retrieval_timeout_seconds"`

	// Chunking defaults (character counts)
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	ChunkMinSize int `mapstructure:"chunk_min_size" json:"chunk_min_size"`
}

// Default values applied when neither the config file nor the environment
// provides a setting.
const (
	DefaultProvider       = "googleai"
	DefaultEmbeddingModel = "gemini-embedding-001"

	DefaultCacheThreshold  float32 = 0.95
	DefaultCacheTTLSeconds         = 3600
	DefaultCacheMaxEntries         = 1000

	DefaultRetrievalLimit          = 5
	DefaultRetrievalMaxChars       = 8000
	DefaultRetrievalTimeoutSeconds = 15

	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultChunkMinSize = 100
)

// Load reads configuration from the given file path (empty = default
// location), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".kognit"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("KOGNIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus environment apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && path != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DATABASE_URL / REDIS_URL override individual settings; common in
	// container deployments.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}
	if err := cfg.parseRedisURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", DefaultProvider)
	v.SetDefault("embedding_model", DefaultEmbeddingModel)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "kognit")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "kognit")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("cache_enabled", true)
	v.SetDefault("cache_threshold", DefaultCacheThreshold)
	v.SetDefault("cache_ttl_seconds", DefaultCacheTTLSeconds)
	v.SetDefault("cache_max_entries", DefaultCacheMaxEntries)

	v.SetDefault("retrieval_limit", DefaultRetrievalLimit)
	v.SetDefault("retrieval_max_chars", DefaultRetrievalMaxChars)
	v.SetDefault("retrieval_timeout_seconds", DefaultRetrievalTimeoutSeconds)

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("chunk_min_size", DefaultChunkMinSize)
}

// MarshalJSON masks sensitive fields. When adding new secrets (passwords,
// API keys, tokens) make sure they are excluded here.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	masked.PostgresPassword = ""
	masked.RedisPassword = ""
	return json.Marshal(masked)
}
