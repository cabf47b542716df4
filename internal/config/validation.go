package config

import (
	"fmt"
	"slices"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Embedding model must be a known spec; dimensions and score threshold
	// derive from it.
	if _, err := EmbeddingModelSpec(c.EmbeddingModel); err != nil {
		return err
	}

	// PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q, must be one of %v", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// Redis
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: address cannot be empty", ErrInvalidRedisAddr)
	}

	// Semantic cache. The threshold must stay stricter than any retrieval
	// threshold; below 0.9 near-duplicate detection degrades into fuzzy
	// matching and returns wrong answers.
	if c.CacheThreshold < 0.9 || c.CacheThreshold > 1.0 {
		return fmt.Errorf("%w: must be between 0.9 and 1.0, got %.3f", ErrInvalidCacheThreshold, c.CacheThreshold)
	}
	if c.CacheTTLSeconds < 1 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidCacheTTL, c.CacheTTLSeconds)
	}

	// Retrieval
	if c.RetrievalLimit < 1 || c.RetrievalLimit > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidRetrievalLimit, c.RetrievalLimit)
	}
	if c.RetrievalMaxChars < 100 {
		return fmt.Errorf("%w: must be at least 100, got %d", ErrInvalidRetrievalMaxChars, c.RetrievalMaxChars)
	}

	// Chunking: overlap must leave forward progress.
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got overlap=%d size=%d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}
	if c.ChunkMinSize < 0 || c.ChunkMinSize > c.ChunkSize {
		return fmt.Errorf("%w: chunk_min_size must be in [0, chunk_size], got %d", ErrInvalidChunking, c.ChunkMinSize)
	}

	return nil
}
