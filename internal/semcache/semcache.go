// Package semcache caches retrieval results in Redis keyed by query meaning
// rather than query bytes.
//
// Lookups try an exact match on the normalized query first, then scan cached
// query vectors for one whose cosine similarity clears the configured
// threshold. Entries are namespaced per (tenant, knowledge base) pair so a
// cached answer can never leak across tenants or knowledge bases.
//
// The cache is an accelerator, not a dependency: every Redis failure on the
// read or write path degrades to a miss and is logged, never returned to the
// retrieval flow. Only Invalidate reports errors, because a failed
// invalidation means stale results.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCache indicates a cache backend failure.
var ErrCache = errors.New("semantic cache failure")

// Defaults applied by New for zero Config fields.
const (
	DefaultThreshold  = 0.95
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

// commands is the slice of the Redis API the cache uses.
// *redis.Client satisfies it; tests substitute a fake.
type commands interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HLen(ctx context.Context, key string) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config controls cache matching and retention.
type Config struct {
	// Threshold is the minimum cosine similarity between a new query vector
	// and a cached one for the cached result to be served.
	Threshold float64

	// TTL bounds the lifetime of each entry. Stale entries are dropped at
	// lookup time; the namespace key additionally expires after TTL of
	// write inactivity.
	TTL time.Duration

	// MaxEntries caps entries per (tenant, knowledge base) namespace.
	// The oldest entry is evicted when the cap is exceeded.
	MaxEntries int
}

// Cache is a semantic query cache. Safe for concurrent use.
type Cache struct {
	rdb    commands
	cfg    Config
	logger *slog.Logger
}

// Stats describes one namespace's cache population.
type Stats struct {
	Entries   int64 `json:"entries"`
	TotalHits int64 `json:"total_hits"`
}

// entry is the stored record for one cached query.
type entry struct {
	Query     string          `json:"query"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Hits      int64           `json:"hits"`
}

// New creates a Cache. Zero Config fields take package defaults; a nil
// logger falls back to slog.Default().
func New(rdb commands, cfg Config, logger *slog.Logger) *Cache {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, cfg: cfg, logger: logger}
}

func entriesKey(tenantID, kbID string) string {
	return fmt.Sprintf("semcache:%s:%s:entries", tenantID, kbID)
}

func vectorsKey(tenantID, kbID string) string {
	return fmt.Sprintf("semcache:%s:%s:vectors", tenantID, kbID)
}

// queryField hashes the normalized query into a stable hash field name.
// Normalization folds case and collapses whitespace so trivially different
// spellings of the same question share a field.
func queryField(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// Get looks up a cached result for the query within one (tenant, knowledge
// base) namespace. The second return value reports whether a result was
// found; backend failures count as misses.
func (c *Cache) Get(ctx context.Context, tenantID, kbID, query string, vector []float32) (json.RawMessage, bool) {
	eKey := entriesKey(tenantID, kbID)
	vKey := vectorsKey(tenantID, kbID)
	field := queryField(query)

	// Exact match on the normalized query hash.
	raw, err := c.rdb.HGet(ctx, eKey, field).Result()
	switch {
	case err == nil:
		if payload, ok := c.decodeHit(eKey, vKey, field, raw); ok {
			c.logger.Debug("cache hit", "kind", "exact", "tenant", tenantID, "kb", kbID)
			return payload, true
		}
	case errors.Is(err, redis.Nil):
		// Fall through to the semantic scan.
	default:
		c.logger.Warn("cache lookup failed, treating as miss", "error", err)
		return nil, false
	}

	// Semantic match: scan cached query vectors for a close neighbor.
	vectors, err := c.rdb.HGetAll(ctx, vKey).Result()
	if err != nil {
		c.logger.Warn("cache vector scan failed, treating as miss", "error", err)
		return nil, false
	}

	bestField := ""
	bestScore := c.cfg.Threshold
	for f, encoded := range vectors {
		var cached []float32
		if err := json.Unmarshal([]byte(encoded), &cached); err != nil {
			continue
		}
		if score := cosineSimilarity(vector, cached); score >= bestScore {
			bestField, bestScore = f, score
		}
	}
	if bestField == "" {
		return nil, false
	}

	raw, err = c.rdb.HGet(ctx, eKey, bestField).Result()
	if err != nil {
		return nil, false
	}
	payload, ok := c.decodeHit(eKey, vKey, bestField, raw)
	if !ok {
		return nil, false
	}
	c.logger.Debug("cache hit", "kind", "semantic", "tenant", tenantID, "kb", kbID, "similarity", bestScore)
	return payload, true
}

// decodeHit unmarshals a stored entry, enforces the per-entry TTL, and bumps
// the hit counter. Writes keep refreshing the namespace key's expiry, so a
// hot namespace never expires as a whole; entry age is checked here instead.
// The deletion and counter update are fire-and-forget.
func (c *Cache) decodeHit(eKey, vKey, field, raw string) (json.RawMessage, bool) {
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.logger.Warn("corrupt cache entry", "field", field, "error", err)
		return nil, false
	}
	if time.Since(e.CreatedAt) > c.cfg.TTL {
		_ = c.rdb.HDel(context.Background(), eKey, field).Err()
		_ = c.rdb.HDel(context.Background(), vKey, field).Err()
		c.logger.Debug("dropped expired cache entry", "field", field)
		return nil, false
	}

	e.Hits++
	if updated, err := json.Marshal(e); err == nil {
		if err := c.rdb.HSet(context.Background(), eKey, field, string(updated)).Err(); err != nil {
			c.logger.Debug("hit counter update failed", "error", err)
		}
	}
	return e.Payload, true
}

// Set stores a query result. Failures are logged and swallowed: a write
// that never lands costs one future cache miss, nothing more.
func (c *Cache) Set(ctx context.Context, tenantID, kbID, query string, vector []float32, payload json.RawMessage) {
	eKey := entriesKey(tenantID, kbID)
	vKey := vectorsKey(tenantID, kbID)
	field := queryField(query)

	encoded, err := json.Marshal(entry{
		Query:     query,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("cache entry encode failed", "error", err)
		return
	}
	vecEncoded, err := json.Marshal(vector)
	if err != nil {
		c.logger.Warn("cache vector encode failed", "error", err)
		return
	}

	if err := c.rdb.HSet(ctx, eKey, field, string(encoded)).Err(); err != nil {
		c.logger.Warn("cache write failed", "error", err)
		return
	}
	if err := c.rdb.HSet(ctx, vKey, field, string(vecEncoded)).Err(); err != nil {
		c.logger.Warn("cache vector write failed", "error", err)
	}

	// Namespace-level expiry garbage-collects idle namespaces; per-entry
	// freshness is enforced in decodeHit.
	if err := c.rdb.Expire(ctx, eKey, c.cfg.TTL).Err(); err != nil {
		c.logger.Debug("cache expire failed", "error", err)
	}
	if err := c.rdb.Expire(ctx, vKey, c.cfg.TTL).Err(); err != nil {
		c.logger.Debug("cache expire failed", "error", err)
	}

	c.evictIfFull(ctx, eKey, vKey)
}

// evictIfFull removes the oldest entry when the namespace exceeds its cap.
func (c *Cache) evictIfFull(ctx context.Context, eKey, vKey string) {
	size, err := c.rdb.HLen(ctx, eKey).Result()
	if err != nil || size <= int64(c.cfg.MaxEntries) {
		return
	}

	all, err := c.rdb.HGetAll(ctx, eKey).Result()
	if err != nil {
		return
	}
	oldestField := ""
	var oldestAt time.Time
	for f, raw := range all {
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// Corrupt entries are the first to go.
			oldestField = f
			break
		}
		if oldestField == "" || e.CreatedAt.Before(oldestAt) {
			oldestField, oldestAt = f, e.CreatedAt
		}
	}
	if oldestField == "" {
		return
	}
	if err := c.rdb.HDel(ctx, eKey, oldestField).Err(); err != nil {
		c.logger.Debug("cache eviction failed", "error", err)
		return
	}
	_ = c.rdb.HDel(ctx, vKey, oldestField).Err()
	c.logger.Debug("evicted oldest cache entry", "field", oldestField)
}

// Invalidate drops every cached result for one (tenant, knowledge base)
// namespace. Called after ingestion and deletion so cached answers never
// outlive the content they were built from.
func (c *Cache) Invalidate(ctx context.Context, tenantID, kbID string) error {
	err := c.rdb.Del(ctx, entriesKey(tenantID, kbID), vectorsKey(tenantID, kbID)).Err()
	if err != nil {
		return fmt.Errorf("%w: invalidate tenant %s kb %s: %w", ErrCache, tenantID, kbID, err)
	}
	c.logger.Debug("invalidated cache namespace", "tenant", tenantID, "kb", kbID)
	return nil
}

// Stats reports entry and hit counts for one namespace.
func (c *Cache) Stats(ctx context.Context, tenantID, kbID string) (Stats, error) {
	all, err := c.rdb.HGetAll(ctx, entriesKey(tenantID, kbID)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", ErrCache, err)
	}

	var s Stats
	for _, raw := range all {
		s.Entries++
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			s.TotalHits += e.Hits
		}
	}
	return s, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors in
// float64 to limit accumulation error. Mismatched lengths and zero vectors
// score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
