package semcache

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kognit-ai/kognit/internal/log"
)

// fakeRedis is an in-memory stand-in for the commands interface.
type fakeRedis struct {
	data    map[string]map[string]string
	failAll bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]map[string]string)}
}

func (f *fakeRedis) HGet(_ context.Context, key, field string) *redis.StringCmd {
	if f.failAll {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.data[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	if f.failAll {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	if f.data[key] == nil {
		f.data[key] = make(map[string]string)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.data[key][values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	if f.failAll {
		return redis.NewMapStringStringResult(nil, errors.New("connection refused"))
	}
	out := make(map[string]string, len(f.data[key]))
	for k, v := range f.data[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeRedis) HLen(_ context.Context, key string) *redis.IntCmd {
	if f.failAll {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	return redis.NewIntResult(int64(len(f.data[key])), nil)
}

func (f *fakeRedis) HDel(_ context.Context, key string, fields ...string) *redis.IntCmd {
	var n int64
	for _, field := range fields {
		if _, ok := f.data[key][field]; ok {
			delete(f.data[key], field)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Expire(_ context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.failAll {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func newTestCache(rdb *fakeRedis) *Cache {
	return New(rdb, Config{Threshold: 0.95, TTL: time.Hour, MaxEntries: 3}, log.NewNop())
}

func payload(t *testing.T, s string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestExactHit(t *testing.T) {
	cache := newTestCache(newFakeRedis())
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	cache.Set(ctx, "acme", "kb1", "what is the refund policy?", vec, payload(t, "answer"))

	got, ok := cache.Get(ctx, "acme", "kb1", "what is the refund policy?", vec)
	if !ok {
		t.Fatal("expected hit")
	}
	var s string
	if err := json.Unmarshal(got, &s); err != nil || s != "answer" {
		t.Errorf("payload = %s, err = %v", got, err)
	}
}

func TestNormalizedExactHit(t *testing.T) {
	cache := newTestCache(newFakeRedis())
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	cache.Set(ctx, "acme", "kb1", "What Is The Refund Policy?", vec, payload(t, "answer"))

	// Case and whitespace differences map to the same hash field.
	_, ok := cache.Get(ctx, "acme", "kb1", "  what is   the refund policy?\n", vec)
	if !ok {
		t.Error("expected normalized query to hit")
	}
}

func TestSemanticHit(t *testing.T) {
	cache := newTestCache(newFakeRedis())
	ctx := context.Background()

	cache.Set(ctx, "acme", "kb1", "how do refunds work", []float32{1, 0, 0}, payload(t, "answer"))

	// Different wording, nearly identical vector: similarity ~0.995.
	near := []float32{1, 0.1, 0}
	got, ok := cache.Get(ctx, "acme", "kb1", "explain the refund process", near)
	if !ok {
		t.Fatal("expected semantic hit")
	}
	var s string
	if err := json.Unmarshal(got, &s); err != nil || s != "answer" {
		t.Errorf("payload = %s, err = %v", got, err)
	}
}

func TestSemanticMissBelowThreshold(t *testing.T) {
	cache := newTestCache(newFakeRedis())
	ctx := context.Background()

	cache.Set(ctx, "acme", "kb1", "how do refunds work", []float32{1, 0, 0}, payload(t, "answer"))

	// Orthogonal vector: similarity 0.
	if _, ok := cache.Get(ctx, "acme", "kb1", "unrelated question", []float32{0, 1, 0}); ok {
		t.Error("expected miss below similarity threshold")
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	// A hot namespace keeps its key TTL refreshed by writes, so expiry must
	// hold per entry: an entry older than the TTL reads as a miss and is
	// dropped from both hashes.
	rdb := newFakeRedis()
	cache := New(rdb, Config{Threshold: 0.95, TTL: time.Nanosecond, MaxEntries: 3}, log.NewNop())
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	cache.Set(ctx, "acme", "kb1", "question", vec, payload(t, "answer"))
	time.Sleep(time.Millisecond)

	if _, ok := cache.Get(ctx, "acme", "kb1", "question", vec); ok {
		t.Error("expected miss for entry older than TTL")
	}
	if n := len(rdb.data[entriesKey("acme", "kb1")]); n != 0 {
		t.Errorf("expired entry not removed, %d entries remain", n)
	}
	if n := len(rdb.data[vectorsKey("acme", "kb1")]); n != 0 {
		t.Errorf("expired vector not removed, %d vectors remain", n)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	cache := newTestCache(newFakeRedis())
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	cache.Set(ctx, "acme", "kb1", "question", vec, payload(t, "answer"))

	if _, ok := cache.Get(ctx, "globex", "kb1", "question", vec); ok {
		t.Error("cache must not serve across tenants")
	}
	if _, ok := cache.Get(ctx, "acme", "kb2", "question", vec); ok {
		t.Error("cache must not serve across knowledge bases")
	}
}

func TestBackendFailureIsAMiss(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failAll = true
	cache := newTestCache(rdb)
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	// Neither read nor write failures surface as errors.
	cache.Set(ctx, "acme", "kb1", "question", vec, payload(t, "answer"))
	if _, ok := cache.Get(ctx, "acme", "kb1", "question", vec); ok {
		t.Error("backend failure must read as a miss")
	}
}

func TestInvalidate(t *testing.T) {
	cache := newTestCache(newFakeRedis())
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	cache.Set(ctx, "acme", "kb1", "question", vec, payload(t, "answer"))
	cache.Set(ctx, "acme", "kb2", "question", vec, payload(t, "other"))

	if err := cache.Invalidate(ctx, "acme", "kb1"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok := cache.Get(ctx, "acme", "kb1", "question", vec); ok {
		t.Error("invalidated namespace still serves hits")
	}
	if _, ok := cache.Get(ctx, "acme", "kb2", "question", vec); !ok {
		t.Error("invalidation must not touch other namespaces")
	}
}

func TestInvalidateFailure(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failAll = true
	cache := newTestCache(rdb)

	if err := cache.Invalidate(context.Background(), "acme", "kb1"); !errors.Is(err, ErrCache) {
		t.Errorf("Invalidate() error = %v, want ErrCache", err)
	}
}

func TestEviction(t *testing.T) {
	rdb := newFakeRedis()
	cache := New(rdb, Config{Threshold: 0.95, TTL: time.Hour, MaxEntries: 2}, log.NewNop())
	ctx := context.Background()

	cache.Set(ctx, "acme", "kb1", "first", []float32{1, 0}, payload(t, "a"))
	cache.Set(ctx, "acme", "kb1", "second", []float32{0, 1}, payload(t, "b"))
	cache.Set(ctx, "acme", "kb1", "third", []float32{1, 1}, payload(t, "c"))

	stats, err := cache.Stats(ctx, "acme", "kb1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Entries != 2 {
		t.Errorf("Entries = %d after eviction, want 2", stats.Entries)
	}
}

func TestStatsCountsHits(t *testing.T) {
	cache := newTestCache(newFakeRedis())
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	cache.Set(ctx, "acme", "kb1", "question", vec, payload(t, "answer"))
	cache.Get(ctx, "acme", "kb1", "question", vec)
	cache.Get(ctx, "acme", "kb1", "question", vec)

	stats, err := cache.Stats(ctx, "acme", "kb1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Entries != 1 {
		t.Errorf("Entries = %d, want 1", stats.Entries)
	}
	if stats.TotalHits != 2 {
		t.Errorf("TotalHits = %d, want 2", stats.TotalHits)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 0}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}
