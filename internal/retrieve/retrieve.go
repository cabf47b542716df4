// Package retrieve runs access-controlled semantic search across knowledge
// bases and assembles the results into citation-ready passages.
//
// A retrieval embeds the query once, fans out one search per knowledge base,
// merges the hits deterministically, and enforces a character budget on the
// merged context. Individual knowledge base failures degrade that knowledge
// base to zero results instead of failing the whole retrieval; an assistant
// answering with partial context beats one answering with none.
package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kognit-ai/kognit/internal/vectorstore"
)

// Defaults applied when Options fields are zero.
const (
	DefaultLimit    = 5
	DefaultMaxChars = 8000
	DefaultTimeout  = 15 * time.Second

	// excerptLimit bounds the preview text carried on each passage.
	excerptLimit = 240
)

// Passage is one retrieved chunk, ranked and numbered for citation.
// Ref is assigned after merging, so equal queries over equal content always
// produce the same numbering.
type Passage struct {
	Ref        int     `json:"ref"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page,omitempty"`
	Score      float32 `json:"score"`
	Excerpt    string  `json:"excerpt"`

	// FullText is the complete chunk text used for prompt assembly.
	// Excluded from API responses, which carry only the excerpt.
	FullText string `json:"-"`

	ChunkIndex int `json:"-"`
}

// Requester identifies who is asking. TenantID scopes every search; UserID
// and GroupIDs drive document-level ACL filtering.
type Requester struct {
	UserID   string
	TenantID string
	GroupIDs []string
}

// Options tunes one retrieval. Zero fields take package defaults; a zero
// ScoreThreshold takes the embedding model's default.
type Options struct {
	Limit          int
	ScoreThreshold float32
	MaxChars       int
	Timeout        time.Duration
}

// embedder turns a query into a vector.
type embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	ScoreThreshold() float32
}

// searcher runs an ACL-filtered vector search in one knowledge base.
type searcher interface {
	Search(ctx context.Context, kbID string, vector []float32, filter vectorstore.ACLFilter, threshold float32, limit int) ([]vectorstore.Hit, error)
}

// resultCache stores per-knowledge-base search results keyed by query
// meaning. Implemented by semcache.Cache.
type resultCache interface {
	Get(ctx context.Context, tenantID, kbID, query string, vector []float32) (json.RawMessage, bool)
	Set(ctx context.Context, tenantID, kbID, query string, vector []float32, payload json.RawMessage)
}

// Retriever orchestrates embed, search, merge, and caching.
// Safe for concurrent use.
type Retriever struct {
	embedder embedder
	store    searcher
	cache    resultCache // nil disables caching
	logger   *slog.Logger

	// pending tracks in-flight asynchronous cache writes.
	pending sync.WaitGroup
}

// New creates a Retriever. cache may be nil to disable semantic caching;
// a nil logger falls back to slog.Default().
func New(embedder embedder, store searcher, cache resultCache, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		cache:    cache,
		logger:   logger,
	}
}

// cachedPassage is the cache wire form of a passage. Unlike Passage it
// serializes the full text, because a cached result must rebuild prompts.
type cachedPassage struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page,omitempty"`
	Score      float32 `json:"score"`
	FullText   string  `json:"full_text"`
	ChunkIndex int     `json:"chunk_index"`
}

// Retrieve searches the given knowledge bases for passages relevant to the
// query, visible to the requester, and merged into one ranked, numbered,
// budget-bounded list.
//
// A blank query or empty knowledge base list returns no passages and no
// error. Embedding failures and per-knowledge-base search failures also
// degrade to fewer (possibly zero) passages; only a missing tenant is an
// error, because proceeding without one would disable isolation.
func (r *Retriever) Retrieve(ctx context.Context, query string, kbIDs []string, req Requester, opts Options) ([]Passage, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(kbIDs) == 0 {
		return nil, nil
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: retrieval requires a tenant", vectorstore.ErrMissingTenant)
	}

	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = r.embedder.ScoreThreshold()
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, returning empty context", "error", err)
		return nil, nil
	}

	filter := vectorstore.ACLFilter{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		GroupIDs: req.GroupIDs,
	}

	// One search per knowledge base, concurrently. Each goroutine owns one
	// slot of the results slice, so no locking is needed until merge.
	perKB := make([][]Passage, len(kbIDs))
	missed := make([]bool, len(kbIDs))
	var wg sync.WaitGroup
	for i, kbID := range kbIDs {
		wg.Add(1)
		go func(i int, kbID string) {
			defer wg.Done()
			passages, fromCache := r.searchOne(ctx, kbID, query, vector, filter, opts)
			perKB[i] = passages
			missed[i] = !fromCache
		}(i, kbID)
	}
	wg.Wait()

	var merged []Passage
	for _, passages := range perKB {
		merged = append(merged, passages...)
	}
	merged = rank(merged, opts.Limit, opts.MaxChars)

	// Populate the cache for knowledge bases that missed, detached from the
	// request context so a fast caller does not abort the write.
	if r.cache != nil {
		for i, kbID := range kbIDs {
			if !missed[i] || len(perKB[i]) == 0 {
				continue
			}
			r.writeCache(context.WithoutCancel(ctx), kbID, query, vector, req.TenantID, perKB[i])
		}
	}

	return merged, nil
}

// searchOne resolves one knowledge base's passages, via cache when possible.
// The second return value reports whether the result came from the cache.
func (r *Retriever) searchOne(ctx context.Context, kbID, query string, vector []float32, filter vectorstore.ACLFilter, opts Options) ([]Passage, bool) {
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, filter.TenantID, kbID, query, vector); ok {
			var cached []cachedPassage
			if err := json.Unmarshal(raw, &cached); err != nil {
				r.logger.Warn("discarding undecodable cache payload", "kb_id", kbID, "error", err)
			} else {
				passages := make([]Passage, len(cached))
				for i, c := range cached {
					passages[i] = Passage{
						DocumentID: c.DocumentID,
						Filename:   c.Filename,
						Page:       c.Page,
						Score:      c.Score,
						FullText:   c.FullText,
						ChunkIndex: c.ChunkIndex,
					}
				}
				return passages, true
			}
		}
	}

	hits, err := r.store.Search(ctx, kbID, vector, filter, opts.ScoreThreshold, opts.Limit)
	if err != nil {
		r.logger.Warn("knowledge base search failed, degrading to empty",
			"kb_id", kbID, "error", err)
		return nil, false
	}

	passages := make([]Passage, len(hits))
	for i, h := range hits {
		passages[i] = Passage{
			DocumentID: h.DocumentID,
			Filename:   h.Filename,
			Page:       h.Page,
			Score:      h.Score,
			FullText:   h.Text,
			ChunkIndex: h.ChunkIndex,
		}
	}
	return passages, false
}

// writeCache stores one knowledge base's passages asynchronously.
func (r *Retriever) writeCache(ctx context.Context, kbID, query string, vector []float32, tenantID string, passages []Passage) {
	cached := make([]cachedPassage, len(passages))
	for i, p := range passages {
		cached[i] = cachedPassage{
			DocumentID: p.DocumentID,
			Filename:   p.Filename,
			Page:       p.Page,
			Score:      p.Score,
			FullText:   p.FullText,
			ChunkIndex: p.ChunkIndex,
		}
	}
	payload, err := json.Marshal(cached)
	if err != nil {
		r.logger.Warn("cache payload encode failed", "kb_id", kbID, "error", err)
		return
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		r.cache.Set(ctx, tenantID, kbID, query, vector, payload)
	}()
}

// Flush waits for in-flight cache writes. Call on shutdown.
func (r *Retriever) Flush() {
	r.pending.Wait()
}

// rank orders merged passages, applies the result and character budgets, and
// assigns citation numbers.
//
// Sorting is by score descending with (document ID, chunk index) breaking
// ties, so identical inputs always yield identical numbering. The character
// budget admits whole passages in rank order and stops at the first passage
// that does not fit entirely: the tail of the ranking is dropped, and no
// passage is ever clipped mid-sentence or outranked by a smaller one below it.
func rank(passages []Passage, limit, maxChars int) []Passage {
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		if passages[i].DocumentID != passages[j].DocumentID {
			return passages[i].DocumentID < passages[j].DocumentID
		}
		return passages[i].ChunkIndex < passages[j].ChunkIndex
	})

	var out []Passage
	budget := maxChars
	for _, p := range passages {
		if len(out) >= limit {
			break
		}
		if len(p.FullText) > budget {
			break
		}
		budget -= len(p.FullText)
		p.Ref = len(out) + 1
		p.Excerpt = excerpt(p.FullText)
		out = append(out, p)
	}
	return out
}

// excerpt returns a bounded preview, cut at a word boundary when one is
// close enough, otherwise at a rune boundary so the preview stays valid
// UTF-8.
func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= excerptLimit {
		return text
	}
	cut := text[:excerptLimit]
	if sp := strings.LastIndexByte(cut, ' '); sp > excerptLimit/2 {
		cut = cut[:sp]
	} else {
		for len(cut) > 0 && !utf8.RuneStart(text[len(cut)]) {
			cut = cut[:len(cut)-1]
		}
	}
	return cut + "..."
}
