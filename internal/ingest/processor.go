// Package ingest turns documents into searchable, ACL-tagged chunk vectors.
//
// Ingestion is fail-visible: unlike retrieval, which degrades gracefully,
// every error here propagates to the caller, because a silently half-indexed
// document poisons future search results.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kognit-ai/kognit/internal/chunk"
	"github.com/kognit-ai/kognit/internal/vectorstore"
)

// ErrInvalidDocument indicates document metadata that cannot be ingested.
var ErrInvalidDocument = errors.New("invalid document")

// DocumentMeta identifies and scopes a document being ingested.
type DocumentMeta struct {
	KBID       string
	DocumentID string
	TenantID   string
	Filename   string
	MIMEType   string

	// ACLUsers and ACLGroups control who can retrieve this document's
	// chunks. Both empty means nobody can; ingestion warns but proceeds.
	ACLUsers  []string
	ACLGroups []string
}

func (m DocumentMeta) validate() error {
	switch {
	case m.KBID == "":
		return fmt.Errorf("%w: knowledge base ID is required", ErrInvalidDocument)
	case m.DocumentID == "":
		return fmt.Errorf("%w: document ID is required", ErrInvalidDocument)
	case m.TenantID == "":
		return fmt.Errorf("%w: tenant ID is required", ErrInvalidDocument)
	}
	return nil
}

// Result summarizes one ingestion.
type Result struct {
	ChunkCount int
	Duration   time.Duration
}

// embedder generates chunk vectors in input order.
type embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// chunkStore is the vector store surface ingestion writes through.
type chunkStore interface {
	Upsert(ctx context.Context, kbID string, points []vectorstore.Point) error
	DeleteDocument(ctx context.Context, kbID, tenantID, documentID string) (int64, error)
}

// invalidator drops cached retrieval results after content changes.
type invalidator interface {
	Invalidate(ctx context.Context, tenantID, kbID string) error
}

// Processor runs the chunk, embed, store pipeline. Safe for concurrent use.
type Processor struct {
	chunkOpts chunk.Options
	embedder  embedder
	store     chunkStore
	cache     invalidator // nil disables cache invalidation
	logger    *slog.Logger
}

// NewProcessor creates a Processor. cache may be nil; a nil logger falls
// back to slog.Default().
func NewProcessor(embedder embedder, store chunkStore, cache invalidator, chunkOpts chunk.Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		chunkOpts: chunkOpts,
		embedder:  embedder,
		store:     store,
		cache:     cache,
		logger:    logger,
	}
}

// ProcessText ingests one document's text: chunked by a strategy picked from
// the MIME type, embedded in batches, and upserted with deterministic chunk
// IDs so re-ingesting a document overwrites its previous chunks in place.
func (p *Processor) ProcessText(ctx context.Context, text string, meta DocumentMeta) (Result, error) {
	start := time.Now()
	if err := meta.validate(); err != nil {
		return Result{}, err
	}
	if len(meta.ACLUsers) == 0 && len(meta.ACLGroups) == 0 {
		p.logger.Warn("document has an empty ACL and will be invisible to retrieval",
			"document_id", meta.DocumentID)
	}

	strategy := chunk.StrategyForMIME(meta.MIMEType)
	chunks, err := chunk.Split(text, strategy, p.chunkOpts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to chunk document %q: %w", meta.DocumentID, err)
	}
	if len(chunks) == 0 {
		return Result{Duration: time.Since(start)}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to embed document %q: %w", meta.DocumentID, err)
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{
			ID:          chunkID(meta.DocumentID, c.Index),
			Vector:      vectors[i],
			DocumentID:  meta.DocumentID,
			ChunkIndex:  c.Index,
			Text:        c.Text,
			StartOffset: c.Start,
			EndOffset:   c.End,
			Filename:    meta.Filename,
			Page:        c.Page,
			TenantID:    meta.TenantID,
			ACLUsers:    meta.ACLUsers,
			ACLGroups:   meta.ACLGroups,
		}
	}

	if err := p.store.Upsert(ctx, meta.KBID, points); err != nil {
		return Result{}, fmt.Errorf("failed to store document %q: %w", meta.DocumentID, err)
	}

	p.invalidate(ctx, meta.TenantID, meta.KBID)

	result := Result{ChunkCount: len(chunks), Duration: time.Since(start)}
	p.logger.Info("ingested document",
		"document_id", meta.DocumentID, "kb_id", meta.KBID,
		"chunks", result.ChunkCount, "strategy", strategy, "duration", result.Duration)
	return result, nil
}

// DeleteDocument removes a document's chunks and invalidates cached results
// built from them. Returns the number of chunks removed.
func (p *Processor) DeleteDocument(ctx context.Context, kbID, tenantID, documentID string) (int64, error) {
	n, err := p.store.DeleteDocument(ctx, kbID, tenantID, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %q: %w", documentID, err)
	}
	p.invalidate(ctx, tenantID, kbID)

	p.logger.Info("deleted document", "document_id", documentID, "kb_id", kbID, "chunks", n)
	return n, nil
}

// invalidate drops the knowledge base's cached results. Failures are logged
// only; stale entries expire by TTL.
func (p *Processor) invalidate(ctx context.Context, tenantID, kbID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, tenantID, kbID); err != nil {
		p.logger.Warn("cache invalidation failed", "kb_id", kbID, "error", err)
	}
}

// chunkID derives a stable UUID for one chunk of one document, so the same
// (document, index) pair always maps to the same stored point.
func chunkID(documentID string, index int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s:%d", documentID, index))
}

// ContentHash fingerprints document content for change detection: equal
// hashes mean re-ingestion can be skipped.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
