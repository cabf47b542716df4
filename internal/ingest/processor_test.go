package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kognit-ai/kognit/internal/chunk"
	"github.com/kognit-ai/kognit/internal/log"
	"github.com/kognit-ai/kognit/internal/vectorstore"
)

// ============================================================================
// Mocks
// ============================================================================

type mockEmbedder struct {
	err   error
	calls int
	texts []string
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	m.texts = texts
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type mockStore struct {
	upsertErr error
	deleteErr error
	deleted   int64
	points    []vectorstore.Point
	kbID      string
}

func (m *mockStore) Upsert(_ context.Context, kbID string, points []vectorstore.Point) error {
	m.kbID = kbID
	m.points = points
	return m.upsertErr
}

func (m *mockStore) DeleteDocument(_ context.Context, kbID, _, _ string) (int64, error) {
	m.kbID = kbID
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return m.deleted, nil
}

type mockInvalidator struct {
	err   error
	calls []string
}

func (m *mockInvalidator) Invalidate(_ context.Context, tenantID, kbID string) error {
	m.calls = append(m.calls, tenantID+":"+kbID)
	return m.err
}

func meta() DocumentMeta {
	return DocumentMeta{
		KBID:       "kb1",
		DocumentID: "doc-1",
		TenantID:   "acme",
		Filename:   "notes.md",
		MIMEType:   "text/plain",
		ACLUsers:   []string{"alice"},
	}
}

func newProcessor(emb *mockEmbedder, store *mockStore, cache *mockInvalidator) *Processor {
	opts := chunk.Options{Size: 50, Overlap: 10, MinSize: 5}
	if cache == nil {
		return NewProcessor(emb, store, nil, opts, log.NewNop())
	}
	return NewProcessor(emb, store, cache, opts, log.NewNop())
}

// ============================================================================
// ProcessText
// ============================================================================

func TestProcessText(t *testing.T) {
	emb := &mockEmbedder{}
	store := &mockStore{}
	cache := &mockInvalidator{}
	p := newProcessor(emb, store, cache)

	text := strings.Repeat("some document content. ", 10)
	result, err := p.ProcessText(context.Background(), text, meta())
	if err != nil {
		t.Fatalf("ProcessText() error = %v", err)
	}
	if result.ChunkCount == 0 || result.ChunkCount != len(store.points) {
		t.Errorf("ChunkCount = %d, stored %d points", result.ChunkCount, len(store.points))
	}
	if store.kbID != "kb1" {
		t.Errorf("upserted into %q", store.kbID)
	}
	for i, pt := range store.points {
		if pt.TenantID != "acme" {
			t.Errorf("point %d tenant = %q", i, pt.TenantID)
		}
		if len(pt.ACLUsers) != 1 || pt.ACLUsers[0] != "alice" {
			t.Errorf("point %d ACL = %v", i, pt.ACLUsers)
		}
		if pt.ChunkIndex != i {
			t.Errorf("point %d has chunk index %d", i, pt.ChunkIndex)
		}
		if text[pt.StartOffset:pt.EndOffset] != pt.Text {
			t.Errorf("point %d offsets do not match its text", i)
		}
	}
	if len(cache.calls) != 1 || cache.calls[0] != "acme:kb1" {
		t.Errorf("cache invalidation calls = %v", cache.calls)
	}
}

func TestProcessTextDeterministicIDs(t *testing.T) {
	emb := &mockEmbedder{}
	store := &mockStore{}
	p := newProcessor(emb, store, nil)

	text := strings.Repeat("repeatable content. ", 10)
	if _, err := p.ProcessText(context.Background(), text, meta()); err != nil {
		t.Fatal(err)
	}
	first := make([]string, len(store.points))
	for i, pt := range store.points {
		first[i] = pt.ID.String()
	}

	// Re-ingesting produces identical point IDs, so the upsert overwrites.
	if _, err := p.ProcessText(context.Background(), text, meta()); err != nil {
		t.Fatal(err)
	}
	for i, pt := range store.points {
		if pt.ID.String() != first[i] {
			t.Errorf("chunk %d ID changed across ingestions: %s vs %s", i, first[i], pt.ID)
		}
	}

	// A different document gets different IDs.
	other := meta()
	other.DocumentID = "doc-2"
	if _, err := p.ProcessText(context.Background(), text, other); err != nil {
		t.Fatal(err)
	}
	if store.points[0].ID.String() == first[0] {
		t.Error("different documents must not share chunk IDs")
	}
}

func TestProcessTextValidation(t *testing.T) {
	p := newProcessor(&mockEmbedder{}, &mockStore{}, nil)
	ctx := context.Background()

	for _, tt := range []struct {
		name   string
		mutate func(*DocumentMeta)
	}{
		{name: "missing kb", mutate: func(m *DocumentMeta) { m.KBID = "" }},
		{name: "missing document", mutate: func(m *DocumentMeta) { m.DocumentID = "" }},
		{name: "missing tenant", mutate: func(m *DocumentMeta) { m.TenantID = "" }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m := meta()
			tt.mutate(&m)
			if _, err := p.ProcessText(ctx, "text", m); !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("error = %v, want ErrInvalidDocument", err)
			}
		})
	}
}

func TestProcessTextEmpty(t *testing.T) {
	emb := &mockEmbedder{}
	store := &mockStore{}
	p := newProcessor(emb, store, nil)

	result, err := p.ProcessText(context.Background(), "", meta())
	if err != nil {
		t.Fatalf("ProcessText() error = %v", err)
	}
	if result.ChunkCount != 0 {
		t.Errorf("ChunkCount = %d, want 0", result.ChunkCount)
	}
	if emb.calls != 0 {
		t.Error("empty document must not be embedded")
	}
}

func TestProcessTextEmbedFailurePropagates(t *testing.T) {
	emb := &mockEmbedder{err: errors.New("quota exceeded")}
	store := &mockStore{}
	p := newProcessor(emb, store, nil)

	if _, err := p.ProcessText(context.Background(), "some text", meta()); err == nil {
		t.Error("embedding failure must propagate")
	}
	if store.points != nil {
		t.Error("nothing should be stored after a failed embed")
	}
}

func TestProcessTextUpsertFailurePropagates(t *testing.T) {
	store := &mockStore{upsertErr: errors.New("connection lost")}
	cache := &mockInvalidator{}
	p := newProcessor(&mockEmbedder{}, store, cache)

	if _, err := p.ProcessText(context.Background(), "some text", meta()); err == nil {
		t.Error("store failure must propagate")
	}
	if len(cache.calls) != 0 {
		t.Error("failed ingestion must not invalidate the cache")
	}
}

func TestProcessTextCacheFailureNonFatal(t *testing.T) {
	cache := &mockInvalidator{err: errors.New("redis down")}
	p := newProcessor(&mockEmbedder{}, &mockStore{}, cache)

	if _, err := p.ProcessText(context.Background(), "some text", meta()); err != nil {
		t.Errorf("ProcessText() error = %v, cache failure must not fail ingestion", err)
	}
}

// ============================================================================
// DeleteDocument
// ============================================================================

func TestDeleteDocument(t *testing.T) {
	store := &mockStore{deleted: 12}
	cache := &mockInvalidator{}
	p := newProcessor(&mockEmbedder{}, store, cache)

	n, err := p.DeleteDocument(context.Background(), "kb1", "acme", "doc-1")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if n != 12 {
		t.Errorf("DeleteDocument() = %d, want 12", n)
	}
	if len(cache.calls) != 1 {
		t.Errorf("cache invalidation calls = %v", cache.calls)
	}
}

func TestDeleteDocumentStoreFailure(t *testing.T) {
	store := &mockStore{deleteErr: errors.New("connection lost")}
	cache := &mockInvalidator{}
	p := newProcessor(&mockEmbedder{}, store, cache)

	if _, err := p.DeleteDocument(context.Background(), "kb1", "acme", "doc-1"); err == nil {
		t.Error("store failure must propagate")
	}
	if len(cache.calls) != 0 {
		t.Error("failed delete must not invalidate the cache")
	}
}

// ============================================================================
// ContentHash
// ============================================================================

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("document body"))
	b := ContentHash([]byte("document body"))
	c := ContentHash([]byte("different body"))

	if a != b {
		t.Error("equal content must hash equally")
	}
	if a == c {
		t.Error("different content must hash differently")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}
