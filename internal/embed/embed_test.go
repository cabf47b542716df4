package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/kognit-ai/kognit/internal/config"
	"github.com/kognit-ai/kognit/internal/log"
)

// mockEmbedder implements ai.Embedder for testing
type mockEmbedder struct {
	dims       int
	delay      time.Duration
	embedErr   error
	shortBy    int // return this many fewer embeddings than requested
	calls      int
	batchSizes []int
	lastInputs []string
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.calls++
	m.batchSizes = append(m.batchSizes, len(req.Input))
	m.lastInputs = nil
	for _, doc := range req.Input {
		if len(doc.Content) > 0 {
			m.lastInputs = append(m.lastInputs, doc.Content[0].Text)
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.embedErr != nil {
		return nil, m.embedErr
	}

	n := len(req.Input) - m.shortBy
	embeddings := make([]*ai.Embedding, 0, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, m.dims)
		// Encode batch position so order preservation is observable.
		vec[0] = float32(i + 1)
		embeddings = append(embeddings, &ai.Embedding{Embedding: vec})
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func testSpec(dims, batchSize int) config.EmbeddingModel {
	return config.EmbeddingModel{
		Name:           "test-model",
		Dimensions:     dims,
		ScoreThreshold: 0.5,
		BatchSize:      batchSize,
	}
}

func TestEmbedPreservesOrder(t *testing.T) {
	mock := &mockEmbedder{dims: 4}
	client := New(mock, testSpec(4, 100), log.NewNop())

	texts := []string{"first", "second", "third"}
	vectors, err := client.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	for i, vec := range vectors {
		if vec[0] != float32(i+1) {
			t.Errorf("vector %d has marker %v, want %v", i, vec[0], float32(i+1))
		}
	}
	if len(mock.lastInputs) != 3 || mock.lastInputs[1] != "second" {
		t.Errorf("provider saw inputs %v", mock.lastInputs)
	}
}

func TestEmbedBatching(t *testing.T) {
	mock := &mockEmbedder{dims: 2}
	client := New(mock, testSpec(2, 3), log.NewNop())

	texts := make([]string, 8)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}
	vectors, err := client.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 8 {
		t.Fatalf("got %d vectors, want 8", len(vectors))
	}
	wantBatches := []int{3, 3, 2}
	if len(mock.batchSizes) != len(wantBatches) {
		t.Fatalf("provider called %d times, want %d", mock.calls, len(wantBatches))
	}
	for i, size := range wantBatches {
		if mock.batchSizes[i] != size {
			t.Errorf("batch %d had %d inputs, want %d", i, mock.batchSizes[i], size)
		}
	}
}

func TestEmbedBlankInputsBecomeZeroVectors(t *testing.T) {
	mock := &mockEmbedder{dims: 3}
	client := New(mock, testSpec(3, 100), log.NewNop())

	vectors, err := client.Embed(context.Background(), []string{"real", "", "   \n\t", "also real"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 4 {
		t.Fatalf("got %d vectors, want 4", len(vectors))
	}
	for _, i := range []int{1, 2} {
		for _, v := range vectors[i] {
			if v != 0 {
				t.Errorf("vector %d should be all zeros, got %v", i, vectors[i])
			}
		}
		if len(vectors[i]) != 3 {
			t.Errorf("zero vector %d has %d dimensions, want 3", i, len(vectors[i]))
		}
	}
	// Only the two non-blank inputs reach the provider.
	if mock.batchSizes[0] != 2 {
		t.Errorf("provider saw %d inputs, want 2", mock.batchSizes[0])
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	mock := &mockEmbedder{dims: 3}
	client := New(mock, testSpec(3, 100), log.NewNop())

	vectors, err := client.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vectors != nil {
		t.Errorf("got %v, want nil", vectors)
	}
	if mock.calls != 0 {
		t.Errorf("provider called %d times, want 0", mock.calls)
	}
}

func TestEmbedProviderError(t *testing.T) {
	mock := &mockEmbedder{dims: 3, embedErr: errors.New("quota exceeded")}
	client := New(mock, testSpec(3, 100), log.NewNop())

	_, err := client.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, ErrProvider) {
		t.Errorf("Embed() error = %v, want ErrProvider", err)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	mock := &mockEmbedder{dims: 8}
	client := New(mock, testSpec(4, 100), log.NewNop())

	_, err := client.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, ErrProvider) {
		t.Errorf("Embed() error = %v, want ErrProvider", err)
	}
}

func TestEmbedShortResponse(t *testing.T) {
	mock := &mockEmbedder{dims: 3, shortBy: 1}
	client := New(mock, testSpec(3, 100), log.NewNop())

	_, err := client.Embed(context.Background(), []string{"a", "b", "c"})
	if !errors.Is(err, ErrProvider) {
		t.Errorf("Embed() error = %v, want ErrProvider", err)
	}
}

func TestEmbedTimeout(t *testing.T) {
	mock := &mockEmbedder{dims: 3, delay: 200 * time.Millisecond}
	client := New(mock, testSpec(3, 100), log.NewNop(), WithTimeout(20*time.Millisecond))

	_, err := client.Embed(context.Background(), []string{"slow"})
	if !errors.Is(err, ErrProvider) {
		t.Errorf("Embed() error = %v, want ErrProvider", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Embed() error = %v, want wrapped DeadlineExceeded", err)
	}
}

func TestEmbedQuery(t *testing.T) {
	mock := &mockEmbedder{dims: 4}
	client := New(mock, testSpec(4, 100), log.NewNop())

	vec, err := client.EmbedQuery(context.Background(), "  what is the refund policy?  ")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("got %d dimensions, want 4", len(vec))
	}
	if mock.lastInputs[0] != "what is the refund policy?" {
		t.Errorf("provider saw %q, want trimmed query", mock.lastInputs[0])
	}
}

func TestEmbedQueryEmpty(t *testing.T) {
	mock := &mockEmbedder{dims: 4}
	client := New(mock, testSpec(4, 100), log.NewNop())

	_, err := client.EmbedQuery(context.Background(), "   ")
	if !errors.Is(err, ErrProvider) {
		t.Errorf("EmbedQuery() error = %v, want ErrProvider", err)
	}
	if mock.calls != 0 {
		t.Errorf("provider called %d times, want 0", mock.calls)
	}
}

func TestAccessors(t *testing.T) {
	client := New(&mockEmbedder{dims: 768}, testSpec(768, 50), log.NewNop())
	if client.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", client.Dimensions())
	}
	if client.ScoreThreshold() != 0.5 {
		t.Errorf("ScoreThreshold() = %v, want 0.5", client.ScoreThreshold())
	}
}
