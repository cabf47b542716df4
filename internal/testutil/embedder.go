package testutil

import (
	"context"
	"crypto/sha256"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockEmbedder is an ai.Embedder producing deterministic unit vectors from
// the input text, so similarity relationships are stable across test runs
// and identical texts always embed identically.
type MockEmbedder struct {
	Dims int
}

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dims int) *MockEmbedder {
	return &MockEmbedder{Dims: dims}
}

func (m *MockEmbedder) Name() string { return "mock-embedder" }

func (m *MockEmbedder) Register(r api.Registry) {}

func (m *MockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: DeterministicVector(text, m.Dims),
		})
	}
	return resp, nil
}

// DeterministicVector hashes text into a normalized vector of the given
// dimension. Different texts land far apart; equal texts coincide.
func DeterministicVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < dims; i++ {
		if i%len(block) == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		// Map the byte to [-1, 1).
		vec[i] = float32(block[i%len(block)])/128 - 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
