package config

import "fmt"

// EmbeddingModel describes the fixed properties of one embedding model.
//
// Different models produce very different absolute similarity-score
// distributions, so the retrieval score threshold is part of the model spec
// rather than a global constant. A threshold tuned for one model silently
// empties all result sets on another.
type EmbeddingModel struct {
	// Name is the provider-side model identifier.
	Name string

	// Dimensions is the vector size the model emits. Collections are created
	// with this size; a mismatch is a fatal configuration error at
	// collection-creation time.
	Dimensions int

	// ScoreThreshold is the default minimum cosine similarity for retrieval
	// with this model. Similarity here is 1 - cosine distance, range [0, 1].
	ScoreThreshold float32

	// BatchSize is the maximum number of inputs per provider request.
	BatchSize int
}

// EmbeddingModelSpec returns the spec for a known embedding model.
//
// Defaults per model (observed score distributions):
//   - text-embedding-3-small / -large: relevant matches typically score
//     0.4-0.7, threshold 0.5
//   - gemini-embedding-001 / text-embedding-004: relevant matches cluster
//     higher, threshold 0.6
//
// Returns ErrInvalidEmbeddingModel for unknown names; there is no silent
// fallback dimension.
func EmbeddingModelSpec(name string) (EmbeddingModel, error) {
	switch name {
	case "text-embedding-3-small":
		return EmbeddingModel{Name: name, Dimensions: 1536, ScoreThreshold: 0.5, BatchSize: 100}, nil
	case "text-embedding-3-large":
		return EmbeddingModel{Name: name, Dimensions: 3072, ScoreThreshold: 0.5, BatchSize: 100}, nil
	case "gemini-embedding-001":
		// gemini-embedding-001 outputs 3072 dimensions by default but
		// supports truncation to 768 via OutputDimensionality (Matryoshka
		// Representation Learning). The schema uses 768.
		return EmbeddingModel{Name: name, Dimensions: 768, ScoreThreshold: 0.6, BatchSize: 100}, nil
	case "text-embedding-004":
		return EmbeddingModel{Name: name, Dimensions: 768, ScoreThreshold: 0.6, BatchSize: 100}, nil
	default:
		return EmbeddingModel{}, fmt.Errorf("%w: %q", ErrInvalidEmbeddingModel, name)
	}
}

// EmbeddingSpec resolves the configured embedding model.
func (c *Config) EmbeddingSpec() (EmbeddingModel, error) {
	return EmbeddingModelSpec(c.EmbeddingModel)
}
