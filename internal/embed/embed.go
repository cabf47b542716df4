// Package embed generates vector embeddings for chunks and queries through a
// Genkit ai.Embedder.
//
// The client batches inputs to bound provider-call overhead and preserves the
// correspondence between input index and output index across batches. It does
// not retry: one call, one batch; retry policy belongs to the caller
// (ingestion fails visibly, retrieval degrades to empty context).
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/kognit-ai/kognit/internal/config"
)

// ErrProvider indicates a failure calling the embedding provider. Transient
// or permanent; callers decide whether to retry with backoff.
var ErrProvider = errors.New("embedding provider failure")

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 10 * time.Second

// Client wraps an ai.Embedder with batching, rate limiting, and dimension
// verification. Safe for concurrent use.
type Client struct {
	embedder ai.Embedder
	spec     config.EmbeddingModel
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-provider-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit throttles provider calls to rps requests per second.
// Zero or negative disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// New creates an embedding client for the given model spec.
func New(embedder ai.Embedder, spec config.EmbeddingModel, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		embedder: embedder,
		spec:     spec,
		timeout:  DefaultTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimensions returns the configured vector size.
func (c *Client) Dimensions() int { return c.spec.Dimensions }

// ScoreThreshold returns the model's default retrieval similarity threshold.
func (c *Client) ScoreThreshold() float32 { return c.spec.ScoreThreshold }

// Embed generates one vector per input text, in input order. Inputs are sent
// to the provider in batches of the model's batch size; blank inputs are not
// sent at all and come back as zero vectors of the model dimension.
//
// On provider failure the error wraps ErrProvider and no partial result is
// returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// Collect the indexes that actually need a provider call.
	pending := make([]embedInput, 0, len(texts))
	for i, t := range texts {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			pending = append(pending, embedInput{pos: i, text: trimmed})
		}
	}

	out := make([][]float32, len(texts))

	batchSize := c.spec.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for i, in := range batch {
			out[in.pos] = vectors[i]
		}
	}

	// Blank inputs embed as zero vectors; the caller keeps positional
	// correspondence without special-casing.
	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, c.spec.Dimensions)
		}
	}

	return out, nil
}

// EmbedQuery embeds a single search query.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: cannot embed empty query", ErrProvider)
	}

	vectors, err := c.embedBatch(ctx, []embedInput{{pos: 0, text: query}})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type embedInput struct {
	pos  int
	text string
}

func (c *Client) embedBatch(ctx context.Context, batch []embedInput) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrProvider, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	docs := make([]*ai.Document, len(batch))
	for i, in := range batch {
		docs[i] = ai.DocumentFromText(in.text, nil)
	}

	resp, err := c.embedder.Embed(callCtx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout after %s: %w", ErrProvider, c.timeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	if len(resp.Embeddings) != len(batch) {
		return nil, fmt.Errorf("%w: provider returned %d embeddings for %d inputs",
			ErrProvider, len(resp.Embeddings), len(batch))
	}

	vectors := make([][]float32, len(batch))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at batch index %d", ErrProvider, i)
		}
		if len(emb.Embedding) != c.spec.Dimensions {
			return nil, fmt.Errorf("%w: model %q returned %d dimensions, configured %d",
				ErrProvider, c.spec.Name, len(emb.Embedding), c.spec.Dimensions)
		}
		vectors[i] = emb.Embedding
	}

	c.logger.Debug("embedded batch", "model", c.spec.Name, "inputs", len(batch))
	return vectors, nil
}
