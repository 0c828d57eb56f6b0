// Package embedding turns text into fixed-dimension vectors for retrieval.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"litagent/internal/providers"

	"go.uber.org/zap"
)

// ErrDimensionMismatch means the upstream model produced vectors of a
// different size than the store was provisioned for.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Gateway wraps an embedding provider with retry and a fixed dimension.
type Gateway struct {
	provider  providers.EmbeddingProvider
	dim       int
	batchSize int
	policy    providers.RetryPolicy
	logger    *zap.Logger
}

type Option func(*Gateway)

func WithBatchSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

func WithRetryPolicy(p providers.RetryPolicy) Option {
	return func(g *Gateway) { g.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGateway(p providers.EmbeddingProvider, dim int, opts ...Option) *Gateway {
	g := &Gateway{
		provider:  p,
		dim:       dim,
		batchSize: 64,
		policy:    providers.DefaultRetryPolicy(),
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Dimension is the published vector length of every output.
func (g *Gateway) Dimension() int {
	return g.dim
}

func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := g.embed(ctx, "query_embed", []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		vecs, err := g.embed(ctx, "chunk_embed", texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *Gateway) embed(ctx context.Context, op string, inputs []string) ([][]float32, error) {
	policy := g.policy
	policy.OnRetry = func(err error, wait time.Duration) {
		g.logger.Warn("embedding call failed, retrying",
			zap.String("operation", op), zap.Duration("wait", wait), zap.Error(err))
	}
	vecs, err := providers.Retry(ctx, policy, func(ctx context.Context) ([][]float32, error) {
		out, _, err := g.provider.Embed(ctx, providers.EmbedRequest{Operation: op, Inputs: inputs, Dimension: g.dim})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vecs), len(inputs))
	}
	for i, v := range vecs {
		if len(v) != g.dim {
			return nil, fmt.Errorf("%w: input %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), g.dim)
		}
	}
	return vecs, nil
}
