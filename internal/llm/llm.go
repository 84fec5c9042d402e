package llm

import (
	"context"
)

// EmbeddingGenerator is an interface for generating vector embeddings from text.
type EmbeddingGenerator interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingFunc adapts a plain function to EmbeddingGenerator.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbeddingFunc) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}
