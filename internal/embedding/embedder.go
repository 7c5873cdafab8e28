// Package embedding provides the embedder contract, a remote HTTP adapter,
// and an LRU cache. The embedding model itself is a black box behind the
// Embedder interface.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations return
// unit-length vectors so inner product equals cosine similarity downstream.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
