// Package embedding turns text into vectors. Providers: mock (deterministic,
// for tests and local runs), onnx (in-process inference, cgo), http (remote
// Ollama-style API). LimitedEmbedder wraps any provider with caching, retry,
// and rate limiting.
package embedding

import (
	"context"
	"math"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// NormalizeL2 scales x in place to unit L2 norm. Zero vectors are left
// unchanged.
func NormalizeL2(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range x {
		x[i] *= norm
	}
}
