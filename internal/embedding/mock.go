package embedding

import (
	"context"
	"math"
)

// MockEmbedder is a deterministic embedder: the same text always maps to
// the same unit-length vector, and different texts are very likely to map
// to different ones. Used by tests and by the mock provider configuration.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder of the given dimension.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed derives a vector from the text hash and normalizes it so cosine
// scores behave like the real providers'.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := HashString(text)
	vec := make([]float32, e.dimensions)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}
