package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPEmbedder calls an Ollama-compatible embedding endpoint
// (POST {base}/api/embed with {"model", "input"}).
type HTTPEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

// NewHTTPEmbedder creates a client for baseURL. A trailing slash or /v1
// suffix on baseURL is tolerated. timeout bounds each request; zero means
// 60 seconds.
func NewHTTPEmbedder(baseURL, model string, dimensions int, timeout time.Duration) *HTTPEmbedder {
	host := strings.TrimSuffix(baseURL, "/")
	host = strings.TrimSuffix(host, "/v1")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPEmbedder{
		baseURL:    host,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed embeds a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request. The endpoint returns one
// embedding per input, in order.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding API status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension. The remote model
// decides the actual width; LimitedEmbedder verifies they agree.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (e *HTTPEmbedder) Close() error {
	return nil
}
