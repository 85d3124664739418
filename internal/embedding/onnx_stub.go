//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoONNX = errors.New("onnx embedder requires cgo; build with CGO_ENABLED=1 and onnxruntime installed")

// ONNXEmbedder stub for builds without cgo (see onnx.go for the real one).
// The constructor always fails; the methods exist so the provider switch
// compiles in both build modes.
type ONNXEmbedder struct{}

// NewONNXEmbedder fails when built without cgo.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errNoONNX
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoONNX }

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoONNX
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }

func (e *ONNXEmbedder) Close() error { return nil }
