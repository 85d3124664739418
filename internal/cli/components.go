package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/codec"
	"github.com/hyperjump/kura/internal/collection"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/search"
	"github.com/hyperjump/kura/internal/vector"
)

// components wires the embedder, collection manager, ingestion pipeline,
// and query engine the way every subcommand needs them.
type components struct {
	cfg      *config.Config
	log      *zap.Logger
	manager  *collection.Manager
	embedder embedding.Embedder
	pipeline *ingest.Pipeline
	engine   *search.Engine
}

func newComponents(ctx context.Context, cfg *config.Config, log *zap.Logger) (*components, error) {
	metric, err := vector.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}
	compression, err := codec.ParseCompression(cfg.Index.Compression)
	if err != nil {
		return nil, err
	}
	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	hnsw := vector.DefaultHNSWOptions()
	hnsw.M = cfg.Index.HNSW.M
	hnsw.EFConstruction = cfg.Index.HNSW.EFConstruction
	hnsw.EFSearch = cfg.Index.HNSW.EFSearch

	manager, err := collection.NewManager(ctx, cfg.Store.Path, collection.Options{
		Dimension:   cfg.Embedding.Dimension,
		Metric:      metric,
		IndexKind:   vector.Kind(cfg.Index.Kind),
		HNSW:        hnsw,
		Compression: compression,
		Logger:      log,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}

	pipeline := ingest.NewPipeline(manager, embedder, extract.NewExtractor(), ingest.Options{
		ChunkSize:     cfg.Search.ChunkSize,
		ChunkOverlap:  cfg.Search.ChunkOverlap,
		MaxConcurrent: cfg.Embedding.MaxConcurrent,
		Logger:        log,
	})
	engine := search.NewEngine(manager, embedder, search.Options{
		DefaultK:     cfg.Search.DefaultK,
		HybridWeight: cfg.Search.HybridWeight,
		Logger:       log,
	})

	return &components{
		cfg:      cfg,
		log:      log,
		manager:  manager,
		embedder: embedder,
		pipeline: pipeline,
		engine:   engine,
	}, nil
}

// Close flushes and releases everything; safe to call once at exit.
func (c *components) Close(ctx context.Context) error {
	return errors.Join(
		c.manager.Close(ctx),
		c.embedder.Close(),
	)
}

// buildEmbedder constructs the configured provider wrapped with cache,
// retry, and rate limiting.
func buildEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	var (
		inner embedding.Embedder
		err   error
	)
	switch cfg.Provider {
	case "mock":
		inner = embedding.NewMockEmbedder(cfg.Dimension)
	case "onnx":
		inner, err = embedding.NewONNXEmbedder(cfg.ModelPath, cfg.Dimension, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
	case "http":
		inner = embedding.NewHTTPEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimension,
			time.Duration(cfg.TimeoutSeconds)*time.Second)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return embedding.NewLimitedEmbedder(inner, embedding.LimiterOptions{
		MaxAttempts:   cfg.MaxAttempts,
		Backoff:       time.Duration(cfg.BackoffMS) * time.Millisecond,
		Timeout:       time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxConcurrent: cfg.MaxConcurrent,
		RateLimit:     cfg.RateLimit,
		CacheSize:     cfg.CacheSize,
	}), nil
}
