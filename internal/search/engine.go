// Package search answers queries against collections: nearest-neighbor,
// full-text, and a weighted fusion of both.
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/collection"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/metadata"
	"github.com/hyperjump/kura/internal/models"
)

// Options tune the engine. Zero values take defaults.
type Options struct {
	// DefaultK is used when a query carries no k.
	DefaultK int
	// HybridWeight is the vector side's share of a hybrid score; the
	// lexical side gets the complement.
	HybridWeight float64
	Logger       *zap.Logger
}

// Engine resolves queries. Every read runs inside a collection view, so a
// query never observes an index entry whose record is gone or vice versa.
type Engine struct {
	collections  *collection.Manager
	embedder     embedding.Embedder
	defaultK     int
	hybridWeight float64
	log          *zap.Logger
}

// NewEngine creates an engine over the manager's collections.
func NewEngine(collections *collection.Manager, embedder embedding.Embedder, opts Options) *Engine {
	if opts.DefaultK <= 0 {
		opts.DefaultK = 5
	}
	if opts.HybridWeight <= 0 || opts.HybridWeight > 1 {
		opts.HybridWeight = 0.5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		collections:  collections,
		embedder:     embedder,
		defaultK:     opts.DefaultK,
		hybridWeight: opts.HybridWeight,
		log:          opts.Logger,
	}
}

// Search runs one query and returns results ordered by descending score.
// A k beyond the record count returns everything stored.
func (e *Engine) Search(ctx context.Context, name string, req *models.QueryRequest) ([]models.QueryResult, error) {
	col, err := e.collections.Get(name)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(e.defaultK); err != nil {
		return nil, errs.Validation("query", name, "", err.Error())
	}
	fs, err := metadata.ParseFilter(req.Filter)
	if err != nil {
		return nil, errs.Validation("query", name, "", err.Error())
	}

	// Embedding happens before the view so no lock is held across it.
	qvec := req.Vector
	if req.Mode != models.ModeLexical && len(qvec) == 0 {
		qvec, err = e.embedder.Embed(ctx, req.Text)
		if err != nil {
			return nil, err
		}
	}

	var results []models.QueryResult
	err = col.View(ctx, func(v *collection.View) error {
		switch req.Mode {
		case models.ModeLexical:
			results, err = e.lexicalSearch(v, req.Text, req.K, fs)
		case models.ModeHybrid:
			results, err = e.hybridSearch(v, qvec, req.Text, req.K, fs)
		default:
			results, err = e.vectorSearch(v, qvec, req.K, fs)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) vectorSearch(v *collection.View, qvec []float32, k int, fs *metadata.FilterSet) ([]models.QueryResult, error) {
	matches, err := v.QueryVector(qvec, k, fs)
	if err != nil {
		return nil, err
	}
	results := make([]models.QueryResult, 0, len(matches))
	for _, m := range matches {
		if r, ok := e.hydrate(v, m.ID, m.Score); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

func (e *Engine) lexicalSearch(v *collection.View, text string, k int, fs *metadata.FilterSet) ([]models.QueryResult, error) {
	hits, err := v.SearchText(text, k, fs)
	if err != nil {
		return nil, err
	}
	results := make([]models.QueryResult, 0, len(hits))
	for _, h := range hits {
		if r, ok := e.hydrate(v, h.ID, h.Score); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// hybridSearch over-fetches candidates on both sides, fuses their
// normalized scores, and keeps the top k.
func (e *Engine) hybridSearch(v *collection.View, qvec []float32, text string, k int, fs *metadata.FilterSet) ([]models.QueryResult, error) {
	fetch := k * 4
	if fetch < 32 {
		fetch = 32
	}
	matches, err := v.QueryVector(qvec, fetch, fs)
	if err != nil {
		return nil, err
	}
	hits, err := v.SearchText(text, fetch, fs)
	if err != nil {
		return nil, err
	}

	vecScores := make(map[string]float64, len(matches))
	for _, m := range matches {
		vecScores[m.ID] = m.Score
	}
	lexScores := make(map[string]float64, len(hits))
	for _, h := range hits {
		lexScores[h.ID] = h.Score
	}

	fused := Fuse(vecScores, lexScores, e.hybridWeight, 1-e.hybridWeight)
	if len(fused) > k {
		fused = fused[:k]
	}
	results := make([]models.QueryResult, 0, len(fused))
	for _, f := range fused {
		if r, ok := e.hydrate(v, f.ID, f.Score); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// hydrate attaches the stored document and metadata to a scored id. Inside a
// view the record must exist; a miss is logged and the hit dropped rather
// than failing the whole query.
func (e *Engine) hydrate(v *collection.View, id string, score float64) (models.QueryResult, bool) {
	rec, err := v.Get(id)
	if err != nil {
		e.log.Warn("query hit has no record", zap.String("id", id), zap.Error(err))
		return models.QueryResult{}, false
	}
	return models.QueryResult{
		ID:       rec.ID,
		Document: rec.Document,
		Metadata: rec.Metadata,
		Score:    score,
	}, true
}

// Get fetches one record by id.
func (e *Engine) Get(ctx context.Context, name, id string) (*models.Record, error) {
	col, err := e.collections.Get(name)
	if err != nil {
		return nil, err
	}
	return col.Get(ctx, id)
}

// Sources lists per-source record counts for one collection.
func (e *Engine) Sources(ctx context.Context, name string) ([]models.SourceCount, error) {
	col, err := e.collections.Get(name)
	if err != nil {
		return nil, err
	}
	return col.Sources(ctx)
}
