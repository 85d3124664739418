// Package ingest turns submitted text, vectors, and uploaded files into
// committed records. Embedding runs outside any collection lock; the commit
// itself is a single write-lock batch, so readers never see half an item.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kura/internal/collection"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/extract"
	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/metadata"
	"github.com/hyperjump/kura/internal/models"
)

// SourceKey is the metadata key carrying a record's originating file, used
// by uploads, watched directories, and the sources listing.
const SourceKey = "source"

// Options tune the pipeline. Zero values take defaults.
type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	MaxConcurrent int
	Logger        *zap.Logger
}

// Pipeline ingests items into collections: validate, embed, commit.
type Pipeline struct {
	collections   *collection.Manager
	embedder      embedding.Embedder
	extractor     *extract.Extractor
	chunker       *Chunker
	maxConcurrent int
	log           *zap.Logger
}

// NewPipeline wires the pipeline. extractor may be nil; IngestFile then
// accepts only plain text payloads.
func NewPipeline(collections *collection.Manager, embedder embedding.Embedder, extractor *extract.Extractor, opts Options) *Pipeline {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	return &Pipeline{
		collections:   collections,
		embedder:      embedder,
		extractor:     extractor,
		chunker:       NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		maxConcurrent: opts.MaxConcurrent,
		log:           opts.Logger,
	}
}

// Ingest processes one item and returns its record id. The collection is
// created on first use.
func (p *Pipeline) Ingest(ctx context.Context, name string, item models.IngestItem) (string, error) {
	results, err := p.IngestMany(ctx, name, []models.IngestItem{item})
	if err != nil {
		return "", err
	}
	return results[0].ID, results[0].Err
}

// IngestMany processes a batch with per-item isolation: one item's failure
// never aborts its siblings. The returned slice is aligned with items; each
// entry carries the committed id or that item's error. The error return is
// reserved for whole-batch failures such as an unusable collection.
func (p *Pipeline) IngestMany(ctx context.Context, name string, items []models.IngestItem) ([]models.ItemResult, error) {
	col, err := p.collections.GetOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}

	results := make([]models.ItemResult, len(items))
	recs := make([]*models.Record, len(items))
	needEmbed := false
	for i := range items {
		rec, err := p.prepare(col, items[i])
		if err != nil {
			results[i].Err = err
			continue
		}
		recs[i] = rec
		if len(rec.Vector) == 0 {
			needEmbed = true
		}
	}

	if needEmbed {
		if d := p.embedder.Dimensions(); d != col.Dimension() {
			return nil, errs.Validation("ingest", name, "",
				fmt.Sprintf("embedder produces dimension %d but collection expects %d", d, col.Dimension()))
		}
		p.embedAll(ctx, recs, results)
	}

	var pending []*models.Record
	var slots []int
	for i, rec := range recs {
		if rec != nil {
			pending = append(pending, rec)
			slots = append(slots, i)
		}
	}
	if len(pending) > 0 {
		for j, err := range col.PutMany(ctx, pending) {
			if err != nil {
				results[slots[j]].Err = err
			} else {
				results[slots[j]].ID = pending[j].ID
			}
		}
	}

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
		}
	}
	p.log.Debug("batch ingested",
		zap.String("collection", name),
		zap.Int("items", len(items)),
		zap.Int("failed", failed))
	return results, nil
}

// prepare validates one item and shapes its record. Items carrying a vector
// skip embedding; the vector must already match the collection dimension.
func (p *Pipeline) prepare(col *collection.Collection, item models.IngestItem) (*models.Record, error) {
	if strings.TrimSpace(item.Text) == "" && len(item.Vector) == 0 {
		return nil, errs.Validation("ingest", col.Name(), item.ID, "item needs text or a vector")
	}
	if len(item.Vector) > 0 && len(item.Vector) != col.Dimension() {
		return nil, errs.DimensionMismatch("ingest", col.Name(), item.ID, col.Dimension(), len(item.Vector))
	}
	if _, err := metadata.DocumentOf(item.Metadata); err != nil {
		return nil, errs.Validation("ingest", col.Name(), item.ID, err.Error())
	}
	id := item.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &models.Record{
		ID:       id,
		Vector:   item.Vector,
		Document: Preprocess(item.Text),
		Metadata: item.Metadata,
	}, nil
}

// embedAll fills missing vectors concurrently. Failures land in the item's
// result slot and clear its record; the goroutines themselves never error,
// which keeps the group isolating rather than cancelling.
func (p *Pipeline) embedAll(ctx context.Context, recs []*models.Record, results []models.ItemResult) {
	var g errgroup.Group
	g.SetLimit(p.maxConcurrent)
	for i := range recs {
		if recs[i] == nil || len(recs[i].Vector) > 0 {
			continue
		}
		i := i
		g.Go(func() error {
			vec, err := p.embedder.Embed(ctx, recs[i].Document)
			if err != nil {
				results[i].Err = err
				recs[i] = nil
				return nil
			}
			recs[i].Vector = vec
			return nil
		})
	}
	_ = g.Wait()
}

// IngestFile extracts text from an uploaded file, replaces any prior records
// from the same source, and ingests the text in chunks with ids
// "{filename}_{i}". Returns the number of chunks committed; a non-nil error
// alongside a positive count means a partial ingest.
func (p *Pipeline) IngestFile(ctx context.Context, name, filename string, data []byte) (int, error) {
	source := filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(source))
	text, err := p.extractor.ExtractBytes(data, ext)
	if err != nil {
		return 0, errs.Validation("upload", name, "", fmt.Sprintf("extract %q: %v", source, err))
	}
	return p.ingestChunks(ctx, name, source, source, text)
}

// IngestFilePath extracts and ingests a file from disk. Records trace back
// to the absolute path through the source metadata key, so re-ingesting an
// updated file replaces its chunks and DeleteBySource handles removal.
func (p *Pipeline) IngestFilePath(ctx context.Context, name, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, errs.Validation("ingest", name, "", fmt.Sprintf("resolve %q: %v", path, err))
	}
	text, err := p.extractor.Extract(abs)
	if err != nil {
		return 0, errs.Validation("ingest", name, "", fmt.Sprintf("extract %q: %v", abs, err))
	}
	return p.ingestChunks(ctx, name, fileid.PathID(abs), abs, text)
}

func (p *Pipeline) ingestChunks(ctx context.Context, name, stem, source, text string) (int, error) {
	if _, err := p.DeleteBySource(ctx, name, source); err != nil {
		return 0, err
	}
	chunks := p.chunker.Chunk(text)
	if len(chunks) == 0 {
		return 0, errs.Validation("upload", name, "", fmt.Sprintf("%q has no text content", source))
	}
	items := make([]models.IngestItem, len(chunks))
	for i, chunk := range chunks {
		items[i] = models.IngestItem{
			ID:       fileid.ChunkID(stem, i),
			Text:     chunk,
			Metadata: map[string]any{SourceKey: source},
		}
	}
	results, err := p.IngestMany(ctx, name, items)
	if err != nil {
		return 0, err
	}
	committed := 0
	var firstErr error
	for _, r := range results {
		if r.Err != nil {
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		committed++
	}
	if firstErr != nil {
		return committed, firstErr
	}
	p.log.Info("file ingested",
		zap.String("collection", name),
		zap.String("source", source),
		zap.Int("chunks", committed))
	return committed, nil
}

// DeleteBySource removes every record whose source metadata equals source.
// A missing collection deletes nothing.
func (p *Pipeline) DeleteBySource(ctx context.Context, name, source string) (int, error) {
	col, err := p.collections.Get(name)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	fs, err := metadata.ParseFilter(map[string]any{SourceKey: source})
	if err != nil {
		return 0, errs.Validation("delete", name, "", err.Error())
	}
	return col.DeleteByFilter(ctx, fs)
}
