// Package lexical provides the per-collection full-text index behind the
// lexical and hybrid query modes.
package lexical

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// Index is a bleve index over record document text. It is derived state,
// like the vector index: the record store can always rebuild it.
type Index struct {
	index bleve.Index
	path  string
}

// Hit is a single full-text match. Scores are bleve's tf-idf scores and
// are only comparable within one search.
type Hit struct {
	ID    string
	Score float64
}

// Open creates or opens a bleve index at path. The standard analyzer
// (lowercase + tokenize, no stemming) keeps exact word queries matching
// exact words.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open lexical index: %w", err)
		}
		return &Index{index: index, path: path}, nil
	}

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("document", textField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = docMapping

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}
	return &Index{index: index, path: path}, nil
}

// Index adds or replaces the document text for id.
func (ix *Index) Index(id, document string) error {
	return ix.index.Index(id, map[string]any{"document": document})
}

// IndexBatch indexes many documents in one bleve batch, used when
// rebuilding from the record store.
func (ix *Index) IndexBatch(docs map[string]string) error {
	batch := ix.index.NewBatch()
	for id, document := range docs {
		if err := batch.Index(id, map[string]any{"document": document}); err != nil {
			return err
		}
	}
	return ix.index.Batch(batch)
}

// Delete removes id from the index. Deleting an unknown id is a no-op.
func (ix *Index) Delete(id string) error {
	return ix.index.Delete(id)
}

// Search runs a match query over document text and returns up to limit
// hits, best first.
func (ix *Index) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	q := bleve.NewMatchQuery(text)
	q.SetField("document")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	res, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	hits := make([]Hit, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = Hit{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (ix *Index) Count() (uint64, error) {
	return ix.index.DocCount()
}

// Close closes the index.
func (ix *Index) Close() error {
	return ix.index.Close()
}

// Destroy closes the index and removes its files. Used when a collection
// is deleted or the index must be rebuilt from scratch.
func (ix *Index) Destroy() error {
	if err := ix.index.Close(); err != nil {
		return err
	}
	return os.RemoveAll(ix.path)
}
