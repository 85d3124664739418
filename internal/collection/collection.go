// Package collection binds one named collection's record store, similarity
// index, metadata index, and lexical index behind a readers-writer lock, so
// no reader ever observes a record present in one and absent from another.
package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/codec"
	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/lexical"
	"github.com/hyperjump/kura/internal/metadata"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vector"
)

const (
	storeFile       = "store.db"
	snapshotFile    = "index.snap"
	lexicalDir      = "lexical.bleve"
	lexicalVersion  = "lexical.version"
	snapshotTimeout = 30 * time.Second
)

// Options configure a collection at creation time. Dimension, Metric and
// IndexKind are pinned into the store on first creation; reopening with a
// different Dimension fails.
type Options struct {
	Dimension   int
	Metric      vector.Metric
	IndexKind   vector.Kind
	HNSW        vector.HNSWOptions
	Compression codec.Compression
	Logger      *zap.Logger
}

// Collection is one named set of records with its derived indexes. All
// methods are safe for concurrent use. A storage failure quarantines the
// collection: every later call fails fast with the original error while
// other collections keep serving.
type Collection struct {
	name string
	dir  string
	opts Options
	log  *zap.Logger

	mu    sync.RWMutex
	store storage.Store
	index vector.Index
	meta  *metadata.Index
	lex   *lexical.Index

	failed atomic.Pointer[failure]
	// savedVersion is the store version covered by the last snapshot save.
	savedVersion atomic.Uint64
}

type failure struct{ err error }

// Open opens or creates the collection stored under dir. Derived indexes
// are loaded from their on-disk snapshots when those cover the store's
// current version, and rebuilt from the record store otherwise.
func Open(ctx context.Context, dir, name string, opts Options) (*Collection, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("collection", name))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Storage("open", name, fmt.Errorf("create collection directory: %w", err))
	}

	store, err := storage.NewRecordStore(filepath.Join(dir, storeFile), name)
	if err != nil {
		return nil, err
	}

	c := &Collection{name: name, dir: dir, opts: opts, log: log, store: store}
	if err := c.load(ctx); err != nil {
		_ = store.Close()
		if c.lex != nil {
			_ = c.lex.Close()
		}
		return nil, err
	}
	return c, nil
}

func (c *Collection) load(ctx context.Context) error {
	meta, err := c.store.Meta(ctx)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &storage.Meta{
			Dimension: c.opts.Dimension,
			Metric:    c.opts.Metric.String(),
			IndexKind: string(c.opts.IndexKind),
			CreatedAt: time.Now().UTC(),
		}
		if err := c.store.SetMeta(ctx, meta); err != nil {
			return err
		}
	} else {
		if c.opts.Dimension != 0 && meta.Dimension != c.opts.Dimension {
			return errs.Validation("open", c.name, "",
				fmt.Sprintf("configured dimension %d does not match stored dimension %d",
					c.opts.Dimension, meta.Dimension))
		}
		metric, err := vector.ParseMetric(meta.Metric)
		if err != nil {
			return errs.Validation("open", c.name, "", err.Error())
		}
		// The persisted configuration wins over the running one: vectors
		// already stored were produced under it.
		c.opts.Dimension = meta.Dimension
		c.opts.Metric = metric
		c.opts.IndexKind = vector.Kind(meta.IndexKind)
	}

	version, err := c.store.Version(ctx)
	if err != nil {
		return err
	}

	idx, rebuildVec, err := c.loadSnapshot(version)
	if err != nil {
		return err
	}
	c.index = idx

	lex, rebuildLex, err := c.openLexical(version)
	if err != nil {
		return err
	}
	c.lex = lex

	c.meta = metadata.NewIndex()
	if err := c.replay(ctx, rebuildVec, rebuildLex); err != nil {
		return err
	}

	if rebuildVec || rebuildLex {
		if err := c.persistDerived(ctx, version); err != nil {
			return err
		}
	} else {
		c.savedVersion.Store(version)
	}
	c.log.Info("collection opened",
		zap.Int("dimension", c.opts.Dimension),
		zap.String("metric", c.opts.Metric.String()),
		zap.String("index", string(c.opts.IndexKind)),
		zap.Int("records", c.index.Size()),
		zap.Bool("rebuilt_vector", rebuildVec),
		zap.Bool("rebuilt_lexical", rebuildLex))
	return nil
}

// loadSnapshot returns a usable similarity index and whether it still needs
// to be filled by replaying the store.
func (c *Collection) loadSnapshot(version uint64) (vector.Index, bool, error) {
	path := filepath.Join(c.dir, snapshotFile)
	idx, snapVersion, err := vector.LoadFile(path)
	switch {
	case err == nil && snapVersion == version &&
		idx.Dimension() == c.opts.Dimension &&
		idx.Metric() == c.opts.Metric &&
		idx.Kind() == c.opts.IndexKind:
		return idx, false, nil
	case err != nil && !os.IsNotExist(err):
		c.log.Warn("index snapshot unreadable, rebuilding", zap.Error(err))
	case err == nil:
		c.log.Info("index snapshot stale, rebuilding",
			zap.Uint64("snapshot_version", snapVersion),
			zap.Uint64("store_version", version))
	}

	fresh, err := vector.New(c.opts.IndexKind, c.opts.Dimension, c.opts.Metric, c.opts.HNSW)
	if err != nil {
		// An unknown kind in the meta row should not strand stored
		// records; serve them with exact search instead.
		c.log.Warn("unusable index kind, using flat",
			zap.String("kind", string(c.opts.IndexKind)), zap.Error(err))
		c.opts.IndexKind = vector.KindFlat
		fresh, err = vector.New(vector.KindFlat, c.opts.Dimension, c.opts.Metric, c.opts.HNSW)
		if err != nil {
			return nil, false, errs.Validation("open", c.name, "", err.Error())
		}
	}
	return fresh, true, nil
}

// openLexical opens the bleve index and decides whether it must be rebuilt:
// the sidecar version file is written only after a successful flush, so a
// missing or stale sidecar means the index may have drifted from the store.
func (c *Collection) openLexical(version uint64) (*lexical.Index, bool, error) {
	path := filepath.Join(c.dir, lexicalDir)
	sidecar := readVersionFile(filepath.Join(c.dir, lexicalVersion))
	stale := sidecar != version

	lex, err := lexical.Open(path)
	if err != nil {
		c.log.Warn("lexical index unreadable, rebuilding", zap.Error(err))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, false, errs.Storage("open", c.name, rmErr)
		}
		lex, err = lexical.Open(path)
		if err != nil {
			return nil, false, errs.Storage("open", c.name, err)
		}
		return lex, version != 0, nil
	}
	if stale && version != 0 {
		c.log.Info("lexical index stale, rebuilding",
			zap.Uint64("sidecar_version", sidecar),
			zap.Uint64("store_version", version))
		if err := lex.Destroy(); err != nil {
			return nil, false, errs.Storage("open", c.name, err)
		}
		lex, err = lexical.Open(path)
		if err != nil {
			return nil, false, errs.Storage("open", c.name, err)
		}
		return lex, true, nil
	}
	return lex, false, nil
}

// replay scans the record store once, feeding the metadata index always and
// the vector/lexical indexes when they need rebuilding.
func (c *Collection) replay(ctx context.Context, rebuildVec, rebuildLex bool) error {
	var entries []vector.Entry
	lexDocs := make(map[string]string)

	err := c.store.Scan(ctx, func(rec *models.Record) error {
		doc, err := metadata.DocumentOf(rec.Metadata)
		if err != nil {
			return errs.Storage("replay", c.name, fmt.Errorf("record %q: %w", rec.ID, err))
		}
		c.meta.Set(rec.ID, doc)
		if rebuildVec {
			entries = append(entries, vector.Entry{ID: rec.ID, Seq: rec.Seq, Vector: rec.Vector})
		}
		if rebuildLex {
			lexDocs[rec.ID] = rec.Document
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(entries) > 0 {
		if err := c.index.Insert(entries...); err != nil {
			return errs.Storage("replay", c.name, err)
		}
	}
	if rebuildLex && len(lexDocs) > 0 {
		if err := c.lex.IndexBatch(lexDocs); err != nil {
			return errs.Storage("replay", c.name, err)
		}
	}
	return nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dimension returns the pinned vector dimension.
func (c *Collection) Dimension() int { return c.opts.Dimension }

// Metric returns the pinned distance metric.
func (c *Collection) Metric() vector.Metric { return c.opts.Metric }

func (c *Collection) guard() error {
	if f := c.failed.Load(); f != nil {
		return f.err
	}
	return nil
}

// quarantine records the first storage failure. Later calls observe it and
// fail fast; recovery is an operator action (restart or collection delete).
func (c *Collection) quarantine(err error) {
	if c.failed.CompareAndSwap(nil, &failure{err: err}) {
		c.log.Error("collection quarantined", zap.Error(err))
	}
}

// checkWrite classifies err after a mutation attempt, quarantining the
// collection on storage failures. A canceled request is not a storage
// fault: the write merely did not happen.
func (c *Collection) checkWrite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errs.KindOf(err) == errs.KindStorage {
		c.quarantine(err)
	}
	return err
}

// Put commits one record: store first, then the derived indexes, all under
// the write lock.
func (c *Collection) Put(ctx context.Context, rec *models.Record) error {
	results := c.PutMany(ctx, []*models.Record{rec})
	return results[0]
}

// PutMany commits records under one write lock acquisition. The returned
// slice is aligned with recs; a nil entry means that record committed. A
// storage failure quarantines the collection and fails the remaining
// records with the same error.
func (c *Collection) PutMany(ctx context.Context, recs []*models.Record) []error {
	results := make([]error, len(recs))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guard(); err != nil {
		for i := range results {
			results[i] = err
		}
		return results
	}

	for i, rec := range recs {
		err := c.putLocked(ctx, rec)
		results[i] = err
		if err != nil && errs.KindOf(err) == errs.KindStorage {
			for j := i + 1; j < len(recs); j++ {
				results[j] = err
			}
			break
		}
	}
	return results
}

func (c *Collection) putLocked(ctx context.Context, rec *models.Record) error {
	if len(rec.Vector) != c.opts.Dimension {
		return errs.DimensionMismatch("put", c.name, rec.ID, c.opts.Dimension, len(rec.Vector))
	}
	doc, err := metadata.DocumentOf(rec.Metadata)
	if err != nil {
		return errs.Validation("put", c.name, rec.ID, err.Error())
	}

	if _, err := c.store.Put(ctx, rec); err != nil {
		return c.checkWrite(err)
	}
	if err := c.index.Insert(vector.Entry{ID: rec.ID, Seq: rec.Seq, Vector: rec.Vector}); err != nil {
		return errs.Validation("put", c.name, rec.ID, err.Error())
	}
	c.meta.Set(rec.ID, doc)
	if err := c.lex.Index(rec.ID, rec.Document); err != nil {
		return c.checkWrite(errs.Storage("put", c.name, fmt.Errorf("index document text: %w", err)))
	}
	return nil
}

// Delete removes a record everywhere. Reports false when id is absent.
func (c *Collection) Delete(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guard(); err != nil {
		return false, err
	}
	return c.deleteLocked(ctx, id)
}

func (c *Collection) deleteLocked(ctx context.Context, id string) (bool, error) {
	deleted, err := c.store.Delete(ctx, id)
	if err != nil {
		return false, c.checkWrite(err)
	}
	if !deleted {
		return false, nil
	}
	c.index.Remove(id)
	c.meta.Delete(id)
	if err := c.lex.Delete(id); err != nil {
		return true, c.checkWrite(errs.Storage("delete", c.name, fmt.Errorf("remove document text: %w", err)))
	}
	return true, nil
}

// DeleteByFilter removes every record whose metadata matches the filter and
// returns how many were removed.
func (c *Collection) DeleteByFilter(ctx context.Context, fs *metadata.FilterSet) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guard(); err != nil {
		return 0, err
	}

	ids := c.meta.IDs(fs)
	n := 0
	for _, id := range ids {
		deleted, err := c.deleteLocked(ctx, id)
		if err != nil {
			return n, err
		}
		if deleted {
			n++
		}
	}
	return n, nil
}

// Get returns one record by id.
func (c *Collection) Get(ctx context.Context, id string) (*models.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, id)
}

// Count returns the number of stored records.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.guard(); err != nil {
		return 0, err
	}
	return c.store.Count(ctx)
}

// Info summarizes the collection for listings.
func (c *Collection) Info(ctx context.Context) (models.CollectionInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.guard(); err != nil {
		return models.CollectionInfo{}, err
	}
	count, err := c.store.Count(ctx)
	if err != nil {
		return models.CollectionInfo{}, err
	}
	meta, err := c.store.Meta(ctx)
	if err != nil {
		return models.CollectionInfo{}, err
	}
	info := models.CollectionInfo{
		Name:      c.name,
		Count:     count,
		Dimension: c.opts.Dimension,
		Metric:    c.opts.Metric.String(),
	}
	if meta != nil {
		info.CreatedAt = meta.CreatedAt
	}
	return info, nil
}

// Status reports the collection's counters.
func (c *Collection) Status(ctx context.Context) (models.CollectionStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.guard(); err != nil {
		return models.CollectionStatus{}, err
	}
	count, err := c.store.Count(ctx)
	if err != nil {
		return models.CollectionStatus{}, err
	}
	return models.CollectionStatus{
		Name:      c.name,
		Records:   count,
		IndexSize: c.index.Size(),
		Dimension: c.opts.Dimension,
		Metric:    c.opts.Metric.String(),
	}, nil
}

// Sources groups records by the "source" metadata key.
func (c *Collection) Sources(ctx context.Context) ([]models.SourceCount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.store.CountsByMetadata(ctx, "source")
}

// View runs fn under the collection read lock: every read fn performs sees
// one consistent store/index state. fn must not retain the view.
func (c *Collection) View(ctx context.Context, fn func(v *View) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.guard(); err != nil {
		return err
	}
	return fn(&View{c: c, ctx: ctx})
}

// View is a consistent read handle, valid only inside Collection.View.
type View struct {
	c   *Collection
	ctx context.Context
}

// QueryVector returns the k nearest records, optionally restricted by a
// metadata filter.
func (v *View) QueryVector(q []float32, k int, fs *metadata.FilterSet) ([]vector.Match, error) {
	if len(q) != v.c.opts.Dimension {
		return nil, errs.DimensionMismatch("query", v.c.name, "", v.c.opts.Dimension, len(q))
	}
	matches, err := v.c.index.Query(q, k, v.c.meta.Allow(fs))
	if err != nil {
		var dim *vector.ErrDimensionMismatch
		if errors.As(err, &dim) {
			return nil, errs.DimensionMismatch("query", v.c.name, "", dim.Expected, dim.Actual)
		}
		return nil, err
	}
	return matches, nil
}

// SearchText returns full-text hits for the query, optionally restricted by
// a metadata filter. Hits are over-fetched before filtering so a narrow
// filter still fills k when matches exist.
func (v *View) SearchText(text string, k int, fs *metadata.FilterSet) ([]lexical.Hit, error) {
	fetch := k
	if !fs.Empty() {
		fetch = k * 4
		if fetch < 32 {
			fetch = 32
		}
	}
	hits, err := v.c.lex.Search(v.ctx, text, fetch)
	if err != nil {
		return nil, err
	}
	if allow := v.c.meta.Allow(fs); allow != nil {
		kept := hits[:0]
		for _, h := range hits {
			if allow(h.ID) {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Get returns one record by id.
func (v *View) Get(id string) (*models.Record, error) {
	return v.c.store.Get(v.ctx, id)
}

// Count returns the number of stored records.
func (v *View) Count() (int64, error) {
	return v.c.store.Count(v.ctx)
}

// Flush checkpoints the store and saves the index snapshot and lexical
// version marker. Readers proceed during the save; writers wait.
func (c *Collection) Flush(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.guard(); err != nil {
		return err
	}
	version, err := c.store.Version(ctx)
	if err != nil {
		return err
	}
	if err := c.store.Flush(ctx); err != nil {
		return err
	}
	if c.savedVersion.Load() == version {
		return nil
	}
	return c.persistDerived(ctx, version)
}

// persistDerived writes the snapshot and lexical sidecar for version.
// Callers must hold at least the read lock.
func (c *Collection) persistDerived(_ context.Context, version uint64) error {
	if err := vector.SaveFile(filepath.Join(c.dir, snapshotFile), c.index, c.opts.Compression, version); err != nil {
		return errs.Storage("flush", c.name, fmt.Errorf("save index snapshot: %w", err))
	}
	if err := writeVersionFile(filepath.Join(c.dir, lexicalVersion), version); err != nil {
		return errs.Storage("flush", c.name, fmt.Errorf("save lexical version: %w", err))
	}
	c.savedVersion.Store(version)
	return nil
}

// Close flushes and releases the collection. A quarantined collection skips
// the flush and only releases resources.
func (c *Collection) Close(ctx context.Context) error {
	var errsAll []error
	if c.guard() == nil {
		if err := c.Flush(ctx); err != nil {
			errsAll = append(errsAll, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lex != nil {
		if err := c.lex.Close(); err != nil {
			errsAll = append(errsAll, err)
		}
		c.lex = nil
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errsAll = append(errsAll, err)
		}
		c.store = nil
	}
	return errors.Join(errsAll...)
}

// Destroy releases the collection and removes its directory. Works on
// quarantined collections; explicit deletion is their recovery path.
func (c *Collection) Destroy(ctx context.Context) error {
	c.quarantine(errs.NotFound(c.name, ""))

	c.mu.Lock()
	if c.lex != nil {
		_ = c.lex.Close()
		c.lex = nil
	}
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
	c.mu.Unlock()

	if err := os.RemoveAll(c.dir); err != nil {
		return errs.Storage("destroy", c.name, err)
	}
	c.log.Info("collection destroyed")
	return nil
}

func readVersionFile(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func writeVersionFile(path string, version uint64) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".version-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatUint(version, 10)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
