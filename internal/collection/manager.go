package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
)

// Collection names become directory names, so they are restricted to a
// path-safe alphabet.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Manager owns every collection under one root directory. Collections are
// created on first write and opened eagerly at startup; one collection's
// failure never takes down the others.
type Manager struct {
	root string
	opts Options
	log  *zap.Logger

	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewManager opens root (creating it on first run) and every collection
// directory inside it. A collection that fails to open is kept in a
// quarantined state: present in listings, failing fast on access.
func NewManager(ctx context.Context, root string, opts Options) (*Manager, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root %s: %w", root, err)
	}

	m := &Manager{
		root:        root,
		opts:        opts,
		log:         log,
		collections: make(map[string]*Collection),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read store root %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !nameRe.MatchString(entry.Name()) {
			continue
		}
		name := entry.Name()
		dir := filepath.Join(root, name)
		c, err := Open(ctx, dir, name, opts)
		if err != nil {
			log.Error("collection failed to open, quarantined",
				zap.String("collection", name), zap.Error(err))
			c = newQuarantined(dir, name, opts, log, err)
		}
		m.collections[name] = c
	}
	return m, nil
}

// newQuarantined builds a collection shell that fails every call with err.
func newQuarantined(dir, name string, opts Options, log *zap.Logger, err error) *Collection {
	c := &Collection{
		name: name,
		dir:  dir,
		opts: opts,
		log:  log.With(zap.String("collection", name)),
	}
	c.failed.Store(&failure{err: err})
	return c
}

// Get returns an existing collection or a not-found error. Read paths never
// create collections.
func (m *Manager) Get(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[name]
	if !ok {
		return nil, errs.NotFound(name, "")
	}
	return c, nil
}

// GetOrCreate returns the named collection, creating it when absent.
func (m *Manager) GetOrCreate(ctx context.Context, name string) (*Collection, error) {
	m.mu.RLock()
	c, ok := m.collections[name]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	if !nameRe.MatchString(name) {
		return nil, errs.Validation("create", name, "",
			"collection names are 1-64 characters of [A-Za-z0-9._-], starting with a letter or digit")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		return c, nil
	}

	c, err := Open(ctx, filepath.Join(m.root, name), name, m.opts)
	if err != nil {
		return nil, err
	}
	m.collections[name] = c
	m.log.Info("collection created", zap.String("collection", name))
	return c, nil
}

// List summarizes every collection, sorted by name. Quarantined collections
// appear with their pinned configuration and a zero count.
func (m *Manager) List(ctx context.Context) []models.CollectionInfo {
	collections := m.snapshot()
	infos := make([]models.CollectionInfo, 0, len(collections))
	for _, c := range collections {
		info, err := c.Info(ctx)
		if err != nil {
			info = models.CollectionInfo{
				Name:      c.Name(),
				Dimension: c.Dimension(),
				Metric:    c.Metric().String(),
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Delete destroys a collection and its directory. Reports false when the
// collection does not exist.
func (m *Manager) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[name]
	if !ok {
		return false, nil
	}
	delete(m.collections, name)
	if err := c.Destroy(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Status aggregates per-collection counters and the on-disk footprint.
func (m *Manager) Status(ctx context.Context) models.Status {
	status := models.Status{
		IndexKind: string(m.opts.IndexKind),
		Dimension: m.opts.Dimension,
		Metric:    m.opts.Metric.String(),
		StorePath: m.root,
	}
	for _, c := range m.snapshot() {
		cs, err := c.Status(ctx)
		if err != nil {
			cs = models.CollectionStatus{
				Name:      c.Name(),
				Dimension: c.Dimension(),
				Metric:    c.Metric().String(),
			}
		}
		status.Collections = append(status.Collections, cs)
		status.TotalRecords += cs.Records
	}
	sort.Slice(status.Collections, func(i, j int) bool {
		return status.Collections[i].Name < status.Collections[j].Name
	})
	if usage, err := storage.DiskUsageBytes(m.root); err == nil {
		status.DiskUsageBytes = &usage
	}
	return status
}

// Flush flushes every healthy collection. Quarantined collections are
// skipped; other failures are joined and returned after all collections
// have been attempted.
func (m *Manager) Flush(ctx context.Context) error {
	var flushErrs []error
	for _, c := range m.snapshot() {
		if c.guard() != nil {
			continue
		}
		if err := c.Flush(ctx); err != nil {
			flushErrs = append(flushErrs, fmt.Errorf("flush %s: %w", c.Name(), err))
		}
	}
	return errors.Join(flushErrs...)
}

// Close flushes and closes every collection. Called once at shutdown after
// the last request has drained.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	collections := m.collections
	m.collections = make(map[string]*Collection)
	m.mu.Unlock()

	var closeErrs []error
	for name, c := range collections {
		if err := c.Close(ctx); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	m.log.Info("collections closed", zap.Int("count", len(collections)))
	return errors.Join(closeErrs...)
}

func (m *Manager) snapshot() []*Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Collection, 0, len(m.collections))
	for _, c := range m.collections {
		out = append(out, c)
	}
	return out
}
