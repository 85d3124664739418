package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/kura/internal/codec"
	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/metadata"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/vector"
)

func testOptions() Options {
	return Options{
		Dimension:   3,
		Metric:      vector.MetricCosine,
		IndexKind:   vector.KindFlat,
		Compression: codec.CompressionNone,
	}
}

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "docs"), "docs", testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func rec(id string, vec []float32, doc string, meta map[string]any) *models.Record {
	return &models.Record{ID: id, Vector: vec, Document: doc, Metadata: meta}
}

func mustPut(t *testing.T, c *Collection, r *models.Record) {
	t.Helper()
	if err := c.Put(context.Background(), r); err != nil {
		t.Fatalf("Put(%s): %v", r.ID, err)
	}
}

func queryIDs(t *testing.T, c *Collection, q []float32, k int, fs *metadata.FilterSet) []string {
	t.Helper()
	var ids []string
	err := c.View(context.Background(), func(v *View) error {
		matches, err := v.QueryVector(q, k, fs)
		if err != nil {
			return err
		}
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	return ids
}

func mustFilter(t *testing.T, raw map[string]any) *metadata.FilterSet {
	t.Helper()
	fs, err := metadata.ParseFilter(raw)
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	return fs
}

func TestCollectionPutGetDelete(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	mustPut(t, c, rec("a", []float32{1, 0, 0}, "alpha doc", map[string]any{"source": "x"}))

	got, err := c.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Document != "alpha doc" || got.Metadata["source"] != "x" {
		t.Errorf("round trip: %+v", got)
	}

	deleted, err := c.Delete(ctx, "a")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	if _, err := c.Get(ctx, "a"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get after delete: %v, want not found", err)
	}
	deleted, err = c.Delete(ctx, "a")
	if err != nil || deleted {
		t.Errorf("second Delete = %v, %v, want false, nil", deleted, err)
	}
}

func TestCollectionSelfQueryTopRank(t *testing.T) {
	c := newTestCollection(t)

	vecs := map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
		"c": {0.5, 0.5, 0.7},
	}
	for id, v := range vecs {
		mustPut(t, c, rec(id, v, "doc "+id, nil))
	}
	for id, v := range vecs {
		ids := queryIDs(t, c, v, 1, nil)
		if len(ids) != 1 || ids[0] != id {
			t.Errorf("self query %s returned %v", id, ids)
		}
	}
}

func TestCollectionKLargerThanCount(t *testing.T) {
	c := newTestCollection(t)

	mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", nil))
	mustPut(t, c, rec("b", []float32{0, 1, 0}, "b", nil))
	mustPut(t, c, rec("c", []float32{0, 0, 1}, "c", nil))

	ids := queryIDs(t, c, []float32{1, 0.1, 0}, 50, nil)
	if len(ids) != 3 {
		t.Fatalf("k=50 over 3 records returned %d results", len(ids))
	}
	if ids[0] != "a" {
		t.Errorf("nearest should be a, got %v", ids)
	}
}

func TestCollectionUpsertKeepsIdentity(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	mustPut(t, c, rec("a", []float32{1, 0, 0}, "original banana", map[string]any{"v": 1.0}))
	mustPut(t, c, rec("a", []float32{0, 0, 1}, "replacement cherry", map[string]any{"v": 2.0}))

	count, err := c.Count(ctx)
	if err != nil || count != 1 {
		t.Fatalf("Count = %d, %v, want 1", count, err)
	}

	ids := queryIDs(t, c, []float32{0, 0, 1}, 1, nil)
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("query by new vector: %v", ids)
	}

	err = c.View(ctx, func(v *View) error {
		hits, err := v.SearchText("banana", 10, nil)
		if err != nil {
			return err
		}
		if len(hits) != 0 {
			t.Errorf("stale text still indexed: %v", hits)
		}
		hits, err = v.SearchText("cherry", 10, nil)
		if err != nil {
			return err
		}
		if len(hits) != 1 || hits[0].ID != "a" {
			t.Errorf("replacement text not indexed: %v", hits)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectionFilteredQuery(t *testing.T) {
	c := newTestCollection(t)

	mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", map[string]any{"lang": "go", "year": 2021.0}))
	mustPut(t, c, rec("b", []float32{0.9, 0.1, 0}, "b", map[string]any{"lang": "go", "year": 2024.0}))
	mustPut(t, c, rec("c", []float32{0.8, 0.2, 0}, "c", map[string]any{"lang": "rust", "year": 2024.0}))

	ids := queryIDs(t, c, []float32{1, 0, 0}, 10, mustFilter(t, map[string]any{"lang": "go"}))
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("lang filter: %v", ids)
	}

	ids = queryIDs(t, c, []float32{1, 0, 0}, 10, mustFilter(t, map[string]any{
		"lang": "go",
		"year": map[string]any{"gte": 2022.0},
	}))
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("range filter: %v", ids)
	}
}

func TestCollectionDeleteByFilter(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	mustPut(t, c, rec("a", []float32{1, 0, 0}, "shared keepme", map[string]any{"source": "old.txt"}))
	mustPut(t, c, rec("b", []float32{0, 1, 0}, "shared dropme", map[string]any{"source": "old.txt"}))
	mustPut(t, c, rec("c", []float32{0, 0, 1}, "shared other", map[string]any{"source": "new.txt"}))

	n, err := c.DeleteByFilter(ctx, mustFilter(t, map[string]any{"source": "old.txt"}))
	if err != nil || n != 2 {
		t.Fatalf("DeleteByFilter = %d, %v, want 2", n, err)
	}

	count, _ := c.Count(ctx)
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
	ids := queryIDs(t, c, []float32{1, 0, 0}, 10, nil)
	if len(ids) != 1 || ids[0] != "c" {
		t.Errorf("post-delete query: %v", ids)
	}
	err = c.View(ctx, func(v *View) error {
		hits, err := v.SearchText("shared", 10, nil)
		if err != nil {
			return err
		}
		if len(hits) != 1 || hits[0].ID != "c" {
			t.Errorf("lexical index kept deleted records: %v", hits)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectionDeletedIDNeverReturns(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	ctx := context.Background()

	c, err := Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", nil))
	mustPut(t, c, rec("b", []float32{0.9, 0.1, 0}, "b", nil))
	if _, err := c.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	for _, id := range queryIDs(t, c, []float32{1, 0, 0}, 10, nil) {
		if id == "a" {
			t.Fatal("deleted id returned before restart")
		}
	}
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// Force a rebuild from the record store rather than a snapshot load.
	if err := os.Remove(filepath.Join(dir, snapshotFile)); err != nil {
		t.Fatal(err)
	}
	c, err = Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	for _, id := range queryIDs(t, c, []float32{1, 0, 0}, 10, nil) {
		if id == "a" {
			t.Fatal("deleted id returned after rebuild")
		}
	}
}

func TestCollectionReopenMatchesRebuild(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	ctx := context.Background()
	q := []float32{0.7, 0.2, 0.1}

	c, err := Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		mustPut(t, c, rec(
			fmt.Sprintf("r%d", i),
			[]float32{float32(i) * 0.1, 1 - float32(i)*0.1, 0.3},
			fmt.Sprintf("record %d", i),
			nil,
		))
	}
	want := queryIDs(t, c, q, 5, nil)
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// Snapshot load path.
	c, err = Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	got := queryIDs(t, c, q, 5, nil)
	c.Close(ctx)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("snapshot reopen changed results: %v vs %v", got, want)
	}

	// Rebuild path.
	if err := os.Remove(filepath.Join(dir, snapshotFile)); err != nil {
		t.Fatal(err)
	}
	c, err = Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)
	got = queryIDs(t, c, q, 5, nil)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("rebuild changed results: %v vs %v", got, want)
	}
}

func TestCollectionStaleSnapshotDetected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	ctx := context.Background()

	c, err := Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", nil))
	if err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	staleSnap, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if err != nil {
		t.Fatal(err)
	}

	// Mutations after the snapshot: an upsert of a and a new record.
	mustPut(t, c, rec("a", []float32{0, 0, 1}, "a moved", nil))
	mustPut(t, c, rec("b", []float32{0, 1, 0}, "b", nil))
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// Crash simulation: the old snapshot survives, the new one is lost.
	if err := os.WriteFile(filepath.Join(dir, snapshotFile), staleSnap, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err = Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	ids := queryIDs(t, c, []float32{0, 0, 1}, 1, nil)
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("upsert lost after stale snapshot: %v", ids)
	}
	ids = queryIDs(t, c, []float32{0, 1, 0}, 1, nil)
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("post-snapshot record lost: %v", ids)
	}
}

func TestCollectionStaleLexicalRebuilt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	ctx := context.Background()

	c, err := Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, c, rec("a", []float32{1, 0, 0}, "durable words", nil))
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// Crash simulation: sidecar from an earlier flush.
	if err := writeVersionFile(filepath.Join(dir, lexicalVersion), 0); err != nil {
		t.Fatal(err)
	}

	c, err = Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	err = c.View(ctx, func(v *View) error {
		hits, err := v.SearchText("durable", 10, nil)
		if err != nil {
			return err
		}
		if len(hits) != 1 || hits[0].ID != "a" {
			t.Errorf("lexical rebuild lost records: %v", hits)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectionDimensionPinnedAtCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	ctx := context.Background()

	c, err := Open(ctx, dir, "docs", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", nil))
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.Dimension = 8
	_, err = Open(ctx, dir, "docs", opts)
	if err == nil {
		t.Fatal("expected dimension mismatch at open")
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("KindOf = %q, want validation", errs.KindOf(err))
	}
}

func TestCollectionPutDimensionMismatch(t *testing.T) {
	c := newTestCollection(t)

	err := c.Put(context.Background(), rec("a", []float32{1, 0}, "short", nil))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("KindOf = %q, want validation", errs.KindOf(err))
	}
}

func TestCollectionQuarantineOnStorageFailure(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	mustPut(t, c, rec("a", []float32{1, 0, 0}, "a", nil))

	// Sever the store under the collection so the next write fails.
	if err := c.store.Close(); err != nil {
		t.Fatal(err)
	}

	err := c.Put(ctx, rec("b", []float32{0, 1, 0}, "b", nil))
	if err == nil {
		t.Fatal("expected storage failure")
	}
	if errs.KindOf(err) != errs.KindStorage {
		t.Fatalf("KindOf = %q, want storage", errs.KindOf(err))
	}

	// Every later call fails fast with the sticky error.
	if _, err := c.Get(ctx, "a"); errs.KindOf(err) != errs.KindStorage {
		t.Errorf("Get after quarantine: %v", err)
	}
	if err := c.View(ctx, func(*View) error { return nil }); errs.KindOf(err) != errs.KindStorage {
		t.Errorf("View after quarantine: %v", err)
	}
	results := c.PutMany(ctx, []*models.Record{rec("c", []float32{1, 0, 0}, "c", nil)})
	if errs.KindOf(results[0]) != errs.KindStorage {
		t.Errorf("PutMany after quarantine: %v", results[0])
	}
}

func TestCollectionPutManyAlignment(t *testing.T) {
	c := newTestCollection(t)

	recs := []*models.Record{
		rec("a", []float32{1, 0, 0}, "a", nil),
		rec("b", []float32{1, 0}, "bad width", nil),
		rec("c", []float32{0, 0, 1}, "c", nil),
	}
	results := c.PutMany(context.Background(), recs)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0] != nil || results[2] != nil {
		t.Errorf("sibling items failed: %v, %v", results[0], results[2])
	}
	if errs.KindOf(results[1]) != errs.KindValidation {
		t.Errorf("bad item error = %v, want validation", results[1])
	}

	count, _ := c.Count(context.Background())
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}
}

func TestCollectionConcurrentReadersAndWriter(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	mustPut(t, c, rec("seed", []float32{1, 0, 0}, "seed", nil))

	const writes = 100
	var wg sync.WaitGroup
	stop := make(chan struct{})
	errCh := make(chan error, 16)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)
		for i := 0; i < writes; i++ {
			r := rec(fmt.Sprintf("w%d", i), []float32{float32(i%7) * 0.1, 1, 0}, "write", nil)
			if err := c.Put(ctx, r); err != nil {
				errCh <- err
				return
			}
		}
	}()

	for reader := 0; reader < 10; reader++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				err := c.View(ctx, func(v *View) error {
					matches, err := v.QueryVector([]float32{0.3, 1, 0}, 5, nil)
					if err != nil {
						return err
					}
					// Within one view every match must hydrate: the index
					// never runs ahead of the store or vice versa.
					for _, m := range matches {
						if _, err := v.Get(m.ID); err != nil {
							return fmt.Errorf("torn state for %s: %w", m.ID, err)
						}
					}
					return nil
				})
				if err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}

	count, err := c.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != writes+1 {
		t.Errorf("Count = %d, want %d", count, writes+1)
	}
}

func TestCollectionHNSWKind(t *testing.T) {
	opts := testOptions()
	opts.IndexKind = vector.KindHNSW
	opts.HNSW = vector.DefaultHNSWOptions()

	dir := filepath.Join(t.TempDir(), "docs")
	ctx := context.Background()
	c, err := Open(ctx, dir, "docs", opts)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		mustPut(t, c, rec(
			fmt.Sprintf("r%d", i),
			[]float32{float32(i) * 0.05, 1 - float32(i)*0.03, 0.2},
			fmt.Sprintf("record %d", i),
			nil,
		))
	}
	ids := queryIDs(t, c, []float32{0.5, 0.7, 0.2}, 3, nil)
	if len(ids) != 3 {
		t.Fatalf("hnsw query returned %d results", len(ids))
	}
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// Reopen keeps the graph kind and the records.
	c, err = Open(ctx, dir, "docs", opts)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)
	got := queryIDs(t, c, []float32{0.5, 0.7, 0.2}, 3, nil)
	if fmt.Sprint(got) != fmt.Sprint(ids) {
		t.Errorf("reopen changed hnsw results: %v vs %v", got, ids)
	}
}
