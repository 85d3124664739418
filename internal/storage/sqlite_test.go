package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kura/internal/errs"
	"github.com/hyperjump/kura/internal/models"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.db")
	store, err := NewRecordStore(path, "testcoll")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordStoreCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &models.Record{
		ID:       "doc1",
		Vector:   []float32{0.1, -0.5, 2},
		Document: "hello world",
		Metadata: map[string]any{"source": "a.txt", "page": 3.0},
	}
	seq, err := store.Put(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if seq == 0 {
		t.Error("Put returned zero sequence")
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("timestamps not filled in")
	}

	got, err := store.Get(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Document != "hello world" || got.Seq != seq {
		t.Errorf("got %+v", got)
	}
	if len(got.Vector) != 3 || got.Vector[2] != 2 {
		t.Errorf("vector not round-tripped: %v", got.Vector)
	}
	if got.Metadata["source"] != "a.txt" || got.Metadata["page"] != 3.0 {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}

	ok, err := store.Delete(ctx, "doc1")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = store.Delete(ctx, "doc1")
	if err != nil || ok {
		t.Fatalf("second Delete = %v, %v", ok, err)
	}
	if _, err := store.Get(ctx, "doc1"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get after delete = %v, want not-found", err)
	}
}

func TestRecordStoreUpsertKeepsSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &models.Record{ID: "a", Vector: []float32{1, 0}, Document: "v1"}
	seq1, err := store.Put(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	created := first.CreatedAt

	time.Sleep(5 * time.Millisecond)
	second := &models.Record{ID: "a", Vector: []float32{0, 1}, Document: "v2"}
	seq2, err := store.Put(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if seq2 != seq1 {
		t.Errorf("upsert changed sequence: %d -> %d", seq1, seq2)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Document != "v2" || got.Vector[0] != 0 {
		t.Errorf("upsert did not replace content: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("upsert changed created_at: %v -> %v", created, got.CreatedAt)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestRecordStoreSequencesNeverReused(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	put := func(id string) uint64 {
		t.Helper()
		seq, err := store.Put(ctx, &models.Record{ID: id, Vector: []float32{1}, Document: id})
		if err != nil {
			t.Fatal(err)
		}
		return seq
	}
	seqA := put("a")
	seqB := put("b")
	if seqB <= seqA {
		t.Fatalf("sequences not increasing: %d then %d", seqA, seqB)
	}
	if _, err := store.Delete(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	seqC := put("c")
	if seqC <= seqB {
		t.Errorf("sequence reused after delete: %d then %d", seqB, seqC)
	}
}

func TestRecordStoreVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v0, err := store.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v0 != 0 {
		t.Fatalf("fresh store version = %d", v0)
	}

	if _, err := store.Put(ctx, &models.Record{ID: "a", Vector: []float32{1}, Document: "x"}); err != nil {
		t.Fatal(err)
	}
	v1, _ := store.Version(ctx)
	if v1 != v0+1 {
		t.Errorf("version after put = %d, want %d", v1, v0+1)
	}

	// Upserts count as mutations too.
	if _, err := store.Put(ctx, &models.Record{ID: "a", Vector: []float32{2}, Document: "y"}); err != nil {
		t.Fatal(err)
	}
	v2, _ := store.Version(ctx)
	if v2 != v1+1 {
		t.Errorf("version after upsert = %d, want %d", v2, v1+1)
	}

	if _, err := store.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	v3, _ := store.Version(ctx)
	if v3 != v2+1 {
		t.Errorf("version after delete = %d, want %d", v3, v2+1)
	}

	// Deleting a missing record is not a mutation.
	if _, err := store.Delete(ctx, "missing"); err != nil {
		t.Fatal(err)
	}
	v4, _ := store.Version(ctx)
	if v4 != v3 {
		t.Errorf("version after no-op delete = %d, want %d", v4, v3)
	}
}

func TestRecordStoreScanOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if _, err := store.Put(ctx, &models.Record{ID: id, Vector: []float32{1}, Document: id}); err != nil {
			t.Fatal(err)
		}
	}

	var order []string
	var lastSeq uint64
	err := store.Scan(ctx, func(rec *models.Record) error {
		if rec.Seq <= lastSeq {
			t.Errorf("scan out of order: seq %d after %d", rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq
		order = append(order, rec.ID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Errorf("scan order = %v, want ingest order [c a b]", order)
	}

	stop := errors.New("stop")
	err = store.Scan(ctx, func(*models.Record) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("Scan did not propagate callback error: %v", err)
	}
}

func TestRecordStoreMeta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("fresh store Meta = %+v, want nil", m)
	}

	want := &Meta{Dimension: 384, Metric: "cosine", IndexKind: "flat", CreatedAt: time.Now().UTC()}
	if err := store.SetMeta(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := store.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dimension != 384 || got.Metric != "cosine" || got.IndexKind != "flat" {
		t.Errorf("Meta = %+v", got)
	}
}

func TestRecordStoreFlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.db")
	ctx := context.Background()

	store, err := NewRecordStore(path, "c")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(ctx, &models.Record{ID: "a", Vector: []float32{1, 2}, Document: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewRecordStore(path, "c")
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Document != "x" || got.Vector[1] != 2 {
		t.Errorf("record lost across reopen: %+v", got)
	}
	if v, _ := reopened.Version(ctx); v != 1 {
		t.Errorf("version lost across reopen: %d", v)
	}
}

func TestRecordStoreCountsByMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	put := func(id, source string) {
		t.Helper()
		rec := &models.Record{
			ID:       id,
			Vector:   []float32{1},
			Document: "text",
		}
		if source != "" {
			rec.Metadata = map[string]any{"source": source}
		}
		if _, err := store.Put(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	put("a1", "alpha.pdf")
	put("a2", "alpha.pdf")
	put("a3", "alpha.pdf")
	put("b1", "beta.txt")
	put("c1", "") // no source key, excluded

	counts, err := store.CountsByMetadata(ctx, "source")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(counts), counts)
	}
	if counts[0].Name != "alpha.pdf" || counts[0].Count != 3 {
		t.Errorf("first group = %+v, want alpha.pdf x3", counts[0])
	}
	if counts[1].Name != "beta.txt" || counts[1].Count != 1 {
		t.Errorf("second group = %+v, want beta.txt x1", counts[1])
	}

	if _, err := store.CountsByMetadata(ctx, "missing"); err != nil {
		t.Fatalf("missing key should return empty, got error %v", err)
	}
}
