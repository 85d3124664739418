package vector

import (
	"errors"
	"testing"
)

func entry(id string, seq uint64, v ...float32) Entry {
	return Entry{ID: id, Seq: seq, Vector: v}
}

func ids(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFlatQueryOrdering(t *testing.T) {
	f, err := NewFlat(2, MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Insert(
		entry("east", 1, 1, 0),
		entry("north", 2, 0, 1),
		entry("northeast", 3, 1, 1),
	); err != nil {
		t.Fatal(err)
	}

	got, err := f.Query([]float32{1, 0.1}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !equalStrings(ids(got), []string{"east", "northeast"}) {
		t.Errorf("query order = %v, want [east northeast]", ids(got))
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v then %v", got[0].Score, got[1].Score)
	}
}

func TestFlatTieBreakBySeq(t *testing.T) {
	f, _ := NewFlat(2, MetricCosine)
	// Same direction means identical cosine scores; insertion order must
	// decide.
	if err := f.Insert(
		entry("second", 2, 2, 0),
		entry("first", 1, 1, 0),
		entry("third", 3, 4, 0),
	); err != nil {
		t.Fatal(err)
	}
	got, err := f.Query([]float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !equalStrings(ids(got), []string{"first", "second", "third"}) {
		t.Errorf("tie order = %v, want [first second third]", ids(got))
	}
}

func TestFlatKLargerThanSize(t *testing.T) {
	f, _ := NewFlat(2, MetricCosine)
	if err := f.Insert(entry("a", 1, 1, 0), entry("b", 2, 0, 1)); err != nil {
		t.Fatal(err)
	}
	got, err := f.Query([]float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d matches, want all 2", len(got))
	}
}

func TestFlatUpsertKeepsIdentity(t *testing.T) {
	f, _ := NewFlat(2, MetricCosine)
	if err := f.Insert(entry("a", 1, 1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := f.Insert(entry("a", 1, 0, 1)); err != nil {
		t.Fatal(err)
	}
	if f.Size() != 1 {
		t.Fatalf("Size = %d after upsert, want 1", f.Size())
	}
	got, err := f.Query([]float32{0, 1}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("query after upsert = %v", got)
	}
	if !approxEqual(got[0].Score, 1, 1e-5) {
		t.Errorf("upserted vector not searchable by new value, score = %v", got[0].Score)
	}
}

func TestFlatRemove(t *testing.T) {
	f, _ := NewFlat(2, MetricCosine)
	if err := f.Insert(entry("a", 1, 1, 0), entry("b", 2, 0, 1), entry("c", 3, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if !f.Remove("b") {
		t.Fatal("Remove(b) = false")
	}
	if f.Remove("b") {
		t.Fatal("second Remove(b) = true")
	}
	if f.Size() != 2 {
		t.Errorf("Size = %d, want 2", f.Size())
	}
	got, err := f.Query([]float32{0, 1}, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range got {
		if m.ID == "b" {
			t.Error("removed entry still returned")
		}
	}
}

func TestFlatDimensionMismatch(t *testing.T) {
	f, _ := NewFlat(3, MetricCosine)
	err := f.Insert(entry("a", 1, 1, 0))
	var dimErr *ErrDimensionMismatch
	if !errors.As(err, &dimErr) {
		t.Fatalf("Insert error = %v, want ErrDimensionMismatch", err)
	}
	if dimErr.Expected != 3 || dimErr.Actual != 2 {
		t.Errorf("mismatch detail = %+v", dimErr)
	}
	if _, err := f.Query([]float32{1, 0}, 1, nil); !errors.As(err, &dimErr) {
		t.Errorf("Query error = %v, want ErrDimensionMismatch", err)
	}
}

func TestFlatAllowFilter(t *testing.T) {
	f, _ := NewFlat(2, MetricCosine)
	if err := f.Insert(entry("a", 1, 1, 0), entry("b", 2, 1, 0.01), entry("c", 3, 0, 1)); err != nil {
		t.Fatal(err)
	}
	got, err := f.Query([]float32{1, 0}, 3, func(id string) bool { return id != "a" })
	if err != nil {
		t.Fatal(err)
	}
	if !equalStrings(ids(got), []string{"b", "c"}) {
		t.Errorf("filtered query = %v, want [b c]", ids(got))
	}
}

func TestFlatMaxSeq(t *testing.T) {
	f, _ := NewFlat(2, MetricCosine)
	if f.MaxSeq() != 0 {
		t.Fatalf("empty MaxSeq = %d", f.MaxSeq())
	}
	if err := f.Insert(entry("a", 5, 1, 0), entry("b", 3, 0, 1)); err != nil {
		t.Fatal(err)
	}
	if f.MaxSeq() != 5 {
		t.Errorf("MaxSeq = %d, want 5", f.MaxSeq())
	}
	f.Remove("a")
	if f.MaxSeq() != 5 {
		t.Errorf("MaxSeq after remove = %d, want 5", f.MaxSeq())
	}
}
