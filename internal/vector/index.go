package vector

import "fmt"

// Entry is a vector to be indexed. Seq is the record's monotonic ingest
// sequence; it breaks score ties and fixes the replay order for rebuilds.
type Entry struct {
	ID     string
	Seq    uint64
	Vector []float32
}

// Match is a single search hit. Results are ordered by Score descending,
// then Seq ascending so equal scores keep first-ingested-first order.
type Match struct {
	ID    string
	Score float64
	Seq   uint64
}

// Index is a similarity index over embedding vectors. Implementations are
// safe for concurrent use. The index holds derived state only: it can
// always be rebuilt from the record store by replaying entries in Seq
// order.
type Index interface {
	// Insert adds or replaces entries by ID.
	Insert(entries ...Entry) error
	// Remove drops an entry and reports whether it was present.
	Remove(id string) bool
	// Query returns up to k matches for q, best first. A non-nil allow
	// restricts results to ids it accepts. If k exceeds the number of
	// candidates, all of them are returned.
	Query(q []float32, k int, allow func(id string) bool) ([]Match, error)
	// Size returns the number of live entries.
	Size() int
	// Kind identifies the implementation for snapshots and status.
	Kind() Kind
	// Dimension returns the vector dimensionality the index enforces.
	Dimension() int
	// Metric returns the similarity metric in use.
	Metric() Metric
	// MaxSeq returns the highest sequence the index has absorbed. It is
	// compared against the store's sequence on startup to detect stale
	// snapshots.
	MaxSeq() uint64
}

// ErrDimensionMismatch reports a vector whose length does not match the
// index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func lessMatch(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Seq < b.Seq
}
