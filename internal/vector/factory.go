package vector

import "fmt"

// Kind selects the index implementation.
type Kind string

const (
	// KindFlat uses exact brute-force search. Default; results are exact
	// and rebuilds reproduce the index bit for bit.
	KindFlat Kind = "flat"
	// KindHNSW uses an approximate graph index with sub-linear search.
	// Recall is tuned with ef_search.
	KindHNSW Kind = "hnsw"
)

// New creates an index of the given kind. An empty kind means flat.
// HNSW options are ignored for flat indexes.
func New(kind Kind, dim int, metric Metric, opts HNSWOptions) (Index, error) {
	switch kind {
	case KindFlat, "":
		return NewFlat(dim, metric)
	case KindHNSW:
		return NewHNSW(dim, metric, opts)
	default:
		return nil, fmt.Errorf("unknown index kind %q (supported: flat, hnsw)", kind)
	}
}
