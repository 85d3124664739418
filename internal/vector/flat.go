package vector

import (
	"fmt"
	"sort"
	"sync"
)

// Flat is an exact brute-force index. Every query scans all vectors, so
// results are exact and rebuilds are byte-for-byte reproducible. Suitable
// up to tens of thousands of vectors; beyond that use HNSW.
type Flat struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	ids    []string
	seqs   []uint64
	vecs   [][]float32
	mags   []float32
	pos    map[string]int
	maxSeq uint64
}

// NewFlat creates an empty exact index.
func NewFlat(dim int, metric Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &Flat{
		dim:    dim,
		metric: metric,
		pos:    make(map[string]int),
	}, nil
}

func (f *Flat) Kind() Kind     { return KindFlat }
func (f *Flat) Dimension() int { return f.dim }
func (f *Flat) Metric() Metric { return f.metric }

// Size returns the number of indexed vectors.
func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// MaxSeq returns the highest sequence absorbed by Insert.
func (f *Flat) MaxSeq() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maxSeq
}

// Insert adds entries, replacing any existing vector with the same ID in
// place so the entry keeps its position and sequence identity.
func (f *Flat) Insert(entries ...Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) != f.dim {
			return &ErrDimensionMismatch{Expected: f.dim, Actual: len(e.Vector)}
		}
		vec := make([]float32, f.dim)
		copy(vec, e.Vector)
		mag := Magnitude(vec)

		if i, ok := f.pos[e.ID]; ok {
			f.vecs[i] = vec
			f.mags[i] = mag
			f.seqs[i] = e.Seq
		} else {
			f.pos[e.ID] = len(f.ids)
			f.ids = append(f.ids, e.ID)
			f.seqs = append(f.seqs, e.Seq)
			f.vecs = append(f.vecs, vec)
			f.mags = append(f.mags, mag)
		}
		if e.Seq > f.maxSeq {
			f.maxSeq = e.Seq
		}
	}
	return nil
}

// Remove drops the entry for id using swap-delete.
func (f *Flat) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.pos[id]
	if !ok {
		return false
	}
	last := len(f.ids) - 1
	if i != last {
		f.ids[i] = f.ids[last]
		f.seqs[i] = f.seqs[last]
		f.vecs[i] = f.vecs[last]
		f.mags[i] = f.mags[last]
		f.pos[f.ids[i]] = i
	}
	f.ids = f.ids[:last]
	f.seqs = f.seqs[:last]
	f.vecs = f.vecs[:last]
	f.mags = f.mags[:last]
	delete(f.pos, id)
	return true
}

// Query scans every vector and returns the k best matches, ordered by
// score descending with ties broken by ingest order.
func (f *Flat) Query(q []float32, k int, allow func(id string) bool) ([]Match, error) {
	if len(q) != f.dim {
		return nil, &ErrDimensionMismatch{Expected: f.dim, Actual: len(q)}
	}
	if k <= 0 {
		return nil, nil
	}
	qmag := Magnitude(q)

	f.mu.RLock()
	defer f.mu.RUnlock()

	matches := make([]Match, 0, len(f.ids))
	for i, id := range f.ids {
		if allow != nil && !allow(id) {
			continue
		}
		d := f.metric.Distance(q, f.vecs[i], qmag, f.mags[i])
		matches = append(matches, Match{ID: id, Score: f.metric.Score(d), Seq: f.seqs[i]})
	}
	sort.Slice(matches, func(i, j int) bool { return lessMatch(matches[i], matches[j]) })
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}
