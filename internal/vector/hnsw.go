package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// HNSWOptions tunes the hierarchical navigable small world graph.
type HNSWOptions struct {
	// M is the number of links created for each new node. Higher M improves
	// recall on high-dimensional data at the cost of memory and build time.
	M int
	// EFConstruction is the candidate list size while building the graph.
	EFConstruction int
	// EFSearch is the candidate list size while querying. It is the recall
	// knob: larger values search more of the graph.
	EFSearch int
	// Heuristic enables the neighbour-diversity heuristic instead of
	// plain nearest selection.
	Heuristic bool
	// Seed fixes the level generator so that rebuilding from the same
	// entry sequence reproduces the same graph.
	Seed int64
}

// DefaultHNSWOptions returns the defaults used when the configuration
// does not override them.
func DefaultHNSWOptions() HNSWOptions {
	return HNSWOptions{
		M:              16,
		EFConstruction: 200,
		EFSearch:       100,
		Heuristic:      true,
		Seed:           1,
	}
}

type hnswNode struct {
	id    string
	seq   uint64
	vec   []float32
	mag   float32
	layer int
	conns [][]uint32
}

// HNSW is an approximate index with sub-linear search. Deletes tombstone
// graph nodes: they stay as traversal waypoints but never surface in
// results, and the graph is compacted once dead nodes outnumber live
// ones. Queries that cannot be answered from the graph (k at or above
// the live size, or heavily filtered) fall back to an exact scan so the
// contract of Query stays the same as the flat index.
type HNSW struct {
	mu        sync.RWMutex
	dim       int
	metric    Metric
	opts      HNSWOptions
	mmax      int
	mmax0     int
	ml        float64
	ep        uint32
	maxLevel  int
	nodes     []*hnswNode
	byID      map[string]uint32
	deleted   *bitset.BitSet
	liveCount int
	maxSeq    uint64
	rng       *rand.Rand
}

// NewHNSW creates an empty graph index.
func NewHNSW(dim int, metric Metric, opts HNSWOptions) (*HNSW, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if opts.M < 2 {
		opts.M = 2
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M * 4
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultHNSWOptions().EFSearch
	}
	h := &HNSW{
		dim:     dim,
		metric:  metric,
		opts:    opts,
		mmax:    opts.M,
		mmax0:   2 * opts.M,
		ml:      1 / math.Log(float64(opts.M)),
		byID:    make(map[string]uint32),
		deleted: bitset.New(64),
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
	// Slot 0 is a sentinel entry point so the graph is never empty. It is
	// born tombstoned and can never match.
	h.nodes = []*hnswNode{{vec: make([]float32, dim), conns: make([][]uint32, 1)}}
	h.deleted.Set(0)
	return h, nil
}

func (h *HNSW) Kind() Kind     { return KindHNSW }
func (h *HNSW) Dimension() int { return h.dim }
func (h *HNSW) Metric() Metric { return h.metric }

// Options returns the build parameters, as persisted in snapshots.
func (h *HNSW) Options() HNSWOptions { return h.opts }

// Size returns the number of live entries.
func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveCount
}

// MaxSeq returns the highest sequence absorbed by Insert.
func (h *HNSW) MaxSeq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxSeq
}

// Insert adds or replaces entries. Replacing tombstones the old node and
// wires a fresh one, keeping the entry's ID and sequence identity.
func (h *HNSW) Insert(entries ...Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		if err := h.insertLocked(e); err != nil {
			return err
		}
	}
	h.maybeCompactLocked()
	return nil
}

func (h *HNSW) insertLocked(e Entry) error {
	if len(e.Vector) != h.dim {
		return &ErrDimensionMismatch{Expected: h.dim, Actual: len(e.Vector)}
	}
	if old, ok := h.byID[e.ID]; ok {
		h.deleted.Set(uint(old))
		h.liveCount--
	}

	vec := make([]float32, h.dim)
	copy(vec, e.Vector)
	node := &hnswNode{
		id:    e.ID,
		seq:   e.Seq,
		vec:   vec,
		mag:   Magnitude(vec),
		layer: int(math.Floor(-math.Log(h.rng.Float64()) * h.ml)),
	}
	node.conns = make([][]uint32, node.layer+1)

	id := uint32(len(h.nodes))
	entry, dist := h.greedyDescendLocked(node.vec, node.mag, node.layer)

	// Wire the new node level by level, carrying the nearest match down
	// as the next level's entry point.
	for level := min(node.layer, h.maxLevel); level >= 0; level-- {
		results := h.searchLayerLocked(node.vec, node.mag, &searchItem{node: entry, dist: dist}, h.opts.EFConstruction, level)
		candidates := drainAscending(results)
		selected := h.selectNeighboursLocked(candidates, h.opts.M)

		node.conns[level] = make([]uint32, len(selected))
		for i, it := range selected {
			node.conns[level][i] = it.node
		}
		if len(selected) > 0 {
			entry, dist = selected[0].node, selected[0].dist
		}
	}

	h.nodes = append(h.nodes, node)
	h.byID[e.ID] = id
	h.liveCount++
	if e.Seq > h.maxSeq {
		h.maxSeq = e.Seq
	}

	for level := min(node.layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range node.conns[level] {
			h.linkLocked(neighbour, id, level)
		}
	}

	if node.layer > h.maxLevel {
		h.ep = id
		h.maxLevel = node.layer
	}
	return nil
}

// Remove tombstones the entry for id.
func (h *HNSW) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.byID[id]
	if !ok {
		return false
	}
	h.deleted.Set(uint(slot))
	delete(h.byID, id)
	h.liveCount--
	h.maybeCompactLocked()
	return true
}

// Query searches the graph for the k nearest live entries.
func (h *HNSW) Query(q []float32, k int, allow func(id string) bool) ([]Match, error) {
	if len(q) != h.dim {
		return nil, &ErrDimensionMismatch{Expected: h.dim, Actual: len(q)}
	}
	if k <= 0 {
		return nil, nil
	}
	qmag := Magnitude(q)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.liveCount == 0 {
		return nil, nil
	}
	if k >= h.liveCount {
		return h.bruteLocked(q, qmag, k, allow), nil
	}

	ef := h.opts.EFSearch
	if ef < k {
		ef = k
	}
	entry, dist := h.greedyDescendLocked(q, qmag, 0)
	results := h.searchLayerLocked(q, qmag, &searchItem{node: entry, dist: dist}, ef, 0)

	matches := make([]Match, 0, k)
	for _, it := range results.items {
		n := h.nodes[it.node]
		if h.deleted.Test(uint(it.node)) {
			continue
		}
		if allow != nil && !allow(n.id) {
			continue
		}
		matches = append(matches, Match{ID: n.id, Score: h.metric.Score(it.dist), Seq: n.seq})
	}
	// Tombstones or a narrow filter can starve the candidate list even
	// though enough live entries exist; fall back to the exact scan.
	if len(matches) < k {
		return h.bruteLocked(q, qmag, k, allow), nil
	}
	sort.Slice(matches, func(i, j int) bool { return lessMatch(matches[i], matches[j]) })
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (h *HNSW) bruteLocked(q []float32, qmag float32, k int, allow func(id string) bool) []Match {
	matches := make([]Match, 0, h.liveCount)
	for slot, n := range h.nodes {
		if h.deleted.Test(uint(slot)) {
			continue
		}
		if allow != nil && !allow(n.id) {
			continue
		}
		d := h.metric.Distance(q, n.vec, qmag, n.mag)
		matches = append(matches, Match{ID: n.id, Score: h.metric.Score(d), Seq: n.seq})
	}
	sort.Slice(matches, func(i, j int) bool { return lessMatch(matches[i], matches[j]) })
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// greedyDescendLocked walks from the global entry point down to
// targetLayer+1, always moving to the closest neighbour, and returns the
// entry for the layer below.
func (h *HNSW) greedyDescendLocked(q []float32, qmag float32, targetLayer int) (uint32, float32) {
	curr := h.ep
	currDist := h.distToQueryLocked(q, qmag, curr)
	for level := h.nodes[curr].layer; level > targetLayer; level-- {
		changed := true
		for changed {
			changed = false
			node := h.nodes[curr]
			if level >= len(node.conns) {
				continue
			}
			for _, nb := range node.conns[level] {
				d := h.distToQueryLocked(q, qmag, nb)
				if d < currDist {
					curr, currDist = nb, d
					changed = true
				}
			}
		}
	}
	return curr, currDist
}

// searchLayerLocked runs a best-first search on one layer and returns up
// to ef candidates as a max-heap (farthest at the root).
func (h *HNSW) searchLayerLocked(q []float32, qmag float32, entry *searchItem, ef, level int) *searchQueue {
	var visited bitset.BitSet
	visited.Set(uint(entry.node))

	frontier := newSearchQueue(false)
	heap.Push(frontier, &searchItem{node: entry.node, dist: entry.dist})

	results := newSearchQueue(true)
	heap.Push(results, &searchItem{node: entry.node, dist: entry.dist})

	for frontier.Len() > 0 {
		candidate, _ := heap.Pop(frontier).(*searchItem)
		if candidate.dist > results.top().dist {
			break
		}
		node := h.nodes[candidate.node]
		if level >= len(node.conns) {
			continue
		}
		for _, nb := range node.conns[level] {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))
			d := h.distToQueryLocked(q, qmag, nb)
			if results.Len() < ef {
				heap.Push(results, &searchItem{node: nb, dist: d})
				heap.Push(frontier, &searchItem{node: nb, dist: d})
			} else if d < results.top().dist {
				heap.Pop(results)
				heap.Push(results, &searchItem{node: nb, dist: d})
				heap.Push(frontier, &searchItem{node: nb, dist: d})
			}
		}
	}
	return results
}

// selectNeighboursLocked picks up to m links from candidates ordered by
// ascending distance. The diversity heuristic skips a candidate that sits
// closer to an already selected neighbour than to the new node, which
// keeps links spread across clusters.
func (h *HNSW) selectNeighboursLocked(candidates []*searchItem, m int) []*searchItem {
	if len(candidates) <= m {
		return candidates
	}
	if !h.opts.Heuristic {
		return candidates[:m]
	}
	selected := make([]*searchItem, 0, m)
	var spilled []*searchItem
	for _, it := range candidates {
		if len(selected) >= m {
			break
		}
		diverse := true
		for _, s := range selected {
			if h.distLocked(s.node, it.node) < it.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, it)
		} else {
			spilled = append(spilled, it)
		}
	}
	for len(selected) < m && len(spilled) > 0 {
		selected = append(selected, spilled[0])
		spilled = spilled[1:]
	}
	return selected
}

// linkLocked adds a back-edge from -> to and re-prunes the neighbour list
// when it overflows the per-layer connection budget.
func (h *HNSW) linkLocked(from, to uint32, level int) {
	maxConn := h.mmax
	if level == 0 {
		maxConn = h.mmax0
	}
	node := h.nodes[from]
	if level >= len(node.conns) {
		return
	}
	node.conns[level] = append(node.conns[level], to)
	if len(node.conns[level]) <= maxConn {
		return
	}

	candidates := make([]*searchItem, 0, len(node.conns[level]))
	for _, nb := range node.conns[level] {
		candidates = append(candidates, &searchItem{node: nb, dist: h.distLocked(from, nb)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	selected := h.selectNeighboursLocked(candidates, maxConn)

	node.conns[level] = node.conns[level][:0]
	for _, it := range selected {
		node.conns[level] = append(node.conns[level], it.node)
	}
}

func (h *HNSW) distLocked(a, b uint32) float32 {
	na, nb := h.nodes[a], h.nodes[b]
	return h.metric.Distance(na.vec, nb.vec, na.mag, nb.mag)
}

func (h *HNSW) distToQueryLocked(q []float32, qmag float32, n uint32) float32 {
	node := h.nodes[n]
	return h.metric.Distance(q, node.vec, qmag, node.mag)
}

// maybeCompactLocked rebuilds the graph without tombstones once dead
// nodes outnumber live ones. Live entries are replayed in sequence order
// with a reseeded level generator, so the rebuilt graph is deterministic.
func (h *HNSW) maybeCompactLocked() {
	const minDead = 256
	dead := len(h.nodes) - 1 - h.liveCount
	if dead < minDead || dead <= h.liveCount {
		return
	}

	live := make([]Entry, 0, h.liveCount)
	for slot, n := range h.nodes {
		if h.deleted.Test(uint(slot)) {
			continue
		}
		live = append(live, Entry{ID: n.id, Seq: n.seq, Vector: n.vec})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Seq < live[j].Seq })

	h.nodes = []*hnswNode{{vec: make([]float32, h.dim), conns: make([][]uint32, 1)}}
	h.byID = make(map[string]uint32, len(live))
	h.deleted = bitset.New(uint(len(live)) + 1)
	h.deleted.Set(0)
	h.liveCount = 0
	h.ep = 0
	h.maxLevel = 0
	h.rng = rand.New(rand.NewSource(h.opts.Seed))

	for _, e := range live {
		// Dimensions were validated on first insert.
		_ = h.insertLocked(e)
	}
}

// drainAscending empties a max-heap result queue into a slice ordered by
// ascending distance.
func drainAscending(sq *searchQueue) []*searchItem {
	out := make([]*searchItem, sq.Len())
	for i := sq.Len() - 1; i >= 0; i-- {
		out[i], _ = heap.Pop(sq).(*searchItem)
	}
	return out
}
