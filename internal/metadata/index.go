package metadata

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Index is an in-memory inverted index over record metadata. Equality and
// set-membership filters are answered by intersecting roaring bitmaps of
// internal slots; range filters fall back to checking candidate documents.
//
// The index is rebuilt from the record store on startup and kept in step
// with it on every write, so it never needs its own persistence.
type Index struct {
	mu     sync.RWMutex
	next   uint32
	free   []uint32
	slots  map[string]uint32
	ids    map[uint32]string
	docs   map[uint32]Document
	fields map[string]map[string]*roaring.Bitmap
}

// NewIndex returns an empty metadata index.
func NewIndex() *Index {
	return &Index{
		slots:  make(map[string]uint32),
		ids:    make(map[uint32]string),
		docs:   make(map[uint32]Document),
		fields: make(map[string]map[string]*roaring.Bitmap),
	}
}

// Set indexes the metadata for a record, replacing any previous entry for
// the same id.
func (ix *Index) Set(id string, doc Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	slot, exists := ix.slots[id]
	if exists {
		ix.unpostLocked(slot, ix.docs[slot])
	} else {
		slot = ix.allocLocked()
		ix.slots[id] = slot
		ix.ids[slot] = id
	}
	ix.docs[slot] = doc
	ix.postLocked(slot, doc)
}

// Delete removes a record from the index. It reports whether the id was
// present.
func (ix *Index) Delete(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	slot, ok := ix.slots[id]
	if !ok {
		return false
	}
	ix.unpostLocked(slot, ix.docs[slot])
	delete(ix.slots, id)
	delete(ix.ids, slot)
	delete(ix.docs, slot)
	ix.free = append(ix.free, slot)
	return true
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.slots)
}

// Reset drops all state.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.next = 0
	ix.free = nil
	ix.slots = make(map[string]uint32)
	ix.ids = make(map[uint32]string)
	ix.docs = make(map[uint32]Document)
	ix.fields = make(map[string]map[string]*roaring.Bitmap)
}

// IDs returns the ids of all records matching the filter set, in stable
// slot order. An empty set matches every record.
func (ix *Index) IDs(fs *FilterSet) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	candidates, verify := ix.compileLocked(fs)
	out := make([]string, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if len(verify) > 0 && !matchesAll(verify, ix.docs[slot]) {
			continue
		}
		out = append(out, ix.ids[slot])
	}
	return out
}

// Allow compiles the filter set into a predicate over record ids, for use
// as a search allow-list. A nil or empty set yields a nil predicate,
// meaning no restriction.
func (ix *Index) Allow(fs *FilterSet) func(id string) bool {
	if fs.Empty() {
		return nil
	}
	ix.mu.RLock()
	candidates, verify := ix.compileLocked(fs)
	ix.mu.RUnlock()

	return func(id string) bool {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		slot, ok := ix.slots[id]
		if !ok {
			return false
		}
		if !candidates.Contains(slot) {
			return false
		}
		if len(verify) > 0 && !matchesAll(verify, ix.docs[slot]) {
			return false
		}
		return true
	}
}

// compileLocked splits the set into a bitmap of candidate slots (from
// equality and in filters) and the residual filters that must be verified
// per document. With no bitmap-compatible filters the candidate set is
// every live slot.
func (ix *Index) compileLocked(fs *FilterSet) (*roaring.Bitmap, []Filter) {
	all := func() *roaring.Bitmap {
		bm := roaring.New()
		for slot := range ix.ids {
			bm.Add(slot)
		}
		return bm
	}
	if fs.Empty() {
		return all(), nil
	}

	var candidates *roaring.Bitmap
	var verify []Filter
	for _, f := range fs.Filters {
		if !f.bitmapCompatible() {
			verify = append(verify, f)
			continue
		}
		bm := ix.postingLocked(f)
		if candidates == nil {
			candidates = bm
		} else {
			candidates.And(bm)
		}
		if candidates.IsEmpty() {
			return candidates, nil
		}
	}
	if candidates == nil {
		candidates = all()
	}
	return candidates, verify
}

// postingLocked returns the slots matching a single equality or in filter
// as a fresh bitmap the caller may mutate.
func (ix *Index) postingLocked(f Filter) *roaring.Bitmap {
	byValue, ok := ix.fields[f.Field]
	if !ok {
		return roaring.New()
	}
	switch f.Op {
	case OpEqual:
		if bm, ok := byValue[f.Value.Key()]; ok {
			return bm.Clone()
		}
		return roaring.New()
	case OpIn:
		out := roaring.New()
		for _, v := range f.Values {
			if bm, ok := byValue[v.Key()]; ok {
				out.Or(bm)
			}
		}
		return out
	default:
		return roaring.New()
	}
}

func matchesAll(filters []Filter, doc Document) bool {
	for _, f := range filters {
		if !f.matches(doc) {
			return false
		}
	}
	return true
}

func (ix *Index) allocLocked() uint32 {
	if n := len(ix.free); n > 0 {
		slot := ix.free[n-1]
		ix.free = ix.free[:n-1]
		return slot
	}
	slot := ix.next
	ix.next++
	return slot
}

func (ix *Index) postLocked(slot uint32, doc Document) {
	for field, v := range doc {
		byValue, ok := ix.fields[field]
		if !ok {
			byValue = make(map[string]*roaring.Bitmap)
			ix.fields[field] = byValue
		}
		key := v.Key()
		bm, ok := byValue[key]
		if !ok {
			bm = roaring.New()
			byValue[key] = bm
		}
		bm.Add(slot)
	}
}

func (ix *Index) unpostLocked(slot uint32, doc Document) {
	for field, v := range doc {
		byValue, ok := ix.fields[field]
		if !ok {
			continue
		}
		key := v.Key()
		bm, ok := byValue[key]
		if !ok {
			continue
		}
		bm.Remove(slot)
		if bm.IsEmpty() {
			delete(byValue, key)
			if len(byValue) == 0 {
				delete(ix.fields, field)
			}
		}
	}
}
