package vector

import "container/heap"

var _ heap.Interface = (*searchQueue)(nil)

// searchItem pairs a graph node with its distance to the query.
type searchItem struct {
	node  uint32
	dist  float32
	index int
}

// searchQueue is a binary heap over searchItems. With max set it pops the
// farthest item first (a bounded result set), otherwise the nearest (a
// candidate frontier).
type searchQueue struct {
	max   bool
	items []*searchItem
}

func newSearchQueue(max bool) *searchQueue {
	sq := &searchQueue{max: max}
	heap.Init(sq)
	return sq
}

func (sq *searchQueue) Len() int { return len(sq.items) }

func (sq *searchQueue) Less(i, j int) bool {
	if sq.max {
		return sq.items[i].dist > sq.items[j].dist
	}
	return sq.items[i].dist < sq.items[j].dist
}

func (sq *searchQueue) Swap(i, j int) {
	sq.items[i], sq.items[j] = sq.items[j], sq.items[i]
	sq.items[i].index, sq.items[j].index = i, j
}

func (sq *searchQueue) Push(x any) {
	item, _ := x.(*searchItem)
	item.index = len(sq.items)
	sq.items = append(sq.items, item)
}

func (sq *searchQueue) Pop() any {
	old := sq.items
	n := len(old)
	if n == 0 {
		return nil
	}
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	sq.items = old[:n-1]
	return item
}

// top returns the root without removing it.
func (sq *searchQueue) top() *searchItem {
	return sq.items[0]
}
