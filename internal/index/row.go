package index

import (
	"container/heap"
	"sort"
)

// RowEntry is one cell of a row view: a (term, count, weight) triple.
type RowEntry struct {
	WI     int
	Count  int
	Weight float64
}

// Row is the per-document view of the matrix: the document's terms sorted
// by term id plus a method-specific normalizer.
type Row struct {
	Entries    []RowEntry
	Normalizer float64
}

// WordCount sums the row's counts.
func (r *Row) WordCount() int {
	n := 0
	for i := range r.Entries {
		n += r.Entries[i].Count
	}
	return n
}

// Find returns the entry for wi, or nil.
func (r *Row) Find(wi int) *RowEntry {
	i := sort.Search(len(r.Entries), func(i int) bool { return r.Entries[i].WI >= wi })
	if i < len(r.Entries) && r.Entries[i].WI == wi {
		return &r.Entries[i]
	}
	return nil
}

// Clone deep-copies the row.
func (r *Row) Clone() *Row {
	return &Row{
		Entries:    append([]RowEntry(nil), r.Entries...),
		Normalizer: r.Normalizer,
	}
}

// NewRow builds a row from unordered (term, count) pairs, merging
// duplicates and sorting by term id. Weights start equal to counts.
func NewRow(counts map[int]int) *Row {
	r := &Row{Entries: make([]RowEntry, 0, len(counts))}
	for wi, c := range counts {
		r.Entries = append(r.Entries, RowEntry{WI: wi, Count: c, Weight: float64(c)})
	}
	sort.Slice(r.Entries, func(i, j int) bool { return r.Entries[i].WI < r.Entries[j].WI })
	return r
}

// cursor tracks the iteration position inside one term column.
type cursor struct {
	wi  int
	vec *Vector
	pos int
}

func (c *cursor) di() int { return c.vec.Entries[c.pos].DI }

// cursorHeap is a min-heap on each cursor's current document id.
type cursorHeap []*cursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return h[i].di() < h[j].di() }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(v interface{}) { *h = append(*h, v.(*cursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// RowIter merges the index's columns into rows in ascending document id
// order, visiting each document exactly once and never densifying the
// matrix. Hidden columns do not contribute.
type RowIter struct {
	h    cursorHeap
	pred func(di int) bool
}

// Rows returns an iterator over all rows whose document id satisfies pred.
// A nil pred accepts every document.
func (x *Index) Rows(pred func(di int) bool) *RowIter {
	it := &RowIter{pred: pred}
	for wi := range x.cols {
		if x.Hidden(wi) {
			continue
		}
		v := x.ColumnIncludingHidden(wi)
		if v.Len() == 0 {
			continue
		}
		it.h = append(it.h, &cursor{wi: wi, vec: v})
	}
	heap.Init(&it.h)
	return it
}

// Next returns the next (document id, row) pair, or ok == false when the
// matrix is exhausted. Rows come back sorted by term id.
func (it *RowIter) Next() (int, *Row, bool) {
	for it.h.Len() > 0 {
		di := it.h[0].di()
		row := &Row{}
		for it.h.Len() > 0 && it.h[0].di() == di {
			c := it.h[0]
			e := &c.vec.Entries[c.pos]
			row.Entries = append(row.Entries, RowEntry{WI: c.wi, Count: e.Count, Weight: e.Weight})
			c.pos++
			if c.pos >= c.vec.Len() {
				heap.Pop(&it.h)
			} else {
				heap.Fix(&it.h, 0)
			}
		}
		if it.pred != nil && !it.pred(di) {
			continue
		}
		sort.Slice(row.Entries, func(i, j int) bool { return row.Entries[i].WI < row.Entries[j].WI })
		return di, row, true
	}
	return -1, nil, false
}

// DocRow reconstructs the single row for di by probing every visible
// column. Useful for random access; sweeps should use Rows.
func (x *Index) DocRow(di int) *Row {
	row := &Row{}
	for wi := range x.cols {
		if e := x.Entry(wi, di); e != nil {
			row.Entries = append(row.Entries, RowEntry{WI: wi, Count: e.Count, Weight: e.Weight})
		}
	}
	return row
}
