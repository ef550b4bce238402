// Package index implements the sparse dual index at the heart of the
// toolkit: a column store keyed by term id whose columns list the documents
// each term occurs in, plus the row view and heap merge that reconstruct
// per-document term vectors without densifying the matrix.
package index

import "sort"

// Entry is one cell of the sparse matrix: a (document, count, weight)
// triple inside a term column.
type Entry struct {
	DI     int
	Count  int
	Weight float64
}

// Vector is one term column: the documents a term occurs in, sorted by
// document id, plus the term-level IDF scalar.
type Vector struct {
	Entries []Entry
	IDF     float64
}

// Len returns the number of documents in the column.
func (v *Vector) Len() int {
	if v == nil {
		return 0
	}
	return len(v.Entries)
}

// Find returns the entry for di, or nil.
func (v *Vector) Find(di int) *Entry {
	if v == nil {
		return nil
	}
	i := sort.Search(len(v.Entries), func(i int) bool { return v.Entries[i].DI >= di })
	if i < len(v.Entries) && v.Entries[i].DI == di {
		return &v.Entries[i]
	}
	return nil
}

// add accumulates (count, weight) for di, inserting in sorted position when
// absent.
func (v *Vector) add(di, count int, weight float64) {
	i := sort.Search(len(v.Entries), func(i int) bool { return v.Entries[i].DI >= di })
	if i < len(v.Entries) && v.Entries[i].DI == di {
		v.Entries[i].Count += count
		v.Entries[i].Weight += weight
		return
	}
	v.Entries = append(v.Entries, Entry{})
	copy(v.Entries[i+1:], v.Entries[i:])
	v.Entries[i] = Entry{DI: di, Count: count, Weight: weight}
}

// set overwrites the entry for di, inserting when absent.
func (v *Vector) set(di, count int, weight float64) {
	i := sort.Search(len(v.Entries), func(i int) bool { return v.Entries[i].DI >= di })
	if i < len(v.Entries) && v.Entries[i].DI == di {
		v.Entries[i].Count = count
		v.Entries[i].Weight = weight
		return
	}
	v.Entries = append(v.Entries, Entry{})
	copy(v.Entries[i+1:], v.Entries[i:])
	v.Entries[i] = Entry{DI: di, Count: count, Weight: weight}
}

// TotalCount sums the column's counts.
func (v *Vector) TotalCount() int {
	if v == nil {
		return 0
	}
	n := 0
	for i := range v.Entries {
		n += v.Entries[i].Count
	}
	return n
}

// Clone deep-copies the column.
func (v *Vector) Clone() *Vector {
	if v == nil {
		return nil
	}
	return &Vector{
		Entries: append([]Entry(nil), v.Entries...),
		IDF:     v.IDF,
	}
}
