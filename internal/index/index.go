package index

import (
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

// column wraps a term vector with its lazy-load bookkeeping. A column with
// vec == nil and seek >= 0 has not been read from the backing file yet.
type column struct {
	vec  *Vector
	seek int64
}

// Index is the sparse dual index ("word to documents"): an array indexed by
// term id of document vectors, with term hiding for feature selection and
// optional lazy column loading from a backing reader.
type Index struct {
	cols   []*column
	hidden *bitset.BitSet

	// lazy-load state, set by Open
	backing *reader
}

// New creates an empty index.
func New() *Index {
	return &Index{hidden: bitset.New(64)}
}

// NumTerms returns the highest term id plus one.
func (x *Index) NumTerms() int {
	return len(x.cols)
}

// grow ensures the column array covers wi.
func (x *Index) grow(wi int) {
	for len(x.cols) <= wi {
		x.cols = append(x.cols, nil)
	}
}

// Add accumulates (count, weight) at (wi, di), keeping the column sorted by
// document id. Repeated additions at the same cell sum counts and weights.
func (x *Index) Add(wi, di, count int, weight float64) {
	if wi < 0 || di < 0 {
		return
	}
	x.grow(wi)
	if x.cols[wi] == nil {
		x.cols[wi] = &column{vec: &Vector{}, seek: -1}
	}
	x.ensureLoaded(wi)
	x.cols[wi].vec.add(di, count, weight)
}

// Set overwrites the cell at (wi, di).
func (x *Index) Set(wi, di, count int, weight float64) {
	if wi < 0 || di < 0 {
		return
	}
	x.grow(wi)
	if x.cols[wi] == nil {
		x.cols[wi] = &column{vec: &Vector{}, seek: -1}
	}
	x.ensureLoaded(wi)
	x.cols[wi].vec.set(di, count, weight)
}

// Column returns the column for wi, or nil when absent or hidden.
func (x *Index) Column(wi int) *Vector {
	if wi < 0 || wi >= len(x.cols) || x.hidden.Test(uint(wi)) {
		return nil
	}
	return x.ColumnIncludingHidden(wi)
}

// ColumnIncludingHidden returns the column for wi bypassing hiding, or nil
// when absent.
func (x *Index) ColumnIncludingHidden(wi int) *Vector {
	if wi < 0 || wi >= len(x.cols) || x.cols[wi] == nil {
		return nil
	}
	x.ensureLoaded(wi)
	return x.cols[wi].vec
}

// Entry returns the single cell at (wi, di), or nil.
func (x *Index) Entry(wi, di int) *Entry {
	return x.Column(wi).Find(di)
}

// Hide makes lookups of wi return nil without freeing storage. Hiding an
// out-of-range term is a no-op.
func (x *Index) Hide(wi int) {
	if wi < 0 || wi >= len(x.cols) {
		return
	}
	x.hidden.Set(uint(wi))
}

// Unhide restores visibility of wi, including its per-entry weights.
func (x *Index) Unhide(wi int) {
	if wi < 0 || wi >= len(x.cols) {
		return
	}
	x.hidden.Clear(uint(wi))
}

// Hidden reports whether wi is hidden.
func (x *Index) Hidden(wi int) bool {
	return wi >= 0 && wi < len(x.cols) && x.hidden.Test(uint(wi))
}

// HideAll hides every term.
func (x *Index) HideAll() {
	for wi := range x.cols {
		x.hidden.Set(uint(wi))
	}
}

// UnhideAll restores visibility of every term.
func (x *Index) UnhideAll() {
	x.hidden.ClearAll()
}

// HideByDocCount hides terms occurring in at most max documents.
func (x *Index) HideByDocCount(max int) int {
	hidden := 0
	for wi := range x.cols {
		if v := x.ColumnIncludingHidden(wi); v != nil && v.Len() <= max {
			x.Hide(wi)
			hidden++
		}
	}
	return hidden
}

// HideByOccurCount hides terms whose summed count is at most max.
func (x *Index) HideByOccurCount(max int) int {
	hidden := 0
	for wi := range x.cols {
		if v := x.ColumnIncludingHidden(wi); v != nil && v.TotalCount() <= max {
			x.Hide(wi)
			hidden++
		}
	}
	return hidden
}

// HideByPrefix hides terms whose string has the given prefix. When invert
// is true, terms without the prefix are hidden instead.
func (x *Index) HideByPrefix(v *vocab.Map, prefix string, invert bool) int {
	hidden := 0
	for wi := range x.cols {
		if x.cols[wi] == nil || wi >= v.Size() {
			continue
		}
		has := strings.HasPrefix(v.MustWord(wi), prefix)
		if has != invert {
			x.Hide(wi)
			hidden++
		}
	}
	return hidden
}

// VisibleTerms returns the ids of non-hidden, non-empty columns in order.
func (x *Index) VisibleTerms() []int {
	out := make([]int, 0, len(x.cols))
	for wi := range x.cols {
		if x.Hidden(wi) {
			continue
		}
		if v := x.ColumnIncludingHidden(wi); v.Len() > 0 {
			out = append(out, wi)
		}
	}
	return out
}

// PruneHidden physically removes hidden columns, freeing their storage.
// Unlike Hide, this cannot be undone.
func (x *Index) PruneHidden() {
	for wi := range x.cols {
		if x.hidden.Test(uint(wi)) {
			x.cols[wi] = nil
			x.hidden.Clear(uint(wi))
		}
	}
}

// Remap rebuilds the index applying a vocabulary remap produced by
// vocab.Map.Prune: column old-wi moves to remap[old-wi], dropped terms are
// discarded. Hiding flags are reset.
func (x *Index) Remap(remap []int) {
	cols := make([]*column, 0, len(x.cols))
	for wi, c := range x.cols {
		if wi >= len(remap) || remap[wi] == vocab.NoSuchTerm || c == nil {
			continue
		}
		x.ensureLoaded(wi)
		nwi := remap[wi]
		for len(cols) <= nwi {
			cols = append(cols, nil)
		}
		cols[nwi] = c
	}
	x.cols = cols
	x.hidden.ClearAll()
	x.backing = nil
}

// MaxDI returns the largest document id present, or -1 for an empty index.
func (x *Index) MaxDI() int {
	max := -1
	for wi := range x.cols {
		v := x.ColumnIncludingHidden(wi)
		if n := v.Len(); n > 0 && v.Entries[n-1].DI > max {
			max = v.Entries[n-1].DI
		}
	}
	return max
}

// DocCounts returns, for every term, the number of documents it occurs in.
// Hidden terms report zero.
func (x *Index) DocCounts() []int {
	out := make([]int, len(x.cols))
	for wi := range x.cols {
		if !x.Hidden(wi) {
			out[wi] = x.ColumnIncludingHidden(wi).Len()
		}
	}
	return out
}

// OccurCounts returns, for every term, its summed occurrence count. Hidden
// terms report zero.
func (x *Index) OccurCounts() []int {
	out := make([]int, len(x.cols))
	for wi := range x.cols {
		if !x.Hidden(wi) {
			out[wi] = x.ColumnIncludingHidden(wi).TotalCount()
		}
	}
	return out
}

// Clone deep-copies the index, materializing any lazy columns.
func (x *Index) Clone() *Index {
	c := New()
	c.cols = make([]*column, len(x.cols))
	for wi := range x.cols {
		if x.cols[wi] == nil {
			continue
		}
		x.ensureLoaded(wi)
		c.cols[wi] = &column{vec: x.cols[wi].vec.Clone(), seek: -1}
	}
	c.hidden = x.hidden.Clone()
	return c
}
