package barrel

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fsvxavier/nexs-textcat/internal/corpus"
)

// Infogain returns, per term, the information gain between the class label
// and the term's presence, computed over training documents. Terms with no
// training occurrences score zero.
func Infogain(b *Barrel) []float64 {
	numClasses := b.NumClasses()
	numTerms := b.Index.NumTerms()
	gains := make([]float64, numTerms)
	if numClasses == 0 {
		return gains
	}

	// Per-class training document totals.
	classDocs := make([]float64, numClasses)
	total := 0.0
	for di := range b.Docs {
		d := &b.Docs[di]
		if d.Tag != corpus.TagTrain || d.Class < 0 || d.Class >= numClasses {
			continue
		}
		classDocs[d.Class]++
		total++
	}
	if total == 0 {
		return gains
	}

	classDist := make([]float64, numClasses)
	for ci := range classDocs {
		classDist[ci] = classDocs[ci] / total
	}
	baseEntropy := stat.Entropy(classDist)

	present := make([]float64, numClasses)
	absent := make([]float64, numClasses)
	for wi := 0; wi < numTerms; wi++ {
		v := b.Index.ColumnIncludingHidden(wi)
		if v.Len() == 0 {
			continue
		}
		for ci := range present {
			present[ci] = 0
		}
		with := 0.0
		for i := range v.Entries {
			di := v.Entries[i].DI
			if di >= len(b.Docs) {
				continue
			}
			d := &b.Docs[di]
			if d.Tag != corpus.TagTrain || d.Class < 0 || d.Class >= numClasses {
				continue
			}
			present[d.Class]++
			with++
		}
		if with == 0 || with == total {
			continue
		}
		for ci := range present {
			absent[ci] = (classDocs[ci] - present[ci]) / (total - with)
			present[ci] /= with
		}
		pw := with / total
		gain := baseEntropy - pw*stat.Entropy(present) - (1-pw)*stat.Entropy(absent)
		if gain > 0 {
			gains[wi] = gain
		}
	}
	return gains
}

// HideAllButTopInfogain hides every term except the n with the highest
// information gain, implementing infogain-based feature selection without
// reindexing.
func HideAllButTopInfogain(b *Barrel, n int) []int {
	gains := Infogain(b)
	order := make([]int, len(gains))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return gains[order[i]] > gains[order[j]] })

	if n > len(order) {
		n = len(order)
	}
	keep := make(map[int]bool, n)
	kept := make([]int, 0, n)
	for _, wi := range order[:n] {
		keep[wi] = true
		kept = append(kept, wi)
	}
	for wi := 0; wi < b.Index.NumTerms(); wi++ {
		if !keep[wi] {
			b.Index.Hide(wi)
		}
	}
	sort.Ints(kept)
	return kept
}
