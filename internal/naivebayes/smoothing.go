package naivebayes

import (
	"math"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
)

// floorProb is the smallest probability ever returned, keeping logs finite
// even for degenerate statistics.
const floorProb = 1e-12

// classModel caches the sufficient statistics scoring needs from a class
// barrel: per-class count mass, distinct-type counts, and Good-Turing
// count-of-count tables. Statistics read entry weights, so EM's fractional
// soft counts flow through unchanged.
type classModel struct {
	src *barrel.Barrel

	vocabSize float64
	nc        []float64 // per-class total mass
	types     []float64 // per-class distinct seen terms

	// Good-Turing state, built only when that smoothing is selected.
	gtAdjusted [][]float64 // per class: adjusted count for raw count r <= k
	gtSeenNorm []float64   // per class: sum of adjusted counts over seen terms
	gtUnseen   []float64   // per class: mass reserved for unseen terms

	alphaSum float64
}

// prepare computes (or reuses) the model for a class barrel.
func (m *Method) prepare(class *barrel.Barrel) *classModel {
	if m.model != nil && m.model.src == class {
		return m.model
	}
	numClasses := len(class.Docs)
	model := &classModel{
		src:   class,
		nc:    make([]float64, numClasses),
		types: make([]float64, numClasses),
	}
	if class.Vocab != nil && class.Vocab.Size() > 0 {
		model.vocabSize = float64(class.Vocab.Size())
	} else {
		model.vocabSize = float64(class.Index.NumTerms())
	}

	var countCounts []map[int]float64
	if m.params.Smoothing == SmoothGoodTuring {
		countCounts = make([]map[int]float64, numClasses)
		for ci := range countCounts {
			countCounts[ci] = map[int]float64{}
		}
	}

	for wi := 0; wi < class.Index.NumTerms(); wi++ {
		v := class.Index.Column(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			ci := v.Entries[i].DI
			w := v.Entries[i].Weight
			if ci < 0 || ci >= numClasses || w <= 0 {
				continue
			}
			model.nc[ci] += w
			model.types[ci]++
			if countCounts != nil {
				countCounts[ci][int(math.Round(w))]++
			}
		}
	}

	if m.params.Smoothing == SmoothGoodTuring {
		m.prepareGoodTuring(class, model, countCounts)
	}
	if m.params.Smoothing == SmoothDirichlet {
		model.alphaSum = 0
		for _, a := range m.params.DirichletAlphas {
			model.alphaSum += a
		}
		if len(m.params.DirichletAlphas) == 0 {
			model.alphaSum = model.vocabSize
		}
		model.alphaSum *= m.params.DirichletWeight
	}

	m.model = model
	return model
}

// prepareGoodTuring fills the adjusted-count tables: for raw counts r <= k,
// the Good-Turing estimate r* = (r+1) n_{r+1} / n_r, and the unseen mass
// n_1 / N, with seen-term probabilities renormalized to 1 - n_1/N.
func (m *Method) prepareGoodTuring(class *barrel.Barrel, model *classModel, countCounts []map[int]float64) {
	k := m.params.GoodTuringK
	if k < 1 {
		k = 7
	}
	numClasses := len(model.nc)
	model.gtAdjusted = make([][]float64, numClasses)
	model.gtSeenNorm = make([]float64, numClasses)
	model.gtUnseen = make([]float64, numClasses)

	for ci := 0; ci < numClasses; ci++ {
		adj := make([]float64, k+1)
		for r := 1; r <= k; r++ {
			nr := countCounts[ci][r]
			nr1 := countCounts[ci][r+1]
			if nr > 0 && nr1 > 0 {
				adj[r] = float64(r+1) * nr1 / nr
			} else {
				adj[r] = float64(r)
			}
		}
		model.gtAdjusted[ci] = adj
		if model.nc[ci] > 0 {
			model.gtUnseen[ci] = countCounts[ci][1] / model.nc[ci]
			if model.gtUnseen[ci] >= 1 {
				model.gtUnseen[ci] = 0.5
			}
		}
	}

	// Second pass for the seen-mass normalizer.
	for wi := 0; wi < class.Index.NumTerms(); wi++ {
		v := class.Index.Column(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			ci := v.Entries[i].DI
			w := v.Entries[i].Weight
			if ci < 0 || ci >= numClasses || w <= 0 {
				continue
			}
			model.gtSeenNorm[ci] += model.goodTuringCount(ci, w, k)
		}
	}
}

// goodTuringCount maps a raw count to its adjusted value.
func (model *classModel) goodTuringCount(ci int, w float64, k int) float64 {
	r := int(math.Round(w))
	if r >= 1 && r <= k {
		return model.gtAdjusted[ci][r]
	}
	return w
}

// wordProb computes P(w|c) under the configured smoothing. looWord and
// looTotal are the leave-one-out subtractions from n_wc and n_c.
func (m *Method) wordProb(class *barrel.Barrel, model *classModel, ci, wi int, looWord, looTotal float64) float64 {
	var nwc float64
	if e := class.Index.Entry(wi, ci); e != nil {
		nwc = e.Weight
	}
	nwc -= looWord
	if nwc < 0 {
		nwc = 0
	}
	nc := model.nc[ci] - looTotal
	if nc < 0 {
		nc = 0
	}
	v := model.vocabSize

	var p float64
	switch m.params.Smoothing {
	case SmoothLaplace:
		p = (nwc + 1) / (nc + v)

	case SmoothMEstimate:
		mm := m.params.MEstimateM
		if mm <= 0 {
			mm = 1
		}
		p0 := m.params.MEstimateP
		if p0 <= 0 {
			p0 = 1 / v
		}
		p = (nwc + mm*p0) / (nc + mm)

	case SmoothWittenBell:
		t := model.types[ci]
		if nc+t == 0 {
			p = 1 / v
		} else if nwc > 0 {
			p = nwc / (nc + t)
		} else {
			unseen := v - t
			if unseen < 1 {
				unseen = 1
			}
			p = t / ((nc + t) * unseen)
		}

	case SmoothGoodTuring:
		k := m.params.GoodTuringK
		if k < 1 {
			k = 7
		}
		if model.gtSeenNorm[ci] == 0 {
			p = 1 / v
		} else if nwc > 0 {
			p = (1 - model.gtUnseen[ci]) * model.goodTuringCount(ci, nwc, k) / model.gtSeenNorm[ci]
		} else {
			unseen := v - model.types[ci]
			if unseen < 1 {
				unseen = 1
			}
			p = model.gtUnseen[ci] / unseen
		}

	case SmoothDirichlet:
		alpha := 1.0
		if wi < len(m.params.DirichletAlphas) {
			alpha = m.params.DirichletAlphas[wi]
		}
		alpha *= m.params.DirichletWeight
		p = (nwc + alpha) / (nc + model.alphaSum)

	default:
		p = (nwc + 1) / (nc + v)
	}

	if p < floorProb {
		p = floorProb
	}
	return p
}
