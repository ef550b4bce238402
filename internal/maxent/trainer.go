package maxent

import (
	"math"
	"sort"

	"github.com/james-bowman/sparse"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
)

// trainer carries the iterative scaling state: the CSR design matrix over
// training documents, the empirical constraints, the per-(document, class)
// total feature counts, and the lambda barrel being fit.
type trainer struct {
	m     *Method
	doc   *barrel.Barrel
	class *barrel.Barrel

	numClasses int
	numTrain   int

	design  *sparse.CSR // train rows x terms, raw weights
	rowDocs []int       // CSR row -> document id
	rowOf   []int       // document id -> CSR row, -1 when not training

	// constraints holds the empirical expectation for each (word, class)
	// feature in its weight; raw counts stay in rawCounts for the
	// variance scaling.
	constraints *index.Index
	rawCounts   *index.Index

	fsharp    [][]int // per row, per class: total active feature count
	maxFsharp int

	probs [][]float64 // per row: current P(c|d)
}

func newTrainer(m *Method, doc *barrel.Barrel, numClasses int) *trainer {
	tr := &trainer{
		m:          m,
		doc:        doc,
		numClasses: numClasses,
	}
	tr.buildDesign()
	tr.buildConstraints()
	tr.pruneFeatures()
	tr.buildFsharp()
	tr.buildLambdaBarrel()
	return tr
}

// buildDesign walks training rows in document order into a CSR matrix.
func (tr *trainer) buildDesign() {
	numTerms := tr.doc.Index.NumTerms()
	ia := []int{0}
	ja := []int{}
	data := []float64{}

	tr.rowOf = make([]int, len(tr.doc.Docs))
	for i := range tr.rowOf {
		tr.rowOf[i] = -1
	}

	it := tr.doc.Index.Rows(tr.doc.TagPredicate(corpus.TagTrain))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		tr.rowOf[di] = len(tr.rowDocs)
		tr.rowDocs = append(tr.rowDocs, di)
		for i := range row.Entries {
			ja = append(ja, row.Entries[i].WI)
			data = append(data, row.Entries[i].Weight)
		}
		ia = append(ia, len(ja))
	}
	tr.numTrain = len(tr.rowDocs)
	if tr.numTrain > 0 {
		tr.design = sparse.NewCSR(tr.numTrain, numTerms, ia, ja, data)
	}
}

// buildConstraints accumulates empirical feature expectations from the
// training documents.
func (tr *trainer) buildConstraints() {
	tr.constraints = index.New()
	tr.rawCounts = index.New()

	for wi := 0; wi < tr.doc.Index.NumTerms(); wi++ {
		v := tr.doc.Index.Column(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			e := &v.Entries[i]
			if e.DI >= len(tr.doc.Docs) {
				continue
			}
			d := &tr.doc.Docs[e.DI]
			if d.Tag != corpus.TagTrain || d.Class < 0 || d.Class >= tr.numClasses {
				continue
			}
			tr.rawCounts.Add(wi, d.Class, e.Count, e.Weight)
		}
	}

	n := float64(tr.numTrain)
	if n == 0 {
		return
	}
	for wi := 0; wi < tr.rawCounts.NumTerms(); wi++ {
		v := tr.rawCounts.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			e := &v.Entries[i]
			raw := e.Weight
			var value float64
			switch tr.m.params.Constraints {
			case ConstraintLogCounts:
				value = math.Log(1 + raw)
			case ConstraintSmoothed:
				value = raw + 1
			default:
				value = raw
			}
			tr.constraints.Set(wi, e.DI, e.Count, value/n)
		}
	}
}

// pruneFeatures drops (word, class) pairs below the count floor and, when
// WordsPerClass is set, keeps only each class's highest-mutual-information
// features.
func (tr *trainer) pruneFeatures() {
	minCount := tr.m.params.MinCount
	perClass := tr.m.params.WordsPerClass
	if minCount <= 0 && perClass <= 0 {
		return
	}

	// Per-class word totals for pointwise mutual information.
	classTotals := make([]float64, tr.numClasses)
	wordTotals := map[int]float64{}
	grand := 0.0
	for wi := 0; wi < tr.rawCounts.NumTerms(); wi++ {
		v := tr.rawCounts.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			classTotals[v.Entries[i].DI] += v.Entries[i].Weight
			wordTotals[wi] += v.Entries[i].Weight
			grand += v.Entries[i].Weight
		}
	}

	type scored struct {
		wi    int
		score float64
	}
	keepers := make([]map[int]bool, tr.numClasses)
	if perClass > 0 {
		ranked := make([][]scored, tr.numClasses)
		for wi := 0; wi < tr.rawCounts.NumTerms(); wi++ {
			v := tr.rawCounts.ColumnIncludingHidden(wi)
			if v == nil {
				continue
			}
			for i := range v.Entries {
				ci := v.Entries[i].DI
				nwc := v.Entries[i].Weight
				if nwc <= 0 || classTotals[ci] <= 0 || wordTotals[wi] <= 0 {
					continue
				}
				mi := nwc * math.Log(nwc*grand/(wordTotals[wi]*classTotals[ci]))
				ranked[ci] = append(ranked[ci], scored{wi: wi, score: mi})
			}
		}
		for ci := range ranked {
			sort.Slice(ranked[ci], func(i, j int) bool { return ranked[ci][i].score > ranked[ci][j].score })
			keepers[ci] = make(map[int]bool, perClass)
			for i := 0; i < len(ranked[ci]) && i < perClass; i++ {
				keepers[ci][ranked[ci][i].wi] = true
			}
		}
	}

	pruned := index.New()
	for wi := 0; wi < tr.constraints.NumTerms(); wi++ {
		v := tr.constraints.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			e := &v.Entries[i]
			raw := tr.rawCounts.Entry(wi, e.DI)
			if minCount > 0 && (raw == nil || raw.Weight < float64(minCount)) {
				continue
			}
			if perClass > 0 && !keepers[e.DI][wi] {
				continue
			}
			pruned.Set(wi, e.DI, e.Count, e.Weight)
		}
	}
	tr.constraints = pruned
}

// buildFsharp computes, per (training document, class), the total count of
// active features, and maxFsharp as one more than the maximum over all
// pairs (the number of f# buckets).
func (tr *trainer) buildFsharp() {
	tr.fsharp = make([][]int, tr.numTrain)
	for ri := range tr.fsharp {
		tr.fsharp[ri] = make([]int, tr.numClasses)
	}
	if tr.design == nil {
		return
	}
	for ri := 0; ri < tr.numTrain; ri++ {
		tr.design.DoRowNonZero(ri, func(_, wi int, w float64) {
			v := tr.constraints.ColumnIncludingHidden(wi)
			if v == nil {
				return
			}
			for i := range v.Entries {
				tr.fsharp[ri][v.Entries[i].DI] += int(math.Round(w))
			}
		})
	}
	for ri := range tr.fsharp {
		for ci := range tr.fsharp[ri] {
			if tr.fsharp[ri][ci] > tr.maxFsharp {
				tr.maxFsharp = tr.fsharp[ri][ci]
			}
		}
	}
	tr.maxFsharp++
}

// buildLambdaBarrel creates the class barrel whose entry weights hold the
// lambdas, all starting at zero.
func (tr *trainer) buildLambdaBarrel() {
	tr.class = &barrel.Barrel{
		Vocab:         tr.doc.Vocab,
		Index:         index.New(),
		Classes:       tr.doc.Classes.Clone(),
		Method:        tr.m,
		IsClassBarrel: true,
	}
	for ci := 0; ci < tr.numClasses; ci++ {
		tr.class.Docs = append(tr.class.Docs, corpus.Doc{
			Name:  tr.class.Classes.Name(ci),
			Tag:   corpus.TagTrain,
			Class: ci,
		})
	}
	for wi := 0; wi < tr.constraints.NumTerms(); wi++ {
		v := tr.constraints.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			tr.class.Index.Set(wi, v.Entries[i].DI, 0, 0)
			tr.class.Docs[v.Entries[i].DI].WordCount++
		}
	}
}

// priorVariance returns the effective Gaussian prior variance for a
// feature with raw count n.
func (tr *trainer) priorVariance(raw float64) float64 {
	v := tr.m.params.PriorVariance
	switch tr.m.params.PriorVary {
	case PriorLog:
		return v * math.Log(1+raw)
	case PriorLinear:
		return v * raw
	default:
		return v
	}
}

// iterate runs one improved-iterative-scaling round and returns the
// training log probability under the model it started from.
func (tr *trainer) iterate() float64 {
	// E-step equivalent: current P(c|d) for every training document.
	tr.probs = make([][]float64, tr.numTrain)
	logProb := 0.0
	for ri := 0; ri < tr.numTrain; ri++ {
		scores := make([]float64, tr.numClasses)
		tr.design.DoRowNonZero(ri, func(_, wi int, w float64) {
			lv := tr.class.Index.ColumnIncludingHidden(wi)
			if lv == nil {
				return
			}
			for i := range lv.Entries {
				scores[lv.Entries[i].DI] += lv.Entries[i].Weight * w
			}
		})
		post := softmax(scores)
		tr.probs[ri] = post
		ci := tr.doc.Docs[tr.rowDocs[ri]].Class
		if ci >= 0 && ci < len(post) && post[ci] > 0 {
			logProb += math.Log(post[ci])
		}
	}

	n := float64(tr.numTrain)
	coefficients := make([][]float64, tr.numClasses)
	for ci := range coefficients {
		coefficients[ci] = make([]float64, tr.maxFsharp)
	}

	for wi := 0; wi < tr.constraints.NumTerms(); wi++ {
		cv := tr.constraints.ColumnIncludingHidden(wi)
		if cv == nil || cv.Len() == 0 {
			continue
		}

		// Model expectations bucketed by f# for every class at once.
		dv := tr.doc.Index.Column(wi)
		if dv != nil {
			for i := range dv.Entries {
				ri := tr.rowOf[dv.Entries[i].DI]
				if ri < 0 {
					continue
				}
				for j := range cv.Entries {
					ci := cv.Entries[j].DI
					coefficients[ci][tr.fsharp[ri][ci]] +=
						tr.probs[ri][ci] * dv.Entries[i].Weight / n
				}
			}
		}

		for j := range cv.Entries {
			ci := cv.Entries[j].DI
			lambda := tr.class.Index.Entry(wi, ci)
			if lambda == nil {
				continue
			}

			var logBeta float64
			if tr.m.params.EventModel == barrel.EventDocumentThenWord {
				// Every document exponent is the fixed target length:
				// a single closed-form update replaces root finding.
				expected := 0.0
				for _, c := range coefficients[ci] {
					expected += c
				}
				if expected > 0 && cv.Entries[j].Weight > 0 {
					logBeta = (math.Log(cv.Entries[j].Weight) - math.Log(expected)) / tr.m.params.TargetDocLength
				}
			} else {
				poly := polynomial{}
				constant := coefficients[ci][0] - cv.Entries[j].Weight
				if tr.m.params.GaussianPrior {
					raw := 0.0
					if r := tr.rawCounts.Entry(wi, ci); r != nil {
						raw = r.Weight
					}
					variance := tr.priorVariance(raw)
					constant += lambda.Weight / variance
					poly.priorCoeff = 1 / variance
				}
				poly.terms = append(poly.terms, polyTerm{power: 0, coeff: constant})
				for fi := 1; fi < tr.maxFsharp; fi++ {
					if coefficients[ci][fi] != 0 {
						poly.terms = append(poly.terms, polyTerm{power: fi, coeff: coefficients[ci][fi]})
					}
				}
				if len(poly.terms) > 1 {
					if beta, ok := poly.solve(); ok {
						logBeta = math.Log(beta)
					}
				}
			}
			lambda.Weight += logBeta

			// Clear the buckets this feature used.
			for fi := range coefficients[ci] {
				coefficients[ci][fi] = 0
			}
		}
		// Also clear classes that accumulated expectations but carry no
		// constraint for this word.
		for ci := range coefficients {
			for fi := range coefficients[ci] {
				coefficients[ci][fi] = 0
			}
		}
	}
	return logProb
}

// subsetLogProb scores documents with tag and sums log P(true class | d).
func (tr *trainer) subsetLogProb(tag corpus.Tag) float64 {
	lp := 0.0
	it := tr.doc.Index.Rows(tr.doc.TagPredicate(tag))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		scores, err := tr.m.Score(tr.class, row, barrel.ScoreOpts{Loose: true})
		if err != nil {
			continue
		}
		ci := tr.doc.Docs[di].Class
		for _, s := range scores {
			if s.Class == ci && s.Score > 0 {
				lp += math.Log(s.Score)
			}
		}
	}
	return lp
}

// subsetAccuracy scores documents with tag and reports top-1 accuracy.
func (tr *trainer) subsetAccuracy(tag corpus.Tag) float64 {
	correct, total := 0, 0
	it := tr.doc.Index.Rows(tr.doc.TagPredicate(tag))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		scores, err := tr.m.Score(tr.class, row, barrel.ScoreOpts{Loose: true})
		if err != nil || len(scores) == 0 {
			continue
		}
		if scores[0].Class == tr.doc.Docs[di].Class {
			correct++
		}
		total++
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

func softmax(scores []float64) []float64 {
	max := math.Inf(-1)
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	sum := 0.0
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
