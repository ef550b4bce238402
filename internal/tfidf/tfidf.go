// Package tfidf implements the Rocchio-style TF-IDF method: class rows
// are centroid vectors of their training documents and queries score by
// cosine similarity.
package tfidf

import (
	"fmt"
	"math"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/index"
)

// MethodName is the archive identifier.
const MethodName = "tfidf"

// Method is the TF-IDF strategy.
type Method struct{}

// New creates a TF-IDF method.
func New() *Method { return &Method{} }

func init() {
	barrel.Register(MethodName, func() barrel.Method { return New() })
}

// Name implements barrel.Method.
func (m *Method) Name() string { return MethodName }

// SetWeights implements barrel.Method: count times log(N/df).
func (m *Method) SetWeights(b *barrel.Barrel) {
	barrel.SetWeights(b, barrel.WeightSpec{TF: barrel.TFRaw, IDF: barrel.IDFLog, DF: barrel.DFDocuments})
}

// NormalizeWeights implements barrel.Method.
func (m *Method) NormalizeWeights(b *barrel.Barrel) { barrel.NormalizeEuclidean(b) }

// TrainClassBarrel implements barrel.Method: sum each class's weighted
// rows into a centroid.
func (m *Method) TrainClassBarrel(doc *barrel.Barrel) (*barrel.Barrel, error) {
	m.SetWeights(doc)
	class, err := barrel.BuildClassBarrel(doc)
	if err != nil {
		return nil, err
	}
	// Store each centroid's Euclidean length for cosine scoring.
	for ci := range class.Docs {
		norm := 0.0
		for wi := 0; wi < class.Index.NumTerms(); wi++ {
			if e := class.Index.Entry(wi, ci); e != nil {
				norm += e.Weight * e.Weight
			}
		}
		class.Docs[ci].Normalizer = math.Sqrt(norm)
	}
	class.Method = m
	return class, nil
}

// SetPriors implements barrel.Method; cosine scoring carries no priors.
func (m *Method) SetPriors(class, doc *barrel.Barrel) error { return nil }

// SetQueryWeights implements barrel.Method.
func (m *Method) SetQueryWeights(class *barrel.Barrel, query *index.Row) {
	for i := range query.Entries {
		e := &query.Entries[i]
		e.Weight = float64(e.Count)
		if v := class.Index.ColumnIncludingHidden(e.WI); v != nil {
			e.Weight *= v.IDF
		}
	}
}

// NormalizeQueryWeights implements barrel.Method.
func (m *Method) NormalizeQueryWeights(query *index.Row) {
	barrel.NormalizeRowEuclidean(query)
}

// Score implements barrel.Method: cosine similarity against each class
// centroid, descending.
func (m *Method) Score(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]barrel.Score, error) {
	if len(query.Entries) == 0 && !opts.Loose {
		return nil, barrel.ErrEmptyQuery
	}
	numClasses := len(class.Docs)
	if numClasses == 0 {
		return nil, fmt.Errorf("tfidf: empty class barrel")
	}
	m.SetQueryWeights(class, query)

	qnorm := 0.0
	for i := range query.Entries {
		qnorm += query.Entries[i].Weight * query.Entries[i].Weight
	}
	qnorm = math.Sqrt(qnorm)

	out := make([]barrel.Score, numClasses)
	for ci := range out {
		out[ci] = barrel.Score{Class: ci}
	}
	for i := range query.Entries {
		e := &query.Entries[i]
		v := class.Index.Column(e.WI)
		if v == nil {
			continue
		}
		for j := range v.Entries {
			ci := v.Entries[j].DI
			if ci < numClasses {
				out[ci].Score += v.Entries[j].Weight * e.Weight
			}
		}
	}
	for ci := range out {
		denom := qnorm * class.Docs[ci].Normalizer
		if denom > 0 {
			out[ci].Score /= denom
		} else {
			out[ci].Score = 0
		}
	}

	barrel.SortScores(out)
	if opts.NumToReturn > 0 && len(out) > opts.NumToReturn {
		out = out[:opts.NumToReturn]
	}
	return out, nil
}
