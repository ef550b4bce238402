// Package knn implements a k-nearest-neighbour classifier over an HNSW
// graph of TF-IDF document vectors: neighbours vote for their class,
// weighted by cosine similarity.
package knn

import (
	"fmt"
	"math"
	"strconv"

	"github.com/TFMV/hnsw"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
)

// MethodName is the archive identifier.
const MethodName = "knn"

// Params are the k-NN hyper-parameters.
type Params struct {
	K int

	// HNSW graph shape.
	M        int
	Ml       float64
	EfSearch int
}

// DefaultParams mirrors the common 30-neighbour TF-IDF configuration.
func DefaultParams() Params {
	return Params{
		K:        30,
		M:        16,
		Ml:       0.25,
		EfSearch: 40,
	}
}

// Method is the k-NN strategy. Training indexes the documents; the graph
// lives in memory and the materialized class barrel carries class
// centroids for reload-time scoring.
type Method struct {
	params Params

	graph     *hnsw.Graph[string]
	docClass  map[string]int
	dimension int
}

// New creates a k-NN method.
func New(p Params) *Method {
	if p.K <= 0 {
		p.K = 30
	}
	if p.M <= 0 {
		p.M = 16
	}
	if p.Ml <= 0 {
		p.Ml = 0.25
	}
	if p.EfSearch <= 0 {
		p.EfSearch = 40
	}
	return &Method{params: p}
}

func init() {
	barrel.Register(MethodName, func() barrel.Method { return New(DefaultParams()) })
}

// Name implements barrel.Method.
func (m *Method) Name() string { return MethodName }

// SetWeights implements barrel.Method: TF-IDF weighting.
func (m *Method) SetWeights(b *barrel.Barrel) {
	barrel.SetWeights(b, barrel.WeightSpec{TF: barrel.TFRaw, IDF: barrel.IDFLog, DF: barrel.DFDocuments})
}

// NormalizeWeights implements barrel.Method.
func (m *Method) NormalizeWeights(b *barrel.Barrel) { barrel.NormalizeEuclidean(b) }

// SetPriors implements barrel.Method; k-NN carries no priors.
func (m *Method) SetPriors(class, doc *barrel.Barrel) error { return nil }

// SetQueryWeights implements barrel.Method: queries are TF-IDF weighted
// with the training IDFs.
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

// dense converts a sparse row into a unit-length float32 vector.
func (m *Method) dense(row *index.Row) []float32 {
	vec := make([]float32, m.dimension)
	norm := 0.0
	for i := range row.Entries {
		e := &row.Entries[i]
		if e.WI < m.dimension {
			vec[e.WI] = float32(e.Weight)
			norm += e.Weight * e.Weight
		}
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// TrainClassBarrel implements barrel.Method: index every training document
// in the HNSW graph and materialize class centroids.
func (m *Method) TrainClassBarrel(doc *barrel.Barrel) (*barrel.Barrel, error) {
	numClasses := doc.NumClasses()
	if numClasses == 0 {
		return nil, fmt.Errorf("knn: no labeled classes")
	}
	m.SetWeights(doc)
	m.dimension = doc.Index.NumTerms()

	graph, err := hnsw.NewGraphWithConfig[string](m.params.M, m.params.Ml, m.params.EfSearch, hnsw.CosineDistance)
	if err != nil {
		return nil, fmt.Errorf("knn: creating graph: %w", err)
	}
	m.graph = graph
	m.docClass = map[string]int{}

	indexed := 0
	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTrain))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		d := &doc.Docs[di]
		if d.Class < 0 || d.Class >= numClasses {
			continue
		}
		key := strconv.Itoa(di)
		if err := m.graph.Add(hnsw.MakeNode(key, m.dense(row))); err != nil {
			return nil, fmt.Errorf("knn: indexing document %d: %w", di, err)
		}
		m.docClass[key] = d.Class
		indexed++
	}
	if indexed == 0 {
		return nil, fmt.Errorf("knn: no training documents")
	}
	logger.Info("knn graph built", "documents", indexed, "dimension", m.dimension)

	class, err := barrel.BuildClassBarrel(doc)
	if err != nil {
		return nil, err
	}
	class.Method = m
	return class, nil
}

// Score implements barrel.Method: the K nearest training documents vote
// with weight 1 - distance; scores normalize to a distribution. Without a
// live graph (after archive reload) scoring falls back to cosine
// similarity against the class centroids.
func (m *Method) Score(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]barrel.Score, error) {
	if len(query.Entries) == 0 && !opts.Loose {
		return nil, barrel.ErrEmptyQuery
	}
	numClasses := len(class.Docs)
	votes := make([]float64, numClasses)

	if m.graph != nil {
		m.SetQueryWeights(class, query)
		nodes, err := m.graph.Search(m.dense(query), m.params.K)
		if err != nil {
			return nil, fmt.Errorf("knn: search: %w", err)
		}
		for _, node := range nodes {
			ci, ok := m.docClass[node.Key]
			if !ok || ci >= numClasses {
				continue
			}
			similarity := 1 - float64(m.graph.Distance(m.dense(query), node.Value))
			if similarity > 0 {
				votes[ci] += similarity
			}
		}
	} else {
		m.SetQueryWeights(class, query)
		for ci := 0; ci < numClasses; ci++ {
			votes[ci] = centroidCosine(class, ci, query)
		}
	}

	total := 0.0
	for _, v := range votes {
		total += v
	}
	out := make([]barrel.Score, numClasses)
	for ci := range votes {
		s := votes[ci]
		if total > 0 {
			s /= total
		}
		out[ci] = barrel.Score{Class: ci, Score: s}
	}
	barrel.SortScores(out)
	if opts.NumToReturn > 0 && len(out) > opts.NumToReturn {
		out = out[:opts.NumToReturn]
	}
	return out, nil
}

// centroidCosine is the cosine similarity between the query and a class
// centroid column.
func centroidCosine(class *barrel.Barrel, ci int, query *index.Row) float64 {
	dot, qq, cc := 0.0, 0.0, 0.0
	for i := range query.Entries {
		e := &query.Entries[i]
		qq += e.Weight * e.Weight
		if ent := class.Index.Entry(e.WI, ci); ent != nil {
			dot += e.Weight * ent.Weight
		}
	}
	for wi := 0; wi < class.Index.NumTerms(); wi++ {
		if ent := class.Index.Entry(wi, ci); ent != nil {
			cc += ent.Weight * ent.Weight
		}
	}
	if qq == 0 || cc == 0 {
		return 0
	}
	return dot / math.Sqrt(qq*cc)
}
