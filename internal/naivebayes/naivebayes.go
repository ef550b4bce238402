// Package naivebayes implements multinomial and multivariate-Bernoulli
// naive Bayes with Laplace, m-estimate, Witten-Bell, Good-Turing and
// Dirichlet smoothing. Its per-class log-probability core is reused by the
// EM and active-learning methods.
package naivebayes

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
)

// MethodName is the archive identifier.
const MethodName = "naivebayes"

// Smoothing selects how unseen (word, class) pairs receive probability mass.
type Smoothing int

const (
	SmoothLaplace Smoothing = iota
	SmoothMEstimate
	SmoothWittenBell
	SmoothGoodTuring
	SmoothDirichlet
)

// Params are the naive Bayes hyper-parameters.
type Params struct {
	Smoothing  Smoothing
	EventModel barrel.EventModel

	// UniformPriors forces P(c) = 1/|C| instead of counting.
	UniformPriors bool

	// MEstimateM and MEstimateP parameterize m-estimate smoothing.
	// A zero MEstimateP means 1/|V|.
	MEstimateM float64
	MEstimateP float64

	// GoodTuringK is the largest count that gets a Good-Turing adjusted
	// estimate; larger counts are trusted as-is.
	GoodTuringK int

	// DirichletAlphas are per-word pseudo-counts; DirichletWeight scales
	// them globally.
	DirichletAlphas []float64
	DirichletWeight float64

	// TargetDocLength is the fixed document length of the
	// document-then-word event model.
	TargetDocLength float64
}

// DefaultParams returns Laplace-smoothed multinomial naive Bayes.
func DefaultParams() Params {
	return Params{
		Smoothing:       SmoothLaplace,
		EventModel:      barrel.EventWord,
		GoodTuringK:     7,
		DirichletWeight: 1,
		TargetDocLength: barrel.DefaultTargetDocLength,
	}
}

// Method is the naive Bayes strategy.
type Method struct {
	params Params

	// cached sufficient statistics for the last class barrel scored
	model *classModel

	zeroPriorWarned bool
}

// New creates a naive Bayes method.
func New(p Params) *Method {
	return &Method{params: p}
}

func init() {
	barrel.Register(MethodName, func() barrel.Method { return New(DefaultParams()) })
}

// Name implements barrel.Method.
func (m *Method) Name() string { return MethodName }

// Params returns the method's hyper-parameters.
func (m *Method) Params() Params { return m.params }

// SetWeights implements barrel.Method. The word event model keeps raw
// counts; the document event model collapses counts to presence.
func (m *Method) SetWeights(b *barrel.Barrel) {
	if m.params.EventModel == barrel.EventDocument {
		for wi := 0; wi < b.Index.NumTerms(); wi++ {
			v := b.Index.ColumnIncludingHidden(wi)
			if v == nil {
				continue
			}
			for i := range v.Entries {
				if v.Entries[i].Count > 0 {
					v.Entries[i].Weight = 1
				} else {
					v.Entries[i].Weight = 0
				}
			}
		}
		return
	}
	barrel.SetWeightsCount(b)
	if m.params.EventModel == barrel.EventDocumentThenWord {
		barrel.RescaleToTargetLength(b, m.params.TargetDocLength)
	}
}

// NormalizeWeights implements barrel.Method. Naive Bayes normalizes at
// scoring time, so barrels keep raw sufficient statistics.
func (m *Method) NormalizeWeights(b *barrel.Barrel) {}

// TrainClassBarrel implements barrel.Method.
func (m *Method) TrainClassBarrel(doc *barrel.Barrel) (*barrel.Barrel, error) {
	m.SetWeights(doc)
	class, err := barrel.BuildClassBarrel(doc)
	if err != nil {
		return nil, err
	}
	m.zeroPriorWarned = false
	if err := m.SetPriors(class, doc); err != nil {
		return nil, err
	}
	m.model = nil
	return class, nil
}

// SetPriors implements barrel.Method: priors are counted from training
// documents, or forced uniform. A zero prior is warned about exactly once
// per training.
func (m *Method) SetPriors(class, doc *barrel.Barrel) error {
	n := len(class.Docs)
	if n == 0 {
		return fmt.Errorf("class barrel has no classes")
	}
	if m.params.UniformPriors {
		for ci := range class.Docs {
			class.Docs[ci].Prior = 1 / float64(n)
		}
		return nil
	}

	total := 0.0
	counts := make([]float64, n)
	for di := range doc.Docs {
		d := &doc.Docs[di]
		if d.Tag == corpus.TagTrain && d.Class >= 0 && d.Class < n {
			counts[d.Class]++
			total++
		}
	}
	for ci := range class.Docs {
		if total > 0 {
			class.Docs[ci].Prior = counts[ci] / total
		} else {
			class.Docs[ci].Prior = 0
		}
		if class.Docs[ci].Prior == 0 && !m.zeroPriorWarned {
			m.zeroPriorWarned = true
			logger.Warn("class has zero prior; no training documents",
				"class", class.Classes.Name(ci))
		}
	}
	return nil
}

// SetQueryWeights implements barrel.Method.
func (m *Method) SetQueryWeights(class *barrel.Barrel, query *index.Row) {
	for i := range query.Entries {
		if m.params.EventModel == barrel.EventDocument {
			if query.Entries[i].Count > 0 {
				query.Entries[i].Weight = 1
			}
			continue
		}
		query.Entries[i].Weight = float64(query.Entries[i].Count)
	}
}

// NormalizeQueryWeights implements barrel.Method.
func (m *Method) NormalizeQueryWeights(query *index.Row) {
	query.Normalizer = 1
}

// Score implements barrel.Method: log-space accumulation rescaled by the
// maximum, exponentiated and normalized so the scores form a posterior.
func (m *Method) Score(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]barrel.Score, error) {
	logs, err := m.ClassLogProbs(class, query, opts)
	if err != nil {
		return nil, err
	}
	scores := Posterior(logs)
	out := make([]barrel.Score, len(scores))
	for ci, s := range scores {
		out[ci] = barrel.Score{Class: ci, Score: s}
	}
	barrel.SortScores(out)
	if opts.NumToReturn > 0 && len(out) > opts.NumToReturn {
		out = out[:opts.NumToReturn]
	}
	return out, nil
}

// ClassLogProbs returns the unnormalized per-class log posterior
// log P(c) + log P(d|c) for the query row.
func (m *Method) ClassLogProbs(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]float64, error) {
	if len(query.Entries) == 0 && !opts.Loose {
		return nil, barrel.ErrEmptyQuery
	}
	model := m.prepare(class)
	numClasses := len(class.Docs)
	logs := make([]float64, numClasses)

	for ci := 0; ci < numClasses; ci++ {
		prior := class.Docs[ci].Prior
		if prior <= 0 {
			prior = floorProb
		}
		logs[ci] = math.Log(prior)

		looTotal := 0.0
		looActive := opts.LeaveOut && opts.LeaveOutClass == ci
		if looActive {
			looTotal = float64(query.WordCount())
		}

		if m.params.EventModel == barrel.EventDocument {
			logs[ci] += m.bernoulliLogLik(class, model, ci, query, looActive)
			continue
		}
		for i := range query.Entries {
			e := &query.Entries[i]
			looWord := 0.0
			if looActive {
				looWord = float64(e.Count)
			}
			p := m.wordProb(class, model, ci, e.WI, looWord, looTotal)
			logs[ci] += float64(e.Count) * math.Log(p)
		}
	}
	for ci, l := range logs {
		if math.IsNaN(l) || math.IsInf(l, 1) {
			return nil, fmt.Errorf("non-finite log likelihood for class %d", ci)
		}
	}
	return logs, nil
}

// bernoulliLogLik iterates the whole vocabulary, using 1-P(w|c) for terms
// absent from the query. In the document event model both the per-word and
// total leave-one-out subtractions are presence counts.
func (m *Method) bernoulliLogLik(class *barrel.Barrel, model *classModel, ci int, query *index.Row, looActive bool) float64 {
	looTotal := 0.0
	if looActive {
		looTotal = float64(len(query.Entries))
	}
	sum := 0.0
	qi := 0
	for wi := 0; wi < class.Index.NumTerms(); wi++ {
		for qi < len(query.Entries) && query.Entries[qi].WI < wi {
			qi++
		}
		present := qi < len(query.Entries) && query.Entries[qi].WI == wi
		looWord := 0.0
		if present && looActive {
			looWord = 1
		}
		p := m.wordProb(class, model, ci, wi, looWord, looTotal)
		if present {
			sum += math.Log(p)
		} else {
			sum += math.Log1p(-math.Min(p, 1-floorProb))
		}
	}
	return sum
}

// Posterior turns per-class log scores into a normalized distribution,
// rescaling by the maximum to avoid underflow. A degenerate total falls
// back to uniform with a log note.
func Posterior(logs []float64) []float64 {
	if len(logs) == 0 {
		return nil
	}
	lse := floats.LogSumExp(logs)
	out := make([]float64, len(logs))
	if math.IsInf(lse, -1) || math.IsNaN(lse) {
		logger.Warn("degenerate score mass; falling back to uniform posterior")
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i, l := range logs {
		out[i] = math.Exp(l - lse)
	}
	return out
}
