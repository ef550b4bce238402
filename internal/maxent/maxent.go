// Package maxent implements maximum entropy classification trained by
// improved iterative scaling, with optional Gaussian priors on the feature
// weights and per-class feature pruning.
package maxent

import (
	"fmt"
	"math"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
)

// MethodName is the archive identifier.
const MethodName = "maxent"

// ConstraintKind selects what the empirical feature expectations are.
type ConstraintKind int

const (
	// ConstraintCounts uses raw per-(word, class) counts.
	ConstraintCounts ConstraintKind = iota
	// ConstraintLogCounts uses log(1 + count).
	ConstraintLogCounts
	// ConstraintSmoothed adds one to every (word, class) count.
	ConstraintSmoothed
)

// PriorVary selects how the Gaussian prior variance scales with the
// constraint count.
type PriorVary int

const (
	PriorConstant PriorVary = iota
	// PriorLog scales variance by log(1 + N(w,c)).
	PriorLog
	// PriorLinear scales variance by N(w,c).
	PriorLinear
)

// HaltMethod decides when iteration stops.
type HaltMethod int

const (
	HaltFixed HaltMethod = iota
	// HaltLogProb stops when model log probability on the halting
	// subset stops improving.
	HaltLogProb
	// HaltAccuracy stops when accuracy on the halting subset plateaus.
	HaltAccuracy
)

// Params are the maximum entropy hyper-parameters.
type Params struct {
	NumIterations int

	Constraints ConstraintKind

	// GaussianPrior regularizes each lambda toward zero.
	GaussianPrior bool
	PriorVariance float64
	PriorVary     PriorVary

	// WordsPerClass keeps only the top-N features per class by
	// information gain (0 keeps all).
	WordsPerClass int

	// MinCount drops (word, class) features seen fewer times.
	MinCount int

	Halt    HaltMethod
	HaltTag corpus.Tag

	// EventModel document-then-word replaces polynomial root finding
	// with a closed-form update over the fixed document length.
	EventModel      barrel.EventModel
	TargetDocLength float64
}

// DefaultParams mirrors the standard 40-iteration configuration.
func DefaultParams() Params {
	return Params{
		NumIterations:   40,
		PriorVariance:   0.01,
		TargetDocLength: barrel.DefaultTargetDocLength,
	}
}

// Method is the maximum entropy strategy. The trained lambdas live in the
// class barrel: entry (wi, ci) holds lambda_{w,c} in its weight.
type Method struct {
	params Params
}

// New creates a maximum entropy method.
func New(p Params) *Method {
	if p.NumIterations <= 0 {
		p.NumIterations = 40
	}
	if p.PriorVariance <= 0 {
		p.PriorVariance = 0.01
	}
	return &Method{params: p}
}

func init() {
	barrel.Register(MethodName, func() barrel.Method { return New(DefaultParams()) })
}

// Name implements barrel.Method.
func (m *Method) Name() string { return MethodName }

// SetWeights implements barrel.Method.
func (m *Method) SetWeights(b *barrel.Barrel) {
	barrel.SetWeightsCount(b)
	if m.params.EventModel == barrel.EventDocumentThenWord {
		barrel.RescaleToTargetLength(b, m.params.TargetDocLength)
	}
}

// NormalizeWeights implements barrel.Method.
func (m *Method) NormalizeWeights(b *barrel.Barrel) {}

// SetPriors implements barrel.Method. Maximum entropy has no class priors;
// the bias is carried by the lambdas themselves.
func (m *Method) SetPriors(class, doc *barrel.Barrel) error { return nil }

// SetQueryWeights implements barrel.Method.
func (m *Method) SetQueryWeights(class *barrel.Barrel, query *index.Row) {
	for i := range query.Entries {
		query.Entries[i].Weight = float64(query.Entries[i].Count)
	}
}

// NormalizeQueryWeights implements barrel.Method.
func (m *Method) NormalizeQueryWeights(query *index.Row) { query.Normalizer = 1 }

// Score implements barrel.Method:
// P(c|d) = exp(sum_w lambda_{w,c} count_w) / Z(d).
func (m *Method) Score(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]barrel.Score, error) {
	if len(query.Entries) == 0 && !opts.Loose {
		return nil, barrel.ErrEmptyQuery
	}
	numClasses := len(class.Docs)
	logs := make([]float64, numClasses)
	for i := range query.Entries {
		e := &query.Entries[i]
		v := class.Index.Column(e.WI)
		if v == nil {
			continue
		}
		for j := range v.Entries {
			ci := v.Entries[j].DI
			if ci < numClasses {
				logs[ci] += v.Entries[j].Weight * float64(e.Count)
			}
		}
	}
	post := naivebayes.Posterior(logs)
	out := make([]barrel.Score, numClasses)
	for ci, s := range post {
		out[ci] = barrel.Score{Class: ci, Score: s}
	}
	barrel.SortScores(out)
	if opts.NumToReturn > 0 && len(out) > opts.NumToReturn {
		out = out[:opts.NumToReturn]
	}
	return out, nil
}

// TrainClassBarrel implements barrel.Method: improved iterative scaling
// over the (word, class) indicator features.
func (m *Method) TrainClassBarrel(doc *barrel.Barrel) (*barrel.Barrel, error) {
	numClasses := doc.NumClasses()
	if numClasses == 0 {
		return nil, fmt.Errorf("maxent: no labeled classes")
	}
	m.SetWeights(doc)

	tr := newTrainer(m, doc, numClasses)
	if tr.numTrain == 0 {
		return nil, fmt.Errorf("maxent: no training documents")
	}

	oldLogProb := math.Inf(-1)
	oldAcc := -1.0
	for round := 0; round < m.params.NumIterations; round++ {
		logProb := tr.iterate()
		logger.Info("maxent iteration", "round", round, "train_logprob", logProb)

		switch m.params.Halt {
		case HaltLogProb:
			lp := tr.subsetLogProb(m.params.HaltTag)
			if lp <= oldLogProb {
				return tr.class, nil
			}
			oldLogProb = lp
		case HaltAccuracy:
			acc := tr.subsetAccuracy(m.params.HaltTag)
			if acc <= oldAcc {
				return tr.class, nil
			}
			oldAcc = acc
		}
	}
	return tr.class, nil
}
