// Package active implements pool-based active learning: a secondary
// learner is retrained each round, a committee of perturbed models scores
// the unlabeled pool, and a selection criterion picks which documents get
// labels next.
package active

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/em"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
)

// MethodName is the archive identifier.
const MethodName = "active"

// Criterion selects which unlabeled documents get labels.
type Criterion int

const (
	// Uncertainty picks the documents with the lowest top score;
	// committee size must be one.
	Uncertainty Criterion = iota
	// Relevance picks the highest scores for a named positive class.
	Relevance
	// Random samples uniformly without replacement.
	Random
	// Length picks the longest documents.
	Length
	// QBC is query-by-committee: mean KL divergence of each member's
	// posterior to the committee mean.
	QBC
	// VoteEntropy is the entropy of the committee's top-1 votes.
	VoteEntropy
	// WeightedKL scales the KL term by the recovered class posterior.
	WeightedKL
	// DensityKL scales QBC by a document-density factor computed from
	// KL distance to the training documents.
	DensityKL
	// StreamVoteEntropy and StreamKL accept documents probabilistically,
	// scaling the criterion into [0,1] by its theoretical maximum.
	StreamVoteEntropy
	StreamKL
)

// Params are the active-learning hyper-parameters.
type Params struct {
	Rounds        int
	AddPerRound   int
	CommitteeSize int
	Criterion     Criterion

	// PositiveClass names the target class for relevance sampling.
	PositiveClass string

	// Epsilon is the stream sampling rate for the stream criteria.
	Epsilon float64

	// Remap recalibrates scores to probabilities by sliding-window
	// precision before selection; WindowSize is the window.
	Remap      bool
	WindowSize int

	// SecondaryEM uses EM over labeled plus unlabeled data as the
	// round learner instead of naive Bayes.
	SecondaryEM bool
	EM          em.Params
	NB          naivebayes.Params

	// FinalEM runs one full EM pass after the loop.
	FinalEM bool

	Seed uint64
}

// DefaultParams mirrors the common committee-of-one uncertainty loop.
func DefaultParams() Params {
	return Params{
		Rounds:        10,
		AddPerRound:   4,
		CommitteeSize: 1,
		Criterion:     Uncertainty,
		Epsilon:       0.1,
		WindowSize:    20,
		EM:            em.DefaultParams(),
		NB:            naivebayes.DefaultParams(),
		Seed:          1,
	}
}

// Method is the active-learning strategy.
type Method struct {
	params Params
	rng    *rand.Rand

	secondary barrel.Method
}

// New creates an active-learning method.
func New(p Params) *Method {
	if p.Rounds <= 0 {
		p.Rounds = 10
	}
	if p.AddPerRound <= 0 {
		p.AddPerRound = 4
	}
	if p.CommitteeSize <= 0 {
		p.CommitteeSize = 1
	}
	m := &Method{
		params: p,
		rng:    rand.New(rand.NewPCG(p.Seed, p.Seed^0xc2b2ae3d27d4eb4f)),
	}
	if p.SecondaryEM {
		m.secondary = em.New(p.EM)
	} else {
		m.secondary = naivebayes.New(p.NB)
	}
	return m
}

func init() {
	barrel.Register(MethodName, func() barrel.Method { return New(DefaultParams()) })
}

// Name implements barrel.Method.
func (m *Method) Name() string { return MethodName }

// SetWeights implements barrel.Method.
func (m *Method) SetWeights(b *barrel.Barrel) { m.secondary.SetWeights(b) }

// NormalizeWeights implements barrel.Method.
func (m *Method) NormalizeWeights(b *barrel.Barrel) { m.secondary.NormalizeWeights(b) }

// SetPriors implements barrel.Method.
func (m *Method) SetPriors(class, doc *barrel.Barrel) error {
	return m.secondary.SetPriors(class, doc)
}

// Score implements barrel.Method.
func (m *Method) Score(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]barrel.Score, error) {
	return m.secondary.Score(class, query, opts)
}

// SetQueryWeights implements barrel.Method.
func (m *Method) SetQueryWeights(class *barrel.Barrel, query *index.Row) {
	m.secondary.SetQueryWeights(class, query)
}

// NormalizeQueryWeights implements barrel.Method.
func (m *Method) NormalizeQueryWeights(query *index.Row) {
	m.secondary.NormalizeQueryWeights(query)
}

// TrainClassBarrel implements barrel.Method: the labeling loop. Labels for
// selected documents come from their (withheld) Class field, standing in
// for the oracle.
func (m *Method) TrainClassBarrel(doc *barrel.Barrel) (*barrel.Barrel, error) {
	if m.params.Criterion == Uncertainty && m.params.CommitteeSize != 1 {
		return nil, fmt.Errorf("active: uncertainty sampling requires a committee of one")
	}
	posCI := -1
	if m.params.Criterion == Relevance {
		posCI = doc.Classes.Lookup(m.params.PositiveClass)
		if posCI < 0 {
			return nil, fmt.Errorf("active: no such positive class %q", m.params.PositiveClass)
		}
	}

	var class *barrel.Barrel
	for round := 0; round < m.params.Rounds; round++ {
		var err error
		class, err = m.secondary.TrainClassBarrel(doc)
		if err != nil {
			return nil, err
		}

		pool := doc.Tagged(corpus.TagUnlabeled)
		if len(pool) == 0 {
			break
		}

		scores, err := m.committeeScores(doc, class, pool)
		if err != nil {
			return nil, err
		}
		if m.params.Remap {
			remapToPrecision(scores, m.params.WindowSize)
		}

		selected := m.selectDocs(doc, pool, scores, posCI)
		for _, di := range selected {
			doc.Docs[di].Tag = corpus.TagTrain
		}
		logger.Info("active learning round", "round", round,
			"labeled", corpus.CountTagged(doc.Docs, corpus.TagTrain),
			"selected", len(selected))
	}

	if m.params.FinalEM {
		final := em.New(m.params.EM)
		return final.TrainClassBarrel(doc)
	}
	if class != nil {
		return class, nil
	}
	return m.secondary.TrainClassBarrel(doc)
}

// committeeScores returns, per pool document, each committee member's
// class posterior.
func (m *Method) committeeScores(doc, class *barrel.Barrel, pool []int) (map[int][][]float64, error) {
	members := make([]*barrel.Barrel, m.params.CommitteeSize)
	members[0] = class
	for k := 1; k < m.params.CommitteeSize; k++ {
		members[k] = m.perturbedCopy(class)
	}

	nb := naivebayes.New(m.params.NB)
	out := make(map[int][][]float64, len(pool))
	inPool := map[int]bool{}
	for _, di := range pool {
		inPool[di] = true
	}

	it := doc.Index.Rows(func(di int) bool { return inPool[di] })
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		vecs := make([][]float64, len(members))
		for k, member := range members {
			logs, err := nb.ClassLogProbs(member, row, barrel.ScoreOpts{Loose: true})
			if err != nil {
				return nil, err
			}
			vecs[k] = naivebayes.Posterior(logs)
		}
		out[di] = vecs
	}
	return out, nil
}

// perturbedCopy resamples a class barrel's soft counts from Gamma(n+1),
// producing one committee member.
func (m *Method) perturbedCopy(class *barrel.Barrel) *barrel.Barrel {
	member := class.Clone()
	for wi := 0; wi < member.Index.NumTerms(); wi++ {
		v := member.Index.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			g := distuv.Gamma{Alpha: v.Entries[i].Weight + 1, Beta: 1, Src: m.rng}
			v.Entries[i].Weight = g.Rand()
		}
	}
	return member
}
