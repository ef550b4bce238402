// Package em trains naive Bayes parameters by expectation-maximization
// over labeled plus unlabeled documents, with deterministic annealing,
// starting-point perturbation, normalizer annealing and plateau-based
// halting.
package em

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
)

// MethodName is the archive identifier.
const MethodName = "em"

// StartMethod seeds the unlabeled documents' soft labels.
type StartMethod int

const (
	// StartZero leaves unlabeled labels at zero so the first M-step sees
	// labeled documents only.
	StartZero StartMethod = iota
	// StartEven spreads mass evenly over classes.
	StartEven
	// StartPrior spreads mass proportionally to labeled class priors.
	StartPrior
	// StartRandom draws a random distribution per document.
	StartRandom
)

// PerturbMethod resamples class word counts after the first iteration.
type PerturbMethod int

const (
	PerturbNone PerturbMethod = iota
	// PerturbGaussian resamples n ~ N(n, total*p*(1-p)).
	PerturbGaussian
	// PerturbDirichlet resamples n ~ Gamma(n+1, 1).
	PerturbDirichlet
)

// HaltMethod decides when iteration stops.
type HaltMethod int

const (
	// HaltFixed runs exactly NumRuns iterations.
	HaltFixed HaltMethod = iota
	// HaltPerplexity stops when perplexity on the halting subset stops
	// improving; the previous iteration's parameters win.
	HaltPerplexity
	// HaltAccuracy stops when accuracy on the halting subset plateaus.
	HaltAccuracy
)

// MultiHumpInit seeds the pseudo-components of a multi-hump negative class.
type MultiHumpInit int

const (
	// InitSpiked assigns each negative document wholly to one hump.
	InitSpiked MultiHumpInit = iota
	// InitSpread draws a random distribution over humps per document.
	InitSpread
)

// Params are the EM hyper-parameters, wrapping the naive Bayes parameters
// used for the M-step model and E-step scoring.
type Params struct {
	NB naivebayes.Params

	// NumRuns is the iteration count (or cap, when halting is adaptive).
	NumRuns int

	// UnlabeledNormalizer scales unlabeled documents' responsibility
	// mass into [0,1].
	UnlabeledNormalizer float64

	// LabeledForStartOnly zeroes labeled documents' labels after the
	// first iteration.
	LabeledForStartOnly bool

	Start   StartMethod
	Perturb PerturbMethod

	// Anneal divides per-class log likelihood by a temperature that
	// decays geometrically from Temperature toward 1.
	Anneal        bool
	Temperature   float64
	TempReduction float64

	// AnnealNormalizer starts UnlabeledNormalizer at zero and grows it
	// by 1.1x each round until unlabeled mass matches labeled mass.
	AnnealNormalizer bool

	Halt HaltMethod
	// HaltTag names the document subset halting statistics are computed
	// on (typically validation).
	HaltTag corpus.Tag
	// ValidationFraction retags that fraction of unlabeled documents as
	// validation before the first iteration.
	ValidationFraction float64

	// BinaryPosClass enables the two-class special case.
	BinaryPosClass string

	// MultiHumpNeg splits the negative class into this many
	// pseudo-components (0 disables).
	MultiHumpNeg  int
	MultiHumpInit MultiHumpInit

	// Acceleration over-relaxes label updates when > 1; negatives are
	// clamped to zero. 1 leaves standard EM in place.
	Acceleration float64

	Seed uint64
}

// DefaultParams mirrors the standard seven-round word-event configuration.
func DefaultParams() Params {
	return Params{
		NB:                  naivebayes.DefaultParams(),
		NumRuns:             7,
		UnlabeledNormalizer: 1,
		Temperature:         200,
		TempReduction:       0.9,
		Acceleration:        1,
		Seed:                1,
	}
}

// Method is the EM strategy.
type Method struct {
	params Params
	nb     *naivebayes.Method
	rng    *rand.Rand
}

// New creates an EM method.
func New(p Params) *Method {
	if p.NumRuns <= 0 {
		p.NumRuns = 7
	}
	if p.Acceleration <= 0 {
		p.Acceleration = 1
	}
	return &Method{
		params: p,
		nb:     naivebayes.New(p.NB),
		rng:    rand.New(rand.NewPCG(p.Seed, p.Seed^0xda3e39cb94b95bdb)),
	}
}

func init() {
	barrel.Register(MethodName, func() barrel.Method { return New(DefaultParams()) })
}

// Name implements barrel.Method.
func (m *Method) Name() string { return MethodName }

// Params returns the method's hyper-parameters.
func (m *Method) Params() Params { return m.params }

// SetWeights implements barrel.Method, delegating to naive Bayes.
func (m *Method) SetWeights(b *barrel.Barrel) { m.nb.SetWeights(b) }

// NormalizeWeights implements barrel.Method.
func (m *Method) NormalizeWeights(b *barrel.Barrel) {}

// SetPriors implements barrel.Method: priors come from accumulated label
// mass, so unlabeled documents contribute their responsibilities.
func (m *Method) SetPriors(class, doc *barrel.Barrel) error {
	numClasses := len(class.Docs)
	mass := make([]float64, numClasses)
	total := 0.0
	for di := range doc.Docs {
		d := &doc.Docs[di]
		if d.Labels == nil {
			continue
		}
		for ci := 0; ci < numClasses && ci < len(d.Labels); ci++ {
			mass[ci] += d.Labels[ci]
			total += d.Labels[ci]
		}
	}
	if total == 0 {
		return m.nb.SetPriors(class, doc)
	}
	for ci := range class.Docs {
		class.Docs[ci].Prior = mass[ci] / total
	}
	return nil
}

// SetQueryWeights implements barrel.Method.
func (m *Method) SetQueryWeights(class *barrel.Barrel, query *index.Row) {
	m.nb.SetQueryWeights(class, query)
}

// NormalizeQueryWeights implements barrel.Method.
func (m *Method) NormalizeQueryWeights(query *index.Row) {
	m.nb.NormalizeQueryWeights(query)
}

// Score implements barrel.Method by naive Bayes scoring against the
// EM-trained class barrel.
func (m *Method) Score(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]barrel.Score, error) {
	return m.nb.Score(class, query, opts)
}

// TrainClassBarrel implements barrel.Method: the full EM loop. The
// document barrel's Labels fields are left holding the final
// responsibilities.
func (m *Method) TrainClassBarrel(doc *barrel.Barrel) (*barrel.Barrel, error) {
	numOrig := doc.NumClasses()
	if numOrig == 0 {
		return nil, fmt.Errorf("em: no labeled classes")
	}
	numClasses := numOrig
	posCI := -1
	if m.params.BinaryPosClass != "" {
		posCI = doc.Classes.Lookup(m.params.BinaryPosClass)
		if posCI < 0 {
			return nil, fmt.Errorf("em: no such binary positive class %q", m.params.BinaryPosClass)
		}
	}
	if m.params.MultiHumpNeg > 1 {
		if posCI < 0 {
			return nil, fmt.Errorf("em: multi-hump negative requires a binary positive class")
		}
		numClasses = m.params.MultiHumpNeg + 1
	}

	m.nb.SetWeights(doc)

	if m.params.ValidationFraction > 0 {
		m.carveValidation(doc)
	}

	lambda := m.params.UnlabeledNormalizer
	if m.params.AnnealNormalizer {
		lambda = 0
	}

	m.initLabels(doc, numOrig, numClasses, posCI)

	var vpc, prev *barrel.Barrel
	oldPerp := math.MaxFloat64
	oldAcc := -1.0
	temperature := 1.0
	if m.params.Anneal {
		temperature = m.params.Temperature
	}

	for run := 0; run < m.params.NumRuns; run++ {
		prev = vpc
		var err error
		vpc, err = m.buildSoftVPC(doc, numClasses, posCI)
		if err != nil {
			return nil, err
		}

		if run == 1 && m.params.Perturb != PerturbNone {
			m.perturb(vpc)
		}

		ll, err := m.eStep(doc, vpc, lambda, temperature, numClasses, posCI, run)
		if err != nil {
			return nil, err
		}
		logger.Info("em iteration", "run", run, "loglik", ll, "lambda", lambda, "temperature", temperature)

		halted, err := m.checkHalt(doc, vpc, &oldPerp, &oldAcc)
		if err != nil {
			return nil, err
		}
		if halted {
			if prev != nil {
				vpc = prev
			}
			break
		}

		if m.params.Anneal && temperature > 1 {
			temperature *= m.params.TempReduction
			if temperature < 1 {
				temperature = 1
			}
		}
		if m.params.AnnealNormalizer {
			lambda = m.growNormalizer(doc, lambda, numClasses)
		}
	}

	if m.params.MultiHumpNeg > 1 {
		vpc = m.collapseHumps(doc, vpc, numOrig, posCI)
	}
	vpc.Method = m
	return vpc, nil
}
