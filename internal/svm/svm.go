package svm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
)

// MethodName is the archive identifier.
const MethodName = "svm"

// Decomposition selects how multi-class problems reduce to binary ones.
type Decomposition int

const (
	// OneVsRest trains one machine per class.
	OneVsRest Decomposition = iota
	// Pairwise trains one machine per unordered class pair.
	Pairwise
)

// Weighting selects the feature transform applied before training.
type Weighting int

const (
	WeightRaw Weighting = iota
	WeightTFIDF
	WeightInfogain
)

// Params are the SVM hyper-parameters.
type Params struct {
	Kernel     KernelKind
	PolyDegree float64
	PolyCoef   float64
	RBFGamma   float64
	SigmoidA   float64
	SigmoidB   float64

	// C is the box constraint; TransductionC applies to documents
	// tagged for transduction.
	C             float64
	TransductionC float64

	Decomposition Decomposition
	Weighting     Weighting

	EpsKKT         float64
	WorkingSetSize int
	MaxIterations  int
	CacheSize      int

	// ChunkSize bounds how many examples each solver call sees; the
	// support vectors of one chunk seed the next. Zero solves whole.
	ChunkSize int

	// RemoveMisclassified drops wrong-side training examples after a
	// first pass and retrains.
	RemoveMisclassified bool

	// Bias false uses the threshold-free variant.
	Bias bool

	// Transduce labels pool-tagged documents during training.
	Transduce bool
	// TransducePositiveN fixes how many pool documents are labeled
	// positive; zero uses the labeled positive prior.
	TransducePositiveN int
	TransduceMaxFlips  int

	// Active learning inside the trainer.
	ActiveLearning bool
	ALInitial      int
	ALPerRound     int
	ALRounds       int
	ALRandom       bool

	Seed uint64
}

// DefaultParams mirrors the usual linear one-vs-rest configuration.
func DefaultParams() Params {
	return Params{
		Kernel:            KernelLinear,
		PolyDegree:        3,
		PolyCoef:          1,
		RBFGamma:          1,
		SigmoidA:          1,
		SigmoidB:          -1,
		C:                 1,
		TransductionC:     1,
		EpsKKT:            1e-3,
		WorkingSetSize:    4,
		MaxIterations:     20000,
		Bias:              true,
		TransduceMaxFlips: 100,
		Seed:              1,
	}
}

// Method is the SVM strategy. After training it retains the binary models;
// the materialized class barrel carries folded linear hyperplanes for
// reload-time scoring.
type Method struct {
	params Params
	rng    *rand.Rand

	models    map[[2]int]*Model // one-vs-rest keys are {ci, -1}
	numClass  int
	baseRows  []*index.Row // cached TF-transformed rows per document
	infogains []float64
}

// New creates an SVM method.
func New(p Params) *Method {
	if p.C <= 0 {
		p.C = 1
	}
	if p.TransductionC <= 0 {
		p.TransductionC = p.C
	}
	return &Method{
		params: p,
		rng:    rand.New(rand.NewPCG(p.Seed, p.Seed^0xa5a3564e06cdd2a1)),
	}
}

func init() {
	barrel.Register(MethodName, func() barrel.Method { return New(DefaultParams()) })
}

// Name implements barrel.Method.
func (m *Method) Name() string { return MethodName }

// SetWeights implements barrel.Method, applying the configured feature
// transform.
func (m *Method) SetWeights(b *barrel.Barrel) {
	switch m.params.Weighting {
	case WeightTFIDF:
		barrel.SetWeights(b, barrel.WeightSpec{TF: barrel.TFRaw, IDF: barrel.IDFLog, DF: barrel.DFDocuments})
	case WeightInfogain:
		barrel.SetWeights(b, barrel.WeightSpec{TF: barrel.TFRaw, IDF: barrel.IDFNone, DF: barrel.DFDocuments, InfogainScale: true})
	default:
		barrel.SetWeightsCount(b)
	}
}

// NormalizeWeights implements barrel.Method: rows are scaled to unit
// Euclidean length.
func (m *Method) NormalizeWeights(b *barrel.Barrel) {
	barrel.NormalizeEuclidean(b)
}

// SetPriors implements barrel.Method; SVM has no class priors.
func (m *Method) SetPriors(class, doc *barrel.Barrel) error { return nil }

// SetQueryWeights implements barrel.Method.
func (m *Method) SetQueryWeights(class *barrel.Barrel, query *index.Row) {
	for i := range query.Entries {
		query.Entries[i].Weight = float64(query.Entries[i].Count)
		if m.params.Weighting == WeightTFIDF {
			if v := class.Index.ColumnIncludingHidden(query.Entries[i].WI); v != nil {
				query.Entries[i].Weight *= v.IDF
			}
		}
	}
}

// NormalizeQueryWeights implements barrel.Method.
func (m *Method) NormalizeQueryWeights(query *index.Row) {
	barrel.NormalizeRowEuclidean(query)
}

// kernel builds the configured kernel; Fisher needs the word marginals
// from the document barrel.
func (m *Method) kernel(doc *barrel.Barrel) (Kernel, error) {
	switch m.params.Kernel {
	case KernelLinear:
		return linearKernel{}, nil
	case KernelPolynomial:
		return polyKernel{degree: m.params.PolyDegree, coef: m.params.PolyCoef, scale: 1}, nil
	case KernelRBF:
		return rbfKernel{gamma: m.params.RBFGamma}, nil
	case KernelSigmoid:
		return sigmoidKernel{a: m.params.SigmoidA, b: m.params.SigmoidB}, nil
	case KernelFisher:
		if m.params.Decomposition == Pairwise {
			return nil, fmt.Errorf("svm: fisher kernel is not available with pairwise decomposition")
		}
		probs := make([]float64, doc.Index.NumTerms())
		total := 0.0
		for wi := range probs {
			if v := doc.Index.Column(wi); v != nil {
				probs[wi] = float64(v.TotalCount())
				total += probs[wi]
			}
		}
		if total > 0 {
			for wi := range probs {
				probs[wi] /= total
			}
		}
		return fisherKernel{wordProb: probs}, nil
	}
	return nil, fmt.Errorf("svm: unknown kernel %d", m.params.Kernel)
}

// collectRows caches every document's TF-transformed row so submodels can
// re-weight from a known baseline.
func (m *Method) collectRows(doc *barrel.Barrel) {
	m.baseRows = make([]*index.Row, len(doc.Docs))
	it := doc.Index.Rows(nil)
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		if di < len(m.baseRows) {
			m.baseRows[di] = row
		}
	}
	for di, row := range m.baseRows {
		if row == nil {
			m.baseRows[di] = &index.Row{}
		}
	}
}

// TrainClassBarrel implements barrel.Method.
func (m *Method) TrainClassBarrel(doc *barrel.Barrel) (*barrel.Barrel, error) {
	m.numClass = doc.NumClasses()
	if m.numClass == 0 {
		return nil, fmt.Errorf("svm: no labeled classes")
	}
	m.SetWeights(doc)
	if m.params.Weighting == WeightInfogain {
		m.infogains = barrel.Infogain(doc)
	}
	m.collectRows(doc)

	if m.params.ActiveLearning {
		if err := m.activeLearningLoop(doc); err != nil {
			return nil, err
		}
	}

	kernel, err := m.kernel(doc)
	if err != nil {
		return nil, err
	}

	m.models = map[[2]int]*Model{}
	if m.params.Decomposition == Pairwise {
		for a := 0; a < m.numClass; a++ {
			for b := a + 1; b < m.numClass; b++ {
				model, err := m.trainBinary(doc, kernel, a, b)
				if err != nil {
					return nil, err
				}
				m.models[[2]int{a, b}] = model
			}
		}
	} else {
		for ci := 0; ci < m.numClass; ci++ {
			model, err := m.trainBinary(doc, kernel, ci, -1)
			if err != nil {
				return nil, err
			}
			m.models[[2]int{ci, -1}] = model
		}
	}
	return m.materialize(doc)
}

// binaryExamples assembles the labeled examples for machine (pos, neg):
// neg == -1 means rest-of-world.
func (m *Method) binaryExamples(doc *barrel.Barrel, pos, neg int) []example {
	examples := []example{}
	for di := range doc.Docs {
		d := &doc.Docs[di]
		cost := m.params.C
		switch d.Tag {
		case corpus.TagTrain:
		case corpus.TagPool:
			if !m.params.Transduce {
				continue
			}
			cost = m.params.TransductionC
		default:
			continue
		}
		var y float64
		switch {
		case d.Class == pos:
			y = 1
		case neg < 0 || d.Class == neg:
			y = -1
		default:
			continue
		}
		if d.Tag == corpus.TagPool {
			// Transduction labels are assigned later; keep placeholder.
			y = 0
		}
		examples = append(examples, example{row: m.baseRows[di], y: y, c: cost})
	}
	return examples
}

// trainBinary trains one machine, with optional chunking, transduction and
// misclassification removal.
func (m *Method) trainBinary(doc *barrel.Barrel, kernel Kernel, pos, neg int) (*Model, error) {
	examples := m.binaryExamples(doc, pos, neg)

	labeled := []example{}
	pool := []example{}
	for i := range examples {
		if examples[i].y == 0 {
			pool = append(pool, examples[i])
		} else {
			labeled = append(labeled, examples[i])
		}
	}

	model, err := m.solveChunked(labeled, kernel)
	if err != nil {
		return nil, err
	}

	if m.params.Transduce && len(pool) > 0 {
		model, err = m.transduce(labeled, pool, kernel, model)
		if err != nil {
			return nil, err
		}
	}

	if m.params.RemoveMisclassified {
		kept := labeled[:0]
		removed := 0
		for _, ex := range labeled {
			if ex.y*model.Decision(ex.row) > 0 {
				kept = append(kept, ex)
			} else {
				removed++
			}
		}
		if removed > 0 && len(kept) > 0 {
			logger.Info("svm retraining without misclassified examples", "removed", removed)
			model, err = m.solveChunked(kept, kernel)
			if err != nil {
				return nil, err
			}
		}
	}
	return model, nil
}

// solveChunked optimizes the examples, splitting into chunks whose support
// vectors carry over when the problem exceeds ChunkSize.
func (m *Method) solveChunked(examples []example, kernel Kernel) (*Model, error) {
	linear := m.params.Kernel == KernelLinear
	chunk := m.params.ChunkSize
	if chunk <= 0 || len(examples) <= chunk {
		s := newSolver(examples, kernel, m.params.CacheSize, m.params.EpsKKT, m.params.WorkingSetSize, m.params.MaxIterations, m.params.Bias)
		if err := s.solve(); err != nil {
			return nil, err
		}
		return modelFromSolver(s, kernel, linear), nil
	}

	carried := []example{}
	var model *Model
	for start := 0; start < len(examples); start += chunk {
		end := start + chunk
		if end > len(examples) {
			end = len(examples)
		}
		work := append(append([]example{}, carried...), examples[start:end]...)
		s := newSolver(work, kernel, m.params.CacheSize, m.params.EpsKKT, m.params.WorkingSetSize, m.params.MaxIterations, m.params.Bias)
		if err := s.solve(); err != nil {
			return nil, err
		}
		model = modelFromSolver(s, kernel, linear)

		carried = carried[:0]
		for i, a := range s.alphas {
			if a > s.epsAlpha {
				carried = append(carried, work[i])
			}
		}
	}
	return model, nil
}

// transduce assigns labels to the pool by ranking decision values, labels
// the top-N positive, then iteratively flips wrong-side opposite-sign
// pairs while the flip would loosen the margin violation.
func (m *Method) transduce(labeled, pool []example, kernel Kernel, model *Model) (*Model, error) {
	n := m.params.TransducePositiveN
	if n <= 0 {
		posCount := 0
		for _, ex := range labeled {
			if ex.y > 0 {
				posCount++
			}
		}
		n = int(float64(len(pool)) * float64(posCount) / float64(len(labeled)))
	}
	if n > len(pool) {
		n = len(pool)
	}

	order := make([]int, len(pool))
	for i := range order {
		order[i] = i
	}
	decisions := make([]float64, len(pool))
	for i := range pool {
		decisions[i] = model.Decision(pool[i].row)
	}
	sort.Slice(order, func(a, b int) bool { return decisions[order[a]] > decisions[order[b]] })

	positive := bitset.New(uint(len(pool)))
	for _, i := range order[:n] {
		positive.Set(uint(i))
	}
	for i := range pool {
		if positive.Test(uint(i)) {
			pool[i].y = 1
		} else {
			pool[i].y = -1
		}
	}

	all := append(append([]example{}, labeled...), pool...)
	model2, err := m.solveChunked(all, kernel)
	if err != nil {
		return nil, err
	}

	for flip := 0; flip < m.params.TransduceMaxFlips; flip++ {
		// Find an opposite-sign wrong-side pair whose swap decreases the
		// combined slack.
		bestI, bestJ := -1, -1
		bestGain := 0.0
		for i := range pool {
			fi := model2.Decision(pool[i].row)
			if pool[i].y*fi >= 1 {
				continue
			}
			for j := range pool {
				if pool[j].y*pool[i].y >= 0 {
					continue
				}
				fj := model2.Decision(pool[j].row)
				if pool[j].y*fj >= 1 {
					continue
				}
				slack := (1 - pool[i].y*fi) + (1 - pool[j].y*fj)
				flipped := (1 + pool[i].y*fi) + (1 + pool[j].y*fj)
				if gain := slack - flipped; gain > bestGain {
					bestGain = gain
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 {
			break
		}
		pool[bestI].y, pool[bestJ].y = -pool[bestI].y, -pool[bestJ].y
		all = append(append(all[:0], labeled...), pool...)
		model2, err = m.solveChunked(all, kernel)
		if err != nil {
			return nil, err
		}
	}
	return model2, nil
}

// activeLearningLoop queries labels for the smallest-margin pool documents
// round by round, simulating an oracle with the documents' known classes.
func (m *Method) activeLearningLoop(doc *barrel.Barrel) error {
	pool := doc.Tagged(corpus.TagUnlabeled)
	if len(pool) == 0 {
		return nil
	}
	initial := m.params.ALInitial
	if initial <= 0 {
		initial = 2 * m.numClass
	}
	m.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	take := initial
	if take > len(pool) {
		take = len(pool)
	}
	for _, di := range pool[:take] {
		doc.Docs[di].Tag = corpus.TagTrain
	}
	pool = pool[take:]

	rounds := m.params.ALRounds
	perRound := m.params.ALPerRound
	if perRound <= 0 {
		perRound = m.numClass
	}
	kernel, err := m.kernel(doc)
	if err != nil {
		return err
	}

	for round := 0; round < rounds && len(pool) > 0; round++ {
		// Train interim one-vs-rest machines on the current labels.
		interim := map[int]*Model{}
		for ci := 0; ci < m.numClass; ci++ {
			model, err := m.trainBinary(doc, kernel, ci, -1)
			if err != nil {
				return err
			}
			interim[ci] = model
		}

		type scored struct {
			pi     int
			margin float64
		}
		ranked := make([]scored, 0, len(pool))
		for pi, di := range pool {
			min := math.Inf(1)
			for ci := 0; ci < m.numClass; ci++ {
				if d := math.Abs(interim[ci].Decision(m.baseRows[di])); d < min {
					min = d
				}
			}
			ranked = append(ranked, scored{pi: pi, margin: min})
		}
		if m.params.ALRandom {
			m.rng.Shuffle(len(ranked), func(i, j int) { ranked[i], ranked[j] = ranked[j], ranked[i] })
		} else {
			sort.Slice(ranked, func(a, b int) bool { return ranked[a].margin < ranked[b].margin })
		}

		take := perRound
		if take > len(ranked) {
			take = len(ranked)
		}
		picked := map[int]bool{}
		for _, r := range ranked[:take] {
			doc.Docs[pool[r.pi]].Tag = corpus.TagTrain
			picked[r.pi] = true
		}
		next := pool[:0]
		for pi, di := range pool {
			if !picked[pi] {
				next = append(next, di)
			}
		}
		pool = next
		logger.Info("svm active learning round", "round", round, "labeled", corpus.CountTagged(doc.Docs, corpus.TagTrain))
	}
	return nil
}

// materialize builds the persistable class barrel: folded linear
// hyperplanes as columns, biases in the class records.
func (m *Method) materialize(doc *barrel.Barrel) (*barrel.Barrel, error) {
	class := &barrel.Barrel{
		Vocab:         doc.Vocab,
		Index:         index.New(),
		Classes:       doc.Classes.Clone(),
		Method:        m,
		IsClassBarrel: true,
	}
	for ci := 0; ci < m.numClass; ci++ {
		class.Docs = append(class.Docs, corpus.Doc{
			Name:  class.Classes.Name(ci),
			Tag:   corpus.TagTrain,
			Class: ci,
		})
	}
	if m.params.Decomposition == OneVsRest && m.params.Kernel == KernelLinear {
		for ci := 0; ci < m.numClass; ci++ {
			model := m.models[[2]int{ci, -1}]
			if model == nil || model.W == nil {
				continue
			}
			for wi, w := range model.W {
				class.Index.Set(wi, ci, 0, w)
			}
			class.Docs[ci].Prior = model.B
		}
	}
	return class, nil
}

// Score implements barrel.Method. One-vs-rest returns signed decision
// values; pairwise votes with margin tie-breaking.
func (m *Method) Score(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]barrel.Score, error) {
	if len(query.Entries) == 0 && !opts.Loose {
		return nil, barrel.ErrEmptyQuery
	}
	numClass := len(class.Docs)
	out := make([]barrel.Score, numClass)
	for ci := range out {
		out[ci] = barrel.Score{Class: ci}
	}

	switch {
	case m.models != nil && m.params.Decomposition == Pairwise:
		m.scorePairwise(out, query)
	case m.models != nil:
		for ci := 0; ci < numClass; ci++ {
			if model := m.models[[2]int{ci, -1}]; model != nil {
				out[ci].Score = model.Decision(query)
			}
		}
	default:
		// Reloaded barrel: folded linear hyperplanes in the columns.
		for ci := 0; ci < numClass; ci++ {
			out[ci].Score = class.Docs[ci].Prior
		}
		for i := range query.Entries {
			e := &query.Entries[i]
			v := class.Index.ColumnIncludingHidden(e.WI)
			if v == nil {
				continue
			}
			for j := range v.Entries {
				if v.Entries[j].DI < numClass {
					out[v.Entries[j].DI].Score += v.Entries[j].Weight * e.Weight
				}
			}
		}
	}

	barrel.SortScores(out)
	if opts.NumToReturn > 0 && len(out) > opts.NumToReturn {
		out = out[:opts.NumToReturn]
	}
	return out, nil
}

// scorePairwise votes each pairwise machine, breaking vote ties by the
// average margin over the tied classes' matches. If a second round still
// ties, the largest single pairwise margin wins.
func (m *Method) scorePairwise(out []barrel.Score, query *index.Row) {
	votes := make([]int, len(out))
	margins := make([]float64, len(out))
	maxMargin := make([]float64, len(out))
	counts := make([]int, len(out))

	for key, model := range m.models {
		a, b := key[0], key[1]
		d := model.Decision(query)
		winner := a
		if d < 0 {
			winner = b
		}
		votes[winner]++
		mag := math.Abs(d)
		margins[a] += d
		margins[b] -= d
		counts[a]++
		counts[b]++
		if mag > maxMargin[winner] {
			maxMargin[winner] = mag
		}
	}

	best := 0
	for ci := 1; ci < len(votes); ci++ {
		if votes[ci] > votes[best] {
			best = ci
		}
	}
	tied := []int{}
	for ci := range votes {
		if votes[ci] == votes[best] {
			tied = append(tied, ci)
		}
	}
	if len(tied) > 1 {
		// First tie round: average margin over the tied classes.
		best = tied[0]
		bestAvg := math.Inf(-1)
		secondTie := []int{}
		for _, ci := range tied {
			avg := margins[ci] / float64(counts[ci])
			if avg > bestAvg+1e-12 {
				best, bestAvg = ci, avg
				secondTie = []int{ci}
			} else if math.Abs(avg-bestAvg) <= 1e-12 {
				secondTie = append(secondTie, ci)
			}
		}
		if len(secondTie) > 1 {
			// Second round: largest single pairwise margin.
			for _, ci := range secondTie {
				if maxMargin[ci] > maxMargin[best] {
					best = ci
				}
			}
		}
	}

	for ci := range out {
		out[ci].Score = float64(votes[ci]) + margins[ci]/math.Max(1, float64(counts[ci]))/1000
	}
	// Nudge the tie-broken winner ahead of equal-vote rivals.
	out[best].Score += 1e-6
}
