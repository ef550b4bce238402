package hier

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
)

// MethodName is the archive identifier.
const MethodName = "hem"

// Params are the hierarchical EM hyper-parameters.
type Params struct {
	// Shrinkage mixes each leaf with its ancestors; without it every
	// leaf relies on its local distribution only.
	Shrinkage bool

	// LOO keeps leave-one-out tables so training documents are scored
	// with their own mass removed.
	LOO bool

	Temperature      float64
	TemperatureEnd   float64
	TemperatureDecay float64

	MaxIterations int

	// Alpha is the Dirichlet floor added to word counts when rolling
	// accumulators. Zero keeps the built-in floor: 0 with shrinkage, 1
	// without.
	Alpha float64

	// Fienberg replaces lambda EM with the closed-form estimate.
	Fienberg bool

	// SplitKLThreshold enables tree growth: grandparents whose children
	// diverge more than this spawn grandchildren. Zero disables.
	SplitKLThreshold float64
	BranchingFactor  int
	MaxDepth         int
	GrowInterval     int

	// IncrementalLabeling promotes the most confident unlabeled
	// documents to training after each iteration, at most
	// LabelsPerIteration per leaf.
	IncrementalLabeling bool
	LabelsPerIteration  int

	// LambdasFromValidation holds out this fraction of training
	// documents; only they update the lambdas.
	LambdasFromValidation float64

	// AddMisc gives every interior node a flat Misc child.
	AddMisc bool

	// GeneratesClass accumulates a per-class distribution on each leaf.
	GeneratesClass bool

	Seed uint64
}

// DefaultParams mirrors the crossbow defaults: shrinkage with LOO,
// annealing from 100 down to 1.
func DefaultParams() Params {
	return Params{
		Shrinkage:          true,
		LOO:                true,
		Temperature:        100,
		TemperatureEnd:     1,
		TemperatureDecay:   0.9,
		MaxIterations:      40,
		BranchingFactor:    2,
		MaxDepth:           6,
		GrowInterval:       5,
		LabelsPerIteration: 5,
		GeneratesClass:     true,
		Seed:               1,
	}
}

// Method is the hierarchical EM strategy. After training it retains the
// topic tree; scoring uses the tree when present and falls back to the
// persisted class barrel's per-class distributions otherwise.
type Method struct {
	params Params
	rng    *rand.Rand

	tree       *Tree
	classNodes []int // per class: its node in the tree
}

// New creates a hierarchical EM method.
func New(p Params) *Method {
	if p.MaxIterations <= 0 {
		p.MaxIterations = 40
	}
	if p.Temperature <= 0 {
		p.Temperature = 1
	}
	if p.TemperatureEnd <= 0 {
		p.TemperatureEnd = 1
	}
	return &Method{
		params: p,
		rng:    rand.New(rand.NewPCG(p.Seed, p.Seed^0x8e51ab2cf0ee1efb)),
	}
}

func init() {
	barrel.Register(MethodName, func() barrel.Method { return New(DefaultParams()) })
}

// Name implements barrel.Method.
func (m *Method) Name() string { return MethodName }

// Tree returns the trained topic tree, or nil before training.
func (m *Method) Tree() *Tree { return m.tree }

// SetWeights implements barrel.Method.
func (m *Method) SetWeights(b *barrel.Barrel) { barrel.SetWeightsCount(b) }

// NormalizeWeights implements barrel.Method.
func (m *Method) NormalizeWeights(b *barrel.Barrel) {}

// SetPriors implements barrel.Method; priors come from leaf membership
// mass accumulated during EM.
func (m *Method) SetPriors(class, doc *barrel.Barrel) error { return nil }

// SetQueryWeights implements barrel.Method.
func (m *Method) SetQueryWeights(class *barrel.Barrel, query *index.Row) {
	for i := range query.Entries {
		query.Entries[i].Weight = float64(query.Entries[i].Count)
	}
}

// NormalizeQueryWeights implements barrel.Method.
func (m *Method) NormalizeQueryWeights(query *index.Row) { query.Normalizer = 1 }

// buildTree creates the taxonomy from class names: slash-separated names
// become paths, so "sci/space" nests under "sci".
func (m *Method) buildTree(doc *barrel.Barrel) {
	m.tree = NewTree(vocabSizeOf(doc))
	m.classNodes = make([]int, doc.NumClasses())
	byPath := map[string]int{"": 0}

	for ci := 0; ci < doc.NumClasses(); ci++ {
		name := doc.Classes.Name(ci)
		if name == "" {
			name = fmt.Sprintf("class%d", ci)
		}
		parent := 0
		path := ""
		for _, seg := range strings.Split(name, "/") {
			if seg == "" {
				continue
			}
			path += seg + "/"
			ni, ok := byPath[path]
			if !ok {
				ni = m.tree.AddChild(parent, seg)
				byPath[path] = ni
			}
			parent = ni
		}
		m.classNodes[ci] = parent
	}
	if m.params.AddMisc {
		m.tree.AddMiscChildAll()
	}
	for ni := range m.tree.Nodes {
		if m.params.Shrinkage {
			m.tree.SetLambdasUniform(ni)
		} else {
			m.tree.SetLambdasLeafOnly(ni)
		}
	}
}

func vocabSizeOf(doc *barrel.Barrel) int {
	if doc.Vocab != nil && doc.Vocab.Size() > 0 {
		return doc.Vocab.Size()
	}
	return doc.Index.NumTerms()
}

// classOfNode walks up from a leaf to the class node containing it.
func (m *Method) classOfNode(ni int) int {
	for cur := ni; cur != NoNode; cur = m.tree.Nodes[cur].Parent {
		for ci, cn := range m.classNodes {
			if cn == cur {
				return ci
			}
		}
	}
	return corpus.NoClass
}

// TrainClassBarrel implements barrel.Method: anneal the temperature while
// re-estimating word distributions, mixture weights and priors, growing
// the tree and promoting confident unlabeled documents when configured.
func (m *Method) TrainClassBarrel(doc *barrel.Barrel) (*barrel.Barrel, error) {
	if doc.NumClasses() == 0 {
		return nil, fmt.Errorf("hem: no labeled classes")
	}
	m.SetWeights(doc)
	m.buildTree(doc)

	if m.params.LambdasFromValidation > 0 {
		m.carveValidation(doc)
	}

	temperature := m.params.Temperature
	prevPerp := math.MaxFloat64
	for iter := 0; iter < m.params.MaxIterations; iter++ {
		perp := m.emIteration(doc, temperature)
		if m.params.Fienberg {
			m.tree.FienbergLambdas()
		}
		logger.Info("hem iteration", "iter", iter, "perplexity", perp, "temperature", temperature, "nodes", len(m.tree.Nodes))

		if m.params.IncrementalLabeling {
			m.promoteConfident(doc, temperature)
		}
		if m.params.SplitKLThreshold > 0 && m.params.GrowInterval > 0 && (iter+1)%m.params.GrowInterval == 0 {
			m.growTree()
		}

		if temperature > m.params.TemperatureEnd {
			temperature *= m.params.TemperatureDecay
			if temperature < m.params.TemperatureEnd {
				temperature = m.params.TemperatureEnd
			}
		} else if math.Abs(prevPerp-perp) < 1e-4*prevPerp {
			break
		}
		prevPerp = perp
	}

	return m.materialize(doc)
}

func (m *Method) carveValidation(doc *barrel.Barrel) {
	train := doc.Tagged(corpus.TagTrain)
	m.rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	n := int(float64(len(train)) * m.params.LambdasFromValidation)
	for _, di := range train[:n] {
		doc.Docs[di].Tag = corpus.TagValidation
	}
}

// leafLogProbs returns, per leaf, log P(d|leaf) for the row.
func (m *Method) leafLogProbs(leaves []int, row *index.Row, di int) []float64 {
	out := make([]float64, len(leaves))
	for li, ni := range leaves {
		ll := 0.0
		for wvi := range row.Entries {
			e := &row.Entries[wvi]
			var p float64
			switch {
			case m.params.Shrinkage && m.params.LOO:
				p = m.tree.ShrunkLooProb(ni, e.WI, di, wvi)
			case m.params.Shrinkage:
				p = m.tree.ShrunkProb(ni, e.WI)
			case m.params.LOO:
				p = m.tree.LooLocalProb(ni, e.WI, di, wvi)
			default:
				p = m.tree.LocalProb(ni, e.WI)
			}
			if p < 1e-300 {
				p = 1e-300
			}
			ll += float64(e.Count) * math.Log(p)
		}
		out[li] = ll
	}
	return out
}

// membership converts leaf data probabilities into responsibilities. For
// labeled documents the distribution is restricted to leaves under the
// document's class node.
func (m *Method) membership(doc *barrel.Barrel, di int, leaves []int, dataProbs []float64, temperature float64) []float64 {
	d := &doc.Docs[di]
	logs := make([]float64, len(leaves))
	restricted := d.Tag == corpus.TagTrain || d.Tag == corpus.TagValidation
	for li, ni := range leaves {
		prior := m.tree.Nodes[ni].Prior
		if prior <= 0 {
			prior = 1e-12
		}
		logs[li] = math.Log(prior) + dataProbs[li]/temperature
		if restricted && d.Class >= 0 && !m.underClassNode(ni, d.Class) {
			logs[li] = math.Inf(-1)
		}
	}
	return naivebayes.Posterior(logs)
}

func (m *Method) underClassNode(ni, class int) bool {
	target := m.classNodes[class]
	for cur := ni; cur != NoNode; cur = m.tree.Nodes[cur].Parent {
		if cur == target {
			return true
		}
	}
	return false
}

// emIteration runs one combined E/M pass and returns the perplexity of the
// incorporated data.
func (m *Method) emIteration(doc *barrel.Barrel, temperature float64) float64 {
	leaves := m.tree.Leaves()
	numDocs := len(doc.Docs)
	logProb := 0.0
	numWords := 0

	lambdaHoldout := m.params.LambdasFromValidation > 0

	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTrain, corpus.TagUnlabeled, corpus.TagValidation))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		d := &doc.Docs[di]
		if d.Tag == corpus.TagValidation && !lambdaHoldout {
			continue
		}

		dataProbs := m.leafLogProbs(leaves, row, di)
		member := m.membership(doc, di, leaves, dataProbs, temperature)

		for li := range leaves {
			if member[li] > 0 {
				logProb += member[li] * dataProbs[li]
			}
		}
		numWords += row.WordCount()

		m.deposit(doc, di, row, leaves, member, numDocs, lambdaHoldout)
	}

	m.tree.SetLeafPriorsFromNew(1)
	wordAlpha, lambdaAlpha := 0.0, 1.0
	if !m.params.Shrinkage {
		wordAlpha, lambdaAlpha = 1.0, 0.0
	}
	if m.params.Alpha > 0 {
		wordAlpha = m.params.Alpha
	}
	m.tree.Walk(func(ni int) {
		m.tree.SetFromNew(ni, wordAlpha, lambdaAlpha)
	})

	if numWords == 0 {
		return math.MaxFloat64
	}
	return math.Exp(-logProb / float64(numWords))
}

// deposit performs the per-document M-step: every word occurrence spreads
// over the generating leaf's ancestor chain plus the uniform component,
// feeding word, lambda, prior and leave-one-out accumulators.
func (m *Method) deposit(doc *barrel.Barrel, di int, row *index.Row, leaves []int, member []float64, numDocs int, lambdaHoldout bool) {
	d := &doc.Docs[di]
	isValidation := d.Tag == corpus.TagValidation
	updateWords := !lambdaHoldout || !isValidation
	updateLambdas := !lambdaHoldout || isValidation

	for li, ni := range leaves {
		if member[li] == 0 {
			continue
		}
		leaf := m.tree.Nodes[ni]
		if leaf.IsMisc() {
			continue
		}
		ancestors := m.tree.Ancestors(ni)

		if !m.params.Shrinkage {
			for wvi := range row.Entries {
				e := &row.Entries[wvi]
				leaf.NewWords[e.WI] += float64(e.Count) * member[li]
				leaf.NewLambdas[0]++
			}
		} else {
			am := make([]float64, len(ancestors)+1)
			for wvi := range row.Entries {
				e := &row.Entries[wvi]

				total := 0.0
				for ai, anc := range ancestors {
					var p float64
					if m.params.LOO {
						p = m.tree.LooLocalProb(anc, e.WI, di, wvi)
					} else {
						p = m.tree.Nodes[anc].Words[e.WI]
					}
					am[ai] = leaf.Lambdas[ai] * p
					total += am[ai]
				}
				am[len(ancestors)] = leaf.Lambdas[len(ancestors)] / float64(m.tree.VocabSize)
				total += am[len(ancestors)]
				if total == 0 {
					continue
				}
				for ai := range am {
					am[ai] /= total
				}

				for ai, anc := range ancestors {
					deposit := float64(e.Count) * member[li] * am[ai]
					if updateWords {
						if m.params.LOO {
							m.tree.AddNewLoo(anc, deposit, di, wvi, len(row.Entries), numDocs)
						}
						m.tree.Nodes[anc].NewWords[e.WI] += deposit
					}
					if updateLambdas {
						leaf.NewLambdas[ai] += deposit
					}
				}
				if updateLambdas {
					leaf.NewLambdas[len(ancestors)] += float64(e.Count) * member[li] * am[len(ancestors)]
				}
			}
		}

		leaf.NewPrior += member[li]
		if m.params.GeneratesClass && d.Class >= 0 {
			if leaf.NewClasses == nil {
				leaf.NewClasses = make([]float64, doc.NumClasses())
			}
			leaf.NewClasses[d.Class] += member[li]
		}
	}
}

// promoteConfident relabels the most confidently classified unlabeled
// documents as training, at most LabelsPerIteration per leaf.
func (m *Method) promoteConfident(doc *barrel.Barrel, temperature float64) {
	leaves := m.tree.Leaves()
	type candidate struct {
		di   int
		conf float64
	}
	perLeaf := make(map[int][]candidate)

	it := doc.Index.Rows(doc.TagPredicate(corpus.TagUnlabeled))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		dataProbs := m.leafLogProbs(leaves, row, di)
		member := m.membership(doc, di, leaves, dataProbs, temperature)
		best, conf := -1, 0.0
		for li := range member {
			if member[li] > conf {
				best, conf = li, member[li]
			}
		}
		if best >= 0 {
			perLeaf[best] = append(perLeaf[best], candidate{di: di, conf: conf})
		}
	}

	quota := m.params.LabelsPerIteration
	if quota <= 0 {
		quota = 1
	}
	for li, cands := range perLeaf {
		sort.Slice(cands, func(i, j int) bool { return cands[i].conf > cands[j].conf })
		if len(cands) > quota {
			cands = cands[:quota]
		}
		class := m.classOfNode(leaves[li])
		if class == corpus.NoClass {
			continue
		}
		for _, c := range cands {
			doc.Docs[c.di].Tag = corpus.TagTrain
			doc.Docs[c.di].Class = class
		}
	}
}

func (m *Method) growTree() {
	parents := []int{}
	m.tree.Walk(func(ni int) {
		if m.tree.IsLeafParent(ni) {
			parents = append(parents, ni)
		}
	})
	for _, ni := range parents {
		if m.tree.HypothesizeGrandchildren(ni, m.params.BranchingFactor, m.params.SplitKLThreshold, m.params.MaxDepth, m.rng) {
			logger.Info("hem split children", "node", m.tree.Nodes[ni].Name)
		}
	}
}

// materialize renders the tree into a class barrel: one row per class with
// the class's aggregated leaf prior and, per term, the prior-weighted
// mixture of the shrunk probabilities of all the class's leaves.
func (m *Method) materialize(doc *barrel.Barrel) (*barrel.Barrel, error) {
	class := &barrel.Barrel{
		Vocab:         doc.Vocab,
		Index:         index.New(),
		Classes:       doc.Classes.Clone(),
		Method:        m,
		IsClassBarrel: true,
	}
	leaves := m.tree.Leaves()
	numClasses := doc.NumClasses()

	for ci := 0; ci < numClasses; ci++ {
		class.Docs = append(class.Docs, corpus.Doc{
			Name:  class.Classes.Name(ci),
			Tag:   corpus.TagTrain,
			Class: ci,
		})
	}

	// Aggregate leaf priors and per-word mixture mass per class.
	for _, ni := range leaves {
		ci := m.classOfNode(ni)
		if ci == corpus.NoClass || ci >= numClasses {
			continue
		}
		prior := m.tree.Nodes[ni].Prior
		class.Docs[ci].Prior += prior
		class.Docs[ci].Normalizer += m.tree.Nodes[ni].WordsNormalizer
		if prior <= 0 {
			continue
		}
		for wi := 0; wi < m.tree.VocabSize; wi++ {
			p := m.tree.ShrunkProb(ni, wi)
			if p > 1e-9 {
				class.Index.Add(wi, ci, 0, prior*p)
			}
		}
	}

	// Renormalize the stored per-class distributions.
	for ci := 0; ci < numClasses; ci++ {
		if class.Docs[ci].Prior <= 0 {
			continue
		}
		dist := make([]float64, numClasses)
		dist[ci] = 1
		class.Docs[ci].ClassDist = dist
	}
	total := 0.0
	for ci := range class.Docs {
		total += class.Docs[ci].Prior
	}
	if total > 0 {
		for ci := range class.Docs {
			class.Docs[ci].Prior /= total
		}
	}
	for wi := 0; wi < class.Index.NumTerms(); wi++ {
		v := class.Index.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			ci := v.Entries[i].DI
			if class.Docs[ci].Prior > 0 {
				// weight becomes P(w|class): mixture mass over the
				// class's leaves divided by the class's prior mass.
				v.Entries[i].Weight /= class.Docs[ci].Prior * total
			}
		}
	}
	class.ComputeWordCounts()
	return class, nil
}

// Score implements barrel.Method. With a live tree, classes are scored by
// their leaves' shrunk likelihoods; a reloaded barrel scores from its
// persisted per-class distributions.
func (m *Method) Score(class *barrel.Barrel, query *index.Row, opts barrel.ScoreOpts) ([]barrel.Score, error) {
	if len(query.Entries) == 0 && !opts.Loose {
		return nil, barrel.ErrEmptyQuery
	}
	numClasses := len(class.Docs)
	logs := make([]float64, numClasses)

	if m.tree != nil {
		leaves := m.tree.Leaves()
		perClass := make([][]float64, numClasses)
		for _, ni := range leaves {
			ci := m.classOfNode(ni)
			if ci == corpus.NoClass || ci >= numClasses {
				continue
			}
			prior := m.tree.Nodes[ni].Prior
			if prior <= 0 {
				continue
			}
			ll := math.Log(prior)
			for i := range query.Entries {
				e := &query.Entries[i]
				if e.WI >= m.tree.VocabSize {
					continue
				}
				p := m.tree.ShrunkProb(ni, e.WI)
				if p < 1e-300 {
					p = 1e-300
				}
				ll += float64(e.Count) * math.Log(p)
			}
			perClass[ci] = append(perClass[ci], ll)
		}
		for ci := range logs {
			if len(perClass[ci]) == 0 {
				logs[ci] = math.Inf(-1)
				continue
			}
			logs[ci] = floats.LogSumExp(perClass[ci])
		}
	} else {
		for ci := 0; ci < numClasses; ci++ {
			prior := class.Docs[ci].Prior
			if prior <= 0 {
				prior = 1e-12
			}
			logs[ci] = math.Log(prior)
			for i := range query.Entries {
				e := &query.Entries[i]
				p := 1e-9
				if ent := class.Index.Entry(e.WI, ci); ent != nil && ent.Weight > 0 {
					p = ent.Weight
				}
				logs[ci] += float64(e.Count) * math.Log(p)
			}
		}
	}

	post := naivebayes.Posterior(logs)
	out := make([]barrel.Score, len(post))
	for ci, s := range post {
		out[ci] = barrel.Score{Class: ci, Score: s}
	}
	barrel.SortScores(out)
	if opts.NumToReturn > 0 && len(out) > opts.NumToReturn {
		out = out[:opts.NumToReturn]
	}
	return out, nil
}
