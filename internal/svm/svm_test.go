package svm

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/synth"
)

// separableExamples builds a linearly separable two-block bag-of-words
// problem: positives use words [0,20), negatives use [20,40).
func separableExamples(n int, seed uint64) []example {
	rng := rand.New(rand.NewPCG(seed, seed+7))
	out := make([]example, 0, n)
	for i := 0; i < n; i++ {
		y := 1.0
		base := 0
		if i%2 == 1 {
			y = -1
			base = 20
		}
		counts := map[int]int{}
		for w := 0; w < 15; w++ {
			counts[base+rng.IntN(20)]++
		}
		row := index.NewRow(counts)
		out = append(out, example{row: row, y: y, c: 10})
	}
	return out
}

func TestSMOSeparatesLinearlySeparableData(t *testing.T) {
	examples := separableExamples(100, 3)
	s := newSolver(examples, linearKernel{}, 0, 1e-3, 4, 0, true)
	require.NoError(t, s.solve())

	model := modelFromSolver(s, linearKernel{}, true)
	require.NotEmpty(t, model.SupportVectors)

	// Perfect separation: every example on its own side with margin.
	for _, ex := range examples {
		assert.GreaterOrEqual(t, ex.y*model.Decision(ex.row), 1-1e-3,
			"training example must satisfy the margin")
	}
}

func TestSMOKKTConditionsAtConvergence(t *testing.T) {
	examples := separableExamples(60, 5)
	s := newSolver(examples, linearKernel{}, 0, 1e-3, 4, 0, true)
	require.NoError(t, s.solve())

	for i := range examples {
		yf := examples[i].y * s.decision(i)
		a := s.alphas[i]
		switch {
		case a < s.epsAlpha:
			assert.GreaterOrEqual(t, yf, 1-s.epsKKT, "zero-alpha example %d", i)
		case a > examples[i].c-s.epsAlpha:
			assert.LessOrEqual(t, yf, 1+s.epsKKT, "bound example %d", i)
		default:
			assert.InDelta(t, 1.0, yf, s.epsKKT, "free support vector %d", i)
		}
	}
	assert.InDelta(t, 0.0, s.alphaYSum(), 1e-6, "sum alpha_i y_i must vanish")
}

func TestLinearFoldMatchesDualExpansion(t *testing.T) {
	examples := separableExamples(80, 7)
	s := newSolver(examples, linearKernel{}, 0, 1e-3, 4, 0, true)
	require.NoError(t, s.solve())
	model := modelFromSolver(s, linearKernel{}, true)
	require.NotNil(t, model.W)

	for _, ex := range examples[:20] {
		assert.InDelta(t, model.DecisionDual(ex.row), model.Decision(ex.row), 1e-4,
			"folded hyperplane must agree with the support-vector expansion")
	}
}

func TestKernelCache(t *testing.T) {
	c := newKernelCache(64)

	_, ok := c.get(1, 2)
	assert.False(t, ok)

	c.put(1, 2, 0.5)
	v, ok := c.get(1, 2)
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	// Symmetric keys hit the same slot.
	v, ok = c.get(2, 1)
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	// Filling far past capacity must evict, not grow.
	for i := 0; i < 10000; i++ {
		c.put(i, i+1, float64(i))
	}
	assert.Len(t, c.slots, 64)
}

func TestKernels(t *testing.T) {
	a := index.NewRow(map[int]int{0: 2, 3: 1})
	b := index.NewRow(map[int]int{0: 1, 2: 4})

	assert.InDelta(t, 2.0, linearKernel{}.Eval(a, b), 1e-12)
	assert.InDelta(t, 27.0, polyKernel{degree: 3, coef: 1, scale: 1}.Eval(a, b), 1e-12)

	rbf := rbfKernel{gamma: 0.5}
	assert.InDelta(t, 1.0, rbf.Eval(a, a), 1e-12, "RBF of a point with itself is 1")
	assert.Less(t, rbf.Eval(a, b), 1.0)

	sig := sigmoidKernel{a: 1, b: -1}
	assert.InDelta(t, math.Tanh(1), sig.Eval(a, b), 1e-12)
}

func trainSVM(t *testing.T, p Params, seed uint64) (*Method, *barrel.Barrel, *barrel.Barrel) {
	t.Helper()
	cfg := synth.DefaultConfig()
	cfg.Seed = seed
	doc := synth.Generate(cfg)
	m := New(p)
	doc.Method = m
	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)
	return m, doc, class
}

func svmAccuracy(t *testing.T, m *Method, class, doc *barrel.Barrel) float64 {
	t.Helper()
	correct, total := 0, 0
	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTest))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		scores, err := m.Score(class, row, barrel.ScoreOpts{})
		require.NoError(t, err)
		if scores[0].Class == doc.Docs[di].Class {
			correct++
		}
		total++
	}
	require.Positive(t, total)
	return float64(correct) / float64(total)
}

func TestOneVsRestMulticlass(t *testing.T) {
	m, doc, class := trainSVM(t, DefaultParams(), 11)
	acc := svmAccuracy(t, m, class, doc)
	assert.GreaterOrEqual(t, acc, 0.85, "one-vs-rest linear accuracy")
}

func TestPairwiseMulticlassVoting(t *testing.T) {
	p := DefaultParams()
	p.Decomposition = Pairwise
	m, doc, class := trainSVM(t, p, 13)
	acc := svmAccuracy(t, m, class, doc)
	assert.GreaterOrEqual(t, acc, 0.85, "pairwise voting accuracy")

	// Unit-level check of scorePairwise on a query for which every
	// machine returns zero: each zero decision goes to the pair's first
	// class, so the votes are 2, 1, 0 and a full ranking comes back.
	m2 := New(p)
	m2.numClass = 3
	m2.models = map[[2]int]*Model{}
	for key := range map[[2]int]bool{{0, 1}: true, {0, 2}: true, {1, 2}: true} {
		m2.models[key] = &Model{Kernel: linearKernel{}, W: map[int]float64{}}
	}
	out := make([]barrel.Score, 3)
	for ci := range out {
		out[ci] = barrel.Score{Class: ci}
	}
	m2.scorePairwise(out, index.NewRow(map[int]int{0: 1}))
	barrel.SortScores(out)
	assert.Len(t, out, 3, "an all-tie query still yields a full ranking")
}

func TestReloadedLinearBarrelScoresWithoutModels(t *testing.T) {
	m, doc, class := trainSVM(t, DefaultParams(), 17)

	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTest))
	_, row, ok := it.Next()
	require.True(t, ok)
	live, err := m.Score(class, row, barrel.ScoreOpts{})
	require.NoError(t, err)

	// A freshly constructed method (as after archive reload) has no
	// in-memory models and scores from the folded hyperplane columns.
	reloaded := New(DefaultParams())
	cold, err := reloaded.Score(class, row, barrel.ScoreOpts{})
	require.NoError(t, err)

	require.Equal(t, len(live), len(cold))
	assert.Equal(t, live[0].Class, cold[0].Class)
	for i := range live {
		assert.InDelta(t, live[i].Score, cold[i].Score, 1e-9)
	}
}

func TestFisherKernelRejectedForPairwise(t *testing.T) {
	p := DefaultParams()
	p.Kernel = KernelFisher
	p.Decomposition = Pairwise

	cfg := synth.DefaultConfig()
	doc := synth.Generate(cfg)
	m := New(p)
	_, err := m.TrainClassBarrel(doc)
	assert.Error(t, err)
}

func TestRBFKernelTrains(t *testing.T) {
	p := DefaultParams()
	p.Kernel = KernelRBF
	p.RBFGamma = 0.05
	m, doc, class := trainSVM(t, p, 19)
	acc := svmAccuracy(t, m, class, doc)
	assert.GreaterOrEqual(t, acc, 0.6)
}

func TestTransduction(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.NumClasses = 2
	cfg.VocabSize = 100
	cfg.Seed = 23
	doc := synth.Generate(cfg)
	// Move most training documents into the transduction pool.
	synth.RetagFraction(doc, corpus.TagTrain, corpus.TagPool, 0.6, 23)

	p := DefaultParams()
	p.Transduce = true
	p.TransduceMaxFlips = 10
	m := New(p)
	doc.Method = m
	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)

	acc := svmAccuracy(t, m, class, doc)
	assert.GreaterOrEqual(t, acc, 0.8, "transductive training accuracy")
}

func TestActiveLearningInsideSVM(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.NumClasses = 2
	cfg.VocabSize = 100
	cfg.Seed = 29
	doc := synth.Generate(cfg)
	synth.RetagFraction(doc, corpus.TagTrain, corpus.TagUnlabeled, 0.9, 29)

	p := DefaultParams()
	p.ActiveLearning = true
	p.ALInitial = 4
	p.ALPerRound = 4
	p.ALRounds = 3
	m := New(p)
	doc.Method = m
	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)

	labeled := corpus.CountTagged(doc.Docs, corpus.TagTrain)
	assert.GreaterOrEqual(t, labeled, 4+3*4-4, "queried labels must accumulate")
	assert.GreaterOrEqual(t, svmAccuracy(t, m, class, doc), 0.7)
}

func TestChunkedSolvingClassifiesHeldOut(t *testing.T) {
	p := DefaultParams()
	p.ChunkSize = 50
	m, doc, class := trainSVM(t, p, 31)
	acc := svmAccuracy(t, m, class, doc)
	assert.GreaterOrEqual(t, acc, 0.8, "chunked decomposition accuracy")
}
