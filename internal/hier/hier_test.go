package hier

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/synth"
)

func TestTreeConstruction(t *testing.T) {
	tree := NewTree(10)
	a := tree.AddChild(0, "sci")
	b := tree.AddChild(a, "space")
	c := tree.AddChild(a, "med")

	assert.Equal(t, "/sci/", tree.Nodes[a].Name)
	assert.Equal(t, "/sci/space/", tree.Nodes[b].Name)
	assert.Equal(t, 2, tree.Nodes[b].Depth)
	assert.Equal(t, []int{b, c}, tree.Nodes[a].Children)
	assert.Equal(t, []int{b, a, 0}, tree.Ancestors(b))
	assert.Equal(t, []int{b, c}, tree.Leaves())
	assert.True(t, tree.IsLeafParent(a))
	assert.False(t, tree.IsLeafParent(0))

	// Lambdas cover self..root plus uniform.
	assert.Len(t, tree.Nodes[b].Lambdas, 4)
}

func TestSetFromNewNormalizesWords(t *testing.T) {
	tree := NewTree(4)
	li := tree.AddChild(0, "leaf")
	n := tree.Nodes[li]
	n.NewWords[0] = 3
	n.NewWords[2] = 1
	n.NewLambdas[0] = 2
	n.NewLambdas[1] = 1
	n.NewLambdas[2] = 1

	tree.SetFromNew(li, 0, 0)

	sum := 0.0
	for _, w := range n.Words {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, 0.75, n.Words[0], 1e-12)
	assert.InDelta(t, 4.0, n.WordsNormalizer, 1e-12)

	lsum := 0.0
	for _, l := range n.Lambdas {
		lsum += l
	}
	assert.InDelta(t, 1.0, lsum, 1e-12)
	assert.InDelta(t, 0.5, n.Lambdas[0], 1e-12)

	// Accumulators are zeroed.
	for _, w := range n.NewWords {
		assert.Zero(t, w)
	}
}

func TestMiscStaysFlat(t *testing.T) {
	tree := NewTree(4)
	p := tree.AddChild(0, "topic")
	tree.AddChild(p, "leafA")
	tree.AddMiscChildAll()

	var misc int
	tree.Walk(func(ni int) {
		if tree.Nodes[ni].IsMisc() {
			misc = ni
		}
	})
	require.NotZero(t, misc)

	tree.Nodes[misc].NewWords[0] = 100
	tree.SetFromNew(misc, 0, 0)
	for _, w := range tree.Nodes[misc].Words {
		assert.InDelta(t, 0.25, w, 1e-12)
	}
}

func TestLooLocalProbSubtractsDocumentMass(t *testing.T) {
	tree := NewTree(4)
	li := tree.AddChild(0, "leaf")
	n := tree.Nodes[li]

	// Two documents deposit mass on word 0; doc 0 contributes 2 of 6.
	n.NewWords[0] = 4
	n.NewWords[1] = 2
	tree.AddNewLoo(li, 2, 0, 0, 1, 2)
	tree.SetFromNew(li, 0, 0)

	plain := tree.LooLocalProb(li, 0, 1, 0) // doc 1 left nothing for wvi 0
	withLoo := tree.LooLocalProb(li, 0, 0, 0)

	// Without doc 0: word 0 has 2 of 4 mass.
	assert.InDelta(t, 0.5, withLoo, 1e-12)
	assert.Greater(t, plain, withLoo)
}

func TestShrunkProbMixesAncestors(t *testing.T) {
	tree := NewTree(2)
	li := tree.AddChild(0, "leaf")
	n := tree.Nodes[li]
	n.Words = []float64{1, 0}
	tree.Nodes[0].Words = []float64{0, 1}
	n.Lambdas = []float64{0.5, 0.25, 0.25}

	// 0.5*1 + 0.25*0 + 0.25*(1/2)
	assert.InDelta(t, 0.625, tree.ShrunkProb(li, 0), 1e-12)
	sum := tree.ShrunkProb(li, 0) + tree.ShrunkProb(li, 1)
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func trainHier(t *testing.T, p Params, labeledFraction float64, seed uint64) (*Method, *barrel.Barrel, *barrel.Barrel) {
	t.Helper()
	cfg := synth.DefaultConfig()
	cfg.Seed = seed
	doc := synth.Generate(cfg)
	if labeledFraction < 1 {
		synth.RetagFraction(doc, corpus.TagTrain, corpus.TagUnlabeled, 1-labeledFraction, seed)
	}
	m := New(p)
	doc.Method = m
	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)
	return m, doc, class
}

func TestHierEMClassifiesHeldOut(t *testing.T) {
	p := DefaultParams()
	p.MaxIterations = 12
	p.Temperature = 10
	m, doc, class := trainHier(t, p, 1, 7)

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
	acc := float64(correct) / float64(total)
	assert.GreaterOrEqual(t, acc, 0.8, "hierarchical EM accuracy")
}

func TestHierInvariantsAfterTraining(t *testing.T) {
	p := DefaultParams()
	p.MaxIterations = 6
	p.Temperature = 5
	m, _, class := trainHier(t, p, 1, 11)

	// Leaf priors sum to one.
	sum := 0.0
	for _, li := range m.tree.Leaves() {
		sum += m.tree.Nodes[li].Prior
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// Every node's words and lambdas are distributions.
	m.tree.Walk(func(ni int) {
		n := m.tree.Nodes[ni]
		wsum := 0.0
		for _, w := range n.Words {
			wsum += w
		}
		assert.InDelta(t, 1.0, wsum, 1e-6, "words of %s", n.Name)
		lsum := 0.0
		for _, l := range n.Lambdas {
			assert.GreaterOrEqual(t, l, 0.0)
			lsum += l
		}
		assert.InDelta(t, 1.0, lsum, 1e-6, "lambdas of %s", n.Name)
	})

	// Class priors in the materialized barrel sum to one.
	psum := 0.0
	for ci := range class.Docs {
		psum += class.Docs[ci].Prior
	}
	assert.InDelta(t, 1.0, psum, 1e-6)
}

func TestFienbergLambdas(t *testing.T) {
	p := DefaultParams()
	p.Fienberg = true
	p.MaxIterations = 5
	p.Temperature = 5
	m, _, _ := trainHier(t, p, 1, 13)

	m.tree.Walk(func(ni int) {
		n := m.tree.Nodes[ni]
		lsum := 0.0
		for _, l := range n.Lambdas {
			assert.GreaterOrEqual(t, l, -1e-12)
			lsum += l
		}
		assert.InDelta(t, 1.0, lsum, 1e-6, "fienberg lambdas of %s", n.Name)
	})
}

func TestTreeGrowthOnDivergentChildren(t *testing.T) {
	tree := NewTree(4)
	p := tree.AddChild(0, "topic")
	a := tree.AddChild(p, "a")
	b := tree.AddChild(p, "b")
	tree.Nodes[a].Words = []float64{0.97, 0.01, 0.01, 0.01}
	tree.Nodes[b].Words = []float64{0.01, 0.97, 0.01, 0.01}

	rng := rand.New(rand.NewPCG(1, 2))
	grew := tree.HypothesizeGrandchildren(p, 2, 0.3, 6, rng)
	require.True(t, grew)
	assert.Len(t, tree.Nodes[a].Children, 2)
	assert.Len(t, tree.Nodes[b].Children, 2)

	for _, gi := range tree.Nodes[a].Children {
		sum := 0.0
		for _, w := range tree.Nodes[gi].Words {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "grandchild distributions normalized")
	}

	// Similar children must not split.
	tree2 := NewTree(4)
	p2 := tree2.AddChild(0, "topic")
	tree2.AddChild(p2, "a")
	tree2.AddChild(p2, "b")
	assert.False(t, tree2.HypothesizeGrandchildren(p2, 2, 0.3, 6, rng))
}

func TestIncrementalLabelingPromotesDocs(t *testing.T) {
	p := DefaultParams()
	p.MaxIterations = 4
	p.Temperature = 2
	p.IncrementalLabeling = true
	p.LabelsPerIteration = 3
	_, doc, _ := trainHier(t, p, 0.2, 17)

	unlabeledBefore := int(float64(4*50-4*10) * 0.8) // rough: most train docs were retagged
	unlabeledAfter := corpus.CountTagged(doc.Docs, corpus.TagUnlabeled)
	assert.Less(t, unlabeledAfter, unlabeledBefore, "confident unlabeled documents must be promoted")
}

func TestMulticlassGreedyEnumeration(t *testing.T) {
	p := DefaultParams()
	p.MaxIterations = 8
	p.Temperature = 5
	m, doc, _ := trainHier(t, p, 1, 19)

	// Singleton sets from the training labels.
	sets := map[int][]int{}
	for di := range doc.Docs {
		if doc.Docs[di].Tag == corpus.TagTrain {
			sets[di] = []int{doc.Docs[di].Class}
		}
	}
	mc := NewMulticlass(m, 3)
	require.NoError(t, mc.Train(doc, sets, 5))

	correct, total := 0, 0
	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTest))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		set, _, err := mc.Score(doc, row)
		require.NoError(t, err)
		require.NotEmpty(t, set)
		if containsInt(set, doc.Docs[di].Class) {
			correct++
		}
		total++
	}
	assert.GreaterOrEqual(t, float64(correct)/float64(total), 0.7)
}

func TestDescendantMatchingName(t *testing.T) {
	tree := NewTree(4)
	a := tree.AddChild(0, "sci")
	b := tree.AddChild(a, "space")

	assert.Equal(t, b, tree.DescendantMatchingName("sci/space"))
	assert.Equal(t, a, tree.DescendantMatchingName("sci"))
}
