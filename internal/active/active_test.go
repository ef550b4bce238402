package active

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/synth"
)

// sparselyLabeled keeps two labeled documents per class and moves the rest
// of the training set into the unlabeled pool.
func sparselyLabeled(seed uint64) *barrel.Barrel {
	cfg := synth.DefaultConfig()
	cfg.Seed = seed
	doc := synth.Generate(cfg)

	perClass := map[int]int{}
	for di := range doc.Docs {
		d := &doc.Docs[di]
		if d.Tag != corpus.TagTrain {
			continue
		}
		perClass[d.Class]++
		if perClass[d.Class] > 2 {
			d.Tag = corpus.TagUnlabeled
		}
	}
	return doc
}

func accuracyOf(t *testing.T, m barrel.Method, class, doc *barrel.Barrel) float64 {
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

func TestUncertaintySamplingImprovesOverSeeds(t *testing.T) {
	// Scenario: 2 labels per class, 10 rounds of 4 labels. The averaged
	// accuracy across seeds must beat the starting model's.
	var startSum, endSum float64
	seeds := []uint64{1, 2, 3, 4, 5}
	for _, seed := range seeds {
		startDoc := sparselyLabeled(seed)
		nb := New(DefaultParams())
		startDoc.Method = nb
		startClass, err := nb.secondary.TrainClassBarrel(startDoc)
		require.NoError(t, err)
		startSum += accuracyOf(t, nb.secondary, startClass, startDoc)

		doc := sparselyLabeled(seed)
		p := DefaultParams()
		p.Seed = seed
		m := New(p)
		doc.Method = m
		class, err := m.TrainClassBarrel(doc)
		require.NoError(t, err)
		endSum += accuracyOf(t, m, class, doc)
	}
	assert.GreaterOrEqual(t, endSum/float64(len(seeds)), startSum/float64(len(seeds)),
		"ten rounds of uncertainty sampling must not hurt accuracy on average")
}

func TestUncertaintyRequiresCommitteeOfOne(t *testing.T) {
	p := DefaultParams()
	p.CommitteeSize = 3
	m := New(p)
	_, err := m.TrainClassBarrel(sparselyLabeled(1))
	assert.Error(t, err)
}

func TestLabelingBudgetRespected(t *testing.T) {
	doc := sparselyLabeled(7)
	before := corpus.CountTagged(doc.Docs, corpus.TagTrain)

	p := DefaultParams()
	p.Rounds = 5
	p.AddPerRound = 3
	m := New(p)
	doc.Method = m
	_, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)

	after := corpus.CountTagged(doc.Docs, corpus.TagTrain)
	assert.Equal(t, before+5*3, after, "exactly AddPerRound labels per round")
}

func TestCommitteeCriteria(t *testing.T) {
	for _, crit := range []Criterion{QBC, VoteEntropy, WeightedKL, DensityKL} {
		p := DefaultParams()
		p.Criterion = crit
		p.CommitteeSize = 3
		p.Rounds = 3
		p.Seed = 11
		doc := sparselyLabeled(11)
		m := New(p)
		doc.Method = m
		class, err := m.TrainClassBarrel(doc)
		require.NoError(t, err, "criterion %d", crit)
		require.NotNil(t, class)
	}
}

func TestRandomAndLengthCriteria(t *testing.T) {
	for _, crit := range []Criterion{Random, Length} {
		p := DefaultParams()
		p.Criterion = crit
		p.Rounds = 2
		doc := sparselyLabeled(13)
		m := New(p)
		doc.Method = m
		_, err := m.TrainClassBarrel(doc)
		require.NoError(t, err, "criterion %d", crit)
	}
}

func TestRelevanceCriterion(t *testing.T) {
	p := DefaultParams()
	p.Criterion = Relevance
	p.PositiveClass = "class1"
	p.Rounds = 2
	doc := sparselyLabeled(17)
	m := New(p)
	doc.Method = m
	_, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)

	p.PositiveClass = "no-such"
	m2 := New(p)
	_, err = m2.TrainClassBarrel(sparselyLabeled(17))
	assert.Error(t, err)
}

func TestStreamCriteriaSelectSubset(t *testing.T) {
	for _, crit := range []Criterion{StreamVoteEntropy, StreamKL} {
		p := DefaultParams()
		p.Criterion = crit
		p.CommitteeSize = 3
		p.Rounds = 2
		p.Epsilon = 0.5
		doc := sparselyLabeled(19)
		m := New(p)
		doc.Method = m
		_, err := m.TrainClassBarrel(doc)
		require.NoError(t, err, "criterion %d", crit)
	}
}

func TestKLToMeanZeroForAgreeingCommittee(t *testing.T) {
	vecs := [][]float64{{0.7, 0.3}, {0.7, 0.3}}
	assert.InDelta(t, 0.0, klToMean(vecs), 1e-12)
	assert.InDelta(t, 0.0, voteEntropy(vecs), 1e-12)

	disagree := [][]float64{{0.9, 0.1}, {0.1, 0.9}}
	assert.Greater(t, klToMean(disagree), 0.0)
	assert.Greater(t, voteEntropy(disagree), 0.0)
}

func TestRemapKeepsPosteriorsNormalized(t *testing.T) {
	scores := map[int][][]float64{
		0: {{0.8, 0.2}},
		1: {{0.3, 0.7}},
		2: {{0.55, 0.45}},
	}
	remapToPrecision(scores, 2)
	for di, vecs := range scores {
		for _, v := range vecs {
			sum := 0.0
			for _, p := range v {
				assert.GreaterOrEqual(t, p, 0.0)
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-9, "doc %d", di)
		}
	}
}

func TestFinalEMPass(t *testing.T) {
	p := DefaultParams()
	p.Rounds = 2
	p.FinalEM = true
	doc := sparselyLabeled(23)
	m := New(p)
	doc.Method = m
	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, accuracyOf(t, m, class, doc), 0.5)
}
