package em

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
	"github.com/fsvxavier/nexs-textcat/internal/synth"
)

// semiSupervised builds the standard corpus with only fraction of each
// class's training documents kept labeled; the rest become unlabeled.
func semiSupervised(labeledFraction float64, seed uint64) *barrel.Barrel {
	cfg := synth.DefaultConfig()
	cfg.Seed = seed
	b := synth.Generate(cfg)
	synth.RetagFraction(b, corpus.TagTrain, corpus.TagUnlabeled, 1-labeledFraction, seed)
	return b
}

func testAccuracy(t *testing.T, method barrel.Method, class, doc *barrel.Barrel) float64 {
	t.Helper()
	correct, total := 0, 0
	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTest))
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		scores, err := method.Score(class, row, barrel.ScoreOpts{})
		require.NoError(t, err)
		if scores[0].Class == doc.Docs[di].Class {
			correct++
		}
		total++
	}
	require.Positive(t, total)
	return float64(correct) / float64(total)
}

func TestEMBeatsSupervisedBaselineWithFewLabels(t *testing.T) {
	// Naive Bayes on the 10% labeled subset alone.
	nbDoc := semiSupervised(0.1, 3)
	nb := naivebayes.New(naivebayes.DefaultParams())
	nbDoc.Method = nb
	nbClass, err := nb.TrainClassBarrel(nbDoc)
	require.NoError(t, err)
	nbAcc := testAccuracy(t, nb, nbClass, nbDoc)

	// EM over the same labels plus the unlabeled remainder.
	emDoc := semiSupervised(0.1, 3)
	m := New(DefaultParams())
	emDoc.Method = m
	emClass, err := m.TrainClassBarrel(emDoc)
	require.NoError(t, err)
	emAcc := testAccuracy(t, m, emClass, emDoc)

	assert.GreaterOrEqual(t, emAcc, nbAcc,
		"seven EM rounds over unlabeled data must not lose to the labeled-only baseline")
}

func TestEMLogLikelihoodMonotone(t *testing.T) {
	doc := semiSupervised(0.2, 5)
	p := DefaultParams()
	p.NumRuns = 6
	m := New(p)
	doc.Method = m

	// Capture per-iteration log likelihood by rerunning the loop pieces.
	m.nb.SetWeights(doc)
	m.initLabels(doc, 4, 4, -1)
	var lls []float64
	for run := 0; run < p.NumRuns; run++ {
		vpc, err := m.buildSoftVPC(doc, 4, -1)
		require.NoError(t, err)
		ll, err := m.eStep(doc, vpc, 1, 1, 4, -1, run)
		require.NoError(t, err)
		lls = append(lls, ll)
	}
	for i := 1; i < len(lls); i++ {
		assert.GreaterOrEqual(t, lls[i], lls[i-1]-1e-6,
			"log likelihood must be non-decreasing at iteration %d", i)
	}
}

func TestEMSoftLabelsAreDistributions(t *testing.T) {
	doc := semiSupervised(0.1, 9)
	m := New(DefaultParams())
	doc.Method = m
	_, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)

	checked := 0
	for di := range doc.Docs {
		d := &doc.Docs[di]
		if d.Tag != corpus.TagUnlabeled || d.Labels == nil {
			continue
		}
		sum := 0.0
		for _, v := range d.Labels {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
		checked++
	}
	assert.Positive(t, checked)
}

func TestEMStartingPoints(t *testing.T) {
	for _, start := range []StartMethod{StartZero, StartEven, StartPrior, StartRandom} {
		p := DefaultParams()
		p.Start = start
		p.NumRuns = 3
		doc := semiSupervised(0.1, 11)
		m := New(p)
		doc.Method = m
		class, err := m.TrainClassBarrel(doc)
		require.NoError(t, err, "start method %d", start)
		require.Len(t, class.Docs, 4)

		sum := 0.0
		for ci := range class.Docs {
			sum += class.Docs[ci].Prior
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "start method %d priors", start)
	}
}

func TestEMValidationHalting(t *testing.T) {
	p := DefaultParams()
	p.NumRuns = 20
	p.Halt = HaltAccuracy
	p.HaltTag = corpus.TagValidation
	p.ValidationFraction = 0.25
	doc := semiSupervised(0.1, 13)
	m := New(p)
	doc.Method = m

	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)
	require.NotNil(t, class)
	assert.Positive(t, corpus.CountTagged(doc.Docs, corpus.TagValidation),
		"a validation slice must have been carved from the unlabeled pool")
}

func TestEMPerturbationIsSeededDeterministic(t *testing.T) {
	run := func() []float64 {
		p := DefaultParams()
		p.Perturb = PerturbGaussian
		p.NumRuns = 3
		p.Seed = 17
		doc := semiSupervised(0.2, 17)
		m := New(p)
		doc.Method = m
		class, err := m.TrainClassBarrel(doc)
		require.NoError(t, err)
		out := []float64{}
		for ci := range class.Docs {
			out = append(out, class.Docs[ci].Prior, class.Docs[ci].Normalizer)
		}
		return out
	}
	assert.Equal(t, run(), run(), "identical seeds must reproduce identical models")
}

func TestEMBinaryPositiveClassValidation(t *testing.T) {
	doc := semiSupervised(0.1, 3)
	p := DefaultParams()
	p.BinaryPosClass = "no-such-class"
	m := New(p)
	doc.Method = m
	_, err := m.TrainClassBarrel(doc)
	assert.Error(t, err)
}

func TestEMMultiHumpCollapsesToOriginalClasses(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.NumClasses = 2
	cfg.VocabSize = 100
	cfg.Seed = 23
	doc := synth.Generate(cfg)
	synth.RetagFraction(doc, corpus.TagTrain, corpus.TagUnlabeled, 0.5, 23)

	p := DefaultParams()
	p.BinaryPosClass = "class0"
	p.MultiHumpNeg = 3
	p.NumRuns = 4
	m := New(p)
	doc.Method = m

	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)
	require.Len(t, class.Docs, 2, "humps must collapse back to the two original classes")

	sum := 0.0
	for ci := range class.Docs {
		sum += class.Docs[ci].Prior
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	for di := range doc.Docs {
		if doc.Docs[di].Labels != nil {
			assert.Len(t, doc.Docs[di].Labels, 2)
		}
	}

	acc := testAccuracy(t, m, class, doc)
	assert.Greater(t, acc, 0.6)
}
