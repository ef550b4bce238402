package knn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/synth"
)

func TestKNNClassifiesHeldOut(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.Seed = 5
	doc := synth.Generate(cfg)

	m := New(DefaultParams())
	doc.Method = m
	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)

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
	assert.GreaterOrEqual(t, float64(correct)/float64(total), 0.85, "knn held-out accuracy")
}

func TestKNNScoresNormalized(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.DocsPerClass = 20
	doc := synth.Generate(cfg)

	m := New(DefaultParams())
	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)

	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTest))
	_, row, ok := it.Next()
	require.True(t, ok)
	scores, err := m.Score(class, row, barrel.ScoreOpts{})
	require.NoError(t, err)

	sum := 0.0
	for _, s := range scores {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		sum += s.Score
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestKNNCentroidFallbackWithoutGraph(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.DocsPerClass = 20
	cfg.Seed = 9
	doc := synth.Generate(cfg)

	trained := New(DefaultParams())
	class, err := trained.TrainClassBarrel(doc)
	require.NoError(t, err)

	// A fresh method, as after archive reload, scores from centroids.
	cold := New(DefaultParams())
	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTest))
	correct, total := 0, 0
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		scores, err := cold.Score(class, row, barrel.ScoreOpts{})
		require.NoError(t, err)
		if scores[0].Class == doc.Docs[di].Class {
			correct++
		}
		total++
	}
	assert.GreaterOrEqual(t, float64(correct)/float64(total), 0.8, "centroid fallback accuracy")
}

func TestKNNRejectsUnlabeledCorpus(t *testing.T) {
	cfg := synth.DefaultConfig()
	doc := synth.Generate(cfg)
	for di := range doc.Docs {
		doc.Docs[di].Class = corpus.NoClass
	}
	doc.Classes = corpus.NewClassMap()

	m := New(DefaultParams())
	_, err := m.TrainClassBarrel(doc)
	assert.Error(t, err)
}
