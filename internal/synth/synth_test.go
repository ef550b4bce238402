package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/corpus"
)

func TestGenerateShape(t *testing.T) {
	b := Generate(DefaultConfig())

	require.Len(t, b.Docs, 200)
	assert.Equal(t, 4, b.Classes.Size())
	assert.Equal(t, 200, b.Vocab.Size())
	assert.Equal(t, 160, corpus.CountTagged(b.Docs, corpus.TagTrain))
	assert.Equal(t, 40, corpus.CountTagged(b.Docs, corpus.TagTest))

	for di := range b.Docs {
		assert.Equal(t, 40, b.Docs[di].WordCount, "document %d length", di)
	}
}

func TestGenerateDeterministicPerSeed(t *testing.T) {
	a := Generate(DefaultConfig())
	b := Generate(DefaultConfig())

	it1 := a.Index.Rows(nil)
	it2 := b.Index.Rows(nil)
	for {
		d1, r1, ok1 := it1.Next()
		d2, r2, ok2 := it2.Next()
		require.Equal(t, ok1, ok2)
		if !ok1 {
			break
		}
		require.Equal(t, d1, d2)
		require.Equal(t, r1.Entries, r2.Entries)
	}
}

func TestRetagFraction(t *testing.T) {
	b := Generate(DefaultConfig())
	moved := RetagFraction(b, corpus.TagTrain, corpus.TagUnlabeled, 0.5, 9)
	assert.Equal(t, 80, moved)
	assert.Equal(t, 80, corpus.CountTagged(b.Docs, corpus.TagTrain))
	assert.Equal(t, 80, corpus.CountTagged(b.Docs, corpus.TagUnlabeled))
}
