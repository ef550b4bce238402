package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/naivebayes"
	"github.com/fsvxavier/nexs-textcat/internal/synth"
)

func trainedModel(t *testing.T) (*barrel.Barrel, *barrel.Barrel, *naivebayes.Method) {
	t.Helper()
	cfg := synth.DefaultConfig()
	cfg.Seed = 3
	doc := synth.Generate(cfg)
	m := naivebayes.New(naivebayes.DefaultParams())
	doc.Method = m
	class, err := m.TrainClassBarrel(doc)
	require.NoError(t, err)
	return doc, class, m
}

func queryRows(doc *barrel.Barrel, n int) []*index.Row {
	rows := []*index.Row{}
	it := doc.Index.Rows(doc.TagPredicate(corpus.TagTest))
	for len(rows) < n {
		_, row, ok := it.Next()
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows
}

func TestRoundTripScoresBitForBit(t *testing.T) {
	doc, class, m := trainedModel(t)
	dir := t.TempDir()

	queries := queryRows(doc, 5)
	require.Len(t, queries, 5)

	before := make([][]barrel.Score, len(queries))
	for i, q := range queries {
		scores, err := m.Score(class, q, barrel.ScoreOpts{})
		require.NoError(t, err)
		before[i] = scores
	}

	require.NoError(t, Save(dir, doc, class, ""))

	a, err := Load(dir)
	require.NoError(t, err)
	defer a.Close()

	// The reloaded tuple matches what was written.
	require.Equal(t, class.Vocab.Size(), a.Vocab.Size())
	require.Equal(t, class.Classes.Names(), a.ClassBarrel.Classes.Names())
	assert.True(t, a.ClassBarrel.IsClassBarrel)
	assert.False(t, a.DocBarrel.IsClassBarrel)
	assert.Equal(t, naivebayes.MethodName, a.Meta.Method)
	assert.NotEmpty(t, a.Meta.RunID)
	require.Len(t, a.DocBarrel.Docs, len(doc.Docs))
	for di := range doc.Docs {
		assert.Equal(t, doc.Docs[di].Name, a.DocBarrel.Docs[di].Name)
		assert.Equal(t, doc.Docs[di].Tag, a.DocBarrel.Docs[di].Tag)
		assert.Equal(t, doc.Docs[di].Class, a.DocBarrel.Docs[di].Class)
	}

	// Scoring with the reloaded barrel reproduces every score exactly.
	reloaded, ok := a.ClassBarrel.Method.(*naivebayes.Method)
	require.True(t, ok)
	for i, q := range queries {
		scores, err := reloaded.Score(a.ClassBarrel, q, barrel.ScoreOpts{})
		require.NoError(t, err)
		require.Equal(t, len(before[i]), len(scores))
		for j := range scores {
			assert.Equal(t, before[i][j].Class, scores[j].Class)
			assert.Equal(t, before[i][j].Score, scores[j].Score,
				"query %d rank %d must match bit for bit", i, j)
		}
	}
}

func TestIndexColumnsEqualAfterRoundTrip(t *testing.T) {
	doc, class, _ := trainedModel(t)
	dir := t.TempDir()
	require.NoError(t, Save(dir, doc, class, ""))

	a, err := Load(dir)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, class.Index.NumTerms(), a.ClassBarrel.Index.NumTerms())
	for wi := 0; wi < class.Index.NumTerms(); wi++ {
		want := class.Index.Column(wi)
		got := a.ClassBarrel.Index.Column(wi)
		if want.Len() == 0 {
			assert.Equal(t, 0, got.Len())
			continue
		}
		require.NotNil(t, got, "column %d", wi)
		assert.Equal(t, want.Entries, got.Entries, "column %d", wi)
	}
	require.NoError(t, a.ClassBarrel.Index.Load())
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	doc, class, _ := trainedModel(t)
	dir := t.TempDir()
	require.NoError(t, Save(dir, doc, class, ""))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "format-version"), []byte("3\n"), 0o644))
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrFormatVersion)
}

func TestLoadTreatsMissingVersionAsLegacy(t *testing.T) {
	doc, class, _ := trainedModel(t)
	dir := t.TempDir()
	require.NoError(t, Save(dir, doc, class, ""))

	require.NoError(t, os.Remove(filepath.Join(dir, "format-version")))
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrFormatVersion, "legacy host-order archives are rejected")
}

func TestLoadMissingBarrel(t *testing.T) {
	doc, class, _ := trainedModel(t)
	dir := t.TempDir()
	require.NoError(t, Save(dir, doc, class, ""))

	require.NoError(t, os.Remove(filepath.Join(dir, "class-barrel")))
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrMissingFile)
}

func TestOutFile(t *testing.T) {
	doc, class, _ := trainedModel(t)
	dir := t.TempDir()
	require.NoError(t, Save(dir, doc, class, ""))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outfile"), []byte("answer.txt\n"), 0o644))

	a, err := Load(dir)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "answer.txt", a.OutFile)
}
