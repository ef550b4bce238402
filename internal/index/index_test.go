package index

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

func TestAddKeepsColumnsSorted(t *testing.T) {
	x := New()
	for _, di := range []int{5, 1, 9, 3, 7} {
		x.Add(0, di, 1, 1)
	}

	v := x.Column(0)
	require.NotNil(t, v)
	for i := 1; i < v.Len(); i++ {
		assert.Less(t, v.Entries[i-1].DI, v.Entries[i].DI, "document ids must be strictly increasing")
	}
}

func TestAddAccumulatesRepeatedCells(t *testing.T) {
	x := New()
	x.Add(2, 4, 3, 1.5)
	x.Add(2, 4, 2, 0.5)

	e := x.Entry(2, 4)
	require.NotNil(t, e)
	assert.Equal(t, 5, e.Count)
	assert.InDelta(t, 2.0, e.Weight, 1e-12)
}

func TestSetOverwrites(t *testing.T) {
	x := New()
	x.Add(1, 1, 3, 3)
	x.Set(1, 1, 7, 7)

	e := x.Entry(1, 1)
	require.NotNil(t, e)
	assert.Equal(t, 7, e.Count)
}

func TestHiding(t *testing.T) {
	x := New()
	x.Add(0, 0, 1, 1)
	x.Add(0, 3, 2, 2)

	x.Hide(0)
	assert.Nil(t, x.Column(0))
	assert.NotNil(t, x.ColumnIncludingHidden(0))

	// Idempotence: hiding twice equals hiding once.
	x.Hide(0)
	assert.Nil(t, x.Column(0))

	x.Unhide(0)
	v := x.Column(0)
	require.NotNil(t, v)
	assert.InDelta(t, 2.0, v.Entries[1].Weight, 1e-12, "weights survive hide/unhide")

	// Out-of-range hide is a no-op.
	x.Hide(100)
	x.Hide(-1)
}

func TestHideByCounts(t *testing.T) {
	x := New()
	x.Add(0, 0, 1, 1) // one doc, one occurrence
	x.Add(1, 0, 5, 5) // one doc, five occurrences
	x.Add(2, 0, 1, 1)
	x.Add(2, 1, 1, 1) // two docs

	xc := x.Clone()
	n := xc.HideByDocCount(1)
	assert.Equal(t, 2, n)
	assert.Nil(t, xc.Column(0))
	assert.Nil(t, xc.Column(1))
	assert.NotNil(t, xc.Column(2))

	n = x.HideByOccurCount(2)
	assert.Equal(t, 2, n)
	assert.Nil(t, x.Column(0))
	assert.NotNil(t, x.Column(1))
	assert.Nil(t, x.Column(2))
}

func TestHideByPrefix(t *testing.T) {
	v := vocab.New(vocab.ModeOpen)
	x := New()
	for _, w := range []string{"hdr:subject", "hdr:from", "body"} {
		x.Add(v.Add(w), 0, 1, 1)
	}

	n := x.HideByPrefix(v, "hdr:", false)
	assert.Equal(t, 2, n)
	assert.Nil(t, x.Column(0))
	assert.NotNil(t, x.Column(2))

	x.UnhideAll()
	n = x.HideByPrefix(v, "hdr:", true)
	assert.Equal(t, 1, n)
	assert.NotNil(t, x.Column(0))
	assert.Nil(t, x.Column(2))
}

func TestHeapIteratorVisitsEveryDocOnceAscending(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	x := New()
	want := map[int]bool{}
	for wi := 0; wi < 40; wi++ {
		for di := 0; di < 60; di++ {
			if rng.Float64() < 0.2 {
				x.Add(wi, di, 1+rng.IntN(4), 0)
				want[di] = true
			}
		}
	}

	it := x.Rows(nil)
	prev := -1
	seen := map[int]bool{}
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		assert.Greater(t, di, prev, "document ids must come back ascending")
		prev = di
		assert.False(t, seen[di], "document %d visited twice", di)
		seen[di] = true
		for i := 1; i < len(row.Entries); i++ {
			assert.Less(t, row.Entries[i-1].WI, row.Entries[i].WI)
		}
	}
	assert.Equal(t, len(want), len(seen), "every non-empty document visited exactly once")
}

func TestHeapIteratorPredicateAndHiding(t *testing.T) {
	x := New()
	x.Add(0, 0, 1, 0)
	x.Add(0, 1, 1, 0)
	x.Add(1, 2, 1, 0)

	x.Hide(1)
	it := x.Rows(func(di int) bool { return di != 0 })
	di, _, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, 1, di)
	_, _, ok = it.Next()
	assert.False(t, ok, "doc 2 only appears in a hidden column")
}

func TestRowAgainstDocRow(t *testing.T) {
	x := New()
	x.Add(3, 2, 2, 2)
	x.Add(1, 2, 1, 1)
	x.Add(5, 9, 4, 4)

	it := x.Rows(func(di int) bool { return di == 2 })
	di, row, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, 2, di)
	assert.Equal(t, row.Entries, x.DocRow(2).Entries)
}

func TestWriteThenOpenRoundTrip(t *testing.T) {
	x := New()
	x.Add(0, 1, 2, 2.5)
	x.Add(0, 4, 1, 1.0)
	x.Add(3, 2, 7, 0.25)
	x.Column(0).IDF = 1.75

	var buf bytes.Buffer
	_, err := x.WriteTo(&buf)
	require.NoError(t, err)

	y, err := Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, x.NumTerms(), y.NumTerms())

	// Column 1 and 2 were never written.
	assert.Nil(t, y.Column(1))
	assert.Nil(t, y.Column(2))

	for _, wi := range []int{0, 3} {
		want := x.Column(wi)
		got := y.Column(wi)
		require.NotNil(t, got, "column %d", wi)
		assert.Equal(t, want.Entries, got.Entries)
		assert.InDelta(t, want.IDF, got.IDF, 1e-15)
	}
	require.NoError(t, y.Load())
}

func TestOpenRejectsBadHeader(t *testing.T) {
	x := New()
	x.Add(0, 0, 1, 1)
	var buf bytes.Buffer
	_, err := x.WriteTo(&buf)
	require.NoError(t, err)

	t.Run("bad magic", func(t *testing.T) {
		raw := append([]byte(nil), buf.Bytes()...)
		raw[0] ^= 0xff
		_, err := Open(bytes.NewReader(raw))
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("bad version", func(t *testing.T) {
		raw := append([]byte(nil), buf.Bytes()...)
		raw[len(indexMagic)+3] = 3 // legacy host-order floats
		_, err := Open(bytes.NewReader(raw))
		assert.ErrorIs(t, err, ErrFormatVersion)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Open(bytes.NewReader(buf.Bytes()[:8]))
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestRemap(t *testing.T) {
	v := vocab.New(vocab.ModeOpen)
	x := New()
	x.Add(v.Add("drop"), 0, 1, 1)
	x.Add(v.Add("keep"), 0, 3, 3)

	remap := v.Prune(func(wi int) bool { return wi == 1 })
	x.Remap(remap)

	require.Equal(t, 1, x.NumTerms())
	e := x.Entry(0, 0)
	require.NotNil(t, e)
	assert.Equal(t, 3, e.Count)
}
