package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagRoundTrip(t *testing.T) {
	for _, tag := range []Tag{TagTrain, TagTest, TagUnlabeled, TagUntagged, TagValidation, TagIgnore, TagPool, TagWaiting} {
		parsed, err := ParseTag(tag.String())
		require.NoError(t, err)
		assert.Equal(t, tag, parsed)
	}

	_, err := ParseTag("bogus")
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestDocClone(t *testing.T) {
	d := Doc{Name: "a", Tag: TagTrain, Class: 1, Labels: []float64{0.5, 0.5}}
	c := d.Clone()
	c.Labels[0] = 0.9
	assert.InDelta(t, 0.5, d.Labels[0], 1e-12, "clone must not share label storage")
}

func TestClassMap(t *testing.T) {
	m := ClassMapOf("sports", "finance")
	assert.Equal(t, 0, m.Intern("sports"))
	assert.Equal(t, 2, m.Intern("politics"))
	assert.Equal(t, "finance", m.Name(1))
	assert.Equal(t, "", m.Name(9))
	assert.Equal(t, NoClass, m.Lookup("nope"))
	assert.Equal(t, []string{"sports", "finance", "politics"}, m.Names())
}

func TestCountTaggedAndNumClasses(t *testing.T) {
	docs := []Doc{
		{Tag: TagTrain, Class: 0},
		{Tag: TagTrain, Class: 2},
		{Tag: TagTest, Class: 1},
	}
	assert.Equal(t, 2, CountTagged(docs, TagTrain))
	assert.Equal(t, 3, NumClasses(docs))
}
