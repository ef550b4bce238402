package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFoldsAccentsAndCase(t *testing.T) {
	assert.Equal(t, "resume", Normalize("Résumé")[:6])
	assert.Equal(t, "uber", Normalize("ÜBER"))
}

func TestTokenize(t *testing.T) {
	toks := Tokenize("The quick-brown FOX, über 42!")
	assert.Equal(t, []string{"the", "quick", "brown", "fox", "uber", "42"}, toks)
}

func TestTokenizeDropsSingleRunes(t *testing.T) {
	toks := Tokenize("a b cd")
	assert.Equal(t, []string{"cd"}, toks)
}

func TestCountTokens(t *testing.T) {
	counts := CountTokens("go go gadget")
	assert.Equal(t, 2, counts["go"])
	assert.Equal(t, 1, counts["gadget"])
}
