// Package textutil normalizes and tokenizes query text so query rows line
// up with the indexing-time vocabulary: NFKC folding, mark stripping,
// lower-casing, and letter/digit word splitting.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer strips combining marks after NFKD decomposition and
// recomposes, so accented terms match their plain forms.
var normalizer = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFKC,
)

// Normalize folds text for vocabulary lookup.
func Normalize(text string) string {
	out, _, err := transform.String(normalizer, text)
	if err != nil {
		// Fall back to the raw text on malformed input.
		out = text
	}
	return strings.ToLower(out)
}

// minTokenLength drops single-rune fragments.
const minTokenLength = 2

// Tokenize splits normalized text into terms.
func Tokenize(text string) []string {
	text = Normalize(text)
	out := []string{}
	var word strings.Builder
	n := 0
	flush := func() {
		if n >= minTokenLength {
			out = append(out, word.String())
		}
		word.Reset()
		n = 0
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
			n++
		} else {
			flush()
		}
	}
	flush()
	return out
}

// CountTokens tokenizes and tallies term frequencies.
func CountTokens(text string) map[string]int {
	counts := map[string]int{}
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	return counts
}
