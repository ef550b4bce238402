// Package vocab provides the bidirectional mapping between term strings and
// dense integer term ids used by every sparse structure in the toolkit.
package vocab

import (
	"errors"
	"fmt"
)

// Mode controls how lookups of unknown strings behave.
type Mode int

const (
	// ModeOpen assigns a fresh id to every new string.
	ModeOpen Mode = iota
	// ModeClosed reports unknown strings as absent.
	ModeClosed
	// ModeClosedUnknown folds unknown strings onto a reserved token.
	ModeClosedUnknown
)

// UnknownToken is the reserved string unknown terms fold to in
// ModeClosedUnknown.
const UnknownToken = "<unknown>"

// NoSuchTerm is returned by lookups for strings outside a closed vocabulary.
const NoSuchTerm = -1

// Common errors.
var (
	ErrFrozen = errors.New("vocabulary is frozen")
)

// Map is an append-only bijection between term strings and contiguous ids
// starting at 0. It is grown during indexing and frozen before training.
type Map struct {
	mode   Mode
	words  []string
	index  map[string]int
	frozen bool
}

// New creates an empty vocabulary in the given mode.
func New(mode Mode) *Map {
	m := &Map{
		mode:  mode,
		index: make(map[string]int),
	}
	if mode == ModeClosedUnknown {
		m.words = append(m.words, UnknownToken)
		m.index[UnknownToken] = 0
	}
	return m
}

// Size returns the number of distinct terms.
func (m *Map) Size() int {
	return len(m.words)
}

// Mode returns the current lookup mode.
func (m *Map) Mode() Mode {
	return m.mode
}

// SetMode changes the lookup mode. Switching to ModeClosedUnknown interns
// the unknown token if it is not already present.
func (m *Map) SetMode(mode Mode) {
	m.mode = mode
	if mode == ModeClosedUnknown {
		if _, ok := m.index[UnknownToken]; !ok {
			m.index[UnknownToken] = len(m.words)
			m.words = append(m.words, UnknownToken)
		}
	}
}

// Freeze marks the vocabulary read-only. Add of a new word returns
// NoSuchTerm afterwards.
func (m *Map) Freeze() {
	m.frozen = true
}

// Frozen reports whether the vocabulary has been frozen.
func (m *Map) Frozen() bool {
	return m.frozen
}

// Add interns word unconditionally and returns its id. Adding to a frozen
// vocabulary returns NoSuchTerm.
func (m *Map) Add(word string) int {
	if wi, ok := m.index[word]; ok {
		return wi
	}
	if m.frozen {
		return NoSuchTerm
	}
	wi := len(m.words)
	m.words = append(m.words, word)
	m.index[word] = wi
	return wi
}

// Intern resolves word honoring the vocabulary mode: in ModeOpen unknown
// words are added, in ModeClosed they yield NoSuchTerm, and in
// ModeClosedUnknown they fold to the unknown id.
func (m *Map) Intern(word string) int {
	if wi, ok := m.index[word]; ok {
		return wi
	}
	switch m.mode {
	case ModeOpen:
		return m.Add(word)
	case ModeClosedUnknown:
		return m.index[UnknownToken]
	default:
		return NoSuchTerm
	}
}

// Lookup returns the id for word or NoSuchTerm, never growing the map.
func (m *Map) Lookup(word string) int {
	if wi, ok := m.index[word]; ok {
		return wi
	}
	return NoSuchTerm
}

// Word returns the string for a term id.
func (m *Map) Word(wi int) (string, error) {
	if wi < 0 || wi >= len(m.words) {
		return "", fmt.Errorf("term id %d out of range [0,%d)", wi, len(m.words))
	}
	return m.words[wi], nil
}

// MustWord is Word for callers that have already validated the id.
func (m *Map) MustWord(wi int) string {
	return m.words[wi]
}

// Words returns the term strings in id order. The slice is shared; callers
// must not modify it.
func (m *Map) Words() []string {
	return m.words
}

// Prune rebuilds the vocabulary keeping only terms for which keep returns
// true. It returns a remap slice from old ids to new ids, with NoSuchTerm
// for dropped terms. Any sparse index built against the old ids is invalid
// after this call.
func (m *Map) Prune(keep func(wi int) bool) []int {
	remap := make([]int, len(m.words))
	newWords := make([]string, 0, len(m.words))
	newIndex := make(map[string]int, len(m.words))
	for wi, w := range m.words {
		if keep(wi) || (m.mode == ModeClosedUnknown && w == UnknownToken) {
			remap[wi] = len(newWords)
			newIndex[w] = len(newWords)
			newWords = append(newWords, w)
		} else {
			remap[wi] = NoSuchTerm
		}
	}
	m.words = newWords
	m.index = newIndex
	return remap
}

// PruneByOccurrenceCount drops terms whose total occurrence count, looked up
// in counts by old id, is below min. Missing entries count as zero.
func (m *Map) PruneByOccurrenceCount(counts []int, min int) []int {
	return m.Prune(func(wi int) bool {
		if wi >= len(counts) {
			return false
		}
		return counts[wi] >= min
	})
}
