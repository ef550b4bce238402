// Package barrel bundles a vocabulary, a sparse index and document records
// into the trained-model container all learning methods operate on, and
// defines the method abstraction they plug into.
package barrel

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

// EventModel selects the generative event the learners model.
type EventModel int

const (
	// EventWord models each word occurrence (multinomial).
	EventWord EventModel = iota
	// EventDocument models per-document word presence (Bernoulli).
	EventDocument
	// EventDocumentThenWord first draws a document, then its words,
	// rescaling every document to a fixed target length.
	EventDocumentThenWord
)

// DefaultTargetDocLength is the rescaled document length for
// EventDocumentThenWord.
const DefaultTargetDocLength = 200

// Barrel aggregates the structures a trained model needs: the vocabulary
// snapshot, the sparse index, one record per document (or per class), and
// the class-name map. IsClassBarrel distinguishes a document barrel from a
// vector-per-class barrel, whose rows describe classes.
type Barrel struct {
	Vocab   *vocab.Map
	Index   *index.Index
	Docs    []corpus.Doc
	Classes *corpus.ClassMap

	Method        Method
	IsClassBarrel bool
}

// New creates an empty document barrel.
func New(v *vocab.Map) *Barrel {
	return &Barrel{
		Vocab:   v,
		Index:   index.New(),
		Classes: corpus.NewClassMap(),
	}
}

// NumClasses returns the class count: the class-map size, falling back to
// the max labeled class for barrels indexed before labels were interned.
func (b *Barrel) NumClasses() int {
	if n := b.Classes.Size(); n > 0 {
		return n
	}
	return corpus.NumClasses(b.Docs)
}

// AddDocument appends a document record and returns its id.
func (b *Barrel) AddDocument(doc corpus.Doc) int {
	b.Docs = append(b.Docs, doc)
	return len(b.Docs) - 1
}

// AddTerm records count occurrences of term wi in document di. The weight
// starts equal to the count; methods overwrite it later.
func (b *Barrel) AddTerm(wi, di, count int) {
	b.Index.Add(wi, di, count, float64(count))
}

// ComputeWordCounts fills every document record's WordCount from the index.
func (b *Barrel) ComputeWordCounts() {
	for i := range b.Docs {
		b.Docs[i].WordCount = 0
	}
	it := b.Index.Rows(nil)
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		if di < len(b.Docs) {
			b.Docs[di].WordCount = row.WordCount()
		}
	}
}

// Tagged returns the ids of documents carrying tag.
func (b *Barrel) Tagged(tag corpus.Tag) []int {
	out := []int{}
	for di := range b.Docs {
		if b.Docs[di].Tag == tag {
			out = append(out, di)
		}
	}
	return out
}

// TagPredicate adapts a tag set into a heap-iterator predicate.
func (b *Barrel) TagPredicate(tags ...corpus.Tag) func(di int) bool {
	return func(di int) bool {
		if di >= len(b.Docs) {
			return false
		}
		for _, t := range tags {
			if b.Docs[di].Tag == t {
				return true
			}
		}
		return false
	}
}

// Clone deep-copies the barrel. The vocabulary and class map are shared
// snapshots; index, documents and their vectors are copied.
func (b *Barrel) Clone() *Barrel {
	c := &Barrel{
		Vocab:         b.Vocab,
		Index:         b.Index.Clone(),
		Docs:          make([]corpus.Doc, len(b.Docs)),
		Classes:       b.Classes.Clone(),
		Method:        b.Method,
		IsClassBarrel: b.IsClassBarrel,
	}
	for i := range b.Docs {
		c.Docs[i] = b.Docs[i].Clone()
	}
	return c
}

// Score is one ranked classification outcome.
type Score struct {
	Class int
	Score float64
}

// SortScores orders scores descending, breaking ties by class index.
func SortScores(s []Score) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Class < s[j].Class
	})
}

// ScoreOpts carries per-query scoring options. The zero value scores
// normally.
type ScoreOpts struct {
	// LeaveOut requests leave-one-out scoring: the query is a training
	// document whose contribution to LeaveOutClass must be subtracted
	// before computing probabilities. LeaveOutDI identifies it.
	LeaveOut      bool
	LeaveOutDI    int
	LeaveOutClass int

	// NumToReturn bounds the result length; 0 returns all classes.
	NumToReturn int

	// Loose permits scoring rows with no in-vocabulary terms; otherwise
	// they yield ErrEmptyQuery.
	Loose bool
}

// ErrEmptyQuery is returned when a query has no in-vocabulary terms.
var ErrEmptyQuery = errors.New("query has no terms in the vocabulary")

// Method is the strategy a barrel was trained with. Implementations live in
// their own packages and register themselves for archive reload.
type Method interface {
	// Name is the archive method identifier.
	Name() string

	// SetWeights assigns per-entry weights in a document barrel from raw
	// counts, per the method's weighting scheme.
	SetWeights(b *Barrel)

	// NormalizeWeights applies the method's row normalization, storing
	// per-document normalizers.
	NormalizeWeights(b *Barrel)

	// TrainClassBarrel builds the vector-per-class barrel.
	TrainClassBarrel(doc *Barrel) (*Barrel, error)

	// SetPriors fills class priors in the class barrel.
	SetPriors(class, doc *Barrel) error

	// Score ranks classes for a query row, descending.
	Score(class *Barrel, query *index.Row, opts ScoreOpts) ([]Score, error)

	// SetQueryWeights assigns weights on a query row the way the method
	// weighted training rows.
	SetQueryWeights(class *Barrel, query *index.Row)

	// NormalizeQueryWeights sets the query row's normalizer.
	NormalizeQueryWeights(query *index.Row)
}

// registry maps archive method names to default constructors so persisted
// barrels can be rehydrated. Built at startup by method package init funcs.
var registry = map[string]func() Method{}

// Register installs a method constructor under name. Later registrations
// replace earlier ones.
func Register(name string, factory func() Method) {
	registry[name] = factory
}

// NewMethod constructs the registered method for name.
func NewMethod(name string) (Method, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", name)
	}
	return f(), nil
}

// MethodNames lists registered methods sorted by name.
func MethodNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
