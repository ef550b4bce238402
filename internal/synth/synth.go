// Package synth generates seeded synthetic bag-of-words corpora. The
// learning packages use it for fixture tests with known class structure.
package synth

import (
	"fmt"
	"math/rand/v2"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/vocab"
)

// Config describes a synthetic corpus: each class draws most of its words
// from its own vocabulary block and the rest uniformly from the whole
// vocabulary.
type Config struct {
	NumClasses   int
	DocsPerClass int
	VocabSize    int
	DocLength    int

	// TopicWeight is the probability a word comes from the class's own
	// block rather than the uniform background.
	TopicWeight float64

	// TestFraction of each class's documents is tagged test.
	TestFraction float64

	Seed uint64
}

// DefaultConfig mirrors the standard fixture: 4 classes x 50 documents
// over a 200-word vocabulary.
func DefaultConfig() Config {
	return Config{
		NumClasses:   4,
		DocsPerClass: 50,
		VocabSize:    200,
		DocLength:    40,
		TopicWeight:  0.75,
		TestFraction: 0.2,
		Seed:         1,
	}
}

// Generate builds the corpus as a document barrel with word counts and
// class names filled in. Documents of each class are generated in order;
// the trailing TestFraction of each class is tagged test.
func Generate(cfg Config) *barrel.Barrel {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	v := vocab.New(vocab.ModeOpen)
	for wi := 0; wi < cfg.VocabSize; wi++ {
		v.Add(fmt.Sprintf("w%03d", wi))
	}
	b := barrel.New(v)
	for ci := 0; ci < cfg.NumClasses; ci++ {
		b.Classes.Intern(fmt.Sprintf("class%d", ci))
	}

	block := cfg.VocabSize / cfg.NumClasses
	testStart := cfg.DocsPerClass - int(float64(cfg.DocsPerClass)*cfg.TestFraction)

	for ci := 0; ci < cfg.NumClasses; ci++ {
		for di := 0; di < cfg.DocsPerClass; di++ {
			counts := map[int]int{}
			for w := 0; w < cfg.DocLength; w++ {
				var wi int
				if rng.Float64() < cfg.TopicWeight {
					wi = ci*block + rng.IntN(block)
				} else {
					wi = rng.IntN(cfg.VocabSize)
				}
				counts[wi]++
			}

			tag := corpus.TagTrain
			if di >= testStart {
				tag = corpus.TagTest
			}
			id := b.AddDocument(corpus.Doc{
				Name:  fmt.Sprintf("class%d/doc%03d", ci, di),
				Tag:   tag,
				Class: ci,
			})
			for wi, c := range counts {
				b.AddTerm(wi, id, c)
			}
		}
	}
	b.ComputeWordCounts()
	return b
}

// RetagFraction retags a random fraction of documents currently tagged from
// to the to tag, returning how many moved. Used to carve unlabeled or
// validation splits out of a training set.
func RetagFraction(b *barrel.Barrel, from, to corpus.Tag, fraction float64, seed uint64) int {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	candidates := b.Tagged(from)
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	n := int(float64(len(candidates)) * fraction)
	for _, di := range candidates[:n] {
		b.Docs[di].Tag = to
	}
	return n
}
