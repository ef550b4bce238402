package barrel

import (
	"fmt"

	"github.com/fsvxavier/nexs-textcat/internal/corpus"
	"github.com/fsvxavier/nexs-textcat/internal/index"
)

// BuildClassBarrel folds a document barrel into a vector-per-class barrel
// by summing each class's training rows: column wi of the result lists
// classes instead of documents. Row i of the result describes class i.
func BuildClassBarrel(doc *Barrel) (*Barrel, error) {
	numClasses := doc.NumClasses()
	if numClasses == 0 {
		return nil, fmt.Errorf("document barrel has no labeled classes")
	}

	class := &Barrel{
		Vocab:         doc.Vocab,
		Index:         index.New(),
		Classes:       doc.Classes.Clone(),
		Method:        doc.Method,
		IsClassBarrel: true,
	}
	for ci := 0; ci < numClasses; ci++ {
		name := class.Classes.Name(ci)
		if name == "" {
			name = fmt.Sprintf("class%d", ci)
			class.Classes.Intern(name)
		}
		class.Docs = append(class.Docs, corpus.Doc{
			Name:  name,
			Tag:   corpus.TagTrain,
			Class: ci,
		})
	}

	for wi := 0; wi < doc.Index.NumTerms(); wi++ {
		v := doc.Index.Column(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			e := &v.Entries[i]
			if e.DI >= len(doc.Docs) {
				continue
			}
			d := &doc.Docs[e.DI]
			if d.Tag != corpus.TagTrain || d.Class < 0 || d.Class >= numClasses {
				continue
			}
			class.Index.Add(wi, d.Class, e.Count, e.Weight)
		}
	}

	class.ComputeWordCounts()
	return class, nil
}
