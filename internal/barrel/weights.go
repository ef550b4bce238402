package barrel

import (
	"math"

	"github.com/fsvxavier/nexs-textcat/internal/index"
)

// TFTransform selects how a cell's count becomes its term-frequency factor.
type TFTransform int

const (
	// TFRaw uses the count itself.
	TFRaw TFTransform = iota
	// TFLog uses log(count+1).
	TFLog
)

// IDFTransform selects the inverse-document-frequency shape.
type IDFTransform int

const (
	// IDFNone leaves weights as pure term frequencies.
	IDFNone IDFTransform = iota
	// IDFLog is log(N/df).
	IDFLog
	// IDFSqrt is sqrt(N/df).
	IDFSqrt
	// IDFRatio is N/df.
	IDFRatio
)

// DFSource selects what df counts: documents containing the term, or the
// term's total occurrences.
type DFSource int

const (
	DFDocuments DFSource = iota
	DFOccurrences
)

// minDocumentFrequency is the df below which a term's weight is forced to
// zero; such terms carry too little evidence for stable IDF estimates.
const minDocumentFrequency = 3

// WeightSpec describes a full weighting scheme.
type WeightSpec struct {
	TF  TFTransform
	IDF IDFTransform
	DF  DFSource

	// InfogainScale multiplies each term's weight by its information
	// gain with the class label.
	InfogainScale bool
}

// SetWeightsCount sets every weight equal to its count.
func SetWeightsCount(b *Barrel) {
	for wi := 0; wi < b.Index.NumTerms(); wi++ {
		v := b.Index.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		v.IDF = 1
		for i := range v.Entries {
			v.Entries[i].Weight = float64(v.Entries[i].Count)
		}
	}
}

// SetWeights applies spec to the barrel, storing each term's IDF on its
// column and the combined weight on every entry.
func SetWeights(b *Barrel, spec WeightSpec) {
	n := 0
	switch spec.DF {
	case DFOccurrences:
		it := b.Index.Rows(nil)
		for {
			_, row, ok := it.Next()
			if !ok {
				break
			}
			n += row.WordCount()
		}
	default:
		n = b.Index.MaxDI() + 1
	}

	var gains []float64
	if spec.InfogainScale {
		gains = Infogain(b)
	}

	for wi := 0; wi < b.Index.NumTerms(); wi++ {
		v := b.Index.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		df := v.Len()
		if spec.DF == DFOccurrences {
			df = v.TotalCount()
		}

		idf := 1.0
		switch spec.IDF {
		case IDFLog:
			idf = math.Log(float64(n) / float64(df))
		case IDFSqrt:
			idf = math.Sqrt(float64(n) / float64(df))
		case IDFRatio:
			idf = float64(n) / float64(df)
		}
		if spec.IDF != IDFNone && df < minDocumentFrequency {
			idf = 0
		}
		v.IDF = idf

		for i := range v.Entries {
			tf := float64(v.Entries[i].Count)
			if spec.TF == TFLog {
				tf = math.Log(tf + 1)
			}
			w := tf * idf
			if spec.InfogainScale && wi < len(gains) {
				w *= gains[wi]
			}
			v.Entries[i].Weight = w
		}
	}
}

// RescaleToTargetLength rescales each document's weights so they sum to
// target, the document-then-word event model's fixed document length.
// Documents with no weight mass are left alone.
func RescaleToTargetLength(b *Barrel, target float64) {
	sums := make([]float64, len(b.Docs))
	it := b.Index.Rows(nil)
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		if di >= len(sums) {
			continue
		}
		for i := range row.Entries {
			sums[di] += row.Entries[i].Weight
		}
	}

	for wi := 0; wi < b.Index.NumTerms(); wi++ {
		v := b.Index.ColumnIncludingHidden(wi)
		if v == nil {
			continue
		}
		for i := range v.Entries {
			di := v.Entries[i].DI
			if di < len(sums) && sums[di] > 0 {
				v.Entries[i].Weight *= target / sums[di]
			}
		}
	}
}

// NormalizeEuclidean stores 1/||row|| in each document's Normalizer so
// scoring can multiply through without touching entries.
func NormalizeEuclidean(b *Barrel) {
	forEachRowNorm(b, func(row rowStats) float64 {
		if row.sumSquares == 0 {
			return 0
		}
		return 1 / math.Sqrt(row.sumSquares)
	})
}

// NormalizeSum stores 1/Σweight in each document's Normalizer so weights
// scale to a distribution.
func NormalizeSum(b *Barrel) {
	forEachRowNorm(b, func(row rowStats) float64 {
		if row.sum == 0 {
			return 0
		}
		return 1 / row.sum
	})
}

type rowStats struct {
	sum        float64
	sumSquares float64
}

func forEachRowNorm(b *Barrel, norm func(rowStats) float64) {
	it := b.Index.Rows(nil)
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		if di >= len(b.Docs) {
			continue
		}
		var st rowStats
		for i := range row.Entries {
			w := row.Entries[i].Weight
			st.sum += w
			st.sumSquares += w * w
		}
		b.Docs[di].Normalizer = norm(st)
	}
}

// NormalizeRowEuclidean sets a query row's normalizer to 1/||row||.
func NormalizeRowEuclidean(row *index.Row) {
	var ss float64
	for i := range row.Entries {
		ss += row.Entries[i].Weight * row.Entries[i].Weight
	}
	if ss > 0 {
		row.Normalizer = 1 / math.Sqrt(ss)
	} else {
		row.Normalizer = 0
	}
}

// NormalizeRowSum sets a query row's normalizer to 1/Σweight.
func NormalizeRowSum(row *index.Row) {
	var s float64
	for i := range row.Entries {
		s += row.Entries[i].Weight
	}
	if s > 0 {
		row.Normalizer = 1 / s
	} else {
		row.Normalizer = 0
	}
}
