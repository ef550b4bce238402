package active

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/corpus"
)

// selectDocs ranks the pool under the configured criterion and returns the
// document ids to label this round.
func (m *Method) selectDocs(doc *barrel.Barrel, pool []int, scores map[int][][]float64, posCI int) []int {
	k := m.params.AddPerRound
	if k > len(pool) {
		k = len(pool)
	}

	switch m.params.Criterion {
	case Random:
		shuffled := append([]int(nil), pool...)
		m.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return shuffled[:k]

	case StreamVoteEntropy, StreamKL:
		return m.streamSelect(pool, scores, k)
	}

	type ranked struct {
		di    int
		score float64
	}
	out := make([]ranked, 0, len(pool))
	var density map[int]float64
	if m.params.Criterion == DensityKL {
		density = m.documentDensities(doc, pool)
	}

	for _, di := range pool {
		var s float64
		switch m.params.Criterion {
		case Uncertainty:
			s = -topScore(scores[di][0])
		case Relevance:
			s = scores[di][0][posCI]
		case Length:
			s = float64(doc.Docs[di].WordCount)
		case QBC:
			s = klToMean(scores[di])
		case VoteEntropy:
			s = voteEntropy(scores[di])
		case WeightedKL:
			s = weightedKL(scores[di])
		case DensityKL:
			s = klToMean(scores[di]) * density[di]
		}
		out = append(out, ranked{di: di, score: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	selected := make([]int, 0, k)
	for i := 0; i < k; i++ {
		selected = append(selected, out[i].di)
	}
	return selected
}

// streamSelect scales the criterion into [0,1] by its theoretical maximum
// and accepts each document with that probability times the rate.
func (m *Method) streamSelect(pool []int, scores map[int][][]float64, k int) []int {
	numClasses := 0
	for _, vecs := range scores {
		numClasses = len(vecs[0])
		break
	}
	committee := float64(m.params.CommitteeSize)

	var max float64
	if m.params.Criterion == StreamVoteEntropy {
		max = math.Log(math.Min(committee, float64(numClasses)))
	} else {
		max = math.Log(committee)
	}
	if max <= 0 {
		max = 1
	}

	selected := []int{}
	for _, di := range pool {
		var s float64
		if m.params.Criterion == StreamVoteEntropy {
			s = voteEntropy(scores[di])
		} else {
			s = klToMean(scores[di])
		}
		p := m.params.Epsilon * s / max
		if p > 1 {
			p = 1
		}
		if m.rng.Float64() < p {
			selected = append(selected, di)
			if len(selected) >= k {
				break
			}
		}
	}
	return selected
}

func topScore(post []float64) float64 {
	best := 0.0
	for _, p := range post {
		if p > best {
			best = p
		}
	}
	return best
}

// mean averages the committee's posteriors.
func mean(vecs [][]float64) []float64 {
	out := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for ci := range v {
			out[ci] += v[ci]
		}
	}
	for ci := range out {
		out[ci] /= float64(len(vecs))
	}
	return out
}

// klToMean is the query-by-committee disagreement: the average KL
// divergence of each member's posterior to the committee mean.
func klToMean(vecs [][]float64) float64 {
	avg := mean(vecs)
	total := 0.0
	for _, v := range vecs {
		for ci := range v {
			if v[ci] > 0 && avg[ci] > 0 {
				total += v[ci] * math.Log(v[ci]/avg[ci])
			}
		}
	}
	return total / float64(len(vecs))
}

// voteEntropy treats each member's top-1 as a vote and returns the vote
// histogram's entropy.
func voteEntropy(vecs [][]float64) float64 {
	votes := map[int]float64{}
	for _, v := range vecs {
		best := 0
		for ci := range v {
			if v[ci] > v[best] {
				best = ci
			}
		}
		votes[best]++
	}
	dist := make([]float64, 0, len(votes))
	for _, n := range votes {
		dist = append(dist, n/float64(len(vecs)))
	}
	return stat.Entropy(dist)
}

// weightedKL scales each class's disagreement term by the recovered
// posterior for that class.
func weightedKL(vecs [][]float64) float64 {
	avg := mean(vecs)
	total := 0.0
	for _, v := range vecs {
		for ci := range v {
			if v[ci] > 0 && avg[ci] > 0 {
				total += avg[ci] * v[ci] * math.Log(v[ci]/avg[ci])
			}
		}
	}
	return total / float64(len(vecs))
}

// documentDensities estimates how central each pool document is: the mean
// of exp(-KL(d || t)) over training documents t, using smoothed word
// distributions over the union of the two documents' terms.
func (m *Method) documentDensities(doc *barrel.Barrel, pool []int) map[int]float64 {
	trainRows := map[int]map[int]float64{}
	poolRows := map[int]map[int]float64{}
	inPool := map[int]bool{}
	for _, di := range pool {
		inPool[di] = true
	}

	it := doc.Index.Rows(nil)
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		dist := map[int]float64{}
		total := 0.0
		for i := range row.Entries {
			dist[row.Entries[i].WI] = float64(row.Entries[i].Count)
			total += float64(row.Entries[i].Count)
		}
		for wi := range dist {
			dist[wi] /= total
		}
		if inPool[di] {
			poolRows[di] = dist
		} else if di < len(doc.Docs) && doc.Docs[di].Tag == corpus.TagTrain {
			trainRows[di] = dist
		}
	}

	const floor = 1e-6
	out := make(map[int]float64, len(pool))
	for di, d := range poolRows {
		sum := 0.0
		for _, t := range trainRows {
			kl := 0.0
			for wi, p := range d {
				q, ok := t[wi]
				if !ok {
					q = floor
				}
				kl += p * math.Log(p/q)
			}
			sum += math.Exp(-kl)
		}
		if len(trainRows) > 0 {
			out[di] = sum / float64(len(trainRows))
		}
	}
	return out
}

// remapToPrecision converts raw committee scores into probabilities by a
// per-class sliding-window precision estimate over the ranked pool, then
// renormalizes each document's posterior. The source left the pool
// unsorted after remapping; here selection re-ranks on the remapped
// scores.
func remapToPrecision(scores map[int][][]float64, window int) {
	if window <= 0 {
		window = 20
	}
	numClasses := 0
	for _, vecs := range scores {
		numClasses = len(vecs[0])
		break
	}

	type entry struct {
		di    int
		score float64
	}
	for ci := 0; ci < numClasses; ci++ {
		ordered := make([]entry, 0, len(scores))
		for di, vecs := range scores {
			ordered = append(ordered, entry{di: di, score: mean(vecs)[ci]})
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].score > ordered[j].score })

		// Windowed precision: the fraction of a window whose top class
		// is ci stands in for P(correct | score).
		for i := range ordered {
			lo := i - window/2
			if lo < 0 {
				lo = 0
			}
			hi := lo + window
			if hi > len(ordered) {
				hi = len(ordered)
				lo = hi - window
				if lo < 0 {
					lo = 0
				}
			}
			agree := 0
			for j := lo; j < hi; j++ {
				vecs := scores[ordered[j].di]
				avg := mean(vecs)
				best := 0
				for c := range avg {
					if avg[c] > avg[best] {
						best = c
					}
				}
				if best == ci {
					agree++
				}
			}
			precision := float64(agree) / float64(hi-lo)
			for _, vecs := range [][][]float64{scores[ordered[i].di]} {
				for _, v := range vecs {
					v[ci] = precision*v[ci] + 1e-9
				}
			}
		}
	}

	// Renormalize each member posterior.
	for _, vecs := range scores {
		for _, v := range vecs {
			sum := 0.0
			for _, p := range v {
				sum += p
			}
			if sum > 0 {
				for ci := range v {
					v[ci] /= sum
				}
			}
		}
	}
}
