package hier

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fsvxavier/nexs-textcat/internal/barrel"
	"github.com/fsvxavier/nexs-textcat/internal/index"
	"github.com/fsvxavier/nexs-textcat/internal/logger"
)

// setKey canonicalizes a class set.
func setKey(set []int) string {
	s := append([]int(nil), set...)
	sort.Ints(s)
	parts := make([]string, len(s))
	for i, ci := range s {
		parts[i] = strconv.Itoa(ci)
	}
	return strings.Join(parts, ",")
}

// Multiclass scores documents against sets of classes: each observed class
// set carries a mixture over its classes' leaves plus the root and the
// uniform distribution, estimated from the training documents labeled with
// that set.
type Multiclass struct {
	m *Method

	// MaxSetSize caps greedy set enumeration at scoring time.
	MaxSetSize int

	// mixtures maps a set key to weights over [set classes..., root,
	// uniform]; priors holds P(set).
	mixtures map[string][]float64
	priors   map[string]float64
}

// NewMulticlass wraps a trained hierarchical method.
func NewMulticlass(m *Method, maxSetSize int) *Multiclass {
	if maxSetSize <= 0 {
		maxSetSize = 3
	}
	return &Multiclass{
		m:          m,
		MaxSetSize: maxSetSize,
		mixtures:   map[string][]float64{},
		priors:     map[string]float64{},
	}
}

// componentProb is P(w|component): a class component is its node's shrunk
// distribution; the two extra components are the root's local distribution
// and uniform.
func (mc *Multiclass) componentProb(set []int, k, wi int) float64 {
	if k < len(set) {
		return mc.m.tree.ShrunkProb(mc.m.classNodes[set[k]], wi)
	}
	if k == len(set) {
		return mc.m.tree.Nodes[0].Words[wi]
	}
	return 1 / float64(mc.m.tree.VocabSize)
}

// Train estimates one mixture per observed class set by EM over the
// documents carrying that set. sets maps document id to its class set.
func (mc *Multiclass) Train(doc *barrel.Barrel, sets map[int][]int, iterations int) error {
	if mc.m.tree == nil {
		return fmt.Errorf("multiclass: hierarchical method is untrained")
	}
	if iterations <= 0 {
		iterations = 10
	}

	// Group documents by set.
	docsBySet := map[string][][]index.RowEntry{}
	setByKey := map[string][]int{}
	total := 0
	it := doc.Index.Rows(nil)
	for {
		di, row, ok := it.Next()
		if !ok {
			break
		}
		set, ok := sets[di]
		if !ok || len(set) == 0 {
			continue
		}
		key := setKey(set)
		docsBySet[key] = append(docsBySet[key], row.Entries)
		setByKey[key] = set
		total++
	}
	if total == 0 {
		return fmt.Errorf("multiclass: no documents carry class sets")
	}

	for key, rows := range docsBySet {
		set := setByKey[key]
		numComp := len(set) + 2
		mix := make([]float64, numComp)
		for k := range mix {
			mix[k] = 1 / float64(numComp)
		}

		for iter := 0; iter < iterations; iter++ {
			acc := make([]float64, numComp)
			for _, entries := range rows {
				for i := range entries {
					e := &entries[i]
					probs := make([]float64, numComp)
					z := 0.0
					for k := 0; k < numComp; k++ {
						probs[k] = mix[k] * mc.componentProb(set, k, e.WI)
						z += probs[k]
					}
					if z == 0 {
						continue
					}
					for k := 0; k < numComp; k++ {
						acc[k] += float64(e.Count) * probs[k] / z
					}
				}
			}
			z := 0.0
			for _, a := range acc {
				z += a
			}
			if z == 0 {
				break
			}
			for k := range mix {
				mix[k] = acc[k] / z
			}
		}

		mc.mixtures[key] = mix
		mc.priors[key] = float64(len(rows)) / float64(total)
	}
	return nil
}

// mixtureFor returns the trained mixture for a set, backing off to the
// average of its members' singleton mixtures when the set was never
// observed.
func (mc *Multiclass) mixtureFor(set []int) []float64 {
	if mix, ok := mc.mixtures[setKey(set)]; ok {
		return mix
	}
	mix := make([]float64, len(set)+2)
	seen := 0
	for i, ci := range set {
		single, ok := mc.mixtures[setKey([]int{ci})]
		if !ok {
			continue
		}
		seen++
		mix[i] += single[0]
		mix[len(set)] += single[1]
		mix[len(set)+1] += single[2]
	}
	if seen == 0 {
		for k := range mix {
			mix[k] = 1 / float64(len(mix))
		}
		return mix
	}
	z := 0.0
	for _, v := range mix {
		z += v
	}
	for k := range mix {
		mix[k] /= z
	}
	return mix
}

// priorFor returns P(set), backing off to the product of member singleton
// priors, with 1e-4 standing in for a member that has no singleton prior.
func (mc *Multiclass) priorFor(set []int) float64 {
	if p, ok := mc.priors[setKey(set)]; ok && p > 0 {
		return p
	}
	p := 1.0
	for _, ci := range set {
		if sp, ok := mc.priors[setKey([]int{ci})]; ok && sp > 0 {
			p *= sp
		} else {
			p *= 1e-4
		}
	}
	return p
}

// logProb scores a row under a set's mixture.
func (mc *Multiclass) logProb(set []int, mix []float64, row *index.Row) float64 {
	ll := 0.0
	for i := range row.Entries {
		e := &row.Entries[i]
		p := 0.0
		for k := range mix {
			p += mix[k] * mc.componentProb(set, k, e.WI)
		}
		if p < 1e-300 {
			p = 1e-300
		}
		ll += float64(e.Count) * math.Log(p)
	}
	return ll
}

// Score enumerates candidate class sets greedily: singles first, then the
// best set is extended one class at a time while log P(d|set) + log P(set)
// improves, up to MaxSetSize.
func (mc *Multiclass) Score(doc *barrel.Barrel, row *index.Row) ([]int, float64, error) {
	if mc.m.tree == nil {
		return nil, 0, fmt.Errorf("multiclass: hierarchical method is untrained")
	}
	numClasses := doc.NumClasses()
	if numClasses == 0 {
		return nil, 0, fmt.Errorf("multiclass: no classes")
	}

	score := func(set []int) float64 {
		return mc.logProb(set, mc.mixtureFor(set), row) + math.Log(mc.priorFor(set))
	}

	best := []int{0}
	bestScore := math.Inf(-1)
	for ci := 0; ci < numClasses; ci++ {
		if s := score([]int{ci}); s > bestScore {
			best, bestScore = []int{ci}, s
		}
	}

	for len(best) < mc.MaxSetSize {
		base := best
		improved := false
		for ci := 0; ci < numClasses; ci++ {
			if containsInt(base, ci) {
				continue
			}
			cand := append(append([]int(nil), base...), ci)
			if s := score(cand); s > bestScore {
				best, bestScore = cand, s
				improved = true
			}
		}
		if !improved {
			break
		}
	}
	sort.Ints(best)
	logger.Debug("multiclass scored", "set", setKey(best), "score", bestScore)
	return best, bestScore, nil
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
