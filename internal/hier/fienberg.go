package hier

import (
	"fmt"
	"math/rand/v2"
)

// FienbergLambdas sets every node's mixture weights by the closed-form
// shrinkage estimate derived from squared-error loss: each node balances
// its local maximum-likelihood distribution against its parent's mixture
// (the uniform distribution at the root). Used in place of EM over the
// lambdas.
func (t *Tree) FienbergLambdas() {
	t.Walk(func(ni int) {
		n := t.Nodes[ni]
		sample := n.WordsNormalizer
		if sample <= 0 {
			return
		}

		numerator, sqErr := 0.0, 0.0
		for wi := 0; wi < t.VocabSize; wi++ {
			var target float64
			if n.Parent == NoNode {
				target = 1 / float64(t.VocabSize)
			} else {
				// Parent's full shrunk distribution is the target.
				target = t.ShrunkProb(n.Parent, wi)
			}
			p := n.Words[wi]
			numerator += p * (1 - p)
			err := target - p
			sqErr += err * err
		}

		lambda := (1 / sample) * (numerator / (sqErr + numerator/sample))
		if lambda < 0 {
			lambda = 0
		}
		if lambda > 1 {
			lambda = 1
		}

		n.Lambdas[0] = 1 - lambda
		if n.Parent == NoNode {
			n.Lambdas[1] = lambda
			return
		}
		parent := t.Nodes[n.Parent]
		for i := 1; i < len(n.Lambdas); i++ {
			n.Lambdas[i] = lambda * parent.Lambdas[i-1]
		}
	})
}

// CreateChildren grows count children under ni, each starting from a
// slightly perturbed copy of the parent's word distribution, with mixture
// weights seeded to share the parent's.
func (t *Tree) CreateChildren(ni, count int, rng *rand.Rand) []int {
	parent := t.Nodes[ni]
	out := make([]int, 0, count)
	for k := 0; k < count; k++ {
		ci := t.AddChild(ni, fmt.Sprintf("Split%d", k))
		child := t.Nodes[ci]

		sum := 0.0
		for wi, w := range parent.Words {
			w *= 1 + 0.1*(rng.Float64()-0.5)
			child.Words[wi] = w
			sum += w
		}
		for wi := range child.Words {
			child.Words[wi] /= sum
		}

		// The child splits the parent's self-weight with its parent and
		// inherits the rest of the chain shifted one level down.
		child.Lambdas[0] = parent.Lambdas[0] / 2
		child.Lambdas[1] = parent.Lambdas[0] / 2
		for ai := 2; ai < len(child.Lambdas); ai++ {
			child.Lambdas[ai] = parent.Lambdas[ai-1]
		}
		out = append(out, ci)
	}
	return out
}

// HypothesizeGrandchildren tests whether ni's children disagree enough
// (KL divergence to the mean above threshold) to justify another tree
// level, and grows branching children under each if so.
func (t *Tree) HypothesizeGrandchildren(ni, branching int, threshold float64, maxDepth int, rng *rand.Rand) bool {
	if !t.IsLeafParent(ni) {
		return false
	}
	if t.ChildrenKLDiv(ni) <= threshold || t.Nodes[ni].Depth >= maxDepth {
		return false
	}
	for _, ci := range append([]int(nil), t.Nodes[ni].Children...) {
		t.CreateChildren(ci, branching, rng)
	}
	return true
}
