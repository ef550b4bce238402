// Package hier implements hierarchical shrinkage EM over a topic tree:
// each leaf is a class whose word distribution is a mixture of its own
// multinomial, its ancestors', and the uniform distribution, with mixture
// weights and word distributions re-estimated jointly by EM.
package hier

import (
	"math"
	"strings"
)

// NoNode is the nil node handle.
const NoNode = -1

// MiscName is the reserved child name whose word distribution stays flat.
const MiscName = "Misc"

// Node is one treenode. Nodes live in a Tree arena and refer to each other
// by index.
type Node struct {
	Parent   int
	Children []int
	Depth    int
	// Name is the node's path, slash-delimited with a trailing slash.
	Name string

	// Words is the node's local multinomial over the vocabulary;
	// NewWords is the accumulator the next E-step fills.
	Words    []float64
	NewWords []float64

	// WordsNormalizer is the total training mass behind Words, kept for
	// constant-time leave-one-out recomputation.
	WordsNormalizer float64

	// Lambdas mixes {self, parent, ..., root, uniform}: length Depth+2.
	Lambdas    []float64
	NewLambdas []float64

	Prior    float64
	NewPrior float64

	// Classes optionally carries a per-class distribution.
	Classes    []float64
	NewClasses []float64

	// Leave-one-out tables: per document the total mass this node
	// accumulated from it, and per (document, word position) the mass
	// from that single occurrence.
	DILoo      []float64
	NewDILoo   []float64
	DIWVLoo    [][]float64
	NewDIWVLoo [][]float64
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// IsMisc reports whether the node is a flat Misc catch-all.
func (n *Node) IsMisc() bool { return strings.Contains(n.Name, "/"+MiscName+"/") }

// Tree is the arena of treenodes; node 0 is the root.
type Tree struct {
	Nodes     []*Node
	VocabSize int
}

// NewTree creates a tree holding only a root node.
func NewTree(vocabSize int) *Tree {
	t := &Tree{VocabSize: vocabSize}
	root := &Node{
		Parent:  NoNode,
		Name:    "/",
		Words:   uniform(vocabSize),
		Lambdas: []float64{1, 0},
	}
	root.NewWords = make([]float64, vocabSize)
	root.NewLambdas = make([]float64, 2)
	t.Nodes = append(t.Nodes, root)
	return t
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// AddChild creates a child of parent named by segment and returns its
// index. The child starts with a uniform word distribution and leaf-only
// lambdas.
func (t *Tree) AddChild(parent int, segment string) int {
	p := t.Nodes[parent]
	child := &Node{
		Parent:     parent,
		Depth:      p.Depth + 1,
		Name:       p.Name + segment + "/",
		Words:      uniform(t.VocabSize),
		NewWords:   make([]float64, t.VocabSize),
		Lambdas:    make([]float64, p.Depth+3),
		NewLambdas: make([]float64, p.Depth+3),
	}
	child.Lambdas[0] = 1
	ni := len(t.Nodes)
	t.Nodes = append(t.Nodes, child)
	p.Children = append(p.Children, ni)
	return ni
}

// AddMiscChildAll gives every interior node a flat Misc child if it does
// not already have one.
func (t *Tree) AddMiscChildAll() {
	interior := []int{}
	for ni, n := range t.Nodes {
		if !n.IsLeaf() {
			interior = append(interior, ni)
		}
	}
	for _, ni := range interior {
		has := false
		for _, ci := range t.Nodes[ni].Children {
			if strings.HasSuffix(t.Nodes[ci].Name, "/"+MiscName+"/") {
				has = true
				break
			}
		}
		if !has {
			t.AddChild(ni, MiscName)
		}
	}
}

// Walk visits nodes preorder using an explicit stack.
func (t *Tree) Walk(visit func(ni int)) {
	if len(t.Nodes) == 0 {
		return
	}
	stack := []int{0}
	for len(stack) > 0 {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(ni)
		children := t.Nodes[ni].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// Leaves returns leaf indexes in preorder.
func (t *Tree) Leaves() []int {
	out := []int{}
	t.Walk(func(ni int) {
		if t.Nodes[ni].IsLeaf() {
			out = append(out, ni)
		}
	})
	return out
}

// Ancestors returns the chain self, parent, ..., root.
func (t *Tree) Ancestors(ni int) []int {
	out := []int{}
	for cur := ni; cur != NoNode; cur = t.Nodes[cur].Parent {
		out = append(out, cur)
	}
	return out
}

// DescendantMatchingName returns the first node whose path appears in
// name, preferring deeper matches, or NoNode.
func (t *Tree) DescendantMatchingName(name string) int {
	best, bestDepth := NoNode, -1
	t.Walk(func(ni int) {
		n := t.Nodes[ni]
		if n.Parent == NoNode {
			return
		}
		if strings.Contains("/"+name+"/", n.Name) || strings.Contains(name, strings.Trim(n.Name, "/")) {
			if n.Depth > bestDepth {
				best, bestDepth = ni, n.Depth
			}
		}
	})
	return best
}

// SetLambdasUniform spreads a node's mixture evenly.
func (t *Tree) SetLambdasUniform(ni int) {
	n := t.Nodes[ni]
	for i := range n.Lambdas {
		n.Lambdas[i] = 1 / float64(len(n.Lambdas))
	}
}

// SetLambdasLeafOnly puts the whole mixture on the node itself.
func (t *Tree) SetLambdasLeafOnly(ni int) {
	n := t.Nodes[ni]
	for i := range n.Lambdas {
		n.Lambdas[i] = 0
	}
	n.Lambdas[0] = 1
}

// LocalProb is the node's own P(w).
func (t *Tree) LocalProb(ni, wi int) float64 {
	return t.Nodes[ni].Words[wi]
}

// ShrunkProb mixes the node's distribution with its ancestors and the
// uniform distribution under the node's lambdas.
func (t *Tree) ShrunkProb(ni, wi int) float64 {
	n := t.Nodes[ni]
	p := 0.0
	ai := 0
	for cur := ni; cur != NoNode; cur = t.Nodes[cur].Parent {
		p += n.Lambdas[ai] * t.Nodes[cur].Words[wi]
		ai++
	}
	p += n.Lambdas[ai] / float64(t.VocabSize)
	return p
}

// LooLocalProb is LocalProb with document di's mass removed, using the
// leave-one-out tables; wvi is the word's position within the document's
// row. Falls back to the plain estimate when no tables exist, and to
// uniform when the document was the node's only mass.
func (t *Tree) LooLocalProb(ni, wi, di, wvi int) float64 {
	n := t.Nodes[ni]
	if n.DILoo == nil || di >= len(n.DILoo) || n.DIWVLoo == nil || di >= len(n.DIWVLoo) || n.DIWVLoo[di] == nil {
		return n.Words[wi]
	}
	denom := n.WordsNormalizer - n.DILoo[di]
	if denom <= 0 {
		return 1 / float64(t.VocabSize)
	}
	num := n.Words[wi]*n.WordsNormalizer - n.DIWVLoo[di][wvi]
	if num < 0 {
		num = 0
	}
	return num / denom
}

// ShrunkLooProb is ShrunkProb with document di removed from every
// component.
func (t *Tree) ShrunkLooProb(ni, wi, di, wvi int) float64 {
	n := t.Nodes[ni]
	p := 0.0
	ai := 0
	for cur := ni; cur != NoNode; cur = t.Nodes[cur].Parent {
		p += n.Lambdas[ai] * t.LooLocalProb(cur, wi, di, wvi)
		ai++
	}
	p += n.Lambdas[ai] / float64(t.VocabSize)
	return p
}

// AddNewLoo records a deposit into the node's next-round leave-one-out
// tables, allocating them on first touch.
func (t *Tree) AddNewLoo(ni int, deposit float64, di, wvi, rowLen, numDocs int) {
	n := t.Nodes[ni]
	if n.NewDILoo == nil {
		n.NewDILoo = make([]float64, numDocs)
		n.NewDIWVLoo = make([][]float64, numDocs)
	}
	if n.NewDIWVLoo[di] == nil {
		n.NewDIWVLoo[di] = make([]float64, rowLen)
	}
	n.NewDILoo[di] += deposit
	n.NewDIWVLoo[di][wvi] += deposit
}

// SetFromNew normalizes the node's accumulators into its current
// parameters and zeroes them: words with a Dirichlet alpha floor (Misc
// nodes stay flat), lambdas with lambdaAlpha, and the leave-one-out tables
// rotated.
func (t *Tree) SetFromNew(ni int, alpha, lambdaAlpha float64) {
	n := t.Nodes[ni]

	total := 0.0
	for _, w := range n.NewWords {
		total += w
	}
	total += alpha * float64(t.VocabSize)
	if n.IsMisc() {
		for wi := range n.Words {
			n.Words[wi] = 1 / float64(t.VocabSize)
		}
		n.WordsNormalizer = 0
	} else {
		if total == 0 {
			for wi := range n.Words {
				n.Words[wi] = 1 / float64(t.VocabSize)
			}
		} else {
			for wi := range n.Words {
				n.Words[wi] = (alpha + n.NewWords[wi]) / total
			}
		}
		n.WordsNormalizer = total
	}
	for wi := range n.NewWords {
		n.NewWords[wi] = 0
	}

	lsum := 0.0
	for _, l := range n.NewLambdas {
		lsum += l + lambdaAlpha
	}
	if lsum > 0 {
		for i := range n.Lambdas {
			n.Lambdas[i] = (n.NewLambdas[i] + lambdaAlpha) / lsum
		}
	}
	for i := range n.NewLambdas {
		n.NewLambdas[i] = 0
	}

	if n.NewClasses != nil {
		csum := 0.0
		for _, c := range n.NewClasses {
			csum += c
		}
		if csum > 0 {
			if n.Classes == nil {
				n.Classes = make([]float64, len(n.NewClasses))
			}
			for i := range n.NewClasses {
				n.Classes[i] = n.NewClasses[i] / csum
				n.NewClasses[i] = 0
			}
		}
	}

	n.DILoo, n.NewDILoo = n.NewDILoo, nil
	n.DIWVLoo, n.NewDIWVLoo = n.NewDIWVLoo, nil
}

// SetLeafPriorsFromNew normalizes priors over leaves so they sum to one;
// interior nodes keep prior zero.
func (t *Tree) SetLeafPriorsFromNew(alpha float64) {
	leaves := t.Leaves()
	total := 0.0
	for _, li := range leaves {
		total += t.Nodes[li].NewPrior + alpha
	}
	for _, ni := range t.Nodes {
		ni.Prior = 0
	}
	if total > 0 {
		for _, li := range leaves {
			t.Nodes[li].Prior = (t.Nodes[li].NewPrior + alpha) / total
		}
	}
	for _, n := range t.Nodes {
		n.NewPrior = 0
	}
}

// ChildrenKLDiv returns the KL divergence to the mean among a node's
// children's word distributions.
func (t *Tree) ChildrenKLDiv(ni int) float64 {
	children := t.Nodes[ni].Children
	if len(children) < 2 {
		return 0
	}
	mean := make([]float64, t.VocabSize)
	for _, ci := range children {
		for wi, w := range t.Nodes[ci].Words {
			mean[wi] += w
		}
	}
	for wi := range mean {
		mean[wi] /= float64(len(children))
	}
	kl := 0.0
	for _, ci := range children {
		for wi, w := range t.Nodes[ci].Words {
			if w > 0 && mean[wi] > 0 {
				kl += w * math.Log(w/mean[wi])
			}
		}
	}
	return kl / float64(len(children))
}

// PairKLDiv returns the KL divergence to the mean between two nodes.
func (t *Tree) PairKLDiv(a, b int) float64 {
	kl := 0.0
	wa, wb := t.Nodes[a].Words, t.Nodes[b].Words
	for wi := range wa {
		mean := (wa[wi] + wb[wi]) / 2
		if mean <= 0 {
			continue
		}
		if wa[wi] > 0 {
			kl += wa[wi] * math.Log(wa[wi]/mean)
		}
		if wb[wi] > 0 {
			kl += wb[wi] * math.Log(wb[wi]/mean)
		}
	}
	return kl / 2
}

// IsLeafParent reports whether any child of ni is a leaf.
func (t *Tree) IsLeafParent(ni int) bool {
	for _, ci := range t.Nodes[ni].Children {
		if t.Nodes[ci].IsLeaf() {
			return true
		}
	}
	return false
}
