package svm

import (
	"fmt"
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/fsvxavier/nexs-textcat/internal/index"
)

// example is one training case for the binary solver.
type example struct {
	row *index.Row
	y   float64 // +1 or -1
	c   float64 // box constraint for this example
}

// solver optimizes the dual QP
//
//	max sum a_i - 1/2 sum a_i a_j y_i y_j K(x_i, x_j)
//	s.t. sum a_i y_i = 0, 0 <= a_i <= C_i
//
// by repeatedly optimizing the most KKT-violating pairs analytically.
type solver struct {
	examples []example
	kernel   Kernel
	cache    *kernelCache

	epsKKT   float64
	epsAlpha float64
	maxIter  int
	// workingSetSize examples are optimized per outer iteration,
	// rounded up to a multiple of four.
	workingSetSize int
	useBias        bool

	alphas []float64
	errs   []float64 // f(x_i) - y_i
	b      float64
}

func newSolver(examples []example, kernel Kernel, cacheSize int, epsKKT float64, workingSetSize, maxIter int, useBias bool) *solver {
	if epsKKT <= 0 {
		epsKKT = 1e-3
	}
	if workingSetSize <= 0 {
		workingSetSize = 4
	}
	if rem := workingSetSize % 4; rem != 0 {
		workingSetSize += 4 - rem
	}
	if maxIter <= 0 {
		maxIter = 10000
	}
	return &solver{
		examples:       examples,
		kernel:         kernel,
		cache:          newKernelCache(cacheSize),
		epsKKT:         epsKKT,
		epsAlpha:       1e-10,
		maxIter:        maxIter,
		workingSetSize: workingSetSize,
		useBias:        useBias,
		alphas:         make([]float64, len(examples)),
		errs:           make([]float64, len(examples)),
	}
}

func (s *solver) k(i, j int) float64 {
	if v, ok := s.cache.get(i, j); ok {
		return v
	}
	v := s.kernel.Eval(s.examples[i].row, s.examples[j].row)
	s.cache.put(i, j, v)
	return v
}

// decision is f(x_i) for a training example.
func (s *solver) decision(i int) float64 {
	return s.errs[i] + s.examples[i].y
}

// violation measures how badly example i breaks its KKT condition.
func (s *solver) violation(i int) float64 {
	yf := s.examples[i].y * s.decision(i)
	a := s.alphas[i]
	switch {
	case a < s.epsAlpha:
		// Margin examples must satisfy y f >= 1.
		if yf < 1-s.epsKKT {
			return 1 - yf
		}
	case a > s.examples[i].c-s.epsAlpha:
		// Bound examples must satisfy y f <= 1.
		if yf > 1+s.epsKKT {
			return yf - 1
		}
	default:
		// Free support vectors sit on the margin.
		if d := math.Abs(yf - 1); d > s.epsKKT {
			return d
		}
	}
	return 0
}

// solve runs working-set optimization until every example satisfies the
// KKT conditions to tolerance.
func (s *solver) solve() error {
	n := len(s.examples)
	if n == 0 {
		return fmt.Errorf("svm: no training examples")
	}
	for i := range s.errs {
		s.errs[i] = -s.examples[i].y // f starts at zero
	}

	for iter := 0; iter < s.maxIter; iter++ {
		violators := s.rankedViolators()
		if len(violators) == 0 {
			return nil
		}

		progressed := false
		picked := 0
		inSet := bitset.New(uint(n))
		for _, i := range violators {
			if picked >= s.workingSetSize {
				break
			}
			if inSet.Test(uint(i)) {
				continue
			}
			j := s.secondChoice(i, inSet)
			if j < 0 {
				continue
			}
			inSet.Set(uint(i))
			inSet.Set(uint(j))
			picked += 2
			if s.optimizePair(i, j) {
				progressed = true
			}
		}
		if !progressed {
			// Every remaining violation is below the achievable step.
			return nil
		}
	}
	return fmt.Errorf("svm: no convergence within %d iterations", s.maxIter)
}

// rankedViolators returns example indexes sorted by decreasing KKT
// violation, dropping satisfied examples.
func (s *solver) rankedViolators() []int {
	type viol struct {
		i int
		v float64
	}
	out := []viol{}
	for i := range s.examples {
		if v := s.violation(i); v > 0 {
			out = append(out, viol{i: i, v: v})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].v > out[b].v })
	idx := make([]int, len(out))
	for k, v := range out {
		idx[k] = v.i
	}
	return idx
}

// secondChoice picks the partner maximizing |E_i - E_j|.
func (s *solver) secondChoice(i int, exclude *bitset.BitSet) int {
	best, bestGap := -1, -1.0
	for j := range s.examples {
		if j == i || exclude.Test(uint(j)) {
			continue
		}
		gap := math.Abs(s.errs[i] - s.errs[j])
		if gap > bestGap {
			best, bestGap = j, gap
		}
	}
	return best
}

// optimizePair performs the analytic two-variable update. Returns whether
// the alphas moved.
func (s *solver) optimizePair(i, j int) bool {
	ei, ej := s.examples[i], s.examples[j]
	ai, aj := s.alphas[i], s.alphas[j]

	var lo, hi float64
	if ei.y != ej.y {
		lo = math.Max(0, aj-ai)
		hi = math.Min(ej.c, ei.c+aj-ai)
	} else {
		lo = math.Max(0, ai+aj-ei.c)
		hi = math.Min(ej.c, ai+aj)
	}
	if lo >= hi {
		return false
	}

	kii := s.k(i, i)
	kjj := s.k(j, j)
	kij := s.k(i, j)
	eta := kii + kjj - 2*kij
	if eta <= 0 {
		return false
	}

	ajNew := aj + ej.y*(s.errs[i]-s.errs[j])/eta
	if ajNew < lo {
		ajNew = lo
	} else if ajNew > hi {
		ajNew = hi
	}
	if math.Abs(ajNew-aj) < s.epsAlpha {
		return false
	}
	aiNew := ai + ei.y*ej.y*(aj-ajNew)

	// Bias update keeps a KKT-consistent threshold.
	var bNew float64
	b1 := s.b - s.errs[i] - ei.y*(aiNew-ai)*kii - ej.y*(ajNew-aj)*kij
	b2 := s.b - s.errs[j] - ei.y*(aiNew-ai)*kij - ej.y*(ajNew-aj)*kjj
	switch {
	case aiNew > s.epsAlpha && aiNew < ei.c-s.epsAlpha:
		bNew = b1
	case ajNew > s.epsAlpha && ajNew < ej.c-s.epsAlpha:
		bNew = b2
	default:
		bNew = (b1 + b2) / 2
	}
	if !s.useBias {
		bNew = 0
	}

	deltaI := (aiNew - ai) * ei.y
	deltaJ := (ajNew - aj) * ej.y
	deltaB := bNew - s.b
	for k := range s.examples {
		s.errs[k] += deltaI*s.k(i, k) + deltaJ*s.k(j, k) + deltaB
	}
	s.alphas[i] = aiNew
	s.alphas[j] = ajNew
	s.b = bNew
	return true
}

// alphaYSum returns sum alpha_i y_i, which must vanish at convergence when
// a bias is used.
func (s *solver) alphaYSum() float64 {
	sum := 0.0
	for i := range s.alphas {
		sum += s.alphas[i] * s.examples[i].y
	}
	return sum
}
