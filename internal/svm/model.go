package svm

import (
	"github.com/fsvxavier/nexs-textcat/internal/index"
)

// Model is one trained binary machine: the support-vector expansion plus,
// for linear kernels, the folded weight vector enabling scoring in time
// proportional to the query's non-zeros.
type Model struct {
	SupportVectors []*index.Row
	AlphaY         []float64 // alpha_i * y_i per support vector
	B              float64

	Kernel Kernel

	// W is the folded hyperplane, non-nil only for linear kernels.
	W map[int]float64
}

// fold materializes the linear weight vector from the support vectors.
func (m *Model) fold() {
	w := map[int]float64{}
	for si, row := range m.SupportVectors {
		ay := m.AlphaY[si]
		for i := range row.Entries {
			w[row.Entries[i].WI] += ay * row.Entries[i].Weight
		}
	}
	m.W = w
}

// Decision returns f(x), preferring the folded hyperplane when present.
func (m *Model) Decision(row *index.Row) float64 {
	if m.W != nil {
		f := m.B
		for i := range row.Entries {
			f += m.W[row.Entries[i].WI] * row.Entries[i].Weight
		}
		return f
	}
	f := m.B
	for si, sv := range m.SupportVectors {
		f += m.AlphaY[si] * m.Kernel.Eval(sv, row)
	}
	return f
}

// DecisionDual always evaluates the support-vector expansion, even when a
// folded hyperplane exists.
func (m *Model) DecisionDual(row *index.Row) float64 {
	f := m.B
	for si, sv := range m.SupportVectors {
		f += m.AlphaY[si] * m.Kernel.Eval(sv, row)
	}
	return f
}

// modelFromSolver extracts the support vectors from a converged solver.
func modelFromSolver(s *solver, kernel Kernel, linear bool) *Model {
	m := &Model{Kernel: kernel, B: s.b}
	for i, a := range s.alphas {
		if a > s.epsAlpha {
			m.SupportVectors = append(m.SupportVectors, s.examples[i].row)
			m.AlphaY = append(m.AlphaY, a*s.examples[i].y)
		}
	}
	if linear {
		m.fold()
	}
	return m
}
