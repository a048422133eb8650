package cf

import (
	"errors"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// ErrShapeMismatch is returned when merging histograms of different shapes.
var ErrShapeMismatch = errors.New("cf: histogram shapes differ")

// Histogram is one partial (or merged) correlation histogram. Bins are laid
// out row-major: bin (ip, it) lives at index ip*NT + it. Every field is a
// plain sum, so merging histograms is element-wise addition and the merged
// result does not depend on merge order beyond floating-point rounding.
type Histogram struct {
	NP int
	NT int

	SumWeight  []float64 // sum of w1*w2
	SumProduct []float64 // sum of w1*w2 * d1*d2
	SumRP      []float64 // sum of w1*w2 * rp
	SumRT      []float64 // sum of w1*w2 * rt
	SumZ       []float64 // sum of w1*w2 * (z1+z2)/2
}

// NewHistogram returns an all-zero histogram with np*nt bins.
func NewHistogram(np, nt int) *Histogram {
	n := np * nt

	return &Histogram{
		NP:         np,
		NT:         nt,
		SumWeight:  make([]float64, n),
		SumProduct: make([]float64, n),
		SumRP:      make([]float64, n),
		SumRT:      make([]float64, n),
		SumZ:       make([]float64, n),
	}
}

// Merge adds other into h element-wise.
func (h *Histogram) Merge(other *Histogram) error {
	if other.NP != h.NP || other.NT != h.NT {
		return ErrShapeMismatch
	}

	vecmath.AddBlockInPlace(h.SumWeight, other.SumWeight)
	vecmath.AddBlockInPlace(h.SumProduct, other.SumProduct)
	vecmath.AddBlockInPlace(h.SumRP, other.SumRP)
	vecmath.AddBlockInPlace(h.SumRT, other.SumRT)
	vecmath.AddBlockInPlace(h.SumZ, other.SumZ)

	return nil
}

// TotalWeight returns the summed pair weight over all bins.
func (h *Histogram) TotalWeight() float64 {
	var sum float64
	for _, w := range h.SumWeight {
		sum += w
	}

	return sum
}

// Normalize divides each weighted accumulator by the summed weight of its
// bin, producing the estimator outputs. Empty bins (zero weight) are
// reported as NaN, never as a crash or a silent zero.
func (h *Histogram) Normalize() (xi, rp, rt, z []float64) {
	n := len(h.SumWeight)
	xi = make([]float64, n)
	rp = make([]float64, n)
	rt = make([]float64, n)
	z = make([]float64, n)

	for i, w := range h.SumWeight {
		if w <= 0 {
			xi[i] = math.NaN()
			rp[i] = math.NaN()
			rt[i] = math.NaN()
			z[i] = math.NaN()

			continue
		}

		xi[i] = h.SumProduct[i] / w
		rp[i] = h.SumRP[i] / w
		rt[i] = h.SumRT[i] / w
		z[i] = h.SumZ[i] / w
	}

	return xi, rp, rt, z
}
