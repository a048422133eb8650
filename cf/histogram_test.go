package cf

import (
	"math"
	"testing"

	"github.com/corentinravoux/picca/internal/testutil"
)

func TestHistogramMerge(t *testing.T) {
	a := NewHistogram(2, 2)
	b := NewHistogram(2, 2)

	a.SumWeight[0] = 1
	a.SumProduct[3] = -0.5
	b.SumWeight[0] = 2
	b.SumProduct[3] = 0.25
	b.SumRP[1] = 7
	b.SumRT[2] = 3
	b.SumZ[0] = 4.5

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, a.SumWeight, []float64{3, 0, 0, 0}, 0)
	testutil.RequireSliceNearlyEqual(t, a.SumProduct, []float64{0, 0, 0, -0.25}, 0)
	testutil.RequireSliceNearlyEqual(t, a.SumRP, []float64{0, 7, 0, 0}, 0)
	testutil.RequireSliceNearlyEqual(t, a.SumRT, []float64{0, 0, 3, 0}, 0)
	testutil.RequireSliceNearlyEqual(t, a.SumZ, []float64{4.5, 0, 0, 0}, 0)
}

func TestHistogramMerge_ShapeMismatch(t *testing.T) {
	a := NewHistogram(2, 2)
	b := NewHistogram(2, 3)

	if err := a.Merge(b); err != ErrShapeMismatch {
		t.Fatalf("Merge: got %v, want %v", err, ErrShapeMismatch)
	}
}

func TestHistogramNormalize_EmptyBinsAreNaN(t *testing.T) {
	h := NewHistogram(1, 2)
	h.SumWeight[0] = 2
	h.SumProduct[0] = 1
	h.SumRP[0] = 8
	h.SumRT[0] = 4
	h.SumZ[0] = 4.5

	xi, rp, rt, z := h.Normalize()

	testutil.RequireNearlyEqual(t, xi[0], 0.5, 1e-15)
	testutil.RequireNearlyEqual(t, rp[0], 4, 1e-15)
	testutil.RequireNearlyEqual(t, rt[0], 2, 1e-15)
	testutil.RequireNearlyEqual(t, z[0], 2.25, 1e-15)

	for _, v := range []float64{xi[1], rp[1], rt[1], z[1]} {
		if !math.IsNaN(v) {
			t.Fatalf("empty bin normalized to %v, want NaN", v)
		}
	}
}

func TestHistogramTotalWeight(t *testing.T) {
	h := NewHistogram(2, 2)
	h.SumWeight[1] = 1.5
	h.SumWeight[2] = 0.5

	if got := h.TotalWeight(); got != 2 {
		t.Fatalf("TotalWeight = %v, want 2", got)
	}
}
