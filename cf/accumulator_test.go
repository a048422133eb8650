package cf

import (
	"math"
	"testing"

	"github.com/corentinravoux/picca/forest"
	"github.com/corentinravoux/picca/internal/testutil"
	"github.com/corentinravoux/picca/sky"
)

func buildAccumulator(t *testing.T, cfg Config, forests []*forest.Forest, angMax float64) (*Accumulator, []sky.CellID) {
	t.Helper()

	ix, err := sky.NewIndex(cfg.Resolution)
	if err != nil {
		t.Fatalf("sky.NewIndex: %v", err)
	}

	cells := forest.Group(forests, ix)

	ids := make([]sky.CellID, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}

	return NewAccumulator(cfg, ix, cells, angMax), ids
}

// A two-forest catalogue with one pixel each must populate exactly one bin
// with weight w1*w2 and product w1*w2*d1*d2, counted once.
func TestCellPartial_NoDoubleCounting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPMax = 40
	cfg.RTMax = 40
	cfg.NP = 4
	cfg.NT = 4

	const (
		w1, w2 = 0.5, 2.0
		d1, d2 = 0.3, -0.8
	)

	f1 := testutil.SinglePixelForest(1, 1.0, 0.5, d1, w1, 2.2, 3800)
	f2 := testutil.SinglePixelForest(2, 1.0+0.004, 0.5, d2, w2, 2.3, 3810)

	acc, ids := buildAccumulator(t, cfg, []*forest.Forest{f1, f2}, 0.05)

	total := NewHistogram(cfg.NP, cfg.NT)
	for _, id := range ids {
		h, err := acc.CellPartial(id)
		if err != nil {
			t.Fatalf("CellPartial(%v): %v", id, err)
		}
		if err := total.Merge(h); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}

	populated := 0
	for i, w := range total.SumWeight {
		if w == 0 {
			continue
		}

		populated++
		testutil.RequireNearlyEqual(t, w, w1*w2, 1e-12)
		testutil.RequireNearlyEqual(t, total.SumProduct[i], w1*w2*d1*d2, 1e-12)
		testutil.RequireNearlyEqual(t, total.SumZ[i], w1*w2*0.5*(2.2+2.3), 1e-12)
	}

	if populated != 1 {
		t.Fatalf("populated bins = %d, want 1", populated)
	}
}

// Pixel pairs outside the separation range or with non-positive weight must
// be discarded.
func TestCellPartial_Cuts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPMax = 10
	cfg.RTMax = 10
	cfg.NP = 1
	cfg.NT = 1

	// Parallel separation 50 >> RPMax: nothing lands.
	far := []*forest.Forest{
		testutil.SinglePixelForest(1, 1.0, 0.5, 1, 1, 2.2, 3800),
		testutil.SinglePixelForest(2, 1.0, 0.5, 1, 1, 2.3, 3850),
	}

	acc, ids := buildAccumulator(t, cfg, far, 0.05)
	for _, id := range ids {
		h, err := acc.CellPartial(id)
		if err != nil {
			t.Fatalf("CellPartial: %v", err)
		}
		testutil.RequireAllZero(t, h.SumWeight)
	}

	// Zero weight: nothing lands either.
	deadWeight := []*forest.Forest{
		testutil.SinglePixelForest(3, 1.0, 0.5, 1, 0, 2.2, 3800),
		testutil.SinglePixelForest(4, 1.0+0.001, 0.5, 1, 1, 2.2, 3800),
	}

	acc, ids = buildAccumulator(t, cfg, deadWeight, 0.05)
	for _, id := range ids {
		h, err := acc.CellPartial(id)
		if err != nil {
			t.Fatalf("CellPartial: %v", err)
		}
		testutil.RequireAllZero(t, h.SumWeight)
	}
}

// A separation one ulp below the maximum can still scale to an index one
// past the grid; the pair must land in the last bin, not out of range.
func TestCellPartial_UpperEdgeBin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPMax = 1
	cfg.RTMax = 1
	cfg.NP = 3
	cfg.NT = 3

	// Co-located sightlines: rp is exactly the distance difference, one
	// ulp below RPMax, and rp/RPMax*NP rounds up to NP.
	f1 := testutil.SinglePixelForest(1, 0, 0, 1, 1, 2.25, 0)
	f2 := testutil.SinglePixelForest(2, 0, 0, 1, 1, 2.25, math.Nextafter(1, 0))

	acc, ids := buildAccumulator(t, cfg, []*forest.Forest{f1, f2}, 0.05)

	total := NewHistogram(cfg.NP, cfg.NT)
	for _, id := range ids {
		h, err := acc.CellPartial(id)
		if err != nil {
			t.Fatalf("CellPartial(%v): %v", id, err)
		}
		if err := total.Merge(h); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}

	wantBin := (cfg.NP - 1) * cfg.NT
	for i, w := range total.SumWeight {
		if i == wantBin {
			testutil.RequireNearlyEqual(t, w, 1.0, 1e-12)
			continue
		}
		if w != 0 {
			t.Fatalf("bin %d weight = %v, want 0", i, w)
		}
	}
}

// A cell with no forests contributes an all-zero partial without error.
func TestCellPartial_EmptyCell(t *testing.T) {
	cfg := DefaultConfig()

	ix, err := sky.NewIndex(cfg.Resolution)
	if err != nil {
		t.Fatalf("sky.NewIndex: %v", err)
	}

	acc := NewAccumulator(cfg, ix, map[sky.CellID][]*forest.Forest{}, 0.05)

	h, err := acc.CellPartial(sky.CellID(3))
	if err != nil {
		t.Fatalf("CellPartial on empty cell: %v", err)
	}

	testutil.RequireAllZero(t, h.SumWeight)
	testutil.RequireAllZero(t, h.SumProduct)
	testutil.RequireAllZero(t, h.SumRP)
	testutil.RequireAllZero(t, h.SumRT)
	testutil.RequireAllZero(t, h.SumZ)
}

// Forests beyond the maximum transverse angle must not pair at all.
func TestCellPartial_AngleCut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NP = 1
	cfg.NT = 1
	cfg.RPMax = 1e6
	cfg.RTMax = 1e6

	pair := []*forest.Forest{
		testutil.SinglePixelForest(1, 1.0, 0.5, 1, 1, 2.2, 3800),
		testutil.SinglePixelForest(2, 1.1, 0.5, 1, 1, 2.2, 3800),
	}

	acc, ids := buildAccumulator(t, cfg, pair, 0.01)

	for _, id := range ids {
		h, err := acc.CellPartial(id)
		if err != nil {
			t.Fatalf("CellPartial: %v", err)
		}
		testutil.RequireAllZero(t, h.SumWeight)
	}
}

// The cell decomposition must reproduce a brute-force loop over all pairs:
// no pair lost to the neighbor search, none counted twice.
func TestCellPartial_MatchesBruteForce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPMax = 60
	cfg.RTMax = 60
	cfg.NP = 6
	cfg.NT = 6
	cfg.Resolution = 32

	const angMax = 0.03

	forests := testutil.RandomCatalog(11, 60, 5, 1.2, 0.4, 0.08, 3800)

	acc, ids := buildAccumulator(t, cfg, forests, angMax)

	total := NewHistogram(cfg.NP, cfg.NT)
	for _, id := range ids {
		h, err := acc.CellPartial(id)
		if err != nil {
			t.Fatalf("CellPartial(%v): %v", id, err)
		}
		if err := total.Merge(h); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}

	wantW, wantProd, wantRP, wantRT, wantZ := testutil.BruteForcePairs(
		forests, cfg.RPMax, cfg.RTMax, cfg.NP, cfg.NT, angMax)

	testutil.RequireSliceNearlyEqual(t, total.SumWeight, wantW, 1e-9)
	testutil.RequireSliceNearlyEqual(t, total.SumProduct, wantProd, 1e-9)
	testutil.RequireSliceNearlyEqual(t, total.SumRP, wantRP, 1e-7)
	testutil.RequireSliceNearlyEqual(t, total.SumRT, wantRT, 1e-7)
	testutil.RequireSliceNearlyEqual(t, total.SumZ, wantZ, 1e-9)
}

// A dense grid exercises the neighbor query across many cell boundaries;
// the summed pair weight must match the brute-force count exactly.
func TestCellPartial_GridCompleteness(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPMax = 30
	cfg.RTMax = 30
	cfg.NP = 3
	cfg.NT = 3
	cfg.Resolution = 48

	const (
		spacing = 0.002
		angMax  = 0.0075
	)

	forests := testutil.GridCatalog(9, spacing, 3800)

	acc, ids := buildAccumulator(t, cfg, forests, angMax)

	total := NewHistogram(cfg.NP, cfg.NT)
	for _, id := range ids {
		h, err := acc.CellPartial(id)
		if err != nil {
			t.Fatalf("CellPartial(%v): %v", id, err)
		}
		if err := total.Merge(h); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}

	wantW, wantProd, _, _, _ := testutil.BruteForcePairs(
		forests, cfg.RPMax, cfg.RTMax, cfg.NP, cfg.NT, angMax)

	testutil.RequireSliceNearlyEqual(t, total.SumWeight, wantW, 1e-9)
	testutil.RequireSliceNearlyEqual(t, total.SumProduct, wantProd, 1e-9)
}

// Every normalized bin value must lie between the smallest and largest
// delta product that contributed to it.
func TestNormalize_BoundedByProducts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPMax = 60
	cfg.RTMax = 60
	cfg.NP = 4
	cfg.NT = 4
	cfg.Resolution = 32

	const angMax = 0.03

	forests := testutil.RandomCatalog(5, 40, 4, 0.8, -0.3, 0.06, 3750)

	acc, ids := buildAccumulator(t, cfg, forests, angMax)

	total := NewHistogram(cfg.NP, cfg.NT)
	for _, id := range ids {
		h, err := acc.CellPartial(id)
		if err != nil {
			t.Fatalf("CellPartial: %v", err)
		}
		if err := total.Merge(h); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}

	// Per-bin product extrema from the reference loop.
	minProd := make([]float64, cfg.NumBins())
	maxProd := make([]float64, cfg.NumBins())
	seen := make([]bool, cfg.NumBins())

	for i, f1 := range forests {
		for _, f2 := range forests[i+1:] {
			cosAng := f1.CosAngle(f2)
			if math.Acos(cosAng) >= angMax {
				continue
			}

			cosHalf := math.Sqrt(0.5 * (1 + cosAng))
			sinHalf := math.Sqrt(0.5 * (1 - cosAng))

			for a, w1 := range f1.Weight {
				if w1 <= 0 {
					continue
				}
				for b, w2 := range f2.Weight {
					if w2 <= 0 {
						continue
					}

					rp := math.Abs(f1.RComov[a]-f2.RComov[b]) * cosHalf
					rt := (f1.RComov[a] + f2.RComov[b]) * sinHalf
					if rp >= cfg.RPMax || rt >= cfg.RTMax {
						continue
					}

					bin := int(rp/cfg.RPMax*float64(cfg.NP))*cfg.NT +
						int(rt/cfg.RTMax*float64(cfg.NT))

					prod := f1.Delta[a] * f2.Delta[b]
					if !seen[bin] {
						minProd[bin] = prod
						maxProd[bin] = prod
						seen[bin] = true
					} else {
						minProd[bin] = math.Min(minProd[bin], prod)
						maxProd[bin] = math.Max(maxProd[bin], prod)
					}
				}
			}
		}
	}

	xi, _, _, _ := total.Normalize()

	const eps = 1e-9
	for bin, ok := range seen {
		if !ok {
			continue
		}

		if xi[bin] < minProd[bin]-eps || xi[bin] > maxProd[bin]+eps {
			t.Fatalf("bin %d: xi=%v outside [%v, %v]", bin, xi[bin], minProd[bin], maxProd[bin])
		}
	}
}
