package cf

import (
	"math"

	"github.com/corentinravoux/picca/forest"
	"github.com/corentinravoux/picca/sky"
)

// Accumulator computes per-cell partial histograms. It holds only read-only
// shared state (configuration, angular index, cell buckets), so one
// Accumulator serves any number of concurrent CellPartial calls.
type Accumulator struct {
	cfg    Config
	angMax float64
	index  *sky.Index
	cells  map[sky.CellID][]*forest.Forest
}

// NewAccumulator prepares an accumulator over bucketed forests. angMax is
// the maximum transverse angle, normally Config.MaxAngle.
func NewAccumulator(cfg Config, index *sky.Index, cells map[sky.CellID][]*forest.Forest, angMax float64) *Accumulator {
	return &Accumulator{
		cfg:    cfg,
		angMax: angMax,
		index:  index,
		cells:  cells,
	}
}

// CellPartial accumulates every pair owned by the target cell into a fresh
// histogram.
//
// Ownership rule: the target cell pairs its forests with forests in every
// neighbor cell whose id is not smaller than its own; same-cell pairs are
// taken in index order. Since the neighbor relation is symmetric, each
// unordered forest pair is processed by exactly one cell task and no
// reciprocal processing is needed. A cell with no forests yields an
// all-zero histogram.
func (a *Accumulator) CellPartial(cell sky.CellID) (*Histogram, error) {
	h := NewHistogram(a.cfg.NP, a.cfg.NT)

	own := a.cells[cell]
	if len(own) == 0 {
		return h, nil
	}

	neighbors, err := a.index.Neighbors(cell, a.angMax)
	if err != nil {
		return nil, err
	}

	for _, q := range neighbors {
		if q < cell {
			continue // the lower cell id owns this cell pair
		}

		if q == cell {
			for i, f1 := range own {
				for _, f2 := range own[i+1:] {
					a.pair(h, f1, f2)
				}
			}

			continue
		}

		for _, f1 := range own {
			for _, f2 := range a.cells[q] {
				a.pair(h, f1, f2)
			}
		}
	}

	return h, nil
}

// pair bins every pixel pair of two distinct sightlines.
func (a *Accumulator) pair(h *Histogram, f1, f2 *forest.Forest) {
	cosAng := f1.CosAngle(f2)

	ang := math.Acos(cosAng)
	if ang >= a.angMax {
		return
	}

	// Half-angle projection factors: rp is the distance difference along
	// the pair bisector, rt the mean distance across it.
	cosHalf := math.Sqrt(0.5 * (1 + cosAng))
	sinHalf := math.Sqrt(0.5 * (1 - cosAng))

	rpMax := a.cfg.RPMax
	rtMax := a.cfg.RTMax
	np := a.cfg.NP
	nt := a.cfg.NT

	for i, w1 := range f1.Weight {
		if w1 <= 0 {
			continue
		}

		r1 := f1.RComov[i]
		d1 := f1.Delta[i]
		z1 := f1.Z[i]

		for j, w2 := range f2.Weight {
			if w2 <= 0 {
				continue
			}

			r2 := f2.RComov[j]

			rp := math.Abs(r1-r2) * cosHalf
			if rp >= rpMax {
				continue
			}

			rt := (r1 + r2) * sinHalf
			if rt >= rtMax {
				continue
			}

			// rp < rpMax holds, but the scaled division can still round
			// up to the edge when rp is within an ulp of the maximum.
			ip := int(rp / rpMax * float64(np))
			if ip >= np {
				ip = np - 1
			}

			it := int(rt / rtMax * float64(nt))
			if it >= nt {
				it = nt - 1
			}

			bin := ip*nt + it

			w := w1 * w2

			h.SumWeight[bin] += w
			h.SumProduct[bin] += w * d1 * f2.Delta[j]
			h.SumRP[bin] += w * rp
			h.SumRT[bin] += w * rt
			h.SumZ[bin] += w * 0.5 * (z1 + f2.Z[j])
		}
	}
}
