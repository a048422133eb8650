package cf

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/corentinravoux/picca/cosmology"
	"github.com/corentinravoux/picca/forest"
	"github.com/corentinravoux/picca/sky"
)

// ErrNotPrepared is returned when a forest reaches Run without its delta,
// weight, or geometry arrays filled in.
var ErrNotPrepared = errors.New("cf: forest is not prepared")

// Result is the output artifact of a correlation run: the normalized
// estimator grid plus the per-cell weight and product rows that downstream
// covariance estimation resamples. Header holds the binning configuration
// for the (external) serialization layer.
type Result struct {
	Header Header

	// Normalized per-bin statistics, NaN where the bin is empty.
	Xi []float64 // correlation value
	RP []float64 // mean parallel separation
	RT []float64 // mean transverse separation
	Z  []float64 // mean redshift

	Weight []float64 // summed pair weight per bin

	// Per-cell realizations in ascending cell-id order.
	Cells        []sky.CellID
	CellWeights  [][]float64
	CellProducts [][]float64
}

// Header records the binning configuration of a Result.
type Header struct {
	RPMax float64
	RTMax float64
	NP    int
	NT    int
}

// Prepare derives per-pixel geometry for every forest and applies the
// weight evolution and optional projection from the configuration. It is
// the only mutating step of a correlation run; after Prepare the forests
// are treated as read-only.
func Prepare(cfg Config, forests []*forest.Forest, cosmo *cosmology.FlatLCDM) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, f := range forests {
		f.DeriveGeometry(cfg.LambdaAbs, cosmo)
		f.ApplyRedshiftEvolution(cfg.ZRef, cfg.ZEvol)

		if cfg.Project {
			f.Project()
		}
	}

	return nil
}

// Run estimates the correlation function over prepared forests.
//
// One task per populated cell is dispatched to a bounded worker pool.
// Forests and configuration are read-only during accumulation; each task
// owns its partial histogram until it is handed back. Partials are merged
// in ascending cell-id order, so the result is reproducible bit-for-bit
// regardless of task scheduling. Any worker error aborts the whole run and
// discards all partials: a silently incomplete aggregate would be worse
// than no aggregate.
func Run(ctx context.Context, cfg Config, forests []*forest.Forest, cosmo *cosmology.FlatLCDM) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, f := range forests {
		if err := f.Validate(); err != nil {
			return nil, err
		}

		if f.Delta == nil || f.Weight == nil || f.Z == nil || f.RComov == nil {
			return nil, fmt.Errorf("%w (los %d)", ErrNotPrepared, f.LosID)
		}
	}

	index, err := sky.NewIndex(cfg.Resolution)
	if err != nil {
		return nil, err
	}

	cells := forest.Group(forests, index)

	ids := make([]sky.CellID, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	acc := NewAccumulator(cfg, index, cells, cfg.MaxAngle(cosmo))

	partials, err := runPool(ctx, cfg.Workers, ids, acc)
	if err != nil {
		return nil, err
	}

	return reduce(cfg, ids, partials), nil
}

// runPool fans the cell tasks out to a bounded worker pool and collects one
// partial histogram per cell, slotted by task index so the later reduction
// is order-independent of scheduling. The first worker error cancels the
// remaining work and is returned.
func runPool(ctx context.Context, workers int, ids []sky.CellID, acc *Accumulator) ([]*Histogram, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	if workers > len(ids) && len(ids) > 0 {
		workers = len(ids)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	partials := make([]*Histogram, len(ids))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case i, ok := <-jobs:
					if !ok {
						return
					}

					h, err := acc.CellPartial(ids[i])
					if err != nil {
						fail(err)
						return
					}

					partials[i] = h
				}
			}
		}()
	}

feed:
	for i := range ids {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}

	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return partials, nil
}

// reduce merges the per-cell partials in ascending cell-id order and
// normalizes the grand totals.
func reduce(cfg Config, ids []sky.CellID, partials []*Histogram) *Result {
	total := NewHistogram(cfg.NP, cfg.NT)

	res := &Result{
		Header: Header{
			RPMax: cfg.RPMax,
			RTMax: cfg.RTMax,
			NP:    cfg.NP,
			NT:    cfg.NT,
		},
		Cells:        ids,
		CellWeights:  make([][]float64, len(ids)),
		CellProducts: make([][]float64, len(ids)),
	}

	for i, h := range partials {
		// Shapes match by construction; Merge cannot fail here.
		_ = total.Merge(h)

		res.CellWeights[i] = h.SumWeight
		res.CellProducts[i] = h.SumProduct
	}

	res.Xi, res.RP, res.RT, res.Z = total.Normalize()
	res.Weight = total.SumWeight

	return res
}
