package testutil

import (
	"math"
	"math/rand"

	"github.com/corentinravoux/picca/forest"
)

// SinglePixelForest returns a prepared one-pixel forest at the given sky
// position, with its redshift and comoving distance set directly. Used to
// build catalogues with exactly known pair geometry.
func SinglePixelForest(losID uint64, ra, dec, delta, weight, z, rComov float64) *forest.Forest {
	f := forest.NewDelta(losID, ra, dec,
		[]float64{3.58},
		[]float64{delta},
		[]float64{weight})
	f.Z = []float64{z}
	f.RComov = []float64{rComov}

	return f
}

// RandomCatalog returns n prepared forests scattered over a patch of sky
// around (raCenter, decCenter) with patchSize extent in radians. Each
// forest has nPix pixels with distances increasing from rBase, random
// deltas in [-0.5, 0.5), and random weights in (0, 1]. The catalogue is
// deterministic for a given seed.
func RandomCatalog(seed int64, n, nPix int, raCenter, decCenter, patchSize, rBase float64) []*forest.Forest {
	rng := rand.New(rand.NewSource(seed))

	out := make([]*forest.Forest, n)
	for i := range out {
		ra := raCenter + (rng.Float64()-0.5)*patchSize
		dec := decCenter + (rng.Float64()-0.5)*patchSize

		ll := make([]float64, nPix)
		delta := make([]float64, nPix)
		weight := make([]float64, nPix)
		z := make([]float64, nPix)
		r := make([]float64, nPix)

		for p := range ll {
			ll[p] = 3.56 + 0.001*float64(p)
			delta[p] = rng.Float64() - 0.5
			weight[p] = 1 - rng.Float64()*0.9
			z[p] = 2.0 + 0.01*float64(p)
			r[p] = rBase + 4*float64(p)
		}

		f := forest.NewDelta(uint64(i+1), ra, dec, ll, delta, weight)
		f.Z = z
		f.RComov = r
		out[i] = f
	}

	return out
}

// GridCatalog returns prepared single-pixel forests on a side x side
// angular grid with the given spacing in radians, all at comoving distance
// rComov. Deltas alternate in sign so products exercise both signs.
func GridCatalog(side int, spacing, rComov float64) []*forest.Forest {
	out := make([]*forest.Forest, 0, side*side)

	id := uint64(1)
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			delta := 1.0
			if (i+j)%2 == 1 {
				delta = -1.0
			}

			f := SinglePixelForest(id,
				float64(i)*spacing,
				float64(j)*spacing,
				delta, 1.0, 2.25, rComov)
			out = append(out, f)
			id++
		}
	}

	return out
}

// BruteForcePairs is a reference double loop over all unordered forest
// pairs: it applies exactly the estimator's pixel-pair cuts and returns the
// five accumulator arrays, laid out ip*nt+it. It ignores cell bucketing
// entirely, which is the point: any bucketing bug shows up as a mismatch.
func BruteForcePairs(forests []*forest.Forest, rpMax, rtMax float64, np, nt int, angMax float64) (sumW, sumProd, sumRP, sumRT, sumZ []float64) {
	n := np * nt
	sumW = make([]float64, n)
	sumProd = make([]float64, n)
	sumRP = make([]float64, n)
	sumRT = make([]float64, n)
	sumZ = make([]float64, n)

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

					if rp >= rpMax || rt >= rtMax {
						continue
					}

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
					sumW[bin] += w
					sumProd[bin] += w * f1.Delta[a] * f2.Delta[b]
					sumRP[bin] += w * rp
					sumRT[bin] += w * rt
					sumZ[bin] += w * 0.5 * (f1.Z[a] + f2.Z[b])
				}
			}
		}
	}

	return sumW, sumProd, sumRP, sumRT, sumZ
}
