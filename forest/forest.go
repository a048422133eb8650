// Package forest defines the per-sightline data model of the correlation
// toolkit: one Forest holds the usable pixel range of a quasar absorption
// spectrum together with the derived quantities (absorber redshift, comoving
// distance, analysis weight) the estimators consume.
//
// A Forest is mutated only during preprocessing (geometry derivation, weight
// evolution, projection, continuum normalization). Once handed to the pair
// accumulator it is read-only, which is what makes lock-free parallel
// accumulation safe.
package forest

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"

	"github.com/corentinravoux/picca/cosmology"
	"github.com/corentinravoux/picca/sky"
)

// Errors returned by the forest package. They cover the data-integrity
// conditions that must never reach the accumulator.
var (
	ErrLengthMismatch = errors.New("forest: per-pixel arrays must share one length")
	ErrNegativeWeight = errors.New("forest: weights must be non-negative")
	ErrNonFinite      = errors.New("forest: non-finite delta or weight")
	ErrNoPixels       = errors.New("forest: forest has no pixels")
)

// Forest is one sky sightline.
//
// LogLambda, Flux and Ivar come from the (external) data loader. Delta and
// Weight are produced by continuum normalization, or set directly when the
// catalogue already contains deltas. Z and RComov are derived from
// LogLambda by DeriveGeometry. All per-pixel slices share one length.
type Forest struct {
	LosID uint64  // unique line-of-sight identifier
	RA    float64 // right ascension, radians
	Dec   float64 // declination, radians
	ZQso  float64 // quasar redshift, needed for rest-frame wavelengths

	LogLambda []float64 // log10 of observed wavelength
	Flux      []float64 // observed flux
	Ivar      []float64 // pipeline inverse variance

	Delta  []float64 // fractional flux deviation from the continuum
	Weight []float64 // analysis weight per pixel

	Z      []float64 // absorber redshift per pixel
	RComov []float64 // comoving radial distance per pixel, Mpc/h

	// Continuum holds the fitted expected flux per pixel; empty until a
	// continuum fit ran. BadContinuumReason is non-empty when the fit
	// rejected this forest.
	Continuum          []float64
	BadContinuumReason string

	Cell sky.CellID // spatial cell, set by Assign

	x, y, z float64 // unit sky vector
}

// New creates a Forest from loader output and precomputes its unit sky
// vector. The slices are retained, not copied.
func New(losID uint64, ra, dec float64, logLambda, flux, ivar []float64) *Forest {
	f := &Forest{
		LosID:     losID,
		RA:        ra,
		Dec:       dec,
		LogLambda: logLambda,
		Flux:      flux,
		Ivar:      ivar,
	}

	cosDec := math.Cos(dec)
	f.x = cosDec * math.Cos(ra)
	f.y = cosDec * math.Sin(ra)
	f.z = math.Sin(dec)

	return f
}

// NewDelta creates a Forest directly from a delta field, for catalogues
// where continuum normalization already happened upstream.
func NewDelta(losID uint64, ra, dec float64, logLambda, delta, weight []float64) *Forest {
	f := New(losID, ra, dec, logLambda, nil, nil)
	f.Delta = delta
	f.Weight = weight

	return f
}

// NumPixels returns the number of pixels in the forest.
func (f *Forest) NumPixels() int {
	return len(f.LogLambda)
}

// Validate checks the invariants every Forest must satisfy before entering
// an estimator: equal slice lengths, at least one pixel, non-negative
// finite weights, finite deltas, finite wavelengths and geometry.
func (f *Forest) Validate() error {
	n := len(f.LogLambda)
	if n == 0 {
		return fmt.Errorf("%w (los %d)", ErrNoPixels, f.LosID)
	}

	for _, s := range [][]float64{f.Flux, f.Ivar, f.Delta, f.Weight, f.Z, f.RComov, f.Continuum} {
		if s != nil && len(s) != n {
			return fmt.Errorf("%w (los %d)", ErrLengthMismatch, f.LosID)
		}
	}

	for _, w := range f.Weight {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w (los %d)", ErrNonFinite, f.LosID)
		}

		if w < 0 {
			return fmt.Errorf("%w (los %d)", ErrNegativeWeight, f.LosID)
		}
	}

	for _, d := range f.Delta {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("%w (los %d)", ErrNonFinite, f.LosID)
		}
	}

	// Non-finite geometry would slip past the separation cuts (NaN fails
	// every comparison) and corrupt or crash the binning.
	for _, s := range [][]float64{f.LogLambda, f.Z, f.RComov} {
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w (los %d)", ErrNonFinite, f.LosID)
			}
		}
	}

	return nil
}

// CosAngle returns the cosine of the angular separation between two
// sightlines, clamped to [-1, 1].
func (f *Forest) CosAngle(g *Forest) float64 {
	c := f.x*g.x + f.y*g.y + f.z*g.z
	if c > 1 {
		c = 1
	}

	if c < -1 {
		c = -1
	}

	return c
}

// DeriveGeometry fills Z and RComov from LogLambda: each pixel's absorber
// redshift is 10^loglambda / lambdaAbs - 1 for the given absorption
// rest-frame wavelength, and its comoving distance follows from the
// cosmology. RComov inherits monotonicity in Z from the cosmology.
func (f *Forest) DeriveGeometry(lambdaAbs float64, cosmo *cosmology.FlatLCDM) {
	n := len(f.LogLambda)

	if len(f.Z) != n {
		f.Z = make([]float64, n)
	}

	if len(f.RComov) != n {
		f.RComov = make([]float64, n)
	}

	for i, ll := range f.LogLambda {
		f.Z[i] = math.Pow(10, ll)/lambdaAbs - 1
	}

	cosmo.RComovingAll(f.RComov, f.Z)
}

// ApplyRedshiftEvolution rescales the weights for the redshift evolution of
// the delta field:
//
//	w_i *= ((1+z_i)/(1+zRef))^(alpha-1)
//
// DeriveGeometry must have run first.
func (f *Forest) ApplyRedshiftEvolution(zRef, alpha float64) {
	factors := make([]float64, len(f.Weight))
	for i := range factors {
		factors[i] = math.Pow((1+f.Z[i])/(1+zRef), alpha-1)
	}

	vecmath.MulBlockInPlace(f.Weight, factors)
}

// Project removes the modes that continuum fitting cannot distinguish from
// large-scale power: the weighted mean of the delta field and its weighted
// linear log-lambda slope. Pixels with zero weight are left untouched by
// the weighting but still receive the subtraction.
func (f *Forest) Project() {
	var sumW, sumWD float64
	for i, w := range f.Weight {
		sumW += w
		sumWD += w * f.Delta[i]
	}

	if sumW <= 0 {
		return
	}

	mean := sumWD / sumW

	var sumWL float64
	for i, w := range f.Weight {
		sumWL += w * f.LogLambda[i]
	}

	meanLL := sumWL / sumW

	var slopeNum, slopeDen float64
	for i, w := range f.Weight {
		dl := f.LogLambda[i] - meanLL
		slopeNum += w * dl * (f.Delta[i] - mean)
		slopeDen += w * dl * dl
	}

	var slope float64
	if slopeDen > 0 {
		slope = slopeNum / slopeDen
	}

	for i := range f.Delta {
		f.Delta[i] -= mean + slope*(f.LogLambda[i]-meanLL)
	}
}

// Assign stores the spatial cell of the forest's sky position.
func (f *Forest) Assign(ix *sky.Index) {
	f.Cell = ix.CellOf(f.RA, f.Dec)
}

// Group buckets forests by spatial cell, assigning cells as it goes.
// The returned map is built once after loading and read-only afterward.
func Group(forests []*Forest, ix *sky.Index) map[sky.CellID][]*Forest {
	cells := make(map[sky.CellID][]*Forest)

	for _, f := range forests {
		f.Assign(ix)
		cells[f.Cell] = append(cells[f.Cell], f)
	}

	return cells
}
