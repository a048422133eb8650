// Package cf estimates the two-point correlation function of the
// Lyman-alpha forest flux-transmission field.
//
// The estimator works on continuum-normalized forests bucketed into angular
// cells: every unordered pair of sightlines within the maximum transverse
// angle contributes weighted products of its deltas to a 2D histogram in
// (parallel, transverse) comoving separation. Accumulation is purely
// additive, so per-cell partial histograms computed in parallel merge into
// a result that is bit-for-bit independent of scheduling order.
package cf

import (
	"errors"
	"math"

	"github.com/corentinravoux/picca/cosmology"
)

// Errors returned by configuration validation. All of them surface before
// any computation starts.
var (
	ErrInvalidSeparation = errors.New("cf: maximum separations must be positive")
	ErrInvalidBins       = errors.New("cf: bin counts must be positive")
	ErrInvalidWavelength = errors.New("cf: wavelengths must be positive")
	ErrInvalidOmegaM     = errors.New("cf: matter density must be in (0, 1]")
	ErrInvalidResolution = errors.New("cf: index resolution must be positive")
	ErrInvalidWorkers    = errors.New("cf: worker count must be non-negative")
)

// Config holds the immutable settings of one correlation run. A zero
// Workers value selects the hardware concurrency.
type Config struct {
	RPMax float64 // maximum parallel separation, Mpc/h
	RTMax float64 // maximum transverse separation, Mpc/h
	NP    int     // number of parallel-separation bins
	NT    int     // number of transverse-separation bins

	LambdaAbs float64 // absorption rest-frame wavelength, Angstrom
	LambdaMin float64 // survey minimum observed wavelength, Angstrom

	FiducialOm float64 // matter density of the fiducial cosmology

	Resolution int // angular index resolution
	Workers    int // worker pool size; 0 = automatic

	ZRef    float64 // reference redshift of the weight evolution
	ZEvol   float64 // redshift-evolution exponent of the delta field
	Project bool    // project out continuum-fitting modes
}

// DefaultConfig returns the standard BAO analysis settings.
func DefaultConfig() Config {
	return Config{
		RPMax:      200,
		RTMax:      200,
		NP:         50,
		NT:         50,
		LambdaAbs:  1215.67,
		LambdaMin:  3600,
		FiducialOm: 0.315,
		Resolution: 16,
		Workers:    0,
		ZRef:       2.25,
		ZEvol:      2.9,
		Project:    true,
	}
}

// Validate checks all configuration ranges. It never touches the data, so
// invalid configurations fail before any computation.
func (cfg Config) Validate() error {
	if cfg.RPMax <= 0 || cfg.RTMax <= 0 {
		return ErrInvalidSeparation
	}

	if cfg.NP <= 0 || cfg.NT <= 0 {
		return ErrInvalidBins
	}

	if cfg.LambdaAbs <= 0 || cfg.LambdaMin <= 0 {
		return ErrInvalidWavelength
	}

	if cfg.FiducialOm <= 0 || cfg.FiducialOm > 1 {
		return ErrInvalidOmegaM
	}

	if cfg.Resolution < 1 {
		return ErrInvalidResolution
	}

	if cfg.Workers < 0 {
		return ErrInvalidWorkers
	}

	return nil
}

// NumBins returns the total histogram size NP*NT.
func (cfg Config) NumBins() int {
	return cfg.NP * cfg.NT
}

// MaxAngle returns the largest angular separation at which a sightline pair
// can still yield a transverse separation below RTMax, evaluated at the
// smallest absorber distance the survey probes:
//
//	ang_max = asin(rt_max / D_C(z_min)),  z_min = lambda_min/lambda_abs - 1
//
// If RTMax exceeds that distance the whole sky is in reach and pi is
// returned.
func (cfg Config) MaxAngle(cosmo *cosmology.FlatLCDM) float64 {
	zMin := cfg.LambdaMin/cfg.LambdaAbs - 1
	if zMin < 0 {
		zMin = 0
	}

	r := cosmo.RComoving(zMin)
	if r <= cfg.RTMax {
		return math.Pi
	}

	return math.Asin(cfg.RTMax / r)
}
