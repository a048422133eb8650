// Package expectedflux fits the expected flux of quasar sightlines: a
// universal mean continuum on a rest-frame wavelength grid, a per-forest
// amplitude and slope, and a shared variance model
//
//	sigma^2(delta) = eta * var_pipe + var_lss + fudge / var_pipe
//
// binned in observed log-wavelength. The continuum and the variance model
// are re-estimated alternately until the parameters settle or the iteration
// budget runs out; the outcome is reported as a Status, never as an error.
//
// The historical fixed-eta / fixed-var_lss / fixed-fudge fitter variants are
// expressed here as capability flags on one fitter: a parameter group whose
// flag is off keeps its configured value through every iteration.
package expectedflux

import "errors"

// Errors returned by configuration validation and fitting.
var (
	ErrInvalidGrid       = errors.New("expectedflux: rest-frame grid is invalid")
	ErrInvalidRange      = errors.New("expectedflux: wavelength range is invalid")
	ErrInvalidIterations = errors.New("expectedflux: iteration budget must be positive")
	ErrInvalidTolerance  = errors.New("expectedflux: tolerance must be positive")
	ErrInvalidMinPixels  = errors.New("expectedflux: minimum pixel count must be positive")
	ErrNoForests         = errors.New("expectedflux: no usable forests")
	ErrMissingZQso       = errors.New("expectedflux: forest has no quasar redshift")
)

// Config holds the immutable settings of one expected-flux fit.
type Config struct {
	LambdaAbs float64 // absorption rest-frame wavelength, Angstrom

	// Rest-frame forest range and mean-continuum grid size.
	LambdaMinRest float64
	LambdaMaxRest float64
	NumContBins   int

	// Observed wavelength range and variance-model grid size.
	LambdaMin  float64
	LambdaMax  float64
	NumVarBins int

	// Pipeline-variance binning for the variance fit: NumVarPipeBins
	// logarithmic bins over [VarPipeMin, VarPipeMax], each needing at
	// least MinPixelsPerVarBin pixels to enter the fit.
	NumVarPipeBins     int
	VarPipeMin         float64
	VarPipeMax         float64
	MinPixelsPerVarBin int

	MaxIterations int     // iteration budget
	Tolerance     float64 // maximum parameter change counted as converged
	MinPixels     int     // forests shorter than this are excluded

	// Capability flags: which variance parameter groups are estimated.
	// A disabled group keeps its initial value.
	FitEta    bool
	FitVarLSS bool
	FitFudge  bool

	// Initial (or fixed) parameter values.
	Eta    float64
	VarLSS float64
	Fudge  float64
}

// DefaultConfig returns the standard Lyman-alpha fit settings.
func DefaultConfig() Config {
	return Config{
		LambdaAbs:          1215.67,
		LambdaMinRest:      1040,
		LambdaMaxRest:      1200,
		NumContBins:        50,
		LambdaMin:          3600,
		LambdaMax:          5500,
		NumVarBins:         20,
		NumVarPipeBins:     100,
		VarPipeMin:         1e-5,
		VarPipeMax:         1e2,
		MinPixelsPerVarBin: 100,
		MaxIterations:      5,
		Tolerance:          1e-4,
		MinPixels:          50,
		FitEta:             true,
		FitVarLSS:          true,
		FitFudge:           false,
		Eta:                1.0,
		VarLSS:             0.2,
		Fudge:              0,
	}
}

// Validate checks all configuration ranges before any data is touched.
func (cfg Config) Validate() error {
	if cfg.LambdaAbs <= 0 {
		return ErrInvalidRange
	}

	if cfg.LambdaMinRest <= 0 || cfg.LambdaMaxRest <= cfg.LambdaMinRest {
		return ErrInvalidRange
	}

	if cfg.LambdaMin <= 0 || cfg.LambdaMax <= cfg.LambdaMin {
		return ErrInvalidRange
	}

	if cfg.NumContBins < 2 || cfg.NumVarBins < 1 {
		return ErrInvalidGrid
	}

	if cfg.NumVarPipeBins < 1 || cfg.VarPipeMin <= 0 || cfg.VarPipeMax <= cfg.VarPipeMin {
		return ErrInvalidGrid
	}

	if cfg.MinPixelsPerVarBin < 1 {
		return ErrInvalidGrid
	}

	if cfg.MaxIterations < 1 {
		return ErrInvalidIterations
	}

	if cfg.Tolerance <= 0 {
		return ErrInvalidTolerance
	}

	if cfg.MinPixels < 1 {
		return ErrInvalidMinPixels
	}

	return nil
}

// Status reports how the iterative fit terminated.
type Status int

const (
	// StatusConverged means the parameter change dropped below the
	// tolerance within the iteration budget.
	StatusConverged Status = iota

	// StatusMaxIterations means the budget ran out; the last parameter
	// estimate is in use. This is a warning, not an error.
	StatusMaxIterations
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusMaxIterations:
		return "max iterations reached"
	default:
		return "unknown"
	}
}
