// Package cosmology provides the comoving radial distance of a flat
// Lambda-CDM cosmology, used to convert absorber redshifts into distances
// along a sightline.
//
// Distances are expressed in Mpc/h: the Hubble constant enters only through
// the combination c/H0 with H0 = 100 h km/s/Mpc, so no value of h needs to
// be assumed.
package cosmology

import (
	"errors"
	"math"
)

// SpeedOfLight is the speed of light in km/s.
const SpeedOfLight = 299792.458

// hubbleDistance is c/H0 in Mpc/h for H0 = 100 h km/s/Mpc.
const hubbleDistance = SpeedOfLight / 100

// Errors returned by the cosmology package.
var (
	ErrInvalidOmegaM = errors.New("cosmology: matter density must be in (0, 1]")
	ErrInvalidZMax   = errors.New("cosmology: maximum redshift must be positive")
	ErrInvalidSteps  = errors.New("cosmology: table size must be at least 2")
)

// FlatLCDM evaluates the comoving radial distance D_C(z) of a flat
// Lambda-CDM cosmology:
//
//	D_C(z) = (c/H0) * Integral[0..z] dz' / E(z')
//	E(z)   = sqrt(Om*(1+z)^3 + (1-Om))
//
// The integral is tabulated once at construction on a uniform redshift grid
// (trapezoidal rule) and evaluated by linear interpolation, so repeated
// lookups during catalogue preprocessing are cheap.
type FlatLCDM struct {
	omegaM float64
	zMax   float64
	dz     float64
	r      []float64 // r[i] = D_C(i*dz)
}

// Config holds the tabulation settings for a FlatLCDM.
type Config struct {
	ZMax  float64 // upper edge of the tabulated redshift range
	Steps int     // number of table points
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns the default tabulation settings, covering the full
// redshift range of current Lyman-alpha surveys.
func DefaultConfig() Config {
	return Config{
		ZMax:  10,
		Steps: 10000,
	}
}

// WithZMax sets the upper edge of the tabulated redshift range.
func WithZMax(zMax float64) Option {
	return func(cfg *Config) {
		cfg.ZMax = zMax
	}
}

// WithSteps sets the number of table points.
func WithSteps(steps int) Option {
	return func(cfg *Config) {
		cfg.Steps = steps
	}
}

// New builds a FlatLCDM for the given matter density fraction.
func New(omegaM float64, opts ...Option) (*FlatLCDM, error) {
	if omegaM <= 0 || omegaM > 1 {
		return nil, ErrInvalidOmegaM
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.ZMax <= 0 {
		return nil, ErrInvalidZMax
	}

	if cfg.Steps < 2 {
		return nil, ErrInvalidSteps
	}

	omegaL := 1 - omegaM
	dz := cfg.ZMax / float64(cfg.Steps-1)

	invE := func(z float64) float64 {
		zp := 1 + z
		return 1 / math.Sqrt(omegaM*zp*zp*zp+omegaL)
	}

	r := make([]float64, cfg.Steps)
	for i := 1; i < cfg.Steps; i++ {
		zLo := float64(i-1) * dz
		zHi := float64(i) * dz
		r[i] = r[i-1] + 0.5*dz*(invE(zLo)+invE(zHi))*hubbleDistance
	}

	return &FlatLCDM{
		omegaM: omegaM,
		zMax:   cfg.ZMax,
		dz:     dz,
		r:      r,
	}, nil
}

// OmegaM returns the matter density fraction.
func (c *FlatLCDM) OmegaM() float64 {
	return c.omegaM
}

// RComoving returns the comoving radial distance in Mpc/h at redshift z,
// by linear interpolation of the tabulated integral. Redshifts outside the
// tabulated range are clamped to its edges; negative redshifts map to 0.
func (c *FlatLCDM) RComoving(z float64) float64 {
	if z <= 0 {
		return 0
	}

	if z >= c.zMax {
		return c.r[len(c.r)-1]
	}

	pos := z / c.dz
	i := int(pos)
	frac := pos - float64(i)

	return c.r[i] + frac*(c.r[i+1]-c.r[i])
}

// RComovingAll fills dst with the comoving distance of each redshift in z.
// dst and z must have the same length.
func (c *FlatLCDM) RComovingAll(dst, z []float64) {
	for i, zi := range z {
		dst[i] = c.RComoving(zi)
	}
}
