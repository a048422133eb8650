// Package pk1d prepares single-sightline data for the one-dimensional flux
// power spectrum: the FFT of a forest's delta field on its velocity grid,
// the even/odd exposure difference used as a noise estimate, and the
// conversion of the pipeline dispersion to a spectral resolution in km/s.
package pk1d

import (
	"errors"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"

	"github.com/corentinravoux/picca/cosmology"
)

// Errors returned by the pk1d package.
var (
	ErrTooFewExposures = errors.New("pk1d: need at least two exposures")
	ErrLengthMismatch  = errors.New("pk1d: per-pixel arrays must share one length")
	ErrNoPixels        = errors.New("pk1d: empty delta field")
	ErrInvalidStep     = errors.New("pk1d: log-wavelength step must be positive")
)

// dispToKms converts a pipeline dispersion in units of 1e-4 dex pixels to a
// velocity width in km/s.
const dispToKms = cosmology.SpeedOfLight * 1e-4 * math.Ln10

// Spectrum is the one-sided power spectrum of a delta field.
type Spectrum struct {
	K  []float64 // wavenumber per bin, (km/s)^-1
	Pk []float64 // power per bin, km/s

	NumPixels    int     // pixels that entered the transform
	VelocityStep float64 // pixel width in km/s
}

// PowerSpectrum transforms a forest's delta field to the one-sided flux
// power spectrum on its velocity grid. Pixels are assumed uniform in
// log-wavelength with step dLogLambda, so the pixel width in velocity is
//
//	dv = c * ln(10) * dLogLambda
//
// The field is zero-padded to the next power of two before the transform;
// the power is normalized by the unpadded pixel count,
//
//	P(k_j) = |FFT(delta)_j|^2 * dv / n
//
// with k_j = 2*pi*j / (N_fft * dv).
func PowerSpectrum(delta []float64, dLogLambda float64) (*Spectrum, error) {
	n := len(delta)
	if n == 0 {
		return nil, ErrNoPixels
	}

	if dLogLambda <= 0 {
		return nil, ErrInvalidStep
	}

	dv := cosmology.SpeedOfLight * math.Ln10 * dLogLambda

	fftSize := nextPowerOf2(n)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, err
	}

	in := make([]complex128, fftSize)
	for i, d := range delta {
		in[i] = complex(d, 0)
	}

	out := make([]complex128, fftSize)
	if err := plan.Forward(out, in); err != nil {
		return nil, err
	}

	nk := fftSize/2 + 1

	re := make([]float64, nk)
	im := make([]float64, nk)
	for j := 0; j < nk; j++ {
		re[j] = real(out[j])
		im[j] = imag(out[j])
	}

	power := make([]float64, nk)
	vecmath.Power(power, re, im)

	pk := make([]float64, nk)
	vecmath.ScaleBlock(pk, power, dv/float64(n))

	k := make([]float64, nk)
	dk := 2 * math.Pi / (float64(fftSize) * dv)
	for j := range k {
		k[j] = float64(j) * dk
	}

	return &Spectrum{
		K:            k,
		Pk:           pk,
		NumPixels:    n,
		VelocityStep: dv,
	}, nil
}

// Exposure is one exposure of a spectrum, resampled onto the coadd
// wavelength grid.
type Exposure struct {
	Flux []float64
	Ivar []float64
}

// ExposureDifference combines the exposures of one spectrum into an
// even-indexed and an odd-indexed inverse-variance coadd and returns half
// their difference. Signal cancels in the difference, so the result
// estimates the pipeline noise on the coadd. With an odd exposure count the
// last exposure is dropped and the difference is rescaled by
//
//	alpha = sqrt(4 * n_even * (n_even+1)) / n_exp,  n_even = (n_exp-1)/2
//
// to keep the noise level comparable to the full coadd.
func ExposureDifference(exposures []Exposure) ([]float64, error) {
	nExp := len(exposures)
	if nExp < 2 {
		return nil, ErrTooFewExposures
	}

	n := len(exposures[0].Flux)
	for _, e := range exposures {
		if len(e.Flux) != n || len(e.Ivar) != n {
			return nil, ErrLengthMismatch
		}
	}

	fluxEven := make([]float64, n)
	ivarEven := make([]float64, n)
	fluxOdd := make([]float64, n)
	ivarOdd := make([]float64, n)

	for iExp := 0; iExp < 2*(nExp/2); iExp++ {
		e := exposures[iExp]

		fl, iv := fluxEven, ivarEven
		if iExp%2 == 1 {
			fl, iv = fluxOdd, ivarOdd
		}

		for i := 0; i < n; i++ {
			fl[i] += e.Flux[i] * e.Ivar[i]
			iv[i] += e.Ivar[i]
		}
	}

	alpha := 1.0
	if nExp%2 == 1 {
		nEven := float64((nExp - 1) / 2)
		alpha = math.Sqrt(4*nEven*(nEven+1)) / float64(nExp)
	}

	diff := make([]float64, n)
	for i := 0; i < n; i++ {
		if ivarEven[i] <= 0 || ivarOdd[i] <= 0 {
			continue
		}

		diff[i] = 0.5 * (fluxEven[i]/ivarEven[i] - fluxOdd[i]/ivarOdd[i]) * alpha
	}

	return diff, nil
}

// SpectralResolution converts per-pixel pipeline dispersions, in units of
// 1e-4 dex pixels, to spectral resolutions in km/s.
func SpectralResolution(wdisp []float64) []float64 {
	reso := make([]float64, len(wdisp))
	vecmath.ScaleBlock(reso, wdisp, dispToKms)

	return reso
}

// SpectralResolutionCorrected is SpectralResolution with the empirical
// wavelength- and fiber-dependent plateau correction applied. fiber is the
// fiber number on the spectrograph; logLambda must match wdisp in length.
func SpectralResolutionCorrected(wdisp, logLambda []float64, fiber int) ([]float64, error) {
	if len(logLambda) != len(wdisp) {
		return nil, ErrLengthMismatch
	}

	reso := SpectralResolution(wdisp)

	fib := fiber % 500

	for i := range reso {
		wave := math.Pow(10, logLambda[i])

		plateau := 1.267 - 0.000142716*wave + 1.9068e-8*wave*wave
		if wave > 6000 {
			plateau = 1.097
		}

		corr := plateau
		switch {
		case fib < 100:
			corr = 1 + (plateau-1)*0.25 + (plateau-1)*0.75*float64(fib)/100
		case fib > 400:
			corr = 1 + (plateau-1)*0.25 + (plateau-1)*0.75*float64(500-fib)/100
		}

		reso[i] *= corr
	}

	return reso, nil
}

// nextPowerOf2 returns the smallest power of two >= n.
func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}
