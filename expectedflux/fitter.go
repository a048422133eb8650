package expectedflux

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/corentinravoux/picca/forest"
)

// Rejection reasons recorded on forests the fit excludes from the pooled
// parameter update.
const (
	reasonTooShort     = "too few pixels"
	reasonNegativeCont = "non-positive continuum"
	reasonZeroWeight   = "no positive-weight pixels"
	reasonSolveFailed  = "continuum fit failed"
)

// continuumPasses is the number of re-weighting passes inside one
// per-forest continuum fit. The least-squares weights depend on the fitted
// continuum, so the linear solve is repeated with updated weights; three
// passes are enough for the fixed point at realistic noise levels.
const continuumPasses = 3

// Fitter estimates the expected flux of a forest sample. It keeps its
// state (mean continuum, variance model) between Fit calls, so a second
// Fit resumes from the converged parameters.
type Fitter struct {
	cfg Config

	meanCont []float64 // universal mean continuum on the rest-frame grid
	model    *VarianceModel

	status     Status
	iterations int
}

// Result reports the outcome of a Fit.
type Result struct {
	Status     Status
	Iterations int

	MeanContinuum []float64
	Model         *VarianceModel

	NumGood int // forests entering the pooled update
	NumBad  int // forests flagged with a BadContinuumReason
}

// New creates a Fitter with a flat unit mean continuum and the configured
// initial variance parameters.
func New(cfg Config) (*Fitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	meanCont := make([]float64, cfg.NumContBins)
	for i := range meanCont {
		meanCont[i] = 1
	}

	return &Fitter{
		cfg:      cfg,
		meanCont: meanCont,
		model:    newVarianceModel(cfg),
	}, nil
}

// Status returns the termination status of the last Fit.
func (ft *Fitter) Status() Status {
	return ft.status
}

// restPos maps a pixel's observed log-wavelength to its fractional position
// on the rest-frame continuum grid.
func (ft *Fitter) restPos(logLambda, zQso float64) float64 {
	lambdaRest := math.Pow(10, logLambda) / (1 + zQso)

	return (lambdaRest - ft.cfg.LambdaMinRest) /
		(ft.cfg.LambdaMaxRest - ft.cfg.LambdaMinRest) * float64(ft.cfg.NumContBins-1)
}

// meanContAt interpolates the mean continuum at a pixel.
func (ft *Fitter) meanContAt(logLambda, zQso float64) float64 {
	pos := ft.restPos(logLambda, zQso)
	if pos <= 0 {
		return ft.meanCont[0]
	}

	n := len(ft.meanCont)
	if pos >= float64(n-1) {
		return ft.meanCont[n-1]
	}

	i := int(pos)
	frac := pos - float64(i)

	return ft.meanCont[i] + frac*(ft.meanCont[i+1]-ft.meanCont[i])
}

// Fit runs the alternating estimation loop over the sample and, on
// termination, fills Delta, Weight, and Continuum on every good forest.
// Forests that fail the per-forest criteria get a BadContinuumReason and
// are left out of the pooled update; dropping them from the sample is the
// caller's decision. A StatusMaxIterations outcome is reported in the
// Result, not as an error.
func (ft *Fitter) Fit(forests []*forest.Forest) (*Result, error) {
	for _, f := range forests {
		if err := f.Validate(); err != nil {
			return nil, err
		}

		if f.ZQso <= 0 {
			return nil, fmt.Errorf("%w (los %d)", ErrMissingZQso, f.LosID)
		}
	}

	usable := 0
	for _, f := range forests {
		if f.NumPixels() >= ft.cfg.MinPixels {
			usable++
		} else {
			f.BadContinuumReason = reasonTooShort
		}
	}

	if usable == 0 {
		return nil, ErrNoForests
	}

	ft.status = StatusMaxIterations
	ft.iterations = 0

	for iter := 0; iter < ft.cfg.MaxIterations; iter++ {
		ft.iterations = iter + 1

		prevModel := ft.model.clone()
		prevCont := append([]float64(nil), ft.meanCont...)

		for _, f := range forests {
			if f.BadContinuumReason == reasonTooShort {
				continue
			}

			ft.fitContinuum(f)
		}

		ft.updateMeanContinuum(forests)
		ft.updateVarianceModel(forests)

		change := ft.model.maxDelta(prevModel)
		for i := range ft.meanCont {
			change = math.Max(change, math.Abs(ft.meanCont[i]-prevCont[i]))
		}

		if change < ft.cfg.Tolerance {
			ft.status = StatusConverged
			break
		}
	}

	good, bad := ft.applyDeltas(forests)

	return &Result{
		Status:        ft.status,
		Iterations:    ft.iterations,
		MeanContinuum: append([]float64(nil), ft.meanCont...),
		Model:         ft.model.clone(),
		NumGood:       good,
		NumBad:        bad,
	}, nil
}

// minPixelVariance floors the modeled variance so zero-noise synthetic
// samples cannot produce infinite weights.
const minPixelVariance = 1e-10

// pixelVariance evaluates the variance model with the floor applied.
func (ft *Fitter) pixelVariance(varPipe, logLambda float64) float64 {
	v := ft.model.Variance(varPipe, logLambda)
	if v < minPixelVariance {
		v = minPixelVariance
	}

	return v
}

// fitContinuum estimates one forest's amplitude and slope against the
// current mean continuum by iteratively re-weighted least squares and
// stores the fitted continuum on the forest. The model is
//
//	C(pixel) = (a + b*t) * meanCont(rest),  t in [0, 1] across the forest
//
// solved via the QR decomposition of the weighted design matrix.
func (ft *Fitter) fitContinuum(f *forest.Forest) {
	n := f.NumPixels()

	llMin := f.LogLambda[0]
	llMax := f.LogLambda[n-1]
	span := llMax - llMin
	if span <= 0 {
		span = 1
	}

	if len(f.Continuum) != n {
		f.Continuum = make([]float64, n)
	}

	// Pass 0 weighs by the pipeline inverse variance alone; later passes
	// use the full variance model evaluated on the previous continuum.
	weights := make([]float64, n)
	copy(weights, f.Ivar)

	a, b := 1.0, 0.0

	for pass := 0; pass < continuumPasses; pass++ {
		var (
			rows  int
			aData []float64
			bData []float64
		)

		for i := 0; i < n; i++ {
			w := weights[i]
			if w <= 0 {
				continue
			}

			m := ft.meanContAt(f.LogLambda[i], f.ZQso)
			t := (f.LogLambda[i] - llMin) / span
			sw := math.Sqrt(w)

			aData = append(aData, sw*m, sw*t*m)
			bData = append(bData, sw*f.Flux[i])
			rows++
		}

		if rows < 2 {
			f.BadContinuumReason = reasonZeroWeight
			return
		}

		design := mat.NewDense(rows, 2, aData)
		rhs := mat.NewVecDense(rows, bData)

		var qr mat.QR
		qr.Factorize(design)

		var sol mat.VecDense
		if err := qr.SolveVecTo(&sol, false, rhs); err != nil {
			f.BadContinuumReason = reasonSolveFailed
			return
		}

		a, b = sol.AtVec(0), sol.AtVec(1)

		// Rebuild the continuum and the model weights for the next pass.
		bad := false
		for i := 0; i < n; i++ {
			t := (f.LogLambda[i] - llMin) / span
			c := (a + b*t) * ft.meanContAt(f.LogLambda[i], f.ZQso)
			f.Continuum[i] = c

			if c <= 0 {
				bad = true
				continue
			}

			if f.Ivar[i] <= 0 {
				weights[i] = 0
				continue
			}

			varPipe := 1 / (f.Ivar[i] * c * c)
			weights[i] = 1 / (c * c * ft.pixelVariance(varPipe, f.LogLambda[i]))
		}

		if bad {
			f.BadContinuumReason = reasonNegativeCont
			return
		}
	}

	f.BadContinuumReason = ""
}

// updateMeanContinuum multiplies the mean continuum by the weighted stack
// of flux-to-continuum ratios, then renormalizes it to unit weighted mean
// so the overall amplitude stays with the per-forest parameters.
func (ft *Fitter) updateMeanContinuum(forests []*forest.Forest) {
	nb := ft.cfg.NumContBins
	sumWR := make([]float64, nb)
	sumW := make([]float64, nb)

	for _, f := range forests {
		if f.BadContinuumReason != "" {
			continue
		}

		for i := 0; i < f.NumPixels(); i++ {
			c := f.Continuum[i]
			if c <= 0 || f.Ivar[i] <= 0 {
				continue
			}

			pos := ft.restPos(f.LogLambda[i], f.ZQso)
			bin := int(pos + 0.5)
			if bin < 0 || bin >= nb {
				continue
			}

			varPipe := 1 / (f.Ivar[i] * c * c)
			w := 1 / ft.pixelVariance(varPipe, f.LogLambda[i])

			sumWR[bin] += w * f.Flux[i] / c
			sumW[bin] += w
		}
	}

	var normNum, normDen float64

	for bin := 0; bin < nb; bin++ {
		if sumW[bin] > 0 {
			ft.meanCont[bin] *= sumWR[bin] / sumW[bin]
		}

		normNum += ft.meanCont[bin] * sumW[bin]
		normDen += sumW[bin]
	}

	if normDen > 0 && normNum > 0 {
		norm := normNum / normDen
		for bin := range ft.meanCont {
			ft.meanCont[bin] /= norm
		}
	}
}

// varStats pools delta statistics in (log-lambda bin, pipeline-variance
// bin) cells for the variance fit.
type varStats struct {
	count int
	sumD  float64
	sumD2 float64
}

// updateVarianceModel re-estimates the free parameter groups per
// log-lambda bin from the observed delta variance as a function of
// pipeline variance. The model eta*v + var_lss + fudge/v is linear in its
// parameters, so each bin reduces to a small weighted least-squares solve;
// fixed groups are moved to the right-hand side. Bins without enough
// populated cells keep their previous values.
func (ft *Fitter) updateVarianceModel(forests []*forest.Forest) {
	if !ft.cfg.FitEta && !ft.cfg.FitVarLSS && !ft.cfg.FitFudge {
		return
	}

	nll := ft.cfg.NumVarBins
	nvp := ft.cfg.NumVarPipeBins

	logVPMin := math.Log10(ft.cfg.VarPipeMin)
	logVPMax := math.Log10(ft.cfg.VarPipeMax)
	vpStep := (logVPMax - logVPMin) / float64(nvp)

	stats := make([]varStats, nll*nvp)

	for _, f := range forests {
		if f.BadContinuumReason != "" {
			continue
		}

		for i := 0; i < f.NumPixels(); i++ {
			c := f.Continuum[i]
			if c <= 0 || f.Ivar[i] <= 0 {
				continue
			}

			varPipe := 1 / (f.Ivar[i] * c * c)

			lv := math.Log10(varPipe)
			if lv < logVPMin || lv >= logVPMax {
				continue
			}

			llBin := ft.model.bin(f.LogLambda[i])
			vpBin := int((lv - logVPMin) / vpStep)

			s := &stats[llBin*nvp+vpBin]
			d := f.Flux[i]/c - 1
			s.count++
			s.sumD += d
			s.sumD2 += d * d
		}
	}

	nFree := 0
	if ft.cfg.FitEta {
		nFree++
	}
	if ft.cfg.FitVarLSS {
		nFree++
	}
	if ft.cfg.FitFudge {
		nFree++
	}

	for llBin := 0; llBin < nll; llBin++ {
		var (
			rows  int
			aData []float64
			bData []float64
		)

		for vpBin := 0; vpBin < nvp; vpBin++ {
			s := stats[llBin*nvp+vpBin]
			if s.count < ft.cfg.MinPixelsPerVarBin {
				continue
			}

			nf := float64(s.count)
			meanD := s.sumD / nf
			obsVar := s.sumD2/nf - meanD*meanD

			vCenter := math.Pow(10, logVPMin+(float64(vpBin)+0.5)*vpStep)

			// The variance of a sample variance scales as var^2 * 2/n;
			// weigh each cell by the inverse of that error.
			errVar := obsVar * math.Sqrt(2/nf)
			if errVar <= 0 {
				errVar = math.Sqrt(2/nf) * 1e-8
			}
			sw := 1 / errVar

			target := obsVar
			if !ft.cfg.FitEta {
				target -= ft.model.Eta[llBin] * vCenter
			}
			if !ft.cfg.FitVarLSS {
				target -= ft.model.VarLSS[llBin]
			}
			if !ft.cfg.FitFudge {
				target -= ft.model.Fudge[llBin] / vCenter
			}

			if ft.cfg.FitEta {
				aData = append(aData, sw*vCenter)
			}
			if ft.cfg.FitVarLSS {
				aData = append(aData, sw*1)
			}
			if ft.cfg.FitFudge {
				aData = append(aData, sw/vCenter)
			}

			bData = append(bData, sw*target)
			rows++
		}

		if rows < nFree {
			continue // keep previous values for this bin
		}

		design := mat.NewDense(rows, nFree, aData)
		rhs := mat.NewVecDense(rows, bData)

		var qr mat.QR
		qr.Factorize(design)

		var sol mat.VecDense
		if err := qr.SolveVecTo(&sol, false, rhs); err != nil {
			continue
		}

		k := 0
		if ft.cfg.FitEta {
			ft.model.Eta[llBin] = math.Max(sol.AtVec(k), 0)
			k++
		}
		if ft.cfg.FitVarLSS {
			ft.model.VarLSS[llBin] = math.Max(sol.AtVec(k), 0)
			k++
		}
		if ft.cfg.FitFudge {
			ft.model.Fudge[llBin] = math.Max(sol.AtVec(k), 0)
		}
	}
}

// applyDeltas finalizes every good forest: delta = flux/continuum - 1 and
// weight = 1/variance. Flagged forests are counted but left untouched.
func (ft *Fitter) applyDeltas(forests []*forest.Forest) (good, bad int) {
	for _, f := range forests {
		if f.BadContinuumReason != "" {
			bad++
			continue
		}

		n := f.NumPixels()
		if len(f.Delta) != n {
			f.Delta = make([]float64, n)
		}

		if len(f.Weight) != n {
			f.Weight = make([]float64, n)
		}

		for i := 0; i < n; i++ {
			c := f.Continuum[i]
			if c <= 0 || f.Ivar[i] <= 0 {
				f.Delta[i] = 0
				f.Weight[i] = 0

				continue
			}

			f.Delta[i] = f.Flux[i]/c - 1

			varPipe := 1 / (f.Ivar[i] * c * c)
			f.Weight[i] = 1 / ft.pixelVariance(varPipe, f.LogLambda[i])
		}

		good++
	}

	return good, bad
}
