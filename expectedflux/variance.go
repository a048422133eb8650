package expectedflux

import "math"

// VarianceModel holds the shared variance parameters on a uniform grid in
// observed log-wavelength. It is updated once per fit iteration from
// statistics pooled over all good forests and frozen when the fit
// terminates.
type VarianceModel struct {
	logLambdaMin float64
	step         float64

	Eta    []float64 // pipeline-noise inflation per bin
	VarLSS []float64 // large-scale-structure variance per bin
	Fudge  []float64 // small-scale correction per bin
}

// newVarianceModel builds a model with every bin at the configured initial
// values.
func newVarianceModel(cfg Config) *VarianceModel {
	m := &VarianceModel{
		logLambdaMin: math.Log10(cfg.LambdaMin),
		Eta:          make([]float64, cfg.NumVarBins),
		VarLSS:       make([]float64, cfg.NumVarBins),
		Fudge:        make([]float64, cfg.NumVarBins),
	}

	m.step = (math.Log10(cfg.LambdaMax) - m.logLambdaMin) / float64(cfg.NumVarBins)

	for i := range m.Eta {
		m.Eta[i] = cfg.Eta
		m.VarLSS[i] = cfg.VarLSS
		m.Fudge[i] = cfg.Fudge
	}

	return m
}

// bin returns the variance-grid bin of an observed log-wavelength, clamped
// to the grid.
func (m *VarianceModel) bin(logLambda float64) int {
	i := int((logLambda - m.logLambdaMin) / m.step)
	if i < 0 {
		i = 0
	}

	if i >= len(m.Eta) {
		i = len(m.Eta) - 1
	}

	return i
}

// at interpolates a parameter array at an observed log-wavelength, with
// constant extrapolation beyond the grid centers.
func (m *VarianceModel) at(param []float64, logLambda float64) float64 {
	pos := (logLambda-m.logLambdaMin)/m.step - 0.5
	if pos <= 0 {
		return param[0]
	}

	n := len(param)
	if pos >= float64(n-1) {
		return param[n-1]
	}

	i := int(pos)
	frac := pos - float64(i)

	return param[i] + frac*(param[i+1]-param[i])
}

// Variance returns the modeled delta variance for a pixel with the given
// pipeline variance (1/(ivar*cont^2)) at the given observed log-wavelength:
//
//	var = eta * var_pipe + var_lss + fudge / var_pipe
func (m *VarianceModel) Variance(varPipe, logLambda float64) float64 {
	eta := m.at(m.Eta, logLambda)
	varLSS := m.at(m.VarLSS, logLambda)
	fudge := m.at(m.Fudge, logLambda)

	return eta*varPipe + varLSS + fudge/varPipe
}

// clone deep-copies the model so convergence can compare iterations.
func (m *VarianceModel) clone() *VarianceModel {
	c := &VarianceModel{
		logLambdaMin: m.logLambdaMin,
		step:         m.step,
		Eta:          append([]float64(nil), m.Eta...),
		VarLSS:       append([]float64(nil), m.VarLSS...),
		Fudge:        append([]float64(nil), m.Fudge...),
	}

	return c
}

// maxDelta returns the largest absolute element-wise difference between two
// models' parameters.
func (m *VarianceModel) maxDelta(prev *VarianceModel) float64 {
	var d float64

	for i := range m.Eta {
		d = math.Max(d, math.Abs(m.Eta[i]-prev.Eta[i]))
		d = math.Max(d, math.Abs(m.VarLSS[i]-prev.VarLSS[i]))
		d = math.Max(d, math.Abs(m.Fudge[i]-prev.Fudge[i]))
	}

	return d
}
