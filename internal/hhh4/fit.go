package hhh4

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/optimize"

	"surveillance-platform/internal/sts"
)

// Fit is the immutable result of a model estimation. It holds the
// control used, the fitted coefficients and enough state to compute
// residuals, forecasts and moments.
type Fit struct {
	Control      Control
	CoefNames    []string
	Coefficients []float64
	LogLik       float64
	AIC          float64
	BIC          float64
	Converged    bool

	// NbDecay and LagDecay are the weight-decay parameters actually
	// used, whether fixed in the control or estimated by profile
	// likelihood.
	NbDecay  float64
	LagDecay float64

	series *sts.CountSeries
	ev     *evaluator
	fitted *mat.Dense
}

// evaluator holds everything needed to compute the likelihood and its
// gradient for fixed weight-decay parameters.
type evaluator struct {
	series *sts.CountSeries
	ctrl   Control
	des    *design

	y    *mat.Dense
	lagW []float64
	w    *mat.Dense // row-normalized, nil when the NE component is off
	ybar *mat.Dense // lag-weighted past counts, rows >= maxLag
	nbar *mat.Dense // neighbour-weighted ybar

	start, end     int
	k              int
	nEnd, nAR, nNE int
	nDisp          int
}

func newEvaluator(series *sts.CountSeries, ctrl Control, nbDecay, lagDecay float64) (*evaluator, error) {
	des, err := buildDesign(series, &ctrl)
	if err != nil {
		return nil, err
	}

	lw, err := lagWeights(ctrl.Lags, lagDecay)
	if err != nil {
		return nil, err
	}

	ev := &evaluator{
		series: series,
		ctrl:   ctrl,
		des:    des,
		y:      series.Counts(),
		lagW:   lw,
		start:  ctrl.Start,
		end:    ctrl.End,
		k:      series.NumUnits(),
		nEnd:   des.endemic.size(),
		nAR:    des.ar.size(),
		nNE:    des.ne.size(),
	}

	switch ctrl.Family {
	case Poisson:
		ev.nDisp = 0
	case NegBin:
		ev.nDisp = 1
	case NegBinM:
		ev.nDisp = ev.k
	default:
		return nil, errors.New("unknown family")
	}

	if ctrl.Neighbourhood.Enabled {
		ev.w, err = weightMatrix(series.NeighbourhoodOrder(), ctrl.Weights, nbDecay)
		if err != nil {
			return nil, err
		}
	}

	ev.precomputeLagSums()
	return ev, nil
}

// precomputeLagSums fills ybar and nbar for every row with a complete
// lag history.
func (ev *evaluator) precomputeLagSums() {
	t := ev.series.Len()
	maxLag := len(ev.lagW)

	ev.ybar = mat.NewDense(t, ev.k, nil)
	for row := maxLag; row < t; row++ {
		for i := 0; i < ev.k; i++ {
			sum := 0.0
			for l := 1; l <= maxLag; l++ {
				sum += ev.lagW[l-1] * ev.y.At(row-l, i)
			}
			ev.ybar.Set(row, i, sum)
		}
	}

	if ev.w != nil {
		ev.nbar = mat.NewDense(t, ev.k, nil)
		for row := maxLag; row < t; row++ {
			for i := 0; i < ev.k; i++ {
				sum := 0.0
				for j := 0; j < ev.k; j++ {
					sum += ev.w.At(j, i) * ev.ybar.At(row, j)
				}
				ev.nbar.Set(row, i, sum)
			}
		}
	}
}

func (ev *evaluator) numParams() int {
	return ev.nEnd + ev.nAR + ev.nNE + ev.nDisp
}

func (ev *evaluator) coefNames() []string {
	names := append([]string(nil), ev.des.endemic.names()...)
	names = append(names, ev.des.ar.names()...)
	names = append(names, ev.des.ne.names()...)
	switch ev.ctrl.Family {
	case NegBin:
		names = append(names, "overdisp")
	case NegBinM:
		for _, u := range ev.series.Units() {
			names = append(names, "overdisp."+u)
		}
	}
	return names
}

// psiAt returns the overdispersion for unit i, +Inf for Poisson fits.
func (ev *evaluator) psiAt(theta []float64, i int) float64 {
	switch ev.nDisp {
	case 0:
		return math.Inf(1)
	case 1:
		return math.Exp(theta[ev.nEnd+ev.nAR+ev.nNE])
	default:
		return math.Exp(theta[ev.nEnd+ev.nAR+ev.nNE+i])
	}
}

// meanParts returns the three additive mean components for (t, i).
func (ev *evaluator) meanParts(theta []float64, t, i int) (muNu, muAR, muNE float64) {
	muNu = ev.des.offset[i] * math.Exp(ev.des.endemic.linearPredictor(theta[:ev.nEnd], t, i))
	if ev.des.ar.enabled {
		muAR = math.Exp(ev.des.ar.linearPredictor(theta[ev.nEnd:ev.nEnd+ev.nAR], t, i)) * ev.ybar.At(t, i)
	}
	if ev.des.ne.enabled {
		muNE = math.Exp(ev.des.ne.linearPredictor(theta[ev.nEnd+ev.nAR:ev.nEnd+ev.nAR+ev.nNE], t, i)) * ev.nbar.At(t, i)
	}
	return muNu, muAR, muNE
}

func (ev *evaluator) meanAt(theta []float64, t, i int) float64 {
	nu, ar, ne := ev.meanParts(theta, t, i)
	return nu + ar + ne
}

func logLikTerm(y, mu, psi float64) float64 {
	if math.IsInf(psi, 1) {
		lg, _ := math.Lgamma(y + 1)
		return y*math.Log(mu) - mu - lg
	}
	lgNum, _ := math.Lgamma(y + psi)
	lgPsi, _ := math.Lgamma(psi)
	lgY, _ := math.Lgamma(y + 1)
	return lgNum - lgPsi - lgY + psi*math.Log(psi/(psi+mu)) + y*math.Log(mu/(psi+mu))
}

func (ev *evaluator) negLogLik(theta []float64) float64 {
	ll := 0.0
	for t := ev.start; t < ev.end; t++ {
		for i := 0; i < ev.k; i++ {
			mu := ev.meanAt(theta, t, i)
			ll += logLikTerm(ev.y.At(t, i), mu, ev.psiAt(theta, i))
		}
	}
	return -ll
}

func (ev *evaluator) gradNegLogLik(grad, theta []float64) {
	for p := range grad {
		grad[p] = 0
	}

	for t := ev.start; t < ev.end; t++ {
		for i := 0; i < ev.k; i++ {
			y := ev.y.At(t, i)
			psi := ev.psiAt(theta, i)
			muNu, muAR, muNE := ev.meanParts(theta, t, i)
			mu := muNu + muAR + muNE

			var dldmu float64
			if math.IsInf(psi, 1) {
				dldmu = y/mu - 1
			} else {
				dldmu = y/mu - (y+psi)/(psi+mu)
			}

			for p, tm := range ev.des.endemic.terms {
				grad[p] -= dldmu * muNu * tm.eval(t, i)
			}
			for p, tm := range ev.des.ar.terms {
				grad[ev.nEnd+p] -= dldmu * muAR * tm.eval(t, i)
			}
			for p, tm := range ev.des.ne.terms {
				grad[ev.nEnd+ev.nAR+p] -= dldmu * muNE * tm.eval(t, i)
			}

			if ev.nDisp > 0 {
				dldpsi := mathext.Digamma(y+psi) - mathext.Digamma(psi) +
					math.Log(psi/(psi+mu)) + (mu-y)/(psi+mu)
				idx := ev.nEnd + ev.nAR + ev.nNE
				if ev.nDisp > 1 {
					idx += i
				}
				grad[idx] -= dldpsi * psi
			}
		}
	}
}

// initialGuess seeds the optimizer: endemic intercepts at the log mean
// count over the window, epidemic intercepts slightly negative,
// log-overdispersion zero.
func (ev *evaluator) initialGuess() []float64 {
	theta := make([]float64, ev.numParams())

	sum, n := 0.0, 0
	for t := ev.start; t < ev.end; t++ {
		for i := 0; i < ev.k; i++ {
			sum += ev.y.At(t, i) / ev.des.offset[i]
			n++
		}
	}
	mean := sum / float64(n)
	if mean < 1e-4 {
		mean = 1e-4
	}

	nIntercepts := 1
	if ev.ctrl.Endemic.UnitIntercepts {
		nIntercepts = ev.k
	}
	for p := 0; p < nIntercepts; p++ {
		theta[p] = math.Log(mean)
	}

	if ev.des.ar.enabled {
		theta[ev.nEnd] = -1
	}
	if ev.des.ne.enabled {
		theta[ev.nEnd+ev.nAR] = -1
	}
	return theta
}

// Estimate fits the model described by ctrl to the series by maximum
// likelihood. Weight-decay parameters flagged for estimation are
// profiled by golden-section search.
func Estimate(series *sts.CountSeries, ctrl Control) (*Fit, error) {
	ctrl, err := ctrl.normalized(series)
	if err != nil {
		return nil, err
	}

	profileNb := ctrl.Neighbourhood.Enabled &&
		ctrl.Weights.Scheme == PowerLawWeights && ctrl.Weights.EstimateDecay
	profileLag := ctrl.Lags.Scheme != FirstLag && ctrl.Lags.EstimateDecay

	var warm []float64
	fitLag := func(nbDecay float64) (*Fit, error) {
		if !profileLag {
			lagDecay := ctrl.Lags.Decay
			f, err := estimateFixed(series, ctrl, nbDecay, lagDecay, warm)
			if err == nil {
				warm = f.Coefficients
			}
			return f, err
		}
		lo, hi := lagBounds(ctrl.Lags)
		f, decay, err := goldenMax(lo, hi, 1e-3, func(p float64) (*Fit, error) {
			inner, err := estimateFixed(series, ctrl, nbDecay, p, warm)
			if err == nil {
				warm = inner.Coefficients
			}
			return inner, err
		})
		if err != nil {
			return nil, err
		}
		f.LagDecay = decay
		return f, nil
	}

	var fit *Fit
	if profileNb {
		var decay float64
		fit, decay, err = goldenMax(0.1, 6, 1e-3, fitLag)
		if err != nil {
			return nil, err
		}
		fit.NbDecay = decay
	} else {
		fit, err = fitLag(ctrl.Weights.Decay)
		if err != nil {
			return nil, err
		}
	}

	// Profiled decays count as estimated parameters.
	extra := 0
	if profileNb {
		extra++
	}
	if profileLag {
		extra++
	}
	if extra > 0 {
		nParams := float64(len(fit.Coefficients) + extra)
		nObs := float64((ctrl.End - ctrl.Start) * series.NumUnits())
		fit.AIC = -2*fit.LogLik + 2*nParams
		fit.BIC = -2*fit.LogLik + nParams*math.Log(nObs)
	}

	return fit, nil
}

func lagBounds(lc LagControl) (lo, hi float64) {
	if lc.Scheme == GeometricLags {
		return 0.01, 0.99
	}
	return 0.01, float64(lc.MaxLag)
}

// estimateFixed fits the regression coefficients and overdispersion for
// fixed weight-decay parameters.
func estimateFixed(series *sts.CountSeries, ctrl Control, nbDecay, lagDecay float64, warm []float64) (*Fit, error) {
	ev, err := newEvaluator(series, ctrl, nbDecay, lagDecay)
	if err != nil {
		return nil, err
	}

	x0 := ev.initialGuess()
	if len(warm) == len(x0) {
		copy(x0, warm)
	}

	problem := optimize.Problem{
		Func: ev.negLogLik,
		Grad: ev.gradNegLogLik,
	}
	settings := &optimize.Settings{
		MajorIterations:   ctrl.MaxIter,
		GradientThreshold: 1e-6,
	}

	result, optErr := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if result == nil {
		return nil, fmt.Errorf("likelihood optimization failed: %w", optErr)
	}

	return newFit(ev, result.X, optErr == nil && result.Status != optimize.IterationLimit, nbDecay, lagDecay), nil
}

// Evaluate builds a Fit from externally supplied coefficients without
// optimizing, using the decay values fixed in the control. Used to
// reconstruct persisted model runs and in diagnostics.
func Evaluate(series *sts.CountSeries, ctrl Control, coefficients []float64) (*Fit, error) {
	ctrl, err := ctrl.normalized(series)
	if err != nil {
		return nil, err
	}
	ev, err := newEvaluator(series, ctrl, ctrl.Weights.Decay, ctrl.Lags.Decay)
	if err != nil {
		return nil, err
	}
	if len(coefficients) != ev.numParams() {
		return nil, fmt.Errorf("got %d coefficients, model has %d parameters", len(coefficients), ev.numParams())
	}
	return newFit(ev, coefficients, true, ctrl.Weights.Decay, ctrl.Lags.Decay), nil
}

func newFit(ev *evaluator, theta []float64, converged bool, nbDecay, lagDecay float64) *Fit {
	coefs := append([]float64(nil), theta...)
	ll := -ev.negLogLik(coefs)

	rows := ev.end - ev.start
	fitted := mat.NewDense(rows, ev.k, nil)
	for t := ev.start; t < ev.end; t++ {
		for i := 0; i < ev.k; i++ {
			fitted.Set(t-ev.start, i, ev.meanAt(coefs, t, i))
		}
	}

	nParams := float64(len(coefs))
	nObs := float64(rows * ev.k)

	return &Fit{
		Control:      ev.ctrl,
		CoefNames:    ev.coefNames(),
		Coefficients: coefs,
		LogLik:       ll,
		AIC:          -2*ll + 2*nParams,
		BIC:          -2*ll + nParams*math.Log(nObs),
		Converged:    converged,
		NbDecay:      nbDecay,
		LagDecay:     lagDecay,
		series:       ev.series,
		ev:           ev,
		fitted:       fitted,
	}
}

// goldenMax maximizes the profile log-likelihood over one decay
// parameter by golden-section search.
func goldenMax(lo, hi, tol float64, eval func(float64) (*Fit, error)) (*Fit, float64, error) {
	const invPhi = 0.6180339887498949

	a, b := lo, hi
	x1 := b - invPhi*(b-a)
	x2 := a + invPhi*(b-a)

	f1, err := eval(x1)
	if err != nil {
		return nil, 0, err
	}
	f2, err := eval(x2)
	if err != nil {
		return nil, 0, err
	}

	for b-a > tol {
		if f1.LogLik >= f2.LogLik {
			b, x2, f2 = x2, x1, f1
			x1 = b - invPhi*(b-a)
			f1, err = eval(x1)
		} else {
			a, x1, f1 = x1, x2, f2
			x2 = a + invPhi*(b-a)
			f2, err = eval(x2)
		}
		if err != nil {
			return nil, 0, err
		}
	}

	if f1.LogLik >= f2.LogLik {
		return f1, x1, nil
	}
	return f2, x2, nil
}

// Update refits with a modified control, seeding the optimizer from
// this fit's coefficients where parameter names match.
func (f *Fit) Update(ctrl Control) (*Fit, error) {
	ctrl, err := ctrl.normalized(f.series)
	if err != nil {
		return nil, err
	}
	ev, err := newEvaluator(f.series, ctrl, f.NbDecay, f.LagDecay)
	if err != nil {
		return nil, err
	}

	x0 := ev.initialGuess()
	names := ev.coefNames()
	for p, name := range names {
		for q, old := range f.CoefNames {
			if old == name {
				x0[p] = f.Coefficients[q]
				break
			}
		}
	}

	nbDecay, lagDecay := f.NbDecay, f.LagDecay
	if !ctrl.Weights.EstimateDecay {
		nbDecay = ctrl.Weights.Decay
	}
	if !ctrl.Lags.EstimateDecay {
		lagDecay = ctrl.Lags.Decay
	}
	return estimateFixed(f.series, ctrl, nbDecay, lagDecay, x0)
}

// FittedValues returns a copy of the fitted mean matrix, one row per
// window period.
func (f *Fit) FittedValues() *mat.Dense {
	return mat.DenseCopyOf(f.fitted)
}

// Observed returns a copy of the observed counts over the fitting
// window.
func (f *Fit) Observed() *mat.Dense {
	rows := f.Control.End - f.Control.Start
	out := mat.NewDense(rows, f.ev.k, nil)
	for t := 0; t < rows; t++ {
		for i := 0; i < f.ev.k; i++ {
			out.Set(t, i, f.ev.y.At(f.Control.Start+t, i))
		}
	}
	return out
}

// Units returns the unit names of the underlying series.
func (f *Fit) Units() []string {
	return f.series.Units()
}

// Series returns the underlying count series.
func (f *Fit) Series() *sts.CountSeries {
	return f.series
}

// Overdispersion returns the per-unit overdispersion parameters, nil
// for Poisson fits. For a shared-dispersion fit the single value is
// replicated per unit.
func (f *Fit) Overdispersion() []float64 {
	switch f.Control.Family {
	case NegBin:
		psi := f.ev.psiAt(f.Coefficients, 0)
		out := make([]float64, f.ev.k)
		for i := range out {
			out[i] = psi
		}
		return out
	case NegBinM:
		out := make([]float64, f.ev.k)
		for i := range out {
			out[i] = f.ev.psiAt(f.Coefficients, i)
		}
		return out
	default:
		return nil
	}
}

// predictRow evaluates the model mean for row t of the series using
// the fitted coefficients and the observed lag history. t must have a
// complete lag history.
func (f *Fit) predictRow(t int) ([]float64, error) {
	if t < len(f.ev.lagW) || t >= f.series.Len() {
		return nil, fmt.Errorf("row %d outside the predictable range [%d, %d)", t, len(f.ev.lagW), f.series.Len())
	}
	mu := make([]float64, f.ev.k)
	for i := 0; i < f.ev.k; i++ {
		mu[i] = f.ev.meanAt(f.Coefficients, t, i)
	}
	return mu, nil
}
