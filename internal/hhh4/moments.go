package hhh4

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Moments holds predictive first and second moments per horizon step:
// Mean row h and Cov[h] describe the count vector h+1 steps ahead.
type Moments struct {
	Units []string
	Mean  *mat.Dense
	Cov   []*mat.SymDense
}

// epidemicMatrix builds B_t with B[i][j] = lambda_it*1{i==j} +
// phi_it*w_ji, so mu_t = nu_t + B_t*ybar_t.
func (f *Fit) epidemicMatrix(t int) *mat.Dense {
	k := f.ev.k
	b := mat.NewDense(k, k, nil)
	theta := f.Coefficients

	for i := 0; i < k; i++ {
		if f.ev.des.ar.enabled {
			lambda := math.Exp(f.ev.des.ar.linearPredictor(theta[f.ev.nEnd:f.ev.nEnd+f.ev.nAR], t, i))
			b.Set(i, i, lambda)
		}
		if f.ev.des.ne.enabled {
			phi := math.Exp(f.ev.des.ne.linearPredictor(theta[f.ev.nEnd+f.ev.nAR:f.ev.nEnd+f.ev.nAR+f.ev.nNE], t, i))
			for j := 0; j < k; j++ {
				b.Set(i, j, b.At(i, j)+phi*f.ev.w.At(j, i))
			}
		}
	}
	return b
}

func (f *Fit) endemicMean(t int) []float64 {
	k := f.ev.k
	nu := make([]float64, k)
	for i := 0; i < k; i++ {
		nu[i] = f.ev.des.offset[i] * math.Exp(f.ev.des.endemic.linearPredictor(f.Coefficients[:f.ev.nEnd], t, i))
	}
	return nu
}

// checkExtrapolation verifies that predictors for row t exist: rows
// beyond the series need calendar-only components.
func (f *Fit) checkExtrapolation(t int) error {
	if t < f.series.Len() {
		return nil
	}
	for _, c := range []*componentDesign{&f.ev.des.endemic, &f.ev.des.ar, &f.ev.des.ne} {
		if c.enabled && !c.extrapolates() {
			return fmt.Errorf("row %d is beyond the series and a component uses covariates", t)
		}
	}
	return nil
}

// companion assembles the KL x KL companion matrix for row t from the
// epidemic matrix and the lag weights.
func (f *Fit) companion(t int) *mat.Dense {
	k := f.ev.k
	l := len(f.ev.lagW)
	b := f.epidemicMatrix(t)

	a := mat.NewDense(k*l, k*l, nil)
	for lag := 0; lag < l; lag++ {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				a.Set(i, lag*k+j, f.ev.lagW[lag]*b.At(i, j))
			}
		}
	}
	for block := 1; block < l; block++ {
		for i := 0; i < k; i++ {
			a.Set(block*k+i, (block-1)*k+i, 1)
		}
	}
	return a
}

// momentStep advances the stacked mean and covariance by one period.
func (f *Fit) momentStep(t int, ez []float64, sigma *mat.Dense) ([]float64, *mat.Dense) {
	k := f.ev.k
	l := len(f.ev.lagW)
	a := f.companion(t)
	nu := f.endemicMean(t)

	// Mean recursion.
	next := make([]float64, k*l)
	for i := 0; i < k*l; i++ {
		s := 0.0
		for j := 0; j < k*l; j++ {
			s += a.At(i, j) * ez[j]
		}
		next[i] = s
	}
	for i := 0; i < k; i++ {
		next[i] += nu[i]
	}

	// Covariance recursion: A*Sigma*A' plus the conditional variance
	// of the new counts on the top-left diagonal.
	var m mat.Dense
	m.Product(a, sigma, a.T())

	psi := f.Overdispersion()
	for i := 0; i < k; i++ {
		mi := next[i]
		q := m.At(i, i)
		condVar := mi
		if psi != nil {
			condVar += (mi*mi + q) / psi[i]
		}
		m.Set(i, i, q+condVar)
	}

	return next, &m
}

// PredictiveMoments computes the exact predictive mean and covariance
// of the counts for the given number of periods past the fitting
// window, conditional on the observed history.
func (f *Fit) PredictiveMoments(horizon int) (*Moments, error) {
	if horizon < 1 {
		return nil, errors.New("horizon must be at least 1")
	}
	k := f.ev.k
	l := len(f.ev.lagW)
	last := f.Control.End - 1

	ez := make([]float64, k*l)
	for lag := 0; lag < l; lag++ {
		for i := 0; i < k; i++ {
			ez[lag*k+i] = f.series.At(last-lag, i)
		}
	}
	sigma := mat.NewDense(k*l, k*l, nil)

	out := &Moments{
		Units: f.series.Units(),
		Mean:  mat.NewDense(horizon, k, nil),
		Cov:   make([]*mat.SymDense, horizon),
	}

	for h := 1; h <= horizon; h++ {
		t := last + h
		if err := f.checkExtrapolation(t); err != nil {
			return nil, err
		}
		ez, sigma = f.momentStep(t, ez, sigma)

		for i := 0; i < k; i++ {
			out.Mean.Set(h-1, i, ez[i])
		}
		out.Cov[h-1] = topLeftSym(sigma, k)
	}
	return out, nil
}

// StationaryMoments iterates the moment recursion until the seasonal
// pattern of means and covariances stabilizes, returning one full
// cycle (Freq rows, row p for calendar period p+1). The fit must be
// free of trend and covariate terms, and the epidemic part must be
// subcritical for the iteration to converge.
func (f *Fit) StationaryMoments(tol float64, maxCycles int) (*Moments, error) {
	for _, c := range []*componentDesign{&f.ev.des.endemic, &f.ev.des.ar, &f.ev.des.ne} {
		if c.enabled && (!c.extrapolates() || c.hasTrend()) {
			return nil, errors.New("stationary moments need a trend- and covariate-free model")
		}
	}
	if tol <= 0 {
		tol = 1e-8
	}
	if maxCycles <= 0 {
		maxCycles = 1000
	}

	k := f.ev.k
	l := len(f.ev.lagW)
	freq := f.series.Freq()
	_, startPeriod := f.series.Start()

	// First row whose calendar period index is 0 mod freq, with a
	// complete lag history.
	t0 := l
	for (startPeriod-1+t0)%freq != 0 {
		t0++
	}

	ez := make([]float64, k*l)
	sigma := mat.NewDense(k*l, k*l, nil)

	prevMean := mat.NewDense(freq, k, nil)
	prevCov := make([]*mat.SymDense, freq)

	for cycle := 0; cycle < maxCycles; cycle++ {
		curMean := mat.NewDense(freq, k, nil)
		curCov := make([]*mat.SymDense, freq)

		for p := 0; p < freq; p++ {
			t := t0 + cycle*freq + p
			ez, sigma = f.momentStep(t, ez, sigma)
			for i := 0; i < k; i++ {
				curMean.Set(p, i, ez[i])
			}
			curCov[p] = topLeftSym(sigma, k)
		}

		if cycle > 0 && cycleDiff(prevMean, curMean, prevCov, curCov) < tol {
			return &Moments{Units: f.series.Units(), Mean: curMean, Cov: curCov}, nil
		}
		prevMean, prevCov = curMean, curCov

		// Divergence guard: an epidemic spectral radius at or above
		// one makes the means blow up.
		if !allFinite(ez) {
			return nil, errors.New("moment recursion diverged, epidemic part is not subcritical")
		}
	}
	return nil, fmt.Errorf("stationary moments did not converge within %d cycles", maxCycles)
}

func topLeftSym(m *mat.Dense, k int) *mat.SymDense {
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			out.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return out
}

func cycleDiff(prevMean, curMean *mat.Dense, prevCov, curCov []*mat.SymDense) float64 {
	rows, k := curMean.Dims()
	max := 0.0
	for p := 0; p < rows; p++ {
		for i := 0; i < k; i++ {
			if d := math.Abs(curMean.At(p, i) - prevMean.At(p, i)); d > max {
				max = d
			}
			for j := i; j < k; j++ {
				if d := math.Abs(curCov[p].At(i, j) - prevCov[p].At(i, j)); d > max {
					max = d
				}
			}
		}
	}
	return max
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
