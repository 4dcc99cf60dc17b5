package hhh4

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PearsonResiduals computes the standardized residual for every
// (period, unit) cell:
//
//	r = (observed - fitted) / sqrt(fitted + fitted^2/psi)
//
// overdisp selects the variance model: nil for a Poisson fit (the
// mu^2/psi excess vanishes), a single value for a shared
// overdispersion parameter, or one value per unit. Cells with zero
// observed and zero fitted count are defined as 0 rather than NaN.
func PearsonResiduals(observed, fitted *mat.Dense, overdisp []float64) (*mat.Dense, error) {
	if observed == nil || fitted == nil {
		return nil, errors.New("observed and fitted matrices must not be nil")
	}
	t, k := observed.Dims()
	ft, fk := fitted.Dims()
	if t != ft || k != fk {
		return nil, fmt.Errorf("observed is %dx%d but fitted is %dx%d", t, k, ft, fk)
	}
	switch len(overdisp) {
	case 0, 1, k:
	default:
		return nil, fmt.Errorf("got %d overdispersion values, want 1 or %d", len(overdisp), k)
	}
	for _, psi := range overdisp {
		if psi <= 0 || math.IsNaN(psi) {
			return nil, fmt.Errorf("overdispersion must be strictly positive, got %v", psi)
		}
	}

	psiFor := func(i int) float64 {
		switch len(overdisp) {
		case 0:
			return math.Inf(1)
		case 1:
			return overdisp[0]
		default:
			return overdisp[i]
		}
	}

	res := mat.NewDense(t, k, nil)
	for row := 0; row < t; row++ {
		for i := 0; i < k; i++ {
			y := observed.At(row, i)
			mu := fitted.At(row, i)
			if y == 0 && mu == 0 {
				continue
			}
			psi := psiFor(i)
			variance := mu
			if !math.IsInf(psi, 1) {
				variance += mu * mu / psi
			}
			res.Set(row, i, (y-mu)/math.Sqrt(variance))
		}
	}
	return res, nil
}

// PearsonResiduals computes the Pearson residual matrix over the
// fitting window, recovering the overdispersion according to the fit's
// family.
func (f *Fit) PearsonResiduals() (*mat.Dense, error) {
	return PearsonResiduals(f.Observed(), f.fitted, f.Overdispersion())
}
