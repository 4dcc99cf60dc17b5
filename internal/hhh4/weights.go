package hhh4

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// AdjacencyMatrix builds a weight matrix from a neighbourhood order
// matrix with weight 1 on first-order neighbours and 0 elsewhere.
func AdjacencyMatrix(order *mat.Dense) *mat.Dense {
	k, _ := order.Dims()
	w := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if order.At(i, j) == 1 {
				w.Set(i, j, 1)
			}
		}
	}
	return w
}

// PowerLawMatrix builds a weight matrix decaying with neighbourhood
// order o as o^-decay. Orders above maxOrder (when positive) and
// non-neighbours (order 0 off-diagonal is treated as unreachable) get
// zero weight.
func PowerLawMatrix(order *mat.Dense, decay float64, maxOrder int) (*mat.Dense, error) {
	if decay <= 0 {
		return nil, errors.New("power-law decay must be positive")
	}
	k, _ := order.Dims()
	w := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			o := order.At(i, j)
			if i == j || o < 1 {
				continue
			}
			if maxOrder > 0 && o > float64(maxOrder) {
				continue
			}
			w.Set(i, j, math.Pow(o, -decay))
		}
	}
	return w, nil
}

// NormalizeRows scales each row of w to sum to one, so every unit
// distributes a unit of infectiousness over its neighbours. Rows that
// sum to zero (isolated units) are left untouched.
func NormalizeRows(w *mat.Dense) {
	k, _ := w.Dims()
	for i := 0; i < k; i++ {
		row := w.RawRowView(i)
		sum := floats.Sum(row)
		if sum > 0 {
			floats.Scale(1/sum, row)
		}
	}
}

// weightMatrix builds the normalized weight matrix for a control, or
// nil when the neighbourhood component is disabled.
func weightMatrix(order *mat.Dense, wc WeightsControl, decay float64) (*mat.Dense, error) {
	var w *mat.Dense
	var err error
	switch wc.Scheme {
	case AdjacencyWeights:
		w = AdjacencyMatrix(order)
	case PowerLawWeights:
		w, err = PowerLawMatrix(order, decay, wc.MaxOrder)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unknown weight scheme")
	}
	NormalizeRows(w)
	return w, nil
}

// GeometricLagWeights returns normalized lag weights proportional to
// p*(1-p)^(l-1) for lags 1..maxLag. p must lie in (0, 1).
func GeometricLagWeights(p float64, maxLag int) ([]float64, error) {
	if p <= 0 || p >= 1 {
		return nil, errors.New("geometric lag decay must lie in (0, 1)")
	}
	if maxLag < 1 {
		return nil, errors.New("max lag must be at least 1")
	}
	w := make([]float64, maxLag)
	for l := 1; l <= maxLag; l++ {
		w[l-1] = p * math.Pow(1-p, float64(l-1))
	}
	floats.Scale(1/floats.Sum(w), w)
	return w, nil
}

// PoissonLagWeights returns normalized lag weights proportional to a
// shifted Poisson pmf: p^(l-1)*exp(-p)/(l-1)! for lags 1..maxLag.
func PoissonLagWeights(p float64, maxLag int) ([]float64, error) {
	if p <= 0 {
		return nil, errors.New("poisson lag decay must be positive")
	}
	if maxLag < 1 {
		return nil, errors.New("max lag must be at least 1")
	}
	w := make([]float64, maxLag)
	for l := 1; l <= maxLag; l++ {
		lg, _ := math.Lgamma(float64(l))
		w[l-1] = math.Exp(float64(l-1)*math.Log(p) - p - lg)
	}
	floats.Scale(1/floats.Sum(w), w)
	return w, nil
}

// lagWeights builds the normalized lag weight vector for a control.
func lagWeights(lc LagControl, decay float64) ([]float64, error) {
	switch lc.Scheme {
	case FirstLag:
		return []float64{1}, nil
	case GeometricLags:
		return GeometricLagWeights(decay, lc.MaxLag)
	case PoissonLags:
		return PoissonLagWeights(decay, lc.MaxLag)
	default:
		return nil, errors.New("unknown lag scheme")
	}
}
