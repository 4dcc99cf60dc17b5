package hhh4

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// OneStepAhead holds rolling one-step-ahead predictions. Row s of each
// matrix belongs to predicted series row From+s; the model for that row
// was fitted on data up to (and excluding) it, with the training window
// growing by one observation per step.
type OneStepAhead struct {
	From, To int
	Units    []string

	Observed *mat.Dense
	Mean     *mat.Dense
	// Psi holds the per-cell overdispersion of the predictive
	// distribution, +Inf for Poisson fits.
	Psi *mat.Dense

	LogScores *mat.Dense
	SqErrors  *mat.Dense
	DSScores  *mat.Dense
	RPScores  *mat.Dense
}

// MeanScores averages each score over all predicted cells.
func (o *OneStepAhead) MeanScores() (logS, ses, dss, rps float64) {
	rows, k := o.Mean.Dims()
	n := float64(rows * k)
	for t := 0; t < rows; t++ {
		for i := 0; i < k; i++ {
			logS += o.LogScores.At(t, i)
			ses += o.SqErrors.At(t, i)
			dss += o.DSScores.At(t, i)
			rps += o.RPScores.At(t, i)
		}
	}
	return logS / n, ses / n, dss / n, rps / n
}

// OneStepAhead produces rolling one-step-ahead forecasts for series
// rows [from, to). For every predicted row the model is refitted on the
// window [Control.Start, row), seeded from the previous step's
// coefficients, and the prediction is scored against the observed
// counts.
func (f *Fit) OneStepAhead(from, to int) (*OneStepAhead, error) {
	t := f.series.Len()
	if from <= f.Control.Start+1 {
		return nil, fmt.Errorf("first predicted row %d leaves no training window after row %d", from, f.Control.Start)
	}
	if to > t || from >= to {
		return nil, fmt.Errorf("invalid prediction range [%d, %d) for series of length %d", from, to, t)
	}

	k := f.ev.k
	steps := to - from
	out := &OneStepAhead{
		From:      from,
		To:        to,
		Units:     f.series.Units(),
		Observed:  mat.NewDense(steps, k, nil),
		Mean:      mat.NewDense(steps, k, nil),
		Psi:       mat.NewDense(steps, k, nil),
		LogScores: mat.NewDense(steps, k, nil),
		SqErrors:  mat.NewDense(steps, k, nil),
		DSScores:  mat.NewDense(steps, k, nil),
		RPScores:  mat.NewDense(steps, k, nil),
	}

	warm := f.Coefficients
	for row := from; row < to; row++ {
		ctrl := f.Control
		ctrl.End = row

		step, err := estimateFixed(f.series, ctrl, f.NbDecay, f.LagDecay, warm)
		if err != nil {
			return nil, fmt.Errorf("refit up to row %d: %w", row, err)
		}
		warm = step.Coefficients

		mu, err := step.predictRow(row)
		if err != nil {
			return nil, err
		}

		s := row - from
		for i := 0; i < k; i++ {
			y := f.series.At(row, i)
			psi := step.ev.psiAt(step.Coefficients, i)

			out.Observed.Set(s, i, y)
			out.Mean.Set(s, i, mu[i])
			out.Psi.Set(s, i, psi)
			out.LogScores.Set(s, i, LogScore(y, mu[i], psi))
			out.SqErrors.Set(s, i, SquaredErrorScore(y, mu[i]))
			out.DSScores.Set(s, i, DawidSebastianiScore(y, mu[i], psi))
			out.RPScores.Set(s, i, RankedProbabilityScore(y, mu[i], psi))
		}
	}

	return out, nil
}
