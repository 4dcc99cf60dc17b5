package hhh4

import (
	"math"
	"testing"
)

func TestOneStepAheadInterceptOnly(t *testing.T) {
	series := singleUnitSeries(t)

	fit, err := Estimate(series, Control{Family: Poisson})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	from, to := 25, 28
	osa, err := fit.OneStepAhead(from, to)
	if err != nil {
		t.Fatalf("OneStepAhead: %v", err)
	}

	rows, _ := osa.Mean.Dims()
	if rows != to-from {
		t.Fatalf("got %d prediction rows, want %d", rows, to-from)
	}

	for s := 0; s < rows; s++ {
		row := from + s
		if got, want := osa.Observed.At(s, 0), series.At(row, 0); got != want {
			t.Errorf("observed at row %d = %v, want %v", row, got, want)
		}
		if !math.IsInf(osa.Psi.At(s, 0), 1) {
			t.Errorf("poisson prediction at row %d carries finite overdispersion %v", row, osa.Psi.At(s, 0))
		}

		// An intercept-only Poisson refit predicts the training mean.
		sum := 0.0
		for r := 1; r < row; r++ {
			sum += series.At(r, 0)
		}
		want := sum / float64(row-1)
		if got := osa.Mean.At(s, 0); math.Abs(got-want) > 1e-3 {
			t.Errorf("prediction for row %d = %v, want %v", row, got, want)
		}
	}

	logS, ses, dss, rps := osa.MeanScores()
	for name, v := range map[string]float64{"log": logS, "ses": ses, "dss": dss, "rps": rps} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("mean %s score is %v", name, v)
		}
	}
}

func TestOneStepAheadRangeValidation(t *testing.T) {
	series := singleUnitSeries(t)

	fit, err := Estimate(series, Control{Family: Poisson})
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	cases := []struct {
		name     string
		from, to int
	}{
		{"no training window", 2, 5},
		{"beyond series", 25, 40},
		{"empty range", 20, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := fit.OneStepAhead(tc.from, tc.to); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
