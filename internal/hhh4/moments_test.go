package hhh4

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestPredictiveMomentsEndemicOnly(t *testing.T) {
	series := singleUnitSeries(t)
	nu := 3.0

	fit, err := Evaluate(series, Control{Family: Poisson}, []float64{math.Log(nu)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	mom, err := fit.PredictiveMoments(3)
	if err != nil {
		t.Fatalf("PredictiveMoments: %v", err)
	}

	rows, _ := mom.Mean.Dims()
	if rows != 3 {
		t.Fatalf("got %d horizon rows, want 3", rows)
	}
	// Without an epidemic part every step is an independent Poisson
	// draw with mean nu.
	for h := 0; h < 3; h++ {
		if got := mom.Mean.At(h, 0); math.Abs(got-nu) > 1e-12 {
			t.Errorf("mean at step %d = %v, want %v", h+1, got, nu)
		}
		if got := mom.Cov[h].At(0, 0); math.Abs(got-nu) > 1e-12 {
			t.Errorf("variance at step %d = %v, want %v", h+1, got, nu)
		}
	}
}

func TestPredictiveMomentsNegBinVariance(t *testing.T) {
	series := singleUnitSeries(t)
	nu, psi := 3.0, 2.0

	fit, err := Evaluate(series, Control{Family: NegBin}, []float64{math.Log(nu), math.Log(psi)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	mom, err := fit.PredictiveMoments(1)
	if err != nil {
		t.Fatalf("PredictiveMoments: %v", err)
	}
	want := nu + nu*nu/psi
	if got := mom.Cov[0].At(0, 0); math.Abs(got-want) > 1e-12 {
		t.Errorf("one-step variance = %v, want %v", got, want)
	}
}

func TestPredictiveMomentsAutoregressive(t *testing.T) {
	series := singleUnitSeries(t)
	nu, lambda := 2.0, 0.5

	ctrl := Control{Family: Poisson, AR: ComponentControl{Enabled: true}}
	fit, err := Evaluate(series, ctrl, []float64{math.Log(nu), math.Log(lambda)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	mom, err := fit.PredictiveMoments(2)
	if err != nil {
		t.Fatalf("PredictiveMoments: %v", err)
	}

	yLast := series.At(series.Len()-1, 0)
	e1 := nu + lambda*yLast
	e2 := nu + lambda*e1
	v1 := e1
	v2 := lambda*lambda*v1 + e2

	if got := mom.Mean.At(0, 0); math.Abs(got-e1) > 1e-12 {
		t.Errorf("one-step mean = %v, want %v", got, e1)
	}
	if got := mom.Mean.At(1, 0); math.Abs(got-e2) > 1e-12 {
		t.Errorf("two-step mean = %v, want %v", got, e2)
	}
	if got := mom.Cov[0].At(0, 0); math.Abs(got-v1) > 1e-12 {
		t.Errorf("one-step variance = %v, want %v", got, v1)
	}
	if got := mom.Cov[1].At(0, 0); math.Abs(got-v2) > 1e-12 {
		t.Errorf("two-step variance = %v, want %v", got, v2)
	}
}

func TestPredictiveMomentsRejectsCovariateExtrapolation(t *testing.T) {
	series := singleUnitSeries(t)
	cov := mat.NewDense(series.Len(), 1, nil)

	ctrl := Control{
		Family:     Poisson,
		Endemic:    ComponentControl{Covariates: []string{"temp"}},
		Covariates: map[string]*mat.Dense{"temp": cov},
	}
	fit, err := Evaluate(series, ctrl, []float64{0, 0})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if _, err := fit.PredictiveMoments(1); err == nil {
		t.Error("expected an error for forecasting past the covariate rows")
	}
	if _, err := fit.PredictiveMoments(0); err == nil {
		t.Error("expected an error for a zero horizon")
	}
}

func TestStationaryMoments(t *testing.T) {
	series := singleUnitSeries(t)
	nu, lambda := 2.0, 0.5

	ctrl := Control{Family: Poisson, AR: ComponentControl{Enabled: true}}
	fit, err := Evaluate(series, ctrl, []float64{math.Log(nu), math.Log(lambda)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	mom, err := fit.StationaryMoments(1e-10, 0)
	if err != nil {
		t.Fatalf("StationaryMoments: %v", err)
	}

	// Without seasonality the stationary law is the same in every
	// period: mean nu/(1-lambda), variance mean/(1-lambda^2).
	wantMean := nu / (1 - lambda)
	wantVar := wantMean / (1 - lambda*lambda)
	rows, _ := mom.Mean.Dims()
	if rows != series.Freq() {
		t.Fatalf("got %d cycle rows, want %d", rows, series.Freq())
	}
	for p := 0; p < rows; p++ {
		if got := mom.Mean.At(p, 0); math.Abs(got-wantMean) > 1e-6 {
			t.Errorf("stationary mean at period %d = %v, want %v", p+1, got, wantMean)
		}
		if got := mom.Cov[p].At(0, 0); math.Abs(got-wantVar) > 1e-6 {
			t.Errorf("stationary variance at period %d = %v, want %v", p+1, got, wantVar)
		}
	}
}

func TestStationaryMomentsRejectsTrend(t *testing.T) {
	series := singleUnitSeries(t)

	ctrl := Control{Family: Poisson, Endemic: ComponentControl{Trend: true}}
	fit, err := Evaluate(series, ctrl, []float64{0, 0})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, err := fit.StationaryMoments(0, 0); err == nil {
		t.Error("expected an error for a trend model")
	}
}
