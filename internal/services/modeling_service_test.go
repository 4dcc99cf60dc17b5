package services

import (
	"context"
	"math"
	"testing"
	"time"

	"surveillance-platform/internal/models"
)

func newModelingService(repo *fakeRepo) *ModelingService {
	return NewModelingService(repo, nil, BoundaryConfig{}, 12, testLogger(), testMetrics)
}

func TestBuildSeries(t *testing.T) {
	repo := newFakeRepo()
	seedCounts(repo, 24)

	svc := newModelingService(repo)
	series, err := svc.BuildSeries(context.Background())
	if err != nil {
		t.Fatalf("BuildSeries: %v", err)
	}

	if series.Len() != 24 {
		t.Errorf("series length = %d, want 24", series.Len())
	}
	if series.NumUnits() != 2 {
		t.Errorf("units = %d, want 2", series.NumUnits())
	}
	units := series.Units()
	if units[0] != "north" || units[1] != "south" {
		t.Errorf("units = %v, want [north south]", units)
	}
	year, period := series.Start()
	if year != 2020 || period != 1 {
		t.Errorf("start = (%d, %d), want (2020, 1)", year, period)
	}

	// Equal populations give equal fractions.
	pop := series.Population()
	if pop == nil || math.Abs(pop[0]-0.5) > 1e-12 {
		t.Errorf("population fractions = %v, want [0.5 0.5]", pop)
	}

	if got := series.At(0, 0); got != 4 {
		t.Errorf("first north count = %v, want 4", got)
	}
}

func TestBuildSeriesFillsMissingCellsWithZero(t *testing.T) {
	repo := newFakeRepo()
	repo.regions["a"] = &models.Region{Code: "a", Name: "a"}
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.counts = append(repo.counts,
		&models.CaseCount{RegionCode: "a", Period: start, Count: 3},
		&models.CaseCount{RegionCode: "a", Period: start.AddDate(0, 2, 0), Count: 5},
	)

	series, err := newModelingService(repo).BuildSeries(context.Background())
	if err != nil {
		t.Fatalf("BuildSeries: %v", err)
	}
	if series.Len() != 3 {
		t.Fatalf("series length = %d, want 3", series.Len())
	}
	if got := series.At(1, 0); got != 0 {
		t.Errorf("missing month = %v, want 0", got)
	}
}

func TestBuildSeriesErrorsWithoutData(t *testing.T) {
	if _, err := newModelingService(newFakeRepo()).BuildSeries(context.Background()); err == nil {
		t.Error("expected an error with no regions")
	}
}

func TestFitModelPersistsAndReloads(t *testing.T) {
	repo := newFakeRepo()
	seedCounts(repo, 36)
	svc := newModelingService(repo)
	ctx := context.Background()

	spec := ControlSpec{
		Family:  "poisson",
		Endemic: ComponentSpec{Enabled: true, Seasons: 1},
		AR:      ComponentSpec{Enabled: true},
	}

	run, fit, err := svc.FitModel(ctx, "baseline", spec)
	if err != nil {
		t.Fatalf("FitModel: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("run not assigned an ID")
	}
	if run.Family != "poisson" || run.Name != "baseline" {
		t.Errorf("run metadata = %+v", run)
	}
	if !fit.Converged {
		t.Error("fit did not converge")
	}

	// Reconstruction must reproduce the likelihood exactly.
	_, reloaded, err := svc.LoadFit(ctx, run.ID)
	if err != nil {
		t.Fatalf("LoadFit: %v", err)
	}
	if math.Abs(reloaded.LogLik-fit.LogLik) > 1e-9 {
		t.Errorf("reloaded log-likelihood = %v, want %v", reloaded.LogLik, fit.LogLik)
	}
	if len(reloaded.Coefficients) != len(fit.Coefficients) {
		t.Errorf("reloaded %d coefficients, want %d", len(reloaded.Coefficients), len(fit.Coefficients))
	}
}

func TestResiduals(t *testing.T) {
	repo := newFakeRepo()
	seedCounts(repo, 36)
	svc := newModelingService(repo)
	ctx := context.Background()

	run, _, err := svc.FitModel(ctx, "baseline", ControlSpec{
		Family:  "poisson",
		Endemic: ComponentSpec{Enabled: true},
	})
	if err != nil {
		t.Fatalf("FitModel: %v", err)
	}

	res, err := svc.Residuals(ctx, run.ID)
	if err != nil {
		t.Fatalf("Residuals: %v", err)
	}
	rows, cols := res.Residuals.Dims()
	if rows != run.WindowEnd-run.WindowStart || cols != 2 {
		t.Errorf("residuals are %dx%d, want %dx2", rows, cols, run.WindowEnd-run.WindowStart)
	}
	if len(res.Periods) != rows {
		t.Errorf("%d period labels for %d rows", len(res.Periods), rows)
	}
	if res.Periods[0] != time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("first residual period = %v, want 2020-02-01", res.Periods[0])
	}
}

func TestOneStepAheadPersistsForecasts(t *testing.T) {
	repo := newFakeRepo()
	seedCounts(repo, 36)
	svc := newModelingService(repo)
	ctx := context.Background()

	run, _, err := svc.FitModel(ctx, "baseline", ControlSpec{
		Family:  "poisson",
		Endemic: ComponentSpec{Enabled: true},
	})
	if err != nil {
		t.Fatalf("FitModel: %v", err)
	}

	osa, err := svc.OneStepAhead(ctx, run.ID, 30, 33)
	if err != nil {
		t.Fatalf("OneStepAhead: %v", err)
	}
	rows, _ := osa.Mean.Dims()
	if rows != 3 {
		t.Errorf("forecast rows = %d, want 3", rows)
	}

	stored, err := repo.GetForecasts(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetForecasts: %v", err)
	}
	if len(stored) != 6 {
		t.Fatalf("stored %d forecast rows, want 6", len(stored))
	}
	if stored[0].Dispersion != nil {
		t.Error("poisson forecast carries a dispersion value")
	}
	if stored[0].Period != time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("first forecast period = %v, want 2022-07-01", stored[0].Period)
	}
}

func TestControlSpecValidation(t *testing.T) {
	repo := newFakeRepo()
	seedCounts(repo, 24)
	svc := newModelingService(repo)
	ctx := context.Background()

	cases := []struct {
		name string
		spec ControlSpec
	}{
		{"unknown family", ControlSpec{Family: "gaussian"}},
		{"unknown weight scheme", ControlSpec{Family: "poisson", Weights: WeightsSpec{Scheme: "inverse"}}},
		{"unknown lag scheme", ControlSpec{Family: "poisson", Lags: LagsSpec{Scheme: "uniform"}}},
		{"missing covariate", ControlSpec{
			Family:  "poisson",
			Endemic: ComponentSpec{Enabled: true, Covariates: []string{"temperature"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.FitModel(ctx, "bad", tc.spec); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
