package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"surveillance-platform/internal/models"
	"surveillance-platform/internal/repository"
	"surveillance-platform/pkg/logging"
	"surveillance-platform/pkg/metrics"
)

var testMetrics = metrics.NewCollector("services_test")

func testLogger() *logging.StructuredLogger {
	l := logging.NewStructuredLogger("services-test", "dev", logging.ErrorLevel)
	l.SetOutput(io.Discard)
	return l
}

// fakeRepo is an in-memory SurveillanceRepository for service tests.
type fakeRepo struct {
	regions    map[string]*models.Region
	counts     []*models.CaseCount
	covariates []*models.CovariateValue
	runs       []*models.ModelRun
	forecasts  []*models.ForecastRow
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{regions: make(map[string]*models.Region)}
}

var _ repository.SurveillanceRepository = (*fakeRepo)(nil)

func (f *fakeRepo) UpsertRegion(ctx context.Context, region *models.Region) error {
	if existing, ok := f.regions[region.Code]; ok {
		existing.Name = region.Name
		if region.Population != nil {
			existing.Population = region.Population
		}
		return nil
	}
	clone := *region
	f.regions[region.Code] = &clone
	return nil
}

func (f *fakeRepo) GetRegion(ctx context.Context, code string) (*models.Region, error) {
	if r, ok := f.regions[code]; ok {
		return r, nil
	}
	return nil, &repository.NotFoundError{Resource: "region", ID: code}
}

func (f *fakeRepo) ListRegions(ctx context.Context) ([]*models.Region, error) {
	out := make([]*models.Region, 0, len(f.regions))
	for _, r := range f.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (f *fakeRepo) CreateCaseCountsBatch(ctx context.Context, counts []*models.CaseCount) error {
	for _, c := range counts {
		dup := false
		for _, have := range f.counts {
			if have.RegionCode == c.RegionCode && have.Period.Equal(c.Period) {
				dup = true
				break
			}
		}
		if !dup {
			clone := *c
			f.counts = append(f.counts, &clone)
		}
	}
	return nil
}

func (f *fakeRepo) GetCaseCounts(ctx context.Context, filter repository.CaseCountFilter) ([]*models.CaseCount, int, error) {
	all, _ := f.ListAllCaseCounts(ctx)
	var matched []*models.CaseCount
	for _, c := range all {
		if filter.RegionCode != nil && c.RegionCode != *filter.RegionCode {
			continue
		}
		if filter.From != nil && c.Period.Before(*filter.From) {
			continue
		}
		if filter.To != nil && c.Period.After(*filter.To) {
			continue
		}
		matched = append(matched, c)
	}
	total := len(matched)
	if filter.Offset < len(matched) {
		matched = matched[filter.Offset:]
	} else {
		matched = nil
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (f *fakeRepo) ListAllCaseCounts(ctx context.Context) ([]*models.CaseCount, error) {
	out := append([]*models.CaseCount(nil), f.counts...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Period.Equal(out[j].Period) {
			return out[i].Period.Before(out[j].Period)
		}
		return out[i].RegionCode < out[j].RegionCode
	})
	return out, nil
}

func (f *fakeRepo) CreateCovariatesBatch(ctx context.Context, values []*models.CovariateValue) error {
	for _, v := range values {
		clone := *v
		f.covariates = append(f.covariates, &clone)
	}
	return nil
}

func (f *fakeRepo) ListCovariateValues(ctx context.Context, name string) ([]*models.CovariateValue, error) {
	var out []*models.CovariateValue
	for _, v := range f.covariates {
		if v.Name == name {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateModelRun(ctx context.Context, run *models.ModelRun) error {
	run.ID = int64(len(f.runs) + 1)
	clone := *run
	f.runs = append(f.runs, &clone)
	return nil
}

func (f *fakeRepo) GetModelRun(ctx context.Context, id int64) (*models.ModelRun, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, &repository.NotFoundError{Resource: "model_run", ID: fmt.Sprint(id)}
}

func (f *fakeRepo) ListModelRuns(ctx context.Context, limit, offset int) ([]*models.ModelRun, int, error) {
	total := len(f.runs)
	out := append([]*models.ModelRun(nil), f.runs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeRepo) CreateForecastsBatch(ctx context.Context, rows []*models.ForecastRow) error {
	for _, r := range rows {
		clone := *r
		f.forecasts = append(f.forecasts, &clone)
	}
	return nil
}

func (f *fakeRepo) GetForecasts(ctx context.Context, modelRunID int64) ([]*models.ForecastRow, error) {
	var out []*models.ForecastRow
	for _, r := range f.forecasts {
		if r.ModelRunID == modelRunID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) HealthCheck(ctx context.Context) error { return nil }

// seedCounts loads a deterministic two-region monthly panel.
func seedCounts(f *fakeRepo, months int) {
	for _, code := range []string{"north", "south"} {
		pop := int64(100000)
		f.regions[code] = &models.Region{Code: code, Name: code, Population: &pop}
	}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for m := 0; m < months; m++ {
		period := start.AddDate(0, m, 0)
		f.counts = append(f.counts,
			&models.CaseCount{RegionCode: "north", Period: period, Count: 4 + m%5},
			&models.CaseCount{RegionCode: "south", Period: period, Count: 6 + m%3},
		)
	}
}
