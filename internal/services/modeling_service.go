package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"surveillance-platform/internal/geo"
	"surveillance-platform/internal/hhh4"
	"surveillance-platform/internal/models"
	"surveillance-platform/internal/repository"
	"surveillance-platform/internal/sts"
	"surveillance-platform/pkg/logging"
	"surveillance-platform/pkg/metrics"
)

// ComponentSpec is the JSON shape of one model component.
type ComponentSpec struct {
	Enabled        bool     `json:"enabled"`
	UnitIntercepts bool     `json:"unit_intercepts,omitempty"`
	Trend          bool     `json:"trend,omitempty"`
	Seasons        int      `json:"seasons,omitempty"`
	Covariates     []string `json:"covariates,omitempty"`
}

// WeightsSpec is the JSON shape of the neighbourhood weight settings.
type WeightsSpec struct {
	Scheme        string  `json:"scheme"` // "adjacency" or "powerlaw"
	MaxOrder      int     `json:"max_order,omitempty"`
	Decay         float64 `json:"decay,omitempty"`
	EstimateDecay bool    `json:"estimate_decay,omitempty"`
}

// LagsSpec is the JSON shape of the lag distribution settings.
type LagsSpec struct {
	Scheme        string  `json:"scheme"` // "first", "geometric" or "poisson"
	MaxLag        int     `json:"max_lag,omitempty"`
	Decay         float64 `json:"decay,omitempty"`
	EstimateDecay bool    `json:"estimate_decay,omitempty"`
}

// ControlSpec is the serializable model specification accepted by the
// API and stored verbatim on every model run.
type ControlSpec struct {
	Family           string        `json:"family"` // "poisson", "negbin" or "negbinM"
	Endemic          ComponentSpec `json:"endemic"`
	AR               ComponentSpec `json:"ar"`
	Neighbourhood    ComponentSpec `json:"neighbourhood"`
	PopulationOffset bool          `json:"population_offset,omitempty"`
	Weights          WeightsSpec   `json:"weights"`
	Lags             LagsSpec      `json:"lags"`
	Start            int           `json:"start,omitempty"`
	End              int           `json:"end,omitempty"`
	MaxIter          int           `json:"max_iter,omitempty"`
}

// ModelingService builds count series from stored data, estimates
// models and persists runs and forecasts.
type ModelingService struct {
	repo       repository.SurveillanceRepository
	loader     *geo.Loader
	boundaries BoundaryConfig
	frequency  int
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// BoundaryConfig points the service at the region boundary source.
type BoundaryConfig struct {
	URL        string
	IDProperty string
}

// NewModelingService creates a new modeling service
func NewModelingService(
	repo repository.SurveillanceRepository,
	loader *geo.Loader,
	boundaries BoundaryConfig,
	frequency int,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ModelingService {
	return &ModelingService{
		repo:       repo,
		loader:     loader,
		boundaries: boundaries,
		frequency:  frequency,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// BuildSeries assembles the multivariate count series from stored case
// counts: one column per region sorted by code, one row per calendar
// period, missing cells filled with zero. Population fractions and the
// neighbourhood order matrix are attached when available.
func (s *ModelingService) BuildSeries(ctx context.Context) (*sts.CountSeries, error) {
	regions, err := s.repo.ListRegions(ctx)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("no regions ingested")
	}

	counts, err := s.repo.ListAllCaseCounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("no case counts ingested")
	}

	colOf := make(map[string]int, len(regions))
	units := make([]string, len(regions))
	for i, r := range regions {
		colOf[r.Code] = i
		units[i] = r.Code
	}

	first, last := counts[0].Period, counts[0].Period
	for _, c := range counts {
		if c.Period.Before(first) {
			first = c.Period
		}
		if c.Period.After(last) {
			last = c.Period
		}
	}
	rows := monthsBetween(first, last) + 1

	matrix := mat.NewDense(rows, len(regions), nil)
	for _, c := range counts {
		col, ok := colOf[c.RegionCode]
		if !ok {
			return nil, fmt.Errorf("case count references unknown region %s", c.RegionCode)
		}
		matrix.Set(monthsBetween(first, c.Period), col, float64(c.Count))
	}

	series, err := sts.New(matrix, units, s.frequency, first.Year(), int(first.Month()))
	if err != nil {
		return nil, fmt.Errorf("failed to build series: %w", err)
	}

	if pop, ok := populationOf(regions); ok {
		series, err = series.WithPopulation(pop)
		if err != nil {
			return nil, fmt.Errorf("failed to attach population: %w", err)
		}
	}

	if s.boundaries.URL != "" {
		order, err := s.neighbourhoodOrders(ctx, units)
		if err != nil {
			return nil, err
		}
		series, err = series.WithNeighbourhood(order)
		if err != nil {
			return nil, fmt.Errorf("failed to attach neighbourhood: %w", err)
		}
	}

	s.logger.Debug(ctx, "[MODEL_SERIES] Count series assembled", logging.Fields{
		"periods": rows,
		"regions": len(regions),
	})
	return series, nil
}

// neighbourhoodOrders derives the order matrix for the given unit
// layout from the configured boundary file.
func (s *ModelingService) neighbourhoodOrders(ctx context.Context, units []string) (*mat.Dense, error) {
	fc, err := s.loader.LoadBoundaries(ctx, "regions", s.boundaries.URL)
	if err != nil {
		return nil, err
	}

	boundaryUnits, adj, err := geo.Adjacency(fc, s.boundaries.IDProperty)
	if err != nil {
		return nil, err
	}

	// The boundary file must cover every ingested region; both sides
	// are sorted by code.
	idx := make(map[string]int, len(boundaryUnits))
	for i, u := range boundaryUnits {
		idx[u] = i
	}
	sel := make([]int, len(units))
	for i, u := range units {
		j, ok := idx[u]
		if !ok {
			return nil, fmt.Errorf("region %s has no boundary feature", u)
		}
		sel[i] = j
	}

	sub := mat.NewDense(len(units), len(units), nil)
	for a, i := range sel {
		for b, j := range sel {
			sub.Set(a, b, adj.At(i, j))
		}
	}
	return geo.NeighbourhoodOrders(sub)
}

// FitModel estimates the specified model on the stored data and
// persists the run.
func (s *ModelingService) FitModel(ctx context.Context, name string, spec ControlSpec) (*models.ModelRun, *hhh4.Fit, error) {
	series, err := s.BuildSeries(ctx)
	if err != nil {
		return nil, nil, err
	}

	ctrl, err := s.buildControl(ctx, series, spec)
	if err != nil {
		return nil, nil, err
	}

	startTime := time.Now()
	fit, err := hhh4.Estimate(series, ctrl)
	if err != nil {
		s.metrics.RecordModelFit(spec.Family, false, time.Since(startTime))
		return nil, nil, fmt.Errorf("model estimation failed: %w", err)
	}
	s.metrics.RecordModelFit(spec.Family, fit.Converged, time.Since(startTime))

	// Freeze estimated decay values so the stored spec reproduces the
	// fit without re-optimization.
	stored := spec
	stored.Start = fit.Control.Start
	stored.End = fit.Control.End
	if stored.Weights.EstimateDecay {
		stored.Weights.Decay = fit.NbDecay
		stored.Weights.EstimateDecay = false
	}
	if stored.Lags.EstimateDecay {
		stored.Lags.Decay = fit.LagDecay
		stored.Lags.EstimateDecay = false
	}

	controlJSON, err := json.Marshal(stored)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize control: %w", err)
	}
	coefJSON, err := json.Marshal(map[string]interface{}{
		"names":  fit.CoefNames,
		"values": fit.Coefficients,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize coefficients: %w", err)
	}

	run := &models.ModelRun{
		Name:        name,
		Family:      spec.Family,
		ControlJSON: string(controlJSON),
		CoefJSON:    string(coefJSON),
		LogLik:      fit.LogLik,
		AIC:         fit.AIC,
		BIC:         fit.BIC,
		Converged:   fit.Converged,
		WindowStart: fit.Control.Start,
		WindowEnd:   fit.Control.End,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateModelRun(ctx, run); err != nil {
		return nil, nil, err
	}

	s.logger.Info(ctx, "[MODEL_FIT] Model estimated and stored", logging.Fields{
		"run_id":    run.ID,
		"name":      name,
		"family":    spec.Family,
		"log_lik":   fit.LogLik,
		"aic":       fit.AIC,
		"converged": fit.Converged,
	})

	return run, fit, nil
}

// LoadFit reconstructs the fit of a persisted model run from its stored
// control and coefficients.
func (s *ModelingService) LoadFit(ctx context.Context, runID int64) (*models.ModelRun, *hhh4.Fit, error) {
	run, err := s.repo.GetModelRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}

	var spec ControlSpec
	if err := json.Unmarshal([]byte(run.ControlJSON), &spec); err != nil {
		return nil, nil, fmt.Errorf("stored control of run %d is corrupt: %w", runID, err)
	}
	var coefs struct {
		Names  []string  `json:"names"`
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal([]byte(run.CoefJSON), &coefs); err != nil {
		return nil, nil, fmt.Errorf("stored coefficients of run %d are corrupt: %w", runID, err)
	}

	series, err := s.BuildSeries(ctx)
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := s.buildControl(ctx, series, spec)
	if err != nil {
		return nil, nil, err
	}

	fit, err := hhh4.Evaluate(series, ctrl, coefs.Values)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reconstruct run %d: %w", runID, err)
	}
	return run, fit, nil
}

// ResidualMatrix holds Pearson residuals with their row and column
// labels.
type ResidualMatrix struct {
	Units     []string
	Periods   []time.Time
	Residuals *mat.Dense
}

// Residuals computes the Pearson residual matrix of a persisted run.
func (s *ModelingService) Residuals(ctx context.Context, runID int64) (*ResidualMatrix, error) {
	run, fit, err := s.LoadFit(ctx, runID)
	if err != nil {
		return nil, err
	}

	res, err := fit.PearsonResiduals()
	if err != nil {
		return nil, err
	}

	periods := make([]time.Time, 0, run.WindowEnd-run.WindowStart)
	for t := run.WindowStart; t < run.WindowEnd; t++ {
		periods = append(periods, periodTime(fit.Series(), t))
	}

	return &ResidualMatrix{
		Units:     fit.Units(),
		Periods:   periods,
		Residuals: res,
	}, nil
}

// OneStepAhead runs rolling one-step-ahead forecasts for a persisted
// run over series rows [from, to) and stores the scored predictions.
func (s *ModelingService) OneStepAhead(ctx context.Context, runID int64, from, to int) (*hhh4.OneStepAhead, error) {
	run, fit, err := s.LoadFit(ctx, runID)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	osa, err := fit.OneStepAhead(from, to)
	if err != nil {
		return nil, err
	}
	s.metrics.ForecastDuration.Observe(time.Since(startTime).Seconds())

	series := fit.Series()
	rows := make([]*models.ForecastRow, 0, (to-from)*len(osa.Units))
	for t := 0; t < to-from; t++ {
		period := periodTime(series, from+t)
		for i, unit := range osa.Units {
			row := &models.ForecastRow{
				ModelRunID:    run.ID,
				RegionCode:    unit,
				Period:        period,
				Observed:      int(osa.Observed.At(t, i)),
				PredictedMean: osa.Mean.At(t, i),
				LogScore:      osa.LogScores.At(t, i),
				SqErrScore:    osa.SqErrors.At(t, i),
				DSScore:       osa.DSScores.At(t, i),
				RPScore:       osa.RPScores.At(t, i),
				CreatedAt:     time.Now().UTC(),
			}
			if psi := osa.Psi.At(t, i); !math.IsInf(psi, 1) {
				row.Dispersion = &psi
			}
			rows = append(rows, row)
		}
	}
	if err := s.repo.CreateForecastsBatch(ctx, rows); err != nil {
		return nil, err
	}

	logS, ses, dss, rps := osa.MeanScores()
	s.logger.Info(ctx, "[MODEL_FORECAST] One-step-ahead run stored", logging.Fields{
		"run_id":         run.ID,
		"from":           from,
		"to":             to,
		"mean_log_score": logS,
		"mean_sq_err":    ses,
		"mean_dss":       dss,
		"mean_rps":       rps,
	})

	return osa, nil
}

// PredictiveMoments computes predictive means and covariances past the
// fitting window of a persisted run.
func (s *ModelingService) PredictiveMoments(ctx context.Context, runID int64, horizon int) (*hhh4.Moments, error) {
	_, fit, err := s.LoadFit(ctx, runID)
	if err != nil {
		return nil, err
	}
	return fit.PredictiveMoments(horizon)
}

// buildControl resolves a ControlSpec against a series, loading the
// referenced covariates into aligned matrices.
func (s *ModelingService) buildControl(ctx context.Context, series *sts.CountSeries, spec ControlSpec) (hhh4.Control, error) {
	var ctrl hhh4.Control

	family, err := parseFamily(spec.Family)
	if err != nil {
		return ctrl, err
	}
	weights, err := parseWeights(spec.Weights)
	if err != nil {
		return ctrl, err
	}
	lags, err := parseLags(spec.Lags)
	if err != nil {
		return ctrl, err
	}

	ctrl = hhh4.Control{
		Endemic:          toComponent(spec.Endemic),
		AR:               toComponent(spec.AR),
		Neighbourhood:    toComponent(spec.Neighbourhood),
		Family:           family,
		PopulationOffset: spec.PopulationOffset,
		Weights:          weights,
		Lags:             lags,
		Start:            spec.Start,
		End:              spec.End,
		MaxIter:          spec.MaxIter,
	}

	names := make(map[string]bool)
	for _, comp := range []ComponentSpec{spec.Endemic, spec.AR, spec.Neighbourhood} {
		for _, n := range comp.Covariates {
			names[n] = true
		}
	}
	if len(names) > 0 {
		ctrl.Covariates = make(map[string]*mat.Dense, len(names))
		for n := range names {
			m, err := s.covariateMatrix(ctx, series, n)
			if err != nil {
				return ctrl, err
			}
			ctrl.Covariates[n] = m
		}
	}

	return ctrl, nil
}

// covariateMatrix pivots stored covariate values into a matrix aligned
// with the series. Every (period, region) cell must be covered.
func (s *ModelingService) covariateMatrix(ctx context.Context, series *sts.CountSeries, name string) (*mat.Dense, error) {
	values, err := s.repo.ListCovariateValues(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("covariate %q has no stored values", name)
	}

	colOf := make(map[string]int)
	for i, u := range series.Units() {
		colOf[u] = i
	}
	startYear, startPeriod := series.Start()
	origin := time.Date(startYear, time.Month(startPeriod), 1, 0, 0, 0, 0, time.UTC)

	rows, k := series.Len(), series.NumUnits()
	m := mat.NewDense(rows, k, nil)
	filled := mat.NewDense(rows, k, nil)

	for _, v := range values {
		col, ok := colOf[v.RegionCode]
		if !ok {
			continue
		}
		row := monthsBetween(origin, v.Period)
		if row < 0 || row >= rows {
			continue
		}
		m.Set(row, col, v.Value)
		filled.Set(row, col, 1)
	}

	missing := 0
	for t := 0; t < rows; t++ {
		for i := 0; i < k; i++ {
			if filled.At(t, i) == 0 {
				missing++
			}
		}
	}
	if missing > 0 {
		return nil, fmt.Errorf("covariate %q is missing %d of %d cells", name, missing, rows*k)
	}

	return m, nil
}

func toComponent(spec ComponentSpec) hhh4.ComponentControl {
	return hhh4.ComponentControl{
		Enabled:        spec.Enabled,
		UnitIntercepts: spec.UnitIntercepts,
		Trend:          spec.Trend,
		Seasons:        spec.Seasons,
		Covariates:     spec.Covariates,
	}
}

func parseFamily(name string) (hhh4.Family, error) {
	switch name {
	case "poisson":
		return hhh4.Poisson, nil
	case "negbin":
		return hhh4.NegBin, nil
	case "negbinM":
		return hhh4.NegBinM, nil
	default:
		return 0, fmt.Errorf("unknown family %q", name)
	}
}

func parseWeights(spec WeightsSpec) (hhh4.WeightsControl, error) {
	out := hhh4.WeightsControl{
		MaxOrder:      spec.MaxOrder,
		Decay:         spec.Decay,
		EstimateDecay: spec.EstimateDecay,
	}
	switch spec.Scheme {
	case "", "adjacency":
		out.Scheme = hhh4.AdjacencyWeights
	case "powerlaw":
		out.Scheme = hhh4.PowerLawWeights
	default:
		return out, fmt.Errorf("unknown weight scheme %q", spec.Scheme)
	}
	return out, nil
}

func parseLags(spec LagsSpec) (hhh4.LagControl, error) {
	out := hhh4.LagControl{
		MaxLag:        spec.MaxLag,
		Decay:         spec.Decay,
		EstimateDecay: spec.EstimateDecay,
	}
	switch spec.Scheme {
	case "", "first":
		out.Scheme = hhh4.FirstLag
	case "geometric":
		out.Scheme = hhh4.GeometricLags
	case "poisson":
		out.Scheme = hhh4.PoissonLags
	default:
		return out, fmt.Errorf("unknown lag scheme %q", spec.Scheme)
	}
	return out, nil
}

func populationOf(regions []*models.Region) ([]float64, bool) {
	pop := make([]float64, len(regions))
	for i, r := range regions {
		if r.Population == nil || *r.Population <= 0 {
			return nil, false
		}
		pop[i] = float64(*r.Population)
	}
	return pop, true
}

// monthsBetween counts whole months from a to b, both taken as
// month-start dates.
func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

func periodTime(series *sts.CountSeries, t int) time.Time {
	year, period := series.PeriodOf(t)
	return time.Date(year, time.Month(period), 1, 0, 0, 0, 0, time.UTC)
}
