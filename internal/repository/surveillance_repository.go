package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"surveillance-platform/internal/models"
	"surveillance-platform/pkg/database"
	"surveillance-platform/pkg/logging"
	"surveillance-platform/pkg/metrics"
)

// SurveillanceRepository provides data access for surveillance data and
// model artifacts
type SurveillanceRepository interface {
	// Region operations
	UpsertRegion(ctx context.Context, region *models.Region) error
	GetRegion(ctx context.Context, code string) (*models.Region, error)
	ListRegions(ctx context.Context) ([]*models.Region, error)

	// Case count operations
	CreateCaseCountsBatch(ctx context.Context, counts []*models.CaseCount) error
	GetCaseCounts(ctx context.Context, filter CaseCountFilter) ([]*models.CaseCount, int, error)
	ListAllCaseCounts(ctx context.Context) ([]*models.CaseCount, error)

	// Covariate operations
	CreateCovariatesBatch(ctx context.Context, values []*models.CovariateValue) error
	ListCovariateValues(ctx context.Context, name string) ([]*models.CovariateValue, error)

	// Model run operations
	CreateModelRun(ctx context.Context, run *models.ModelRun) error
	GetModelRun(ctx context.Context, id int64) (*models.ModelRun, error)
	ListModelRuns(ctx context.Context, limit, offset int) ([]*models.ModelRun, int, error)

	// Forecast operations
	CreateForecastsBatch(ctx context.Context, rows []*models.ForecastRow) error
	GetForecasts(ctx context.Context, modelRunID int64) ([]*models.ForecastRow, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// CaseCountFilter defines filters for querying case counts
type CaseCountFilter struct {
	RegionCode *string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// surveillanceRepository implements SurveillanceRepository
type surveillanceRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSurveillanceRepository creates a new surveillance repository
func NewSurveillanceRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) SurveillanceRepository {
	return &surveillanceRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// UpsertRegion creates a region or refreshes its name and population
func (r *surveillanceRepository) UpsertRegion(ctx context.Context, region *models.Region) error {
	query := `
		INSERT INTO regions (code, name, population, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			population = COALESCE(EXCLUDED.population, regions.population),
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, "upsert_region", query,
		region.Code,
		region.Name,
		region.Population,
		region.CreatedAt,
		region.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert region: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_UPSERT_REGION] Region stored", logging.Fields{
		"code": region.Code,
		"name": region.Name,
	})

	return nil
}

// GetRegion retrieves a region by code
func (r *surveillanceRepository) GetRegion(ctx context.Context, code string) (*models.Region, error) {
	query := `
		SELECT code, name, population, created_at, updated_at
		FROM regions
		WHERE code = $1
	`

	var region models.Region
	err := r.db.GetContext(ctx, "get_region", &region, query, code)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "region", ID: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get region: %w", err)
	}

	return &region, nil
}

// ListRegions retrieves all regions ordered by code
func (r *surveillanceRepository) ListRegions(ctx context.Context) ([]*models.Region, error) {
	query := `
		SELECT code, name, population, created_at, updated_at
		FROM regions
		ORDER BY code
	`

	var regions []*models.Region
	if err := r.db.SelectContext(ctx, "list_regions", &regions, query); err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}

	return regions, nil
}

// CreateCaseCountsBatch inserts case counts in a single transaction.
// Existing (region, period) rows are left untouched: reported counts
// are immutable once ingested.
func (r *surveillanceRepository) CreateCaseCountsBatch(ctx context.Context, counts []*models.CaseCount) error {
	if len(counts) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(counts)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Case count batch completed", logging.Fields{
			"count":       len(counts),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO case_counts (region_code, period, count, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (region_code, period) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range counts {
		if _, err := stmt.ExecContext(ctx, c.RegionCode, c.Period, c.Count, c.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert case count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(counts)))

	return nil
}

// GetCaseCounts retrieves case counts with filtering and pagination
func (r *surveillanceRepository) GetCaseCounts(ctx context.Context, filter CaseCountFilter) ([]*models.CaseCount, int, error) {
	query := `
		SELECT id, region_code, period, count, created_at
		FROM case_counts
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.RegionCode != nil {
		query += fmt.Sprintf(" AND region_code = $%d", argNum)
		args = append(args, *filter.RegionCode)
		argNum++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND period >= $%d", argNum)
		args = append(args, *filter.From)
		argNum++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND period <= $%d", argNum)
		args = append(args, *filter.To)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_case_counts", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count case counts: %w", err)
	}

	query += " ORDER BY period, region_code"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var counts []*models.CaseCount
	if err := r.db.SelectContext(ctx, "get_case_counts", &counts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get case counts: %w", err)
	}

	return counts, totalCount, nil
}

// ListAllCaseCounts retrieves every case count ordered by period and
// region, the layout the series builder expects.
func (r *surveillanceRepository) ListAllCaseCounts(ctx context.Context) ([]*models.CaseCount, error) {
	query := `
		SELECT id, region_code, period, count, created_at
		FROM case_counts
		ORDER BY period, region_code
	`

	var counts []*models.CaseCount
	if err := r.db.SelectContext(ctx, "list_all_case_counts", &counts, query); err != nil {
		return nil, fmt.Errorf("failed to list case counts: %w", err)
	}

	return counts, nil
}

// CreateCovariatesBatch inserts covariate values in a single
// transaction, replacing earlier values for the same cell.
func (r *surveillanceRepository) CreateCovariatesBatch(ctx context.Context, values []*models.CovariateValue) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO covariate_values (region_code, period, name, value, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (region_code, period, name) DO UPDATE SET
			value = EXCLUDED.value
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, v := range values {
		if _, err := stmt.ExecContext(ctx, v.RegionCode, v.Period, v.Name, v.Value, v.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert covariate value: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListCovariateValues retrieves all values of one covariate ordered by
// period and region
func (r *surveillanceRepository) ListCovariateValues(ctx context.Context, name string) ([]*models.CovariateValue, error) {
	query := `
		SELECT id, region_code, period, name, value, created_at
		FROM covariate_values
		WHERE name = $1
		ORDER BY period, region_code
	`

	var values []*models.CovariateValue
	if err := r.db.SelectContext(ctx, "list_covariate_values", &values, query, name); err != nil {
		return nil, fmt.Errorf("failed to list covariate values: %w", err)
	}

	return values, nil
}

// CreateModelRun persists a model fit. Runs are append-only.
func (r *surveillanceRepository) CreateModelRun(ctx context.Context, run *models.ModelRun) error {
	query := `
		INSERT INTO model_runs (
			name, family, control_json, coef_json,
			log_lik, aic, bic, converged,
			window_start, window_end, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.DB().QueryRowContext(ctx, query,
		run.Name,
		run.Family,
		run.ControlJSON,
		run.CoefJSON,
		run.LogLik,
		run.AIC,
		run.BIC,
		run.Converged,
		run.WindowStart,
		run.WindowEnd,
		run.CreatedAt,
	).Scan(&run.ID)

	if err != nil {
		return fmt.Errorf("failed to create model run: %w", err)
	}

	r.logger.Info(ctx, "[REPO_CREATE_RUN] Model run stored", logging.Fields{
		"id":     run.ID,
		"name":   run.Name,
		"family": run.Family,
	})

	return nil
}

// GetModelRun retrieves a model run by ID
func (r *surveillanceRepository) GetModelRun(ctx context.Context, id int64) (*models.ModelRun, error) {
	query := `
		SELECT id, name, family, control_json, coef_json,
		       log_lik, aic, bic, converged,
		       window_start, window_end, created_at
		FROM model_runs
		WHERE id = $1
	`

	var run models.ModelRun
	err := r.db.GetContext(ctx, "get_model_run", &run, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "model_run", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model run: %w", err)
	}

	return &run, nil
}

// ListModelRuns retrieves model runs with pagination, newest first
func (r *surveillanceRepository) ListModelRuns(ctx context.Context, limit, offset int) ([]*models.ModelRun, int, error) {
	var totalCount int
	if err := r.db.GetContext(ctx, "count_model_runs", &totalCount, "SELECT COUNT(*) FROM model_runs"); err != nil {
		return nil, 0, fmt.Errorf("failed to count model runs: %w", err)
	}

	query := `
		SELECT id, name, family, control_json, coef_json,
		       log_lik, aic, bic, converged,
		       window_start, window_end, created_at
		FROM model_runs
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	var runs []*models.ModelRun
	if err := r.db.SelectContext(ctx, "list_model_runs", &runs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list model runs: %w", err)
	}

	return runs, totalCount, nil
}

// CreateForecastsBatch inserts forecast rows in a single transaction
func (r *surveillanceRepository) CreateForecastsBatch(ctx context.Context, rows []*models.ForecastRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO forecasts (
			model_run_id, region_code, period,
			observed, predicted_mean, dispersion,
			log_score, sq_err_score, ds_score, rp_score,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.ModelRunID,
			row.RegionCode,
			row.Period,
			row.Observed,
			row.PredictedMean,
			row.Dispersion,
			row.LogScore,
			row.SqErrScore,
			row.DSScore,
			row.RPScore,
			row.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert forecast row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetForecasts retrieves all forecast rows of a model run
func (r *surveillanceRepository) GetForecasts(ctx context.Context, modelRunID int64) ([]*models.ForecastRow, error) {
	query := `
		SELECT id, model_run_id, region_code, period,
		       observed, predicted_mean, dispersion,
		       log_score, sq_err_score, ds_score, rp_score,
		       created_at
		FROM forecasts
		WHERE model_run_id = $1
		ORDER BY period, region_code
	`

	var rows []*models.ForecastRow
	if err := r.db.SelectContext(ctx, "get_forecasts", &rows, query, modelRunID); err != nil {
		return nil, fmt.Errorf("failed to get forecasts: %w", err)
	}

	return rows, nil
}

// HealthCheck performs a repository health check
func (r *surveillanceRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
