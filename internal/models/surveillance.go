package models

import (
	"strconv"
	"strings"
	"time"
)

// Region represents a spatial surveillance unit (country or district).
type Region struct {
	Code       string    `json:"code" db:"code"`
	Name       string    `json:"name" db:"name"`
	Population *int64    `json:"population,omitempty" db:"population"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// CaseCount represents the reported case count of one region for one
// monthly period. Counts are immutable once ingested; model runs only
// read them.
type CaseCount struct {
	ID         int64     `json:"id" db:"id"`
	RegionCode string    `json:"region_code" db:"region_code"`
	Period     time.Time `json:"period" db:"period"` // first day of the month
	Count      int       `json:"count" db:"count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CovariateValue represents one covariate observation (e.g. mean
// temperature) for a region and period.
type CovariateValue struct {
	ID         int64     `json:"id" db:"id"`
	RegionCode string    `json:"region_code" db:"region_code"`
	Period     time.Time `json:"period" db:"period"`
	Name       string    `json:"name" db:"name"`
	Value      float64   `json:"value" db:"value"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ModelRun is the persisted record of a single model fit. Runs are
// append-only: a refit with changed terms produces a new row.
type ModelRun struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Family       string    `json:"family" db:"family"`
	ControlJSON  string    `json:"control" db:"control_json"`
	CoefJSON     string    `json:"coefficients" db:"coef_json"`
	LogLik       float64   `json:"log_likelihood" db:"log_lik"`
	AIC          float64   `json:"aic" db:"aic"`
	BIC          float64   `json:"bic" db:"bic"`
	Converged    bool      `json:"converged" db:"converged"`
	WindowStart  int       `json:"window_start" db:"window_start"`
	WindowEnd    int       `json:"window_end" db:"window_end"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ForecastRow is one persisted one-step-ahead prediction with its
// proper scores.
type ForecastRow struct {
	ID            int64     `json:"id" db:"id"`
	ModelRunID    int64     `json:"model_run_id" db:"model_run_id"`
	RegionCode    string    `json:"region_code" db:"region_code"`
	Period        time.Time `json:"period" db:"period"`
	Observed      int       `json:"observed" db:"observed"`
	PredictedMean float64   `json:"predicted_mean" db:"predicted_mean"`
	Dispersion    *float64  `json:"dispersion,omitempty" db:"dispersion"`
	LogScore      float64   `json:"log_score" db:"log_score"`
	SqErrScore    float64   `json:"sq_err_score" db:"sq_err_score"`
	DSScore       float64   `json:"ds_score" db:"ds_score"`
	RPScore       float64   `json:"rp_score" db:"rp_score"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// RawCaseRecord represents a single row from the compressed count CSV.
// Format: region code, YYYY-MM period, case count.
type RawCaseRecord struct {
	RegionCode string
	Period     string
	Count      string
}

// ToCaseCount validates and converts a raw CSV row into a CaseCount.
func (r *RawCaseRecord) ToCaseCount() (*CaseCount, error) {
	code := strings.TrimSpace(r.RegionCode)
	if code == "" {
		return nil, &ValidationError{
			Field:   "region_code",
			Value:   r.RegionCode,
			Message: "region code must not be empty",
		}
	}

	period, err := time.Parse("2006-01", strings.TrimSpace(r.Period))
	if err != nil {
		return nil, &ValidationError{
			Field:   "period",
			Value:   r.Period,
			Message: "invalid period format, expected YYYY-MM",
		}
	}

	count, err := strconv.Atoi(strings.TrimSpace(r.Count))
	if err != nil {
		return nil, &ValidationError{
			Field:   "count",
			Value:   r.Count,
			Message: "case count must be an integer",
		}
	}
	if count < 0 {
		return nil, &ValidationError{
			Field:   "count",
			Value:   r.Count,
			Message: "case count must be non-negative",
		}
	}

	return &CaseCount{
		RegionCode: code,
		Period:     period,
		Count:      count,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// ValidationError represents a data validation error.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent.
func (e *ValidationError) IsTransient() bool {
	return false
}
