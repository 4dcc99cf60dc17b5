package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"surveillance-platform/internal/repository"
	"surveillance-platform/internal/services"
	"surveillance-platform/pkg/logging"
	"surveillance-platform/pkg/metrics"
)

// SurveillanceHandler handles the surveillance and modeling API
type SurveillanceHandler struct {
	repo     repository.SurveillanceRepository
	modeling *services.ModelingService
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewSurveillanceHandler creates a new surveillance handler
func NewSurveillanceHandler(
	repo repository.SurveillanceRepository,
	modeling *services.ModelingService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *SurveillanceHandler {
	return &SurveillanceHandler{
		repo:     repo,
		modeling: modeling,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// GetRegions handles GET /api/regions
func (h *SurveillanceHandler) GetRegions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	regions, err := h.repo.ListRegions(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_REGIONS_ERROR] Failed to list regions", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/regions")
		h.sendError(w, r, "failed to retrieve regions", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/regions", "GET", "200")
	h.sendJSON(w, regions, http.StatusOK)
}

// GetCaseCounts handles GET /api/counts
func (h *SurveillanceHandler) GetCaseCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/counts").Observe(time.Since(startTime).Seconds())
	}()

	page, limit := parsePagination(r)
	filter := repository.CaseCountFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if region := r.URL.Query().Get("region"); region != "" {
		filter.RegionCode = &region
	}
	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse("2006-01", fromStr)
		if err != nil {
			h.sendError(w, r, "invalid from period, expected YYYY-MM", http.StatusBadRequest)
			return
		}
		filter.From = &from
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse("2006-01", toStr)
		if err != nil {
			h.sendError(w, r, "invalid to period, expected YYYY-MM", http.StatusBadRequest)
			return
		}
		filter.To = &to
	}

	counts, total, err := h.repo.GetCaseCounts(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_COUNTS_ERROR] Failed to get case counts", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/counts")
		h.sendError(w, r, "failed to retrieve case counts", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/counts", "GET", "200")
	h.sendJSON(w, PaginatedResponse{
		Data:       counts,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// FitModelRequest is the body of POST /api/models
type FitModelRequest struct {
	Name    string               `json:"name"`
	Control services.ControlSpec `json:"control"`
}

// FitModel handles POST /api/models
func (h *SurveillanceHandler) FitModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/models").Observe(time.Since(startTime).Seconds())
	}()

	var req FitModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.sendError(w, r, "model name must not be empty", http.StatusBadRequest)
		return
	}

	run, _, err := h.modeling.FitModel(ctx, req.Name, req.Control)
	if err != nil {
		h.logger.Error(ctx, "[API_FIT_MODEL_ERROR] Model fit failed", logging.Fields{
			"name":   req.Name,
			"family": req.Control.Family,
		}, err)
		h.metrics.RecordAPIError("fit_error", "/api/models")
		h.sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	h.metrics.RecordAPIRequest("/api/models", "POST", "201")
	h.sendJSON(w, run, http.StatusCreated)
}

// ListModels handles GET /api/models
func (h *SurveillanceHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, limit := parsePagination(r)
	runs, total, err := h.repo.ListModelRuns(ctx, limit, (page-1)*limit)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_MODELS_ERROR] Failed to list model runs", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/models")
		h.sendError(w, r, "failed to retrieve model runs", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/models", "GET", "200")
	h.sendJSON(w, PaginatedResponse{
		Data:       runs,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// GetModel handles GET /api/models/{id}
func (h *SurveillanceHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.modelID(w, r)
	if !ok {
		return
	}

	run, err := h.repo.GetModelRun(ctx, id)
	if err != nil {
		h.handleLookupError(w, r, "/api/models/{id}", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/models/{id}", "GET", "200")
	h.sendJSON(w, run, http.StatusOK)
}

// ResidualsResponse is the body of GET /api/models/{id}/residuals
type ResidualsResponse struct {
	Units     []string    `json:"units"`
	Periods   []string    `json:"periods"`
	Residuals [][]float64 `json:"residuals"`
}

// GetResiduals handles GET /api/models/{id}/residuals
func (h *SurveillanceHandler) GetResiduals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/models/{id}/residuals").Observe(time.Since(startTime).Seconds())
	}()

	id, ok := h.modelID(w, r)
	if !ok {
		return
	}

	res, err := h.modeling.Residuals(ctx, id)
	if err != nil {
		h.handleLookupError(w, r, "/api/models/{id}/residuals", err)
		return
	}

	rows, cols := res.Residuals.Dims()
	out := ResidualsResponse{
		Units:     res.Units,
		Periods:   make([]string, rows),
		Residuals: make([][]float64, rows),
	}
	for t := 0; t < rows; t++ {
		out.Periods[t] = res.Periods[t].Format("2006-01")
		row := make([]float64, cols)
		for i := 0; i < cols; i++ {
			row[i] = res.Residuals.At(t, i)
		}
		out.Residuals[t] = row
	}

	h.metrics.RecordAPIRequest("/api/models/{id}/residuals", "GET", "200")
	h.sendJSON(w, out, http.StatusOK)
}

// OneAheadRequest is the body of POST /api/models/{id}/oneahead
type OneAheadRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// OneAheadResponse summarizes a stored one-step-ahead run
type OneAheadResponse struct {
	From         int     `json:"from"`
	To           int     `json:"to"`
	Cells        int     `json:"cells"`
	MeanLogScore float64 `json:"mean_log_score"`
	MeanSqError  float64 `json:"mean_sq_error"`
	MeanDSScore  float64 `json:"mean_ds_score"`
	MeanRPScore  float64 `json:"mean_rp_score"`
}

// RunOneStepAhead handles POST /api/models/{id}/oneahead
func (h *SurveillanceHandler) RunOneStepAhead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/models/{id}/oneahead").Observe(time.Since(startTime).Seconds())
	}()

	id, ok := h.modelID(w, r)
	if !ok {
		return
	}

	var req OneAheadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}

	osa, err := h.modeling.OneStepAhead(ctx, id, req.From, req.To)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error(ctx, "[API_ONEAHEAD_ERROR] One-step-ahead run failed", logging.Fields{
			"run_id": id,
			"from":   req.From,
			"to":     req.To,
		}, err)
		h.metrics.RecordAPIError("forecast_error", "/api/models/{id}/oneahead")
		h.sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	rows, cols := osa.Mean.Dims()
	logS, ses, dss, rps := osa.MeanScores()

	h.metrics.RecordAPIRequest("/api/models/{id}/oneahead", "POST", "201")
	h.sendJSON(w, OneAheadResponse{
		From:         osa.From,
		To:           osa.To,
		Cells:        rows * cols,
		MeanLogScore: logS,
		MeanSqError:  ses,
		MeanDSScore:  dss,
		MeanRPScore:  rps,
	}, http.StatusCreated)
}

// GetForecasts handles GET /api/models/{id}/forecasts
func (h *SurveillanceHandler) GetForecasts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.modelID(w, r)
	if !ok {
		return
	}

	// Ensure the run exists so an unknown ID is a 404, not an empty
	// list.
	if _, err := h.repo.GetModelRun(ctx, id); err != nil {
		h.handleLookupError(w, r, "/api/models/{id}/forecasts", err)
		return
	}

	rows, err := h.repo.GetForecasts(ctx, id)
	if err != nil {
		h.handleLookupError(w, r, "/api/models/{id}/forecasts", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/models/{id}/forecasts", "GET", "200")
	h.sendJSON(w, rows, http.StatusOK)
}

// MomentsResponse is the body of GET /api/models/{id}/moments
type MomentsResponse struct {
	Units []string      `json:"units"`
	Mean  [][]float64   `json:"mean"`
	Cov   [][][]float64 `json:"cov"`
}

// GetMoments handles GET /api/models/{id}/moments
func (h *SurveillanceHandler) GetMoments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.modelID(w, r)
	if !ok {
		return
	}

	horizon := 1
	if hStr := r.URL.Query().Get("horizon"); hStr != "" {
		v, err := strconv.Atoi(hStr)
		if err != nil || v < 1 || v > 120 {
			h.sendError(w, r, "invalid horizon, expected integer in 1..120", http.StatusBadRequest)
			return
		}
		horizon = v
	}

	mom, err := h.modeling.PredictiveMoments(ctx, id, horizon)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, err.Error(), http.StatusNotFound)
			return
		}
		h.metrics.RecordAPIError("moments_error", "/api/models/{id}/moments")
		h.sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	rows, cols := mom.Mean.Dims()
	out := MomentsResponse{
		Units: mom.Units,
		Mean:  make([][]float64, rows),
		Cov:   make([][][]float64, rows),
	}
	for t := 0; t < rows; t++ {
		mean := make([]float64, cols)
		cov := make([][]float64, cols)
		for i := 0; i < cols; i++ {
			mean[i] = mom.Mean.At(t, i)
			covRow := make([]float64, cols)
			for j := 0; j < cols; j++ {
				covRow[j] = mom.Cov[t].At(i, j)
			}
			cov[i] = covRow
		}
		out.Mean[t] = mean
		out.Cov[t] = cov
	}

	h.metrics.RecordAPIRequest("/api/models/{id}/moments", "GET", "200")
	h.sendJSON(w, out, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *SurveillanceHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.repo.HealthCheck(ctx); err != nil {
		h.sendJSON(w, map[string]string{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, http.StatusServiceUnavailable)
		return
	}

	h.sendJSON(w, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// modelID extracts and validates the {id} path variable.
func (h *SurveillanceHandler) modelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		h.sendError(w, r, "invalid model run ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// handleLookupError maps repository errors onto API status codes.
func (h *SurveillanceHandler) handleLookupError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		h.sendError(w, r, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error(r.Context(), "[API_LOOKUP_ERROR] Request failed", logging.Fields{
		"endpoint": endpoint,
	}, err)
	h.metrics.RecordAPIError("internal_error", endpoint)
	h.sendError(w, r, "request failed", http.StatusInternalServerError)
}

// parsePagination reads page and limit query parameters with defaults.
func parsePagination(r *http.Request) (page, limit int) {
	page, limit = 1, 100
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	return page, limit
}

// sendJSON sends a JSON response
func (h *SurveillanceHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *SurveillanceHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all surveillance API routes
func (h *SurveillanceHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/regions", h.GetRegions).Methods("GET")
	router.HandleFunc("/api/counts", h.GetCaseCounts).Methods("GET")
	router.HandleFunc("/api/models", h.ListModels).Methods("GET")
	router.HandleFunc("/api/models", h.FitModel).Methods("POST")
	router.HandleFunc("/api/models/{id}", h.GetModel).Methods("GET")
	router.HandleFunc("/api/models/{id}/residuals", h.GetResiduals).Methods("GET")
	router.HandleFunc("/api/models/{id}/oneahead", h.RunOneStepAhead).Methods("POST")
	router.HandleFunc("/api/models/{id}/forecasts", h.GetForecasts).Methods("GET")
	router.HandleFunc("/api/models/{id}/moments", h.GetMoments).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
}
