package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the
// surveillance modeling API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Surveillance Platform API",
			"description": "Endemic-epidemic modeling service for spatio-temporal infectious disease counts",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/regions": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "List regions",
					"responses": okResponse("Region list"),
				},
			},
			"/api/counts": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Get case counts",
					"parameters": []map[string]interface{}{
						queryParam("region", "Filter by region code", "string"),
						queryParam("from", "Filter by first period (YYYY-MM)", "string"),
						queryParam("to", "Filter by last period (YYYY-MM)", "string"),
						queryParam("page", "Page number (default: 1)", "integer"),
						queryParam("limit", "Records per page (default: 100)", "integer"),
					},
					"responses": okResponse("Paginated case counts"),
				},
			},
			"/api/models": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "List model runs",
					"parameters": []map[string]interface{}{
						queryParam("page", "Page number (default: 1)", "integer"),
						queryParam("limit", "Records per page (default: 100)", "integer"),
					},
					"responses": okResponse("Paginated model runs"),
				},
				"post": map[string]interface{}{
					"summary":     "Fit a model",
					"description": "Estimates an endemic-epidemic count model on the stored data and persists the run",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"name":    map[string]string{"type": "string"},
										"control": map[string]string{"type": "object"},
									},
									"required": []string{"name", "control"},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": map[string]interface{}{"description": "Persisted model run"},
						"422": map[string]interface{}{"description": "Invalid specification or estimation failure"},
					},
				},
			},
			"/api/models/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Get a model run",
					"parameters": []map[string]interface{}{pathParam("id", "Model run ID")},
					"responses":  okResponse("Model run"),
				},
			},
			"/api/models/{id}/residuals": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Pearson residual matrix of a model run",
					"parameters": []map[string]interface{}{pathParam("id", "Model run ID")},
					"responses":  okResponse("Residual matrix with period and unit labels"),
				},
			},
			"/api/models/{id}/oneahead": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Run one-step-ahead forecasts",
					"description": "Refits the model on growing windows, scores each prediction and stores the forecast rows",
					"parameters":  []map[string]interface{}{pathParam("id", "Model run ID")},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"from": map[string]string{"type": "integer"},
										"to":   map[string]string{"type": "integer"},
									},
									"required": []string{"from", "to"},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": map[string]interface{}{"description": "Mean proper scores of the stored run"},
					},
				},
			},
			"/api/models/{id}/forecasts": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Stored forecasts of a model run",
					"parameters": []map[string]interface{}{pathParam("id", "Model run ID")},
					"responses":  okResponse("Forecast rows with proper scores"),
				},
			},
			"/api/models/{id}/moments": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Predictive moments past the fitting window",
					"parameters": []map[string]interface{}{
						pathParam("id", "Model run ID"),
						queryParam("horizon", "Number of periods to predict (default: 1)", "integer"),
					},
					"responses": okResponse("Predictive means and covariance matrices per horizon step"),
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "Service health",
					"responses": okResponse("Health status"),
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}

func queryParam(name, description, typ string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      map[string]string{"type": typ},
	}
}

func pathParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      map[string]string{"type": "integer"},
	}
}

func okResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"200": map[string]interface{}{"description": description},
	}
}
