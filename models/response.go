package models

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// NewErrorResponse builds a failed response body.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: &ErrorDetail{Code: code, Message: message}}
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status      string      `json:"status"` // "healthy" or "busy"
	Uptime      string      `json:"uptime"`
	WorkerStats WorkerStats `json:"worker_stats"`
	Version     string      `json:"version"`
}

// WorkerStats reports run and browser utilisation.
type WorkerStats struct {
	ActiveRuns    int `json:"active_runs"`
	MaxRuns       int `json:"max_runs"`
	WorkersPerRun int `json:"workers_per_run"`
}
