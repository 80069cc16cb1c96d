package http

import "net/http"

// HealthResponse reports process liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	mode string
}

// NewHealthHandler creates a health handler reporting the given run mode.
func NewHealthHandler(mode string) *HealthHandler {
	return &HealthHandler{mode: mode}
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Mode: h.mode})
}
