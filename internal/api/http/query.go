package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/internal/query/executor"
)

// QueryRequest represents a query request.
type QueryRequest struct {
	SQL string `json:"sql"`
}

// QueryResponse represents the query response. The catalog version and
// refresh time let callers judge how stale the schema view is.
type QueryResponse struct {
	Columns            []string                 `json:"columns"`
	Rows               []map[string]interface{} `json:"rows"`
	RowCount           int                      `json:"row_count"`
	CatalogVersion     int64                    `json:"catalog_version"`
	CatalogRefreshedAt time.Time                `json:"catalog_refreshed_at"`
	RequestID          string                   `json:"request_id"`
}

// QueryHandler handles POST /v1/query requests.
type QueryHandler struct {
	engine *executor.Engine
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(engine *executor.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

// ServeHTTP handles the query HTTP request.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}
	if req.SQL == "" {
		writeError(w, http.StatusBadRequest, "sql is required", "", requestID)
		return
	}

	result, err := h.engine.Query(r.Context(), req.SQL)
	if err != nil {
		writeError(w, queryStatusCode(err), err.Error(), errors.GetCode(err), requestID)
		return
	}

	resp := QueryResponse{
		Columns:            result.Columns,
		Rows:               result.Rows,
		RowCount:           len(result.Rows),
		CatalogVersion:     result.CatalogVersion,
		CatalogRefreshedAt: result.RefreshedAt,
		RequestID:          requestID,
	}
	if resp.Rows == nil {
		resp.Rows = []map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryStatusCode maps pipeline error codes to HTTP status codes.
func queryStatusCode(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeParseError, errors.CodeUnknownField:
		return http.StatusBadRequest
	case errors.CodeNoEntry:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
