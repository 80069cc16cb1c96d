package http

import (
	"net/http"
	"time"

	"github.com/telemetra/telemetra/internal/catalog"
	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/pkg/types"
)

// CatalogResponse is the current catalog entry.
type CatalogResponse struct {
	Version     int64            `json:"version"`
	RefreshedAt time.Time        `json:"refreshed_at"`
	SampleSize  int              `json:"sample_size"`
	Fields      []types.FieldDef `json:"fields"`
	RequestID   string           `json:"request_id"`
}

// CatalogHandler serves GET /v1/catalog and POST /v1/catalog/refresh.
type CatalogHandler struct {
	refresher *catalog.Refresher
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(refresher *catalog.Refresher) *CatalogHandler {
	return &CatalogHandler{refresher: refresher}
}

// Current returns the active catalog entry.
func (h *CatalogHandler) Current(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}

	entry, err := h.refresher.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), errors.GetCode(err), requestID)
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse(entry, requestID))
}

// Refresh runs a synchronous catalog refresh and returns the new entry.
func (h *CatalogHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}

	entry, err := h.refresher.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), errors.GetCode(err), requestID)
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse(entry, requestID))
}

func catalogResponse(entry *types.CatalogEntry, requestID string) CatalogResponse {
	return CatalogResponse{
		Version:     entry.Version,
		RefreshedAt: entry.RefreshedAt,
		SampleSize:  entry.SampleSize,
		Fields:      entry.Fields,
		RequestID:   requestID,
	}
}
