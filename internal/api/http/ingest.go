package http

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/telemetra/telemetra/internal/audit"
	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/internal/intake"
	"github.com/telemetra/telemetra/internal/metrics"
	"github.com/telemetra/telemetra/internal/pipeline"
)

// maxIngestBody caps the accepted request body size.
const maxIngestBody = 1 << 20

// IngestResponse reports what happened to one accepted message.
type IngestResponse struct {
	DeviceID  string   `json:"device_id"`
	Timestamp int64    `json:"timestamp"`
	Status    string   `json:"status"`
	Flags     []string `json:"flags,omitempty"`
	RequestID string   `json:"request_id"`
}

// IngestHandler handles POST /v1/ingest requests: the HTTP twin of the
// pub/sub intake path.
type IngestHandler struct {
	processor *pipeline.Processor
	sink      *pipeline.Sink
	auditor   audit.Sink
	metrics   *metrics.Metrics
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(processor *pipeline.Processor, sink *pipeline.Sink, auditor audit.Sink, m *metrics.Metrics) *IngestHandler {
	return &IngestHandler{
		processor: processor,
		sink:      sink,
		auditor:   auditor,
		metrics:   m,
	}
}

// ServeHTTP handles the ingest HTTP request.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}

	// Receipt time is stamped before any parsing, same as the broker path.
	receivedAt := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "", requestID)
		return
	}

	msg, err := intake.ParseBody(body)
	if err != nil {
		h.rejectIntake(err)
		writeError(w, http.StatusBadRequest, err.Error(), errors.GetCode(err), requestID)
		return
	}

	record, flags := h.processor.Process(msg, receivedAt)
	if err := h.sink.Write(r.Context(), record, flags); err != nil {
		// The record went to the dead letter queue; the write path is out
		// of service for this message.
		writeError(w, http.StatusServiceUnavailable, err.Error(), errors.GetCode(err), requestID)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		DeviceID:  record.Key.DeviceID,
		Timestamp: record.Key.Timestamp,
		Status:    string(record.Status),
		Flags:     flags,
		RequestID: requestID,
	})
}

func (h *IngestHandler) rejectIntake(err error) {
	log.Printf("Rejected ingest request: %v", err)
	if h.metrics != nil {
		h.metrics.IntakeRejectedTotal.Inc()
	}
	if h.auditor != nil {
		h.auditor.Record(audit.Entry{
			Kind:      audit.KindIntakeRejected,
			Reason:    errors.GetCode(err),
			Detail:    err.Error(),
			Timestamp: time.Now(),
		})
	}
}
