package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/telemetra/telemetra/internal/audit"
	"github.com/telemetra/telemetra/internal/deadletter"
	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/internal/metrics"
	"github.com/telemetra/telemetra/internal/store"
	"github.com/telemetra/telemetra/pkg/types"
)

// Sink is the terminal stage of the write path. Every record handed to
// Write ends up in exactly one place: the store, or the dead-letter sink.
type Sink struct {
	writer  *store.RetryWriter
	dlq     deadletter.Sink
	auditor audit.Sink
	metrics *metrics.Metrics
}

// NewSink creates a Sink.
func NewSink(writer *store.RetryWriter, dlq deadletter.Sink, auditor audit.Sink, m *metrics.Metrics) *Sink {
	return &Sink{writer: writer, dlq: dlq, auditor: auditor, metrics: m}
}

// Write persists the record, retrying transient store failures. When the
// retry budget is exhausted the record is routed to the dead-letter sink
// and the unrecoverable error is returned so callers can surface it.
func (s *Sink) Write(ctx context.Context, record *types.Record, flags []string) error {
	// Validation outcomes are not errors, but warnings and errors are
	// operator-visible through the audit sink.
	if record.Status != types.StatusNormal {
		for _, flag := range flags {
			s.auditor.Record(audit.Entry{
				Kind:     audit.KindValidationFlag,
				DeviceID: record.Key.DeviceID,
				Reason:   string(record.Status),
				Detail:   flag,
			})
		}
	}

	start := time.Now()
	err := s.writer.Put(ctx, record)
	if s.metrics != nil {
		s.metrics.PutDuration.Observe(time.Since(start).Seconds())
	}

	if err == nil {
		if s.metrics != nil {
			s.metrics.MessagesTotal.WithLabelValues(string(record.Status)).Inc()
		}
		return nil
	}

	// Exhausted retries: the record is at risk of loss, so it goes to
	// the dead-letter sink and the failure is made operator-visible.
	log.Printf("pipeline: store put unrecoverable for %s: %v", record.Key, err)
	s.auditor.Record(audit.Entry{
		Kind:     audit.KindRetryExhausted,
		DeviceID: record.Key.DeviceID,
		Reason:   errors.CodeUnrecoverable,
		Detail:   err.Error(),
	})

	if dlqErr := s.dlq.Enqueue(&deadletter.Entry{Record: *record, Reason: err.Error()}); dlqErr != nil {
		// Both the store and the dead-letter sink failed. Nothing more
		// can be done without losing data, so make the loudest noise
		// available and return the original failure.
		log.Printf("pipeline: CRITICAL: dead-letter enqueue failed for %s: %v", record.Key, dlqErr)
		return err
	}
	if s.metrics != nil {
		s.metrics.DeadLetterTotal.Inc()
	}
	return err
}
