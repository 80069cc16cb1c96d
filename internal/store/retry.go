package store

import (
	"context"

	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/internal/metrics"
	"github.com/telemetra/telemetra/pkg/retry"
	"github.com/telemetra/telemetra/pkg/types"
)

// RetryWriter wraps a Store with bounded exponential backoff for transient
// write failures. A put that exhausts the budget surfaces an unrecoverable
// store error; the caller must route the record to the dead-letter sink.
type RetryWriter struct {
	store   Store
	cfg     retry.Config
	metrics *metrics.Metrics
}

// NewRetryWriter creates a RetryWriter with the given backoff config.
// Metrics may be nil.
func NewRetryWriter(s Store, cfg retry.Config, m *metrics.Metrics) *RetryWriter {
	return &RetryWriter{store: s, cfg: cfg, metrics: m}
}

// Put writes the record, retrying transient failures.
func (w *RetryWriter) Put(ctx context.Context, record *types.Record) error {
	attempts := 0
	err := retry.Do(ctx, w.cfg, func() error {
		attempts++
		if attempts > 1 && w.metrics != nil {
			w.metrics.StoreRetriesTotal.Inc()
		}
		putErr := w.store.Put(ctx, record)
		if putErr != nil && !errors.IsRetryable(putErr) {
			return retry.NonRetryable(putErr)
		}
		return putErr
	})
	if err == nil {
		return nil
	}
	return errors.NewStoreError(errors.CodeUnrecoverable,
		"put exhausted retry budget for "+record.Key.String(), err)
}
