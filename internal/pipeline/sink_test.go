package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetra/telemetra/internal/audit"
	"github.com/telemetra/telemetra/internal/deadletter"
	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/internal/store"
	"github.com/telemetra/telemetra/pkg/retry"
	"github.com/telemetra/telemetra/pkg/types"
)

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memorySink) Record(e audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *memorySink) Close() error { return nil }

// brokenStore always fails with a transient error.
type brokenStore struct {
	store.Store
}

func (brokenStore) Put(ctx context.Context, record *types.Record) error {
	return errors.NewStoreError(errors.CodeWriteFailed, "write contention", nil)
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func testRecordForSink(ts int64, status types.Status) (*types.Record, []string) {
	rec := &types.Record{
		Key:         types.Key{DeviceID: "d1", Timestamp: ts},
		Data:        map[string]interface{}{"temperature": 25.5},
		ReceivedAt:  time.Unix(ts, 0).UTC(),
		ProcessedAt: time.Unix(ts, 0).UTC(),
		Status:      status,
	}
	var flags []string
	if status != types.StatusNormal {
		flags = []string{"sensor temperature value out of range"}
	}
	return rec, flags
}

func TestSinkStoresRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	defer s.Close()

	dlq, err := deadletter.NewFileSink(filepath.Join(dir, "dlq"), 0)
	require.NoError(t, err)
	defer dlq.Close()

	auditor := &memorySink{}
	sink := NewSink(store.NewRetryWriter(s, fastRetry(), nil), dlq, auditor, nil)

	rec, flags := testRecordForSink(1000, types.StatusNormal)
	require.NoError(t, sink.Write(context.Background(), rec, flags))

	got, err := s.Get(context.Background(), rec.Key)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNormal, got.Status)

	// Normal records produce no audit noise
	assert.Empty(t, auditor.entries)

	// And nothing was dead-lettered
	paths, err := deadletter.Segments(filepath.Join(dir, "dlq"))
	require.NoError(t, err)
	for _, p := range paths {
		entries, err := deadletter.ReadEntries(p)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestSinkAuditsWarnings(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	defer s.Close()

	dlq, err := deadletter.NewFileSink(filepath.Join(dir, "dlq"), 0)
	require.NoError(t, err)
	defer dlq.Close()

	auditor := &memorySink{}
	sink := NewSink(store.NewRetryWriter(s, fastRetry(), nil), dlq, auditor, nil)

	rec, flags := testRecordForSink(1000, types.StatusWarning)
	require.NoError(t, sink.Write(context.Background(), rec, flags))

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.KindValidationFlag, auditor.entries[0].Kind)
	assert.Equal(t, "d1", auditor.entries[0].DeviceID)
}

func TestSinkDeadLettersOnExhaustedRetries(t *testing.T) {
	dir := t.TempDir()
	dlqDir := filepath.Join(dir, "dlq")
	dlq, err := deadletter.NewFileSink(dlqDir, 0)
	require.NoError(t, err)
	defer dlq.Close()

	auditor := &memorySink{}
	sink := NewSink(store.NewRetryWriter(brokenStore{}, fastRetry(), nil), dlq, auditor, nil)

	rec, flags := testRecordForSink(1000, types.StatusNormal)
	err = sink.Write(context.Background(), rec, flags)
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnrecoverable, errors.GetCode(err))

	// Exactly one of {stored, dead-lettered}: the record is in the DLQ
	paths, err := deadletter.Segments(dlqDir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	entries, err := deadletter.ReadEntries(paths[0])
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.Key, entries[0].Record.Key)
	assert.Contains(t, entries[0].Reason, "UNRECOVERABLE")

	// Retry exhaustion is operator-visible
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.KindRetryExhausted, auditor.entries[0].Kind)
}
