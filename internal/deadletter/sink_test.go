package deadletter

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetra/telemetra/pkg/types"
)

func testRecord(device string, ts int64) types.Record {
	return types.Record{
		Key:         types.Key{DeviceID: device, Timestamp: ts},
		Data:        map[string]interface{}{"temperature": 25.5},
		ReceivedAt:  time.Unix(ts, 0).UTC(),
		ProcessedAt: time.Unix(ts, 1).UTC(),
		Status:      types.StatusNormal,
	}
}

func TestEnqueueAndReadBack(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, 64*1024*1024)
	require.NoError(t, err)

	require.NoError(t, sink.Enqueue(&Entry{
		Record: testRecord("d1", 1000),
		Reason: "[STORE:UNRECOVERABLE] put failed",
	}))
	require.NoError(t, sink.Enqueue(&Entry{
		Record: testRecord("d2", 2000),
		Reason: "[STORE:UNRECOVERABLE] put failed",
	}))
	require.NoError(t, sink.Close())

	paths, err := Segments(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	entries, err := ReadEntries(paths[0])
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "d1", entries[0].Record.Key.DeviceID)
	assert.Equal(t, int64(2000), entries[1].Record.Key.Timestamp)
	assert.False(t, entries[0].QueuedAt.IsZero())
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	// Tiny segment cap forces rotation on every append
	sink, err := NewFileSink(dir, 64)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Enqueue(&Entry{Record: testRecord("d1", int64(i)), Reason: "x"}))
	}
	require.NoError(t, sink.Close())

	paths, err := Segments(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(paths), 3)

	total := 0
	for _, p := range paths {
		entries, err := ReadEntries(p)
		require.NoError(t, err)
		total += len(entries)
	}
	assert.Equal(t, 3, total)
}

func TestReopenContinuesLastSegment(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, 64*1024*1024)
	require.NoError(t, err)
	require.NoError(t, sink.Enqueue(&Entry{Record: testRecord("d1", 1), Reason: "x"}))
	require.NoError(t, sink.Close())

	sink2, err := NewFileSink(dir, 64*1024*1024)
	require.NoError(t, err)
	require.NoError(t, sink2.Enqueue(&Entry{Record: testRecord("d1", 2), Reason: "y"}))
	require.NoError(t, sink2.Close())

	paths, err := Segments(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	entries, err := ReadEntries(paths[0])
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReadEntriesSkipsTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, 64*1024*1024)
	require.NoError(t, err)
	require.NoError(t, sink.Enqueue(&Entry{Record: testRecord("d1", 1), Reason: "x"}))
	require.NoError(t, sink.Enqueue(&Entry{Record: testRecord("d1", 2), Reason: "x"}))
	require.NoError(t, sink.Close())

	paths, err := Segments(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	// Chop bytes off the end to simulate a crash mid-append
	info, err := os.Stat(paths[0])
	require.NoError(t, err)
	require.NoError(t, os.Truncate(paths[0], info.Size()-5))

	entries, err := ReadEntries(paths[0])
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Record.Key.Timestamp)
}

func TestSegmentsEmptyDir(t *testing.T) {
	paths, err := Segments(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, paths)
}
