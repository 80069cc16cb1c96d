package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	sink.Record(Entry{Kind: KindIntakeRejected, Topic: "device.d1.data", Reason: "malformed payload"})
	sink.Record(Entry{Kind: KindValidationFlag, DeviceID: "d1", Reason: "temperature out of range", Detail: "999.0"})
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, KindIntakeRejected, entries[0].Kind)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, "d1", entries[1].DeviceID)
}

func TestFileSinkConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Record(Entry{Kind: KindRetryExhausted, DeviceID: "d1", Reason: "store unrecoverable"})
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		count++
	}
	assert.Equal(t, 20, count)
}

func TestFileSinkCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
	assert.NoError(t, sink.Close())
}
