package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/pkg/types"
)

type fakeSampler struct {
	mu      sync.Mutex
	records []types.Record
	err     error
	calls   int
}

func (f *fakeSampler) SampleRecent(_ context.Context, limit int) ([]types.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeSampler) set(records []types.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
	f.err = err
}

func sampleRecord(device string, ts int64, data map[string]interface{}) types.Record {
	return types.Record{
		Key:    types.Key{DeviceID: device, Timestamp: ts},
		Data:   data,
		Status: types.StatusNormal,
	}
}

func newTestRefresher(t *testing.T, sampler Sampler) *Refresher {
	t.Helper()
	r, err := NewRefresher(sampler, Options{
		Path:       filepath.Join(t.TempDir(), "catalog.db"),
		SampleSize: 100,
		Interval:   time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestInferFields_Types(t *testing.T) {
	records := []types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{
			"temperature": 25.5,
			"cycles":      float64(12),
			"location":    "plant-a",
			"active":      true,
		}),
		sampleRecord("d1", 1001, map[string]interface{}{
			"temperature": 26.0,
			"cycles":      float64(13),
			"location":    "plant-a",
			"active":      false,
		}),
	}

	fields := InferFields(records)

	byName := make(map[string]types.FieldDef)
	for _, f := range fields {
		byName[f.Name] = f
	}

	// Core fields are always present.
	assert.Equal(t, types.FieldTypeString, byName["device_id"].Type)
	assert.Equal(t, types.FieldTypeInteger, byName["timestamp"].Type)
	assert.Equal(t, types.FieldTypeString, byName["status"].Type)

	assert.Equal(t, types.FieldTypeNumber, byName["temperature"].Type)
	assert.Equal(t, types.FieldTypeInteger, byName["cycles"].Type)
	assert.Equal(t, types.FieldTypeString, byName["location"].Type)
	assert.Equal(t, types.FieldTypeBoolean, byName["active"].Type)
}

func TestInferFields_NullableAndMixed(t *testing.T) {
	records := []types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{"humidity": 60.2, "tag": "a"}),
		sampleRecord("d1", 1001, map[string]interface{}{"humidity": 58.0, "tag": 7.0}),
		sampleRecord("d1", 1002, map[string]interface{}{"humidity": 59.5}),
	}

	fields := InferFields(records)
	byName := make(map[string]types.FieldDef)
	for _, f := range fields {
		byName[f.Name] = f
	}

	assert.False(t, byName["humidity"].Nullable)
	// tag is absent from one record and mixes string with number.
	assert.True(t, byName["tag"].Nullable)
	assert.Equal(t, types.FieldTypeString, byName["tag"].Type)
}

func TestInferFields_PayloadNameOrder(t *testing.T) {
	records := []types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{"zeta": 1.0, "alpha": 2.0, "mid": 3.0}),
	}
	fields := InferFields(records)
	payload := fields[len(fields)-3:]
	assert.Equal(t, "alpha", payload[0].Name)
	assert.Equal(t, "mid", payload[1].Name)
	assert.Equal(t, "zeta", payload[2].Name)
}

func TestRefresher_NoEntryBeforeFirstRefresh(t *testing.T) {
	r := newTestRefresher(t, &fakeSampler{})

	_, err := r.Current()
	require.Error(t, err)
	assert.Equal(t, errors.CodeNoEntry, errors.GetCode(err))
}

func TestRefresher_RefreshPublishesVersionedEntry(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set([]types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{"temperature": 25.5}),
	}, nil)
	r := newTestRefresher(t, sampler)

	entry, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Version)
	assert.Equal(t, 1, entry.SampleSize)
	require.NotNil(t, entry.Field("temperature"))

	current, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, entry, current)

	entry2, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry2.Version)
}

func TestRefresher_FailureKeepsLastGood(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set([]types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{"temperature": 25.5}),
	}, nil)
	r := newTestRefresher(t, sampler)

	good, err := r.Refresh(context.Background())
	require.NoError(t, err)

	sampler.set(nil, fmt.Errorf("store unavailable"))
	_, err = r.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCategoryCatalog, errors.GetCategory(err))

	current, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, good.Version, current.Version)
}

func TestRefresher_CancelledContextKeepsLastGood(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set([]types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{"temperature": 25.5}),
	}, nil)
	r := newTestRefresher(t, sampler)

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Refresh(ctx)
	require.Error(t, err)

	current, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.Version)
}

func TestRefresher_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")
	sampler := &fakeSampler{}
	sampler.set([]types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{"temperature": 25.5, "humidity": 60.2}),
	}, nil)

	r, err := NewRefresher(sampler, Options{Path: path})
	require.NoError(t, err)
	entry, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := NewRefresher(sampler, Options{Path: path})
	require.NoError(t, err)
	defer r2.Close()

	current, err := r2.Current()
	require.NoError(t, err)
	assert.Equal(t, entry.Version, current.Version)
	assert.NotNil(t, current.Field("humidity"))

	// Versions keep increasing after a restart.
	next, err := r2.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entry.Version+1, next.Version)
}

func TestRefresher_ConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set([]types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{"temperature": 25.5}),
	}, nil)
	r := newTestRefresher(t, sampler)

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := r.Refresh(context.Background()); err != nil {
				t.Errorf("refresh: %v", err)
				return
			}
		}
		close(done)
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				entry, err := r.Current()
				if err != nil {
					t.Errorf("current: %v", err)
					return
				}
				// Every snapshot is internally consistent: the field
				// list never changes under the reader's feet.
				if entry.SampleSize != 1 || entry.Field("temperature") == nil {
					t.Errorf("torn snapshot: version=%d", entry.Version)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestRefresher_ConcurrentRefreshesSerializeVersions(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set([]types.Record{
		sampleRecord("d1", 1000, map[string]interface{}{"temperature": 25.5}),
	}, nil)
	r := newTestRefresher(t, sampler)

	// Simultaneous refreshes (operator endpoint racing the scheduled loop)
	// must each persist a distinct version instead of colliding on the
	// version primary key.
	const refreshes = 16
	versions := make(chan int64, refreshes)
	var wg sync.WaitGroup
	for i := 0; i < refreshes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := r.Refresh(context.Background())
			if err != nil {
				t.Errorf("refresh: %v", err)
				return
			}
			versions <- entry.Version
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d published twice", v)
		seen[v] = true
	}
	require.Len(t, seen, refreshes)

	current, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(refreshes), current.Version)
}

func TestRefresher_SegmentRegistry(t *testing.T) {
	r := newTestRefresher(t, &fakeSampler{})

	seg := Segment{
		ID:           "seg-0001",
		ObjectPath:   "archive/seg-0001.snappy",
		MinTimestamp: 1000,
		MaxTimestamp: 2000,
		RecordCount:  42,
		SizeBytes:    512,
		BloomData:    []byte{0x01, 0x02},
		BloomBits:    128,
		BloomHashes:  3,
		CreatedAt:    time.Unix(123, 0),
	}
	require.NoError(t, r.RegisterSegment(seg))
	require.NoError(t, r.RegisterSegment(Segment{
		ID:           "seg-0000",
		ObjectPath:   "archive/seg-0000.snappy",
		MinTimestamp: 100,
		MaxTimestamp: 900,
		RecordCount:  7,
		SizeBytes:    64,
		CreatedAt:    time.Unix(100, 0),
	}))

	segments, err := r.ListSegments()
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "seg-0000", segments[0].ID)
	assert.Equal(t, "seg-0001", segments[1].ID)
	assert.Equal(t, seg.BloomData, segments[1].BloomData)
	assert.Equal(t, uint(128), segments[1].BloomBits)
	assert.Equal(t, int64(42), segments[1].RecordCount)
}

func TestRefresher_DuplicateSegmentRejected(t *testing.T) {
	r := newTestRefresher(t, &fakeSampler{})
	seg := Segment{ID: "seg-dup", ObjectPath: "a", CreatedAt: time.Now()}
	require.NoError(t, r.RegisterSegment(seg))
	assert.Error(t, r.RegisterSegment(seg))
}
