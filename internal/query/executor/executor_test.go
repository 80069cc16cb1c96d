package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/internal/store"
	"github.com/telemetra/telemetra/pkg/types"
)

type fixedCatalog struct {
	entry *types.CatalogEntry
	err   error
}

func (c *fixedCatalog) Current() (*types.CatalogEntry, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.entry, nil
}

func testCatalog() *fixedCatalog {
	return &fixedCatalog{entry: &types.CatalogEntry{
		Version:     3,
		RefreshedAt: time.Unix(5000, 0),
		Fields: []types.FieldDef{
			{Name: "device_id", Type: types.FieldTypeString},
			{Name: "timestamp", Type: types.FieldTypeInteger},
			{Name: "status", Type: types.FieldTypeString},
			{Name: "received_at", Type: types.FieldTypeInteger},
			{Name: "processed_at", Type: types.FieldTypeInteger},
			{Name: "temperature", Type: types.FieldTypeNumber},
			{Name: "humidity", Type: types.FieldTypeNumber, Nullable: true},
		},
	}}
}

func seedStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	put := func(device string, ts int64, temp float64, status types.Status) {
		data := map[string]interface{}{"temperature": temp}
		if status != types.StatusError {
			data["humidity"] = 50.0
		}
		require.NoError(t, st.Put(ctx, &types.Record{
			Key:         types.Key{DeviceID: device, Timestamp: ts},
			Data:        data,
			ReceivedAt:  time.Unix(ts, 0),
			ProcessedAt: time.Unix(ts, 0),
			Status:      status,
		}))
	}

	put("d1", 1000, 20.0, types.StatusNormal)
	put("d1", 2000, 25.0, types.StatusNormal)
	put("d1", 3000, 99.0, types.StatusWarning)
	put("d1", 4000, 0.0, types.StatusError)
	put("d2", 1500, 30.0, types.StatusNormal)
	return st
}

func newEngine(t *testing.T) (*Engine, *fixedCatalog) {
	cat := testCatalog()
	return New(seedStore(t), cat, nil), cat
}

func TestQuery_SelectStarForDevice(t *testing.T) {
	e, cat := newEngine(t)

	res, err := e.Query(context.Background(), "SELECT * FROM telemetry WHERE device_id = 'd1'")
	require.NoError(t, err)

	// Error-status records stay hidden unless asked for.
	require.Len(t, res.Rows, 3)
	assert.Equal(t, cat.entry.Version, res.CatalogVersion)
	assert.Equal(t, cat.entry.RefreshedAt, res.RefreshedAt)
	assert.Len(t, res.Columns, len(cat.entry.Fields))

	assert.Equal(t, int64(1000), res.Rows[0]["timestamp"])
	assert.Equal(t, "d1", res.Rows[0]["device_id"])
	assert.Equal(t, 20.0, res.Rows[0]["temperature"])
}

func TestQuery_Projection(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Query(context.Background(), "SELECT device_id, temperature FROM telemetry WHERE device_id = 'd2'")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"device_id", "temperature"}, res.Columns)
	assert.Equal(t, map[string]interface{}{"device_id": "d2", "temperature": 30.0}, res.Rows[0])
}

func TestQuery_TimeRangeAndOrder(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Query(context.Background(),
		"SELECT timestamp FROM telemetry WHERE device_id = 'd1' AND timestamp BETWEEN 1000 AND 2500 ORDER BY timestamp DESC")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(2000), res.Rows[0]["timestamp"])
	assert.Equal(t, int64(1000), res.Rows[1]["timestamp"])
}

func TestQuery_SensorPredicateEvaluatedOnPayload(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Query(context.Background(),
		"SELECT timestamp, temperature FROM telemetry WHERE device_id = 'd1' AND temperature > 24")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 25.0, res.Rows[0]["temperature"])
	assert.Equal(t, 99.0, res.Rows[1]["temperature"])
}

func TestQuery_LimitAfterResidualFilter(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Query(context.Background(),
		"SELECT timestamp FROM telemetry WHERE device_id = 'd1' AND temperature > 24 LIMIT 1")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(2000), res.Rows[0]["timestamp"])
}

func TestQuery_StatusPredicateExposesErrorRecords(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Query(context.Background(), "SELECT timestamp, status FROM telemetry WHERE status = 'error'")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(4000), res.Rows[0]["timestamp"])
}

func TestQuery_StatusRangeComparisonExposesErrorRecords(t *testing.T) {
	e, _ := newEngine(t)

	// 'error' sorts below 'normal', so an ordered comparison on status must
	// scan error records too or it silently drops matching rows.
	res, err := e.Query(context.Background(),
		"SELECT timestamp, status FROM telemetry WHERE device_id = 'd1' AND status < 'normal'")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(4000), res.Rows[0]["timestamp"])
	assert.Equal(t, "error", res.Rows[0]["status"])

	res, err = e.Query(context.Background(),
		"SELECT status FROM telemetry WHERE device_id = 'd1' AND status BETWEEN 'error' AND 'normal' ORDER BY timestamp")
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "error", res.Rows[2]["status"])
}

func TestQuery_StatusIn(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Query(context.Background(),
		"SELECT status FROM telemetry WHERE device_id = 'd1' AND status IN ('warning', 'error') ORDER BY timestamp")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "warning", res.Rows[0]["status"])
	assert.Equal(t, "error", res.Rows[1]["status"])
}

func TestQuery_UnknownFieldRejectedWithoutPartialResults(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Query(context.Background(), "SELECT device_id, pressure FROM telemetry")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, errors.CodeUnknownField, errors.GetCode(err))
	assert.Contains(t, err.Error(), "pressure")

	_, err = e.Query(context.Background(), "SELECT * FROM telemetry WHERE pressure > 1")
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnknownField, errors.GetCode(err))
}

func TestQuery_ParseErrors(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.Query(context.Background(), "SELEC * FROM telemetry")
	require.Error(t, err)
	assert.Equal(t, errors.CodeParseError, errors.GetCode(err))

	_, err = e.Query(context.Background(), "SELECT * FROM sensors")
	require.Error(t, err)
	assert.Equal(t, errors.CodeParseError, errors.GetCode(err))
	assert.Contains(t, err.Error(), "sensors")
}

func TestQuery_CatalogUnavailable(t *testing.T) {
	e, cat := newEngine(t)
	cat.err = errors.NewCatalogError(errors.CodeNoEntry, "catalog has no entry yet", nil)

	_, err := e.Query(context.Background(), "SELECT * FROM telemetry")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNoEntry, errors.GetCode(err))
}

func TestQuery_NullableFieldProjectsNil(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.Query(context.Background(), "SELECT humidity FROM telemetry WHERE status = 'error'")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Nil(t, res.Rows[0]["humidity"])
}

func TestQuery_CancelledContext(t *testing.T) {
	e, _ := newEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Query(ctx, "SELECT * FROM telemetry WHERE device_id = 'd1'")
	require.Error(t, err)
}
