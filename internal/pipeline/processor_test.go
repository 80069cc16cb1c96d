package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetra/telemetra/internal/config"
	"github.com/telemetra/telemetra/pkg/types"
)

func testRanges() *RangeTable {
	return NewRangeTable(map[string]config.SensorRange{
		"temperature": {Min: -40, Max: 85},
		"humidity":    {Min: 0, Max: 100},
	})
}

func testProcessor() *Processor {
	return NewProcessor(testRanges(), 24*time.Hour)
}

func TestProcessNormalMessage(t *testing.T) {
	p := testProcessor()
	received := time.Unix(1000, 0).UTC()

	msg := &types.TelemetryMessage{
		DeviceID:  "d1",
		Timestamp: 1000,
		Sensors:   map[string]float64{"temperature": 25.5, "humidity": 60.2},
	}

	rec, flags := p.Process(msg, received)
	assert.Equal(t, types.Key{DeviceID: "d1", Timestamp: 1000}, rec.Key)
	assert.Equal(t, types.StatusNormal, rec.Status)
	assert.Empty(t, flags)
	assert.Equal(t, 25.5, rec.Data["temperature"])
	assert.Equal(t, 60.2, rec.Data["humidity"])
	assert.True(t, rec.ReceivedAt.Equal(received))
	assert.False(t, rec.ProcessedAt.Before(rec.ReceivedAt))
	assert.Empty(t, rec.ErrorReason)
}

func TestProcessOutOfRangeIsWarning(t *testing.T) {
	p := testProcessor()
	msg := &types.TelemetryMessage{
		DeviceID:  "d1",
		Timestamp: 1000,
		Sensors:   map[string]float64{"temperature": 999, "humidity": 60.2},
	}

	rec, flags := p.Process(msg, time.Unix(1000, 0).UTC())
	assert.Equal(t, types.StatusWarning, rec.Status)
	require.Len(t, flags, 1)
	assert.Contains(t, flags[0], "temperature")
	// Out-of-range readings are stored as-is, never clipped
	assert.Equal(t, float64(999), rec.Data["temperature"])
}

func TestProcessAllOutOfRangeStaysWarning(t *testing.T) {
	p := testProcessor()
	// Even when every reading is out of range, the values are real data:
	// the record stays in the default query view as a warning.
	msg := &types.TelemetryMessage{
		DeviceID:  "d1",
		Timestamp: 1000,
		Sensors:   map[string]float64{"temperature": 999, "humidity": -5},
	}

	rec, flags := p.Process(msg, time.Unix(1000, 0).UTC())
	assert.Equal(t, types.StatusWarning, rec.Status)
	assert.Len(t, flags, 2)
	assert.Empty(t, rec.ErrorReason)
}

func TestProcessAllNonFiniteIsError(t *testing.T) {
	p := testProcessor()
	msg := &types.TelemetryMessage{
		DeviceID:  "d1",
		Timestamp: 1000,
		Sensors:   map[string]float64{"temperature": math.NaN(), "humidity": math.Inf(1)},
	}

	rec, _ := p.Process(msg, time.Unix(1000, 0).UTC())
	assert.Equal(t, types.StatusError, rec.Status)
	assert.Contains(t, rec.ErrorReason, "no usable sensor readings")
}

func TestProcessMixedNonFiniteIsWarning(t *testing.T) {
	p := testProcessor()
	// One unusable reading beside a good one degrades to warning only.
	msg := &types.TelemetryMessage{
		DeviceID:  "d1",
		Timestamp: 1000,
		Sensors:   map[string]float64{"temperature": math.NaN(), "humidity": 60},
	}

	rec, _ := p.Process(msg, time.Unix(1000, 0).UTC())
	assert.Equal(t, types.StatusWarning, rec.Status)
}

func TestProcessEmptySensorSetIsError(t *testing.T) {
	p := testProcessor()
	msg := &types.TelemetryMessage{DeviceID: "d1", Timestamp: 1000}

	rec, flags := p.Process(msg, time.Unix(1000, 0).UTC())
	assert.Equal(t, types.StatusError, rec.Status)
	assert.NotEmpty(t, flags)
	assert.Contains(t, rec.ErrorReason, "no sensor readings")
}

func TestProcessUnknownSensorAcceptedAsIs(t *testing.T) {
	p := testProcessor()
	msg := &types.TelemetryMessage{
		DeviceID:  "d1",
		Timestamp: 1000,
		Sensors:   map[string]float64{"co2_ppm": 412.5},
	}

	rec, flags := p.Process(msg, time.Unix(1000, 0).UTC())
	assert.Equal(t, types.StatusNormal, rec.Status)
	assert.Empty(t, flags)
}

func TestProcessTimestampNormalization(t *testing.T) {
	p := testProcessor()
	received := time.Unix(1700000000, 0).UTC()

	cases := []struct {
		name string
		in   int64
		want int64
	}{
		{"seconds pass through", 1700000000, 1700000000},
		{"milliseconds coerced", 1700000000000, 1700000000},
		{"microseconds coerced", 1700000000000000, 1700000000},
		{"nanoseconds coerced", 1700000000000000000, 1700000000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &types.TelemetryMessage{
				DeviceID:  "d1",
				Timestamp: tc.in,
				Sensors:   map[string]float64{"temperature": 20},
			}
			rec, _ := p.Process(msg, received)
			assert.Equal(t, tc.want, rec.Key.Timestamp)
		})
	}
}

func TestProcessClockSkewIsWarningNotDrop(t *testing.T) {
	p := NewProcessor(testRanges(), time.Hour)
	received := time.Unix(1700000000, 0).UTC()

	msg := &types.TelemetryMessage{
		DeviceID:  "d1",
		Timestamp: 1700000000 + 7200, // two hours in the future
		Sensors:   map[string]float64{"temperature": 20},
	}

	rec, flags := p.Process(msg, received)
	assert.Equal(t, types.StatusWarning, rec.Status)
	require.NotEmpty(t, flags)
	assert.Contains(t, flags[0], "skew")
	// Still stored under the device timestamp
	assert.Equal(t, int64(1700000000+7200), rec.Key.Timestamp)
}

func TestProcessBatteryLevelValidation(t *testing.T) {
	p := testProcessor()
	bad := 130.0
	msg := &types.TelemetryMessage{
		DeviceID:     "d1",
		Timestamp:    1000,
		Sensors:      map[string]float64{"temperature": 20},
		BatteryLevel: &bad,
	}

	rec, flags := p.Process(msg, time.Unix(1000, 0).UTC())
	assert.Equal(t, types.StatusWarning, rec.Status)
	assert.NotEmpty(t, flags)
	assert.Equal(t, 130.0, rec.Data["battery_level"])
}

func TestProcessAssemblesOptionalFields(t *testing.T) {
	p := testProcessor()
	battery := 87.0
	msg := &types.TelemetryMessage{
		DeviceID:     "d1",
		Timestamp:    1000,
		Sensors:      map[string]float64{"temperature": 20},
		Location:     "warehouse-3",
		BatteryLevel: &battery,
	}

	rec, _ := p.Process(msg, time.Unix(1000, 0).UTC())
	assert.Equal(t, "warehouse-3", rec.Data["location"])
	assert.Equal(t, 87.0, rec.Data["battery_level"])
}

func TestProcessedAtNeverBeforeReceivedAt(t *testing.T) {
	p := testProcessor()
	// Clock that runs behind received_at
	p.clock = func() time.Time { return time.Unix(500, 0) }

	received := time.Unix(1000, 0).UTC()
	msg := &types.TelemetryMessage{
		DeviceID:  "d1",
		Timestamp: 1000,
		Sensors:   map[string]float64{"temperature": 20},
	}

	rec, _ := p.Process(msg, received)
	assert.False(t, rec.ProcessedAt.Before(rec.ReceivedAt))
}
