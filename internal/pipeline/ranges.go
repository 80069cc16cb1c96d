package pipeline

import "github.com/telemetra/telemetra/internal/config"

// RangeTable holds the configured acceptable value range per sensor.
// It is read-only at steady state and safe for concurrent use.
type RangeTable struct {
	ranges map[string]config.SensorRange
}

// NewRangeTable builds a RangeTable from configuration. The map is copied
// so later config mutation cannot race the pipeline.
func NewRangeTable(ranges map[string]config.SensorRange) *RangeTable {
	copied := make(map[string]config.SensorRange, len(ranges))
	for name, r := range ranges {
		copied[name] = r
	}
	return &RangeTable{ranges: copied}
}

// Check reports whether value is acceptable for the named sensor.
// Sensors without a configured range are accepted as-is.
func (t *RangeTable) Check(sensor string, value float64) bool {
	r, ok := t.ranges[sensor]
	if !ok {
		return true
	}
	return value >= r.Min && value <= r.Max
}

// Has reports whether the table configures a range for sensor.
func (t *RangeTable) Has(sensor string) bool {
	_, ok := t.ranges[sensor]
	return ok
}
