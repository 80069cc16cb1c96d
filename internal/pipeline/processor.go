// Package pipeline implements the validation and standardization engine.
// Processing is total: every parsed message yields a standardized record,
// and failures downgrade status rather than dropping data.
package pipeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/telemetra/telemetra/pkg/types"
)

// Timestamp unit thresholds. Devices occasionally report milliseconds,
// microseconds, or nanoseconds; each cutoff sits between the magnitude of
// one current-era epoch unit and the next (1e11 seconds is ~year 5138,
// while millisecond epochs are ~1.7e12), so the bracket holds for any
// realistic reading.
const (
	millisThreshold = int64(1e11)
	microsThreshold = int64(1e13)
	nanosThreshold  = int64(1e16)
)

// Processor turns telemetry messages into standardized records.
// Given a fixed range table, the resulting status is deterministic;
// received_at and processed_at are the only time-of-day fields.
type Processor struct {
	ranges       *RangeTable
	maxClockSkew time.Duration

	// clock is injectable for tests; defaults to time.Now.
	clock func() time.Time
}

// NewProcessor creates a Processor with the given range table and clock
// skew bound.
func NewProcessor(ranges *RangeTable, maxClockSkew time.Duration) *Processor {
	return &Processor{
		ranges:       ranges,
		maxClockSkew: maxClockSkew,
		clock:        time.Now,
	}
}

// Process standardizes one message. receivedAt is the time of intake
// acceptance, assigned exactly once by the caller and immutable here.
// The returned flags are human-readable validation notes for the audit
// sink; they are non-empty whenever status is not normal.
//
// Process never panics: an internal failure yields a record with
// status=error and an error_reason, so the message is persisted either way.
func (p *Processor) Process(msg *types.TelemetryMessage, receivedAt time.Time) (record *types.Record, flags []string) {
	defer func() {
		if r := recover(); r != nil {
			record = &types.Record{
				Key:         types.Key{DeviceID: msg.DeviceID, Timestamp: msg.Timestamp},
				Data:        map[string]interface{}{},
				ReceivedAt:  receivedAt.UTC(),
				ProcessedAt: p.processedAt(receivedAt),
				Status:      types.StatusError,
				ErrorReason: fmt.Sprintf("processing failure: %v", r),
			}
			flags = append(flags, record.ErrorReason)
		}
	}()

	status := types.StatusNormal
	degrade := func(to types.Status, flag string) {
		flags = append(flags, flag)
		if to == types.StatusError || status == types.StatusNormal {
			status = to
		}
	}

	// Timestamp normalization: coerce to seconds, then check skew
	// against received_at. Skewed clocks degrade to warning, never drop.
	ts := normalizeTimestamp(msg.Timestamp)
	if ts != msg.Timestamp {
		degrade(types.StatusWarning, fmt.Sprintf("timestamp %d coerced to seconds (%d)", msg.Timestamp, ts))
	}
	skew := time.Duration(ts-receivedAt.Unix()) * time.Second
	if skew < 0 {
		skew = -skew
	}
	if p.maxClockSkew > 0 && skew > p.maxClockSkew {
		degrade(types.StatusWarning, fmt.Sprintf("timestamp skew %s exceeds bound %s", skew, p.maxClockSkew))
	}

	// Value-range validation. Out-of-range values degrade to warning
	// only: the reading is real data, just suspicious. Error is reserved
	// for an unusable sensor set — no readings at all, or every reading
	// non-finite.
	unusable := 0
	for _, name := range sensorNames(msg.Sensors) {
		value := msg.Sensors[name]
		if math.IsNaN(value) || math.IsInf(value, 0) {
			unusable++
			degrade(types.StatusWarning, fmt.Sprintf("sensor %s has non-finite value", name))
			continue
		}
		if !p.ranges.Check(name, value) {
			degrade(types.StatusWarning, fmt.Sprintf("sensor %s value %v out of range", name, value))
		}
	}
	if len(msg.Sensors) == 0 {
		degrade(types.StatusError, "message carries no sensor readings")
	} else if unusable == len(msg.Sensors) {
		degrade(types.StatusError, "no usable sensor readings")
	}

	if msg.BatteryLevel != nil && (*msg.BatteryLevel < 0 || *msg.BatteryLevel > 100) {
		degrade(types.StatusWarning, fmt.Sprintf("battery_level %v outside 0-100", *msg.BatteryLevel))
	}

	// Field assembly: the original sensor mapping plus location and
	// battery level, wrapped as the opaque data payload.
	data := make(map[string]interface{}, len(msg.Sensors)+2)
	for name, value := range msg.Sensors {
		data[name] = value
	}
	if msg.Location != "" {
		data["location"] = msg.Location
	}
	if msg.BatteryLevel != nil {
		data["battery_level"] = *msg.BatteryLevel
	}

	record = &types.Record{
		Key:         types.Key{DeviceID: msg.DeviceID, Timestamp: ts},
		Data:        data,
		ReceivedAt:  receivedAt.UTC(),
		ProcessedAt: p.processedAt(receivedAt),
		Status:      status,
	}
	if status == types.StatusError {
		record.ErrorReason = flags[len(flags)-1]
	}
	return record, flags
}

// processedAt stamps completion time, clamped so processed_at is never
// before received_at even across clock adjustments.
func (p *Processor) processedAt(receivedAt time.Time) time.Time {
	now := p.clock().UTC()
	if now.Before(receivedAt) {
		return receivedAt.UTC()
	}
	return now
}

// normalizeTimestamp coerces millisecond, microsecond, and nanosecond
// device timestamps down to Unix seconds.
func normalizeTimestamp(ts int64) int64 {
	switch {
	case ts >= nanosThreshold:
		return ts / 1_000_000_000
	case ts >= microsThreshold:
		return ts / 1_000_000
	case ts >= millisThreshold:
		return ts / 1_000
	default:
		return ts
	}
}

// sensorNames returns sensor names in sorted order so flag output and
// status degradation are deterministic regardless of map iteration.
func sensorNames(sensors map[string]float64) []string {
	names := make([]string, 0, len(sensors))
	for name := range sensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
