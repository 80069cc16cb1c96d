// Package types provides core data types for Telemetra.
package types

// TelemetryMessage is a raw device reading as published on the wire,
// before validation and standardization.
type TelemetryMessage struct {
	// DeviceID identifies the publishing device. Must be non-empty.
	DeviceID string `json:"device_id"`

	// Timestamp is the device-supplied reading time in Unix seconds.
	// Devices with drifting clocks may report values in other units;
	// the pipeline normalizes them (see pipeline.Processor).
	Timestamp int64 `json:"timestamp"`

	// Sensors maps sensor names to numeric readings.
	Sensors map[string]float64 `json:"sensors"`

	// Location is an optional free-form device location.
	Location string `json:"location,omitempty"`

	// BatteryLevel is an optional battery percentage (0-100).
	BatteryLevel *float64 `json:"battery_level,omitempty"`
}
