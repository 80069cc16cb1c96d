package types

import (
	"fmt"
	"time"
)

// Status classifies a standardized record.
type Status string

const (
	// StatusNormal means every sensor value passed range validation.
	StatusNormal Status = "normal"

	// StatusWarning means at least one value was out of range or the
	// device timestamp fell outside the configured skew bound. The record
	// is stored and queryable.
	StatusWarning Status = "warning"

	// StatusError means the sensor set was unusable or processing failed.
	// The record is stored for audit but excluded from default query views.
	StatusError Status = "error"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusNormal, StatusWarning, StatusError:
		return true
	}
	return false
}

// Key uniquely identifies one stored record. Re-delivery of a message with
// the same key overwrites the prior record (idempotent, not additive).
type Key struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
}

// String returns the key in "device_id/timestamp" form.
func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.DeviceID, k.Timestamp)
}

// Record is the validated, normalized, stored form of a reading.
type Record struct {
	Key Key `json:"key"`

	// Data is the original sensor mapping plus location and battery level.
	// Opaque to the store; the catalog infers its shape by sampling.
	Data map[string]interface{} `json:"data"`

	// ReceivedAt is assigned once at intake acceptance and is immutable.
	ReceivedAt time.Time `json:"received_at"`

	// ProcessedAt is assigned when standardization completes.
	// Always >= ReceivedAt.
	ProcessedAt time.Time `json:"processed_at"`

	Status Status `json:"status"`

	// ErrorReason annotates records persisted with StatusError after an
	// internal processing failure. Empty otherwise.
	ErrorReason string `json:"error_reason,omitempty"`
}
