// Package store provides the durable time-series store for standardized
// records. It is the system of record: once Put returns success the record
// is observable by Get and Scan.
package store

import (
	"context"
	"errors"

	"github.com/telemetra/telemetra/pkg/types"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// ScanOptions bounds a Scan over stored records.
type ScanOptions struct {
	// DeviceID restricts the scan to one device. Empty scans all devices.
	DeviceID string

	// StartTimestamp / EndTimestamp bound the inclusive timestamp range.
	// Nil means unbounded on that side.
	StartTimestamp *int64
	EndTimestamp   *int64

	// IncludeErrors includes status=error records, which default query
	// views exclude (they are stored for audit only).
	IncludeErrors bool

	// Limit caps the number of returned records (0 means no cap).
	Limit int

	// Descending reverses the timestamp order.
	Descending bool
}

// Store is the durable keyed storage for standardized records.
type Store interface {
	// Put stores the record, overwriting any prior record with the same
	// (device_id, timestamp) key. Last writer wins.
	Put(ctx context.Context, record *types.Record) error

	// Get retrieves one record by key, or ErrNotFound.
	Get(ctx context.Context, key types.Key) (*types.Record, error)

	// Scan returns records ordered by timestamp.
	Scan(ctx context.Context, opts ScanOptions) ([]types.Record, error)

	// SampleRecent returns up to n of the most recently received records
	// across all devices. Used by the metadata catalog; never blocks or
	// is blocked by writes.
	SampleRecent(ctx context.Context, n int) ([]types.Record, error)

	// Close closes the store.
	Close() error
}
