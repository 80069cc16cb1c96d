// Package archive moves cold records out of the live store into object
// storage as immutable, compressed segments.
package archive

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/snappy"

	"github.com/telemetra/telemetra/internal/bloom"
	"github.com/telemetra/telemetra/pkg/types"
)

// segmentData is the on-disk shape of one archived segment before
// compression.
type segmentData struct {
	SegmentID string         `json:"segment_id"`
	CreatedAt int64          `json:"created_at"`
	Records   []types.Record `json:"records"`
}

// writeSegmentFile encodes records as a snappy-compressed JSON document
// at path and returns the file size in bytes.
func writeSegmentFile(path, segmentID string, createdAt int64, records []types.Record) (int64, error) {
	raw, err := json.Marshal(segmentData{
		SegmentID: segmentID,
		CreatedAt: createdAt,
		Records:   records,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode segment: %w", err)
	}

	compressed := snappy.Encode(nil, raw)
	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return 0, fmt.Errorf("failed to write segment file: %w", err)
	}
	return int64(len(compressed)), nil
}

// ReadSegmentFile decodes a segment file written by the archiver.
func ReadSegmentFile(path string) ([]types.Record, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment file: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress segment: %w", err)
	}
	var data segmentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode segment: %w", err)
	}
	return data.Records, nil
}

// buildFilter creates a device membership filter for the segment.
func buildFilter(records []types.Record) *bloom.Filter {
	devices := make(map[string]bool, len(records))
	for i := range records {
		devices[records[i].Key.DeviceID] = true
	}
	f := bloom.NewWithEstimates(len(devices), 0.01)
	for device := range devices {
		f.Add(device)
	}
	return f
}

// timestampBounds returns the min and max record timestamps.
func timestampBounds(records []types.Record) (min, max int64) {
	min = records[0].Key.Timestamp
	max = min
	for i := range records[1:] {
		ts := records[i+1].Key.Timestamp
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return min, max
}
