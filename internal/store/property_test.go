package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/telemetra/telemetra/pkg/types"
)

// TestProperty_IdempotentPut validates that put(R); put(R) yields the same
// observable state as a single put(R): an overwrite, never a duplicate.
func TestProperty_IdempotentPut(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("double put equals single put", prop.ForAll(
		func(device string, ts int64, temperature float64) bool {
			rec := &types.Record{
				Key:         types.Key{DeviceID: device, Timestamp: ts},
				Data:        map[string]interface{}{"temperature": temperature},
				ReceivedAt:  time.Unix(ts, 0).UTC(),
				ProcessedAt: time.Unix(ts, 0).UTC(),
				Status:      types.StatusNormal,
			}

			if err := s.Put(ctx, rec); err != nil {
				return false
			}
			afterFirst, err := s.Get(ctx, rec.Key)
			if err != nil {
				return false
			}

			if err := s.Put(ctx, rec); err != nil {
				return false
			}
			afterSecond, err := s.Get(ctx, rec.Key)
			if err != nil {
				return false
			}

			if !reflect.DeepEqual(afterFirst, afterSecond) {
				return false
			}

			// Exactly one record for the key
			rows, err := s.Scan(ctx, ScanOptions{DeviceID: device, StartTimestamp: &ts, EndTimestamp: &ts})
			return err == nil && len(rows) == 1
		},
		gen.RegexMatch("d[0-9]{1,4}"),
		gen.Int64Range(1, 2_000_000_000),
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}
