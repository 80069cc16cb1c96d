package archive

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/telemetra/telemetra/internal/catalog"
	"github.com/telemetra/telemetra/internal/storage"
	"github.com/telemetra/telemetra/pkg/types"
)

// batchSize bounds how many records one sweep moves into a segment.
const batchSize = 10000

// ColdReader is the slice of the store the archiver reads and prunes.
type ColdReader interface {
	ScanReceivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.Record, error)
	DeleteByKeys(ctx context.Context, keys []types.Key) error
}

// Registrar records archived segments in the catalog.
type Registrar interface {
	RegisterSegment(seg catalog.Segment) error
}

// Archiver periodically exports records older than the hot window to
// object storage and prunes them from the live store. Rows are deleted
// only after the segment is durably uploaded and registered; any failure
// leaves them in place for the next sweep.
type Archiver struct {
	store     ColdReader
	registrar Registrar
	objects   storage.ObjectStorage
	hotWindow time.Duration
	interval  time.Duration
	workDir   string
	clock     func() time.Time
}

// Options configures an Archiver.
type Options struct {
	HotWindow time.Duration
	Interval  time.Duration
	WorkDir   string
}

// New creates an Archiver.
func New(store ColdReader, registrar Registrar, objects storage.ObjectStorage, opts Options) *Archiver {
	if opts.HotWindow <= 0 {
		opts.HotWindow = 7 * 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Archiver{
		store:     store,
		registrar: registrar,
		objects:   objects,
		hotWindow: opts.HotWindow,
		interval:  opts.Interval,
		workDir:   opts.WorkDir,
		clock:     time.Now,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	log.Printf("Archiver started: hot_window=%s interval=%s", a.hotWindow, a.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Archiver stopped")
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				log.Printf("Archive sweep failed: %v", err)
			}
		}
	}
}

// Sweep archives one batch of cold records. It returns the number of
// records moved; zero means nothing was old enough.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	cutoff := a.clock().Add(-a.hotWindow)
	records, err := a.store.ScanReceivedBefore(ctx, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to scan cold records: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	segmentID := fmt.Sprintf("seg-%s", uuid.New().String())
	objectPath := fmt.Sprintf("archive/%s.snappy", segmentID)
	localPath := filepath.Join(a.workDir, segmentID+".snappy")
	createdAt := a.clock()

	size, err := writeSegmentFile(localPath, segmentID, createdAt.UnixNano(), records)
	if err != nil {
		return 0, err
	}
	defer os.Remove(localPath)

	if err := a.objects.Upload(ctx, localPath, objectPath); err != nil {
		return 0, fmt.Errorf("failed to upload segment %s: %w", segmentID, err)
	}

	filter := buildFilter(records)
	minTS, maxTS := timestampBounds(records)
	err = a.registrar.RegisterSegment(catalog.Segment{
		ID:           segmentID,
		ObjectPath:   objectPath,
		MinTimestamp: minTS,
		MaxTimestamp: maxTS,
		RecordCount:  int64(len(records)),
		SizeBytes:    size,
		BloomData:    filter.Serialize(),
		BloomBits:    filter.NumBits(),
		BloomHashes:  filter.NumHashes(),
		CreatedAt:    createdAt,
	})
	if err != nil {
		// The uploaded object is orphaned but harmless; the rows stay
		// live and the next sweep writes a fresh segment.
		return 0, fmt.Errorf("failed to register segment %s: %w", segmentID, err)
	}

	keys := make([]types.Key, len(records))
	for i := range records {
		keys[i] = records[i].Key
	}
	if err := a.store.DeleteByKeys(ctx, keys); err != nil {
		return 0, fmt.Errorf("failed to prune archived records: %w", err)
	}

	log.Printf("Archived segment %s: records=%d bytes=%d span=[%d,%d]",
		segmentID, len(records), size, minTS, maxTS)
	return len(records), nil
}
