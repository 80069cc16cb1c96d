package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/telemetra/telemetra/internal/audit"
	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/internal/metrics"
	"github.com/telemetra/telemetra/internal/store"
	"github.com/telemetra/telemetra/pkg/types"
)

// Segment describes one archived cold segment registered by the archiver.
type Segment struct {
	ID           string
	ObjectPath   string
	MinTimestamp int64
	MaxTimestamp int64
	RecordCount  int64
	SizeBytes    int64
	BloomData    []byte
	BloomBits    uint
	BloomHashes  uint
	CreatedAt    time.Time
}

// Sampler is the slice of the store the refresher needs.
type Sampler interface {
	SampleRecent(ctx context.Context, limit int) ([]types.Record, error)
}

// Refresher maintains the catalog: it periodically samples recent records,
// infers the field schema, and publishes a new versioned entry. Readers
// always see one consistent snapshot; a failed refresh leaves the previous
// entry in place.
type Refresher struct {
	db         *sql.DB
	sampler    Sampler
	sampleSize int
	interval   time.Duration
	auditor    audit.Sink
	metrics    *metrics.Metrics

	// refreshMu serializes whole refreshes: the version is derived from
	// the current entry and persisted under a uniqueness constraint, so
	// two interleaved refreshes would collide on the same version.
	refreshMu sync.Mutex

	mu      sync.RWMutex
	current *types.CatalogEntry

	trigger chan struct{}
}

// Options configures a Refresher.
type Options struct {
	Path       string
	SampleSize int
	Interval   time.Duration
	Auditor    audit.Sink
	Metrics    *metrics.Metrics
}

// NewRefresher opens (or creates) catalog.db at opts.Path and loads the
// last persisted entry so schema information survives restarts.
func NewRefresher(sampler Sampler, opts Options) (*Refresher, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = 1000
	}
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeRefreshFailed, "failed to open catalog database", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range AllSchemaSQL() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.NewCatalogError(errors.CodeRefreshFailed, "failed to initialize catalog schema", err)
		}
	}

	r := &Refresher{
		db:         db,
		sampler:    sampler,
		sampleSize: opts.SampleSize,
		interval:   opts.Interval,
		auditor:    opts.Auditor,
		metrics:    opts.Metrics,
		trigger:    make(chan struct{}, 1),
	}
	if err := r.loadLatest(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the catalog database handle.
func (r *Refresher) Close() error {
	return r.db.Close()
}

// Current returns the active catalog entry. Callers must treat the entry
// as immutable. Returns a CATALOG/NO_ENTRY error before the first
// successful refresh of a fresh deployment.
func (r *Refresher) Current() (*types.CatalogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil, errors.NewCatalogError(errors.CodeNoEntry, "catalog has no entry yet", nil)
	}
	return r.current, nil
}

// Refresh samples the store, infers a new schema, persists it, and swaps
// it in as the current entry. On any failure the previous entry remains
// active.
func (r *Refresher) Refresh(ctx context.Context) (*types.CatalogEntry, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	entry, err := r.buildEntry(ctx)
	if err != nil {
		r.recordFailure(err)
		return nil, err
	}

	r.mu.Lock()
	r.current = entry
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.CatalogRefreshesTotal.WithLabelValues("success").Inc()
		r.metrics.CatalogVersion.Set(float64(entry.Version))
	}
	log.Printf("Catalog refreshed: version=%d fields=%d sample=%d",
		entry.Version, len(entry.Fields), entry.SampleSize)
	return entry, nil
}

// Trigger requests an immediate refresh from the Run loop. Non-blocking;
// a pending trigger is coalesced.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes on the configured interval and on explicit triggers until
// the context is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("Catalog refresher started: interval=%s sample_size=%d", r.interval, r.sampleSize)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Catalog refresher stopped")
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				log.Printf("Scheduled catalog refresh failed: %v", err)
			}
		case <-r.trigger:
			if _, err := r.Refresh(ctx); err != nil {
				log.Printf("Triggered catalog refresh failed: %v", err)
			}
		}
	}
}

func (r *Refresher) buildEntry(ctx context.Context) (*types.CatalogEntry, error) {
	records, err := r.sampler.SampleRecent(ctx, r.sampleSize)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeRefreshFailed, "failed to sample store", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeRefreshFailed, "refresh cancelled", err)
	}

	entry := &types.CatalogEntry{
		Version:     r.nextVersion(),
		RefreshedAt: time.Now(),
		Fields:      InferFields(records),
		SampleSize:  len(records),
	}
	if err := r.persist(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *Refresher) nextVersion() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return 1
	}
	return r.current.Version + 1
}

func (r *Refresher) persist(entry *types.CatalogEntry) error {
	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return errors.NewCatalogError(errors.CodeRefreshFailed, "failed to encode fields", err)
	}
	_, err = r.db.Exec(
		"INSERT INTO catalog_versions (version, refreshed_at, sample_size, fields_json) VALUES (?, ?, ?, ?)",
		entry.Version, entry.RefreshedAt.UnixNano(), entry.SampleSize, string(fieldsJSON),
	)
	if err != nil {
		return errors.NewCatalogError(errors.CodeRefreshFailed, "failed to persist catalog version", err)
	}
	return nil
}

func (r *Refresher) loadLatest() error {
	row := r.db.QueryRow(
		"SELECT version, refreshed_at, sample_size, fields_json FROM catalog_versions ORDER BY version DESC LIMIT 1")

	var (
		version     int64
		refreshedAt int64
		sampleSize  int
		fieldsJSON  string
	)
	if err := row.Scan(&version, &refreshedAt, &sampleSize, &fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return errors.NewCatalogError(errors.CodeRefreshFailed, "failed to load latest catalog version", err)
	}

	var fields []types.FieldDef
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return errors.NewCatalogError(errors.CodeRefreshFailed, "corrupt persisted catalog entry", err)
	}
	r.current = &types.CatalogEntry{
		Version:     version,
		RefreshedAt: time.Unix(0, refreshedAt),
		Fields:      fields,
		SampleSize:  sampleSize,
	}
	log.Printf("Catalog loaded from disk: version=%d fields=%d", version, len(fields))
	return nil
}

func (r *Refresher) recordFailure(err error) {
	if r.metrics != nil {
		r.metrics.CatalogRefreshesTotal.WithLabelValues("failure").Inc()
	}
	if r.auditor != nil {
		r.auditor.Record(audit.Entry{
			Kind:      audit.KindCatalogFailure,
			Reason:    "refresh failed",
			Detail:    err.Error(),
			Timestamp: time.Now(),
		})
	}
}

// RegisterSegment records an archived segment so queries and operators can
// locate cold data.
func (r *Refresher) RegisterSegment(seg Segment) error {
	_, err := r.db.Exec(
		`INSERT INTO segments
		 (segment_id, object_path, min_timestamp, max_timestamp, record_count, size_bytes,
		  bloom_data, bloom_bits, bloom_hashes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.ID, seg.ObjectPath, seg.MinTimestamp, seg.MaxTimestamp, seg.RecordCount,
		seg.SizeBytes, seg.BloomData, int64(seg.BloomBits), int64(seg.BloomHashes),
		seg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return errors.NewCatalogError(errors.CodeRefreshFailed,
			fmt.Sprintf("failed to register segment %s", seg.ID), err)
	}
	return nil
}

// ListSegments returns all registered segments ordered by time bounds.
func (r *Refresher) ListSegments() ([]Segment, error) {
	rows, err := r.db.Query(
		`SELECT segment_id, object_path, min_timestamp, max_timestamp, record_count,
		        size_bytes, bloom_data, bloom_bits, bloom_hashes, created_at
		 FROM segments ORDER BY min_timestamp, segment_id`)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeRefreshFailed, "failed to list segments", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var (
			seg       Segment
			bits      int64
			hashes    int64
			createdAt int64
		)
		if err := rows.Scan(&seg.ID, &seg.ObjectPath, &seg.MinTimestamp, &seg.MaxTimestamp,
			&seg.RecordCount, &seg.SizeBytes, &seg.BloomData, &bits, &hashes, &createdAt); err != nil {
			return nil, errors.NewCatalogError(errors.CodeRefreshFailed, "failed to scan segment row", err)
		}
		seg.BloomBits = uint(bits)
		seg.BloomHashes = uint(hashes)
		seg.CreatedAt = time.Unix(0, createdAt)
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeRefreshFailed, "segment iteration failed", err)
	}
	return segments, nil
}

var _ Sampler = (store.Store)(nil)
