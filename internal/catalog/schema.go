// Package catalog maintains the derived schema catalog for query planning.
package catalog

// SQL schema for catalog.db. The catalog is derived state: it can be
// deleted and rebuilt from the store at any time without data loss.

// CreateVersionsTableSQL stores one row per successful refresh so the
// last-good entry survives restarts.
const CreateVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS catalog_versions (
    version INTEGER PRIMARY KEY,
    refreshed_at INTEGER NOT NULL,
    sample_size INTEGER NOT NULL,
    fields_json TEXT NOT NULL
)`

// CreateSegmentsTableSQL tracks archived cold segments: their object
// path, timestamp bounds, and a serialized device-membership bloom filter.
const CreateSegmentsTableSQL = `
CREATE TABLE IF NOT EXISTS segments (
    segment_id TEXT PRIMARY KEY,
    object_path TEXT NOT NULL,
    min_timestamp INTEGER NOT NULL,
    max_timestamp INTEGER NOT NULL,
    record_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    bloom_data BLOB,
    bloom_bits INTEGER NOT NULL DEFAULT 0,
    bloom_hashes INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
)`

// CreateSegmentsIndexSQL supports time-bounded segment lookups.
const CreateSegmentsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_segments_time ON segments(min_timestamp, max_timestamp)`

// AllSchemaSQL returns all statements needed to initialize catalog.db.
func AllSchemaSQL() []string {
	return []string{
		CreateVersionsTableSQL,
		CreateSegmentsTableSQL,
		CreateSegmentsIndexSQL,
	}
}
