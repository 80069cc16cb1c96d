package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/pkg/types"
)

// Record table schema. The composite primary key makes re-delivery an
// overwrite rather than a duplicate, and WITHOUT ROWID keeps the table
// clustered by key for ascending scans.
const createRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS records (
    device_id TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    data BLOB NOT NULL,
    received_at INTEGER NOT NULL,
    processed_at INTEGER NOT NULL,
    status TEXT NOT NULL,
    error_reason TEXT,
    PRIMARY KEY (device_id, timestamp)
) WITHOUT ROWID`

// Index for catalog sampling and archive sweeps, both of which walk
// records by arrival time rather than by key.
const createReceivedAtIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_records_received ON records(received_at)`

const upsertRecordSQL = `
INSERT OR REPLACE INTO records
    (device_id, timestamp, data, received_at, processed_at, status, error_reason)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// SQLiteStore implements Store on a single SQLite database with a
// dedicated write connection and a pooled read connection, mirroring the
// single-writer/many-readers split SQLite wants under WAL mode.
type SQLiteStore struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string

	putStmt *sql.Stmt
}

// NewSQLiteStore opens (or creates) the record store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{db: db, readDB: readDB, dbPath: dbPath}

	for _, stmt := range []string{createRecordsTableSQL, createReceivedAtIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			readDB.Close()
			db.Close()
			return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
		}
	}

	putStmt, err := db.Prepare(upsertRecordSQL)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("store: failed to prepare put statement: %w", err)
	}
	s.putStmt = putStmt

	return s, nil
}

// Put stores the record, overwriting any prior record with the same key.
func (s *SQLiteStore) Put(ctx context.Context, record *types.Record) error {
	if record.Key.DeviceID == "" {
		return errors.NewStoreError(errors.CodeUnrecoverable, "record has empty device_id", nil)
	}
	if !record.Status.Valid() {
		return errors.NewStoreError(errors.CodeUnrecoverable,
			fmt.Sprintf("record has invalid status %q", record.Status), nil)
	}

	payload, err := encodePayload(record.Data)
	if err != nil {
		return errors.NewStoreError(errors.CodeUnrecoverable, "failed to encode payload", err)
	}

	_, err = s.putStmt.ExecContext(ctx,
		record.Key.DeviceID,
		record.Key.Timestamp,
		payload,
		record.ReceivedAt.UnixNano(),
		record.ProcessedAt.UnixNano(),
		string(record.Status),
		nullString(record.ErrorReason),
	)
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// Get retrieves one record by key.
func (s *SQLiteStore) Get(ctx context.Context, key types.Key) (*types.Record, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT device_id, timestamp, data, received_at, processed_at, status, error_reason
		FROM records WHERE device_id = ? AND timestamp = ?`,
		key.DeviceID, key.Timestamp)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeReadFailed, "get failed", err)
	}
	return record, nil
}

// Scan returns records for one device ordered by timestamp.
func (s *SQLiteStore) Scan(ctx context.Context, opts ScanOptions) ([]types.Record, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT device_id, timestamp, data, received_at, processed_at, status, error_reason
		FROM records WHERE 1=1`)
	var args []interface{}

	if opts.DeviceID != "" {
		sb.WriteString(" AND device_id = ?")
		args = append(args, opts.DeviceID)
	}
	if opts.StartTimestamp != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, *opts.StartTimestamp)
	}
	if opts.EndTimestamp != nil {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, *opts.EndTimestamp)
	}
	if !opts.IncludeErrors {
		sb.WriteString(" AND status != ?")
		args = append(args, string(types.StatusError))
	}

	if opts.Descending {
		sb.WriteString(" ORDER BY timestamp DESC, device_id DESC")
	} else {
		sb.WriteString(" ORDER BY timestamp ASC, device_id ASC")
	}
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}

	return s.queryRecords(ctx, sb.String(), args...)
}

// SampleRecent returns up to n of the most recently received records.
func (s *SQLiteStore) SampleRecent(ctx context.Context, n int) ([]types.Record, error) {
	return s.queryRecords(ctx, `
		SELECT device_id, timestamp, data, received_at, processed_at, status, error_reason
		FROM records ORDER BY received_at DESC LIMIT ?`, n)
}

// ScanReceivedBefore returns records received before cutoff, oldest first.
// Used by the archiver to select cold rows.
func (s *SQLiteStore) ScanReceivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.Record, error) {
	return s.queryRecords(ctx, `
		SELECT device_id, timestamp, data, received_at, processed_at, status, error_reason
		FROM records WHERE received_at < ? ORDER BY received_at ASC LIMIT ?`,
		cutoff.UnixNano(), limit)
}

// DeleteByKeys removes the given records inside one transaction. The
// archiver calls this only after the segment upload succeeded.
func (s *SQLiteStore) DeleteByKeys(ctx context.Context, keys []types.Key) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyWriteError(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM records WHERE device_id = ? AND timestamp = ?")
	if err != nil {
		return classifyWriteError(err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, key.DeviceID, key.Timestamp); err != nil {
			return classifyWriteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, errors.NewStoreError(errors.CodeReadFailed, "count failed", err)
	}
	return n, nil
}

// Close closes both database connections.
func (s *SQLiteStore) Close() error {
	if s.putStmt != nil {
		s.putStmt.Close()
	}
	var firstErr error
	if err := s.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]types.Record, error) {
	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStoreError(errors.CodeReadFailed, "query failed", err)
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.NewStoreError(errors.CodeReadFailed, "row decode failed", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError(errors.CodeReadFailed, "row iteration failed", err)
	}
	return records, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var (
		record      types.Record
		payload     []byte
		receivedAt  int64
		processedAt int64
		status      string
		errorReason sql.NullString
	)
	err := row.Scan(&record.Key.DeviceID, &record.Key.Timestamp, &payload,
		&receivedAt, &processedAt, &status, &errorReason)
	if err != nil {
		return nil, err
	}

	data, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	record.Data = data
	record.ReceivedAt = time.Unix(0, receivedAt).UTC()
	record.ProcessedAt = time.Unix(0, processedAt).UTC()
	record.Status = types.Status(status)
	if errorReason.Valid {
		record.ErrorReason = errorReason.String
	}
	return &record, nil
}

// encodePayload serializes and snappy-compresses the record data.
func encodePayload(data map[string]interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// decodePayload reverses encodePayload.
func decodePayload(payload []byte) (map[string]interface{}, error) {
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// classifyWriteError wraps SQLite failures, flagging lock contention as
// retryable so the write path can back off instead of dead-lettering.
func classifyWriteError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return errors.NewStoreError(errors.CodeWriteFailed, "write contention", err)
	}
	return errors.NewStoreError(errors.CodeUnrecoverable, "write failed", err)
}
