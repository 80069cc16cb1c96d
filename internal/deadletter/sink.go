// Package deadletter provides a durable sink for records the pipeline could
// not store after exhausting retries. Entries are framed with a length and
// CRC32 so a truncated tail never corrupts replay.
package deadletter

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/telemetra/telemetra/pkg/types"
)

// Entry is one dead-lettered record together with why it landed here.
type Entry struct {
	Record   types.Record `json:"record"`
	Reason   string       `json:"reason"`
	QueuedAt time.Time    `json:"queued_at"`
}

// Sink receives records that could not be durably stored.
type Sink interface {
	Enqueue(entry *Entry) error
	Close() error
}

// FileSink is an append-only segmented log. Each entry is written as
// [length:4][crc32:4][payload:length], fsynced before Enqueue returns.
type FileSink struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	mu         sync.Mutex
}

// NewFileSink opens the dead-letter log in dir, continuing from the
// highest existing segment.
func NewFileSink(dir string, maxSegSize int64) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("deadletter: failed to create directory: %w", err)
	}
	if maxSegSize <= 0 {
		maxSegSize = 64 * 1024 * 1024
	}

	s := &FileSink{dir: dir, maxSegSize: maxSegSize}
	if err := s.findLastSegment(); err != nil {
		return nil, err
	}
	if err := s.openSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// findLastSegment finds the highest segment ID from existing files.
func (s *FileSink) findLastSegment() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("deadletter: failed to read directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if len(name) < 24 || name[:4] != "dlq_" {
			continue
		}
		var segmentID uint64
		if _, err := fmt.Sscanf(name[4:20], "%016x", &segmentID); err == nil && segmentID >= s.segmentID {
			s.segmentID = segmentID
		}
	}
	return nil
}

func (s *FileSink) segmentPath(id uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("dlq_%016x.log", id))
}

// openSegment opens the current segment file for appending.
func (s *FileSink) openSegment() error {
	file, err := os.OpenFile(s.segmentPath(s.segmentID), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("deadletter: failed to open segment: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("deadletter: failed to seek segment: %w", err)
	}

	s.segment = file
	s.offset = offset
	return nil
}

// Enqueue appends the entry durably. The entry is on disk when this returns.
func (s *FileSink) Enqueue(entry *Entry) error {
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("deadletter: failed to serialize entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	crc := crc32.ChecksumIEEE(payload)
	if err := binary.Write(s.segment, binary.LittleEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("deadletter: failed to write length: %w", err)
	}
	if err := binary.Write(s.segment, binary.LittleEndian, crc); err != nil {
		return fmt.Errorf("deadletter: failed to write CRC: %w", err)
	}
	if _, err := s.segment.Write(payload); err != nil {
		return fmt.Errorf("deadletter: failed to write payload: %w", err)
	}
	if err := s.segment.Sync(); err != nil {
		return fmt.Errorf("deadletter: failed to fsync: %w", err)
	}

	s.offset += int64(8 + len(payload))
	if s.offset >= s.maxSegSize {
		return s.rotateSegment()
	}
	return nil
}

// rotateSegment closes the current segment and opens the next one.
// Caller holds the lock.
func (s *FileSink) rotateSegment() error {
	if s.segment != nil {
		if err := s.segment.Close(); err != nil {
			return fmt.Errorf("deadletter: failed to close segment: %w", err)
		}
	}
	s.segmentID++
	return s.openSegment()
}

// Close fsyncs and closes the current segment.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.segment == nil {
		return nil
	}
	if err := s.segment.Sync(); err != nil {
		return fmt.Errorf("deadletter: failed to fsync on close: %w", err)
	}
	err := s.segment.Close()
	s.segment = nil
	return err
}

// Segments lists dead-letter segment paths in ascending order.
func Segments(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("deadletter: failed to read directory: %w", err)
	}

	var paths []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if len(name) >= 24 && name[:4] == "dlq_" {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths, nil
}

// ReadEntries reads all entries from one segment file. Entries with a CRC
// mismatch or a truncated tail are skipped so a crash mid-append never
// blocks redrive.
func ReadEntries(segmentPath string) ([]*Entry, error) {
	file, err := os.Open(segmentPath)
	if err != nil {
		return nil, fmt.Errorf("deadletter: failed to open segment: %w", err)
	}
	defer file.Close()

	var entries []*Entry
	for {
		var length uint32
		if err := binary.Read(file, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("deadletter: failed to read length: %w", err)
		}

		var crc uint32
		if err := binary.Read(file, binary.LittleEndian, &crc); err != nil {
			break
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			// Truncated write, stop reading
			break
		}

		if crc32.ChecksumIEEE(payload) != crc {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}
