// Package audit provides the structured audit/error log sink. Every intake
// rejection, validation warning or error, and store retry exhaustion is
// recorded as one entry.
package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Kind classifies an audit entry.
type Kind string

const (
	KindIntakeRejected Kind = "intake_rejected"
	KindValidationFlag Kind = "validation_flag"
	KindRetryExhausted Kind = "retry_exhausted"
	KindCatalogFailure Kind = "catalog_failure"
)

// Entry is one structured audit record.
type Entry struct {
	Kind      Kind      `json:"kind"`
	DeviceID  string    `json:"device_id,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives audit entries. Implementations must be safe for
// concurrent use; Record must never fail the calling pipeline.
type Sink interface {
	Record(e Entry)
	Close() error
}

// FileSink appends audit entries as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileSink opens (or creates) the audit log at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open log: %w", err)
	}
	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

// Record appends the entry. Encoding failures are logged, never propagated.
func (s *FileSink) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(e); err != nil {
		log.Printf("audit: failed to write entry: %v", err)
	}
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// LogSink writes audit entries to the process log. Used when no audit
// file is configured.
type LogSink struct{}

func (LogSink) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	log.Printf("audit: kind=%s device=%s reason=%q detail=%q", e.Kind, e.DeviceID, e.Reason, e.Detail)
}

func (LogSink) Close() error { return nil }
