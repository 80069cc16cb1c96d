// Package config provides unified configuration for all Telemetra services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll     Mode = "all"
	ModeIntake  Mode = "intake"
	ModeQuery   Mode = "query"
	ModeCatalog Mode = "catalog"
)

// Config holds the unified configuration for all Telemetra services.
type Config struct {
	// Mode specifies which services to run: all, intake, query, catalog
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// NATS configuration for the pub/sub intake
	NATS NATSConfig `json:"nats" yaml:"nats"`

	// Pipeline holds validation and standardization settings
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Store holds time-series store settings
	Store StoreConfig `json:"store" yaml:"store"`

	// Catalog holds metadata catalog settings
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Archive holds cold-tier archiver settings
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Storage holds object storage settings for archived segments
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// IntakeAddr is the HTTP address for the intake service
	IntakeAddr string `json:"intake_addr" yaml:"intake_addr"`

	// QueryAddr is the HTTP address for the query service
	QueryAddr string `json:"query_addr" yaml:"query_addr"`

	// OpsAddr is the HTTP address for health and metrics
	OpsAddr string `json:"ops_addr" yaml:"ops_addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// NATSConfig holds pub/sub intake configuration.
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `json:"url" yaml:"url"`

	// Subject is the wildcard subject for device telemetry.
	// The device ID occupies the second token (device.{device_id}.data).
	Subject string `json:"subject" yaml:"subject"`

	// Enabled controls whether the NATS subscriber runs
	Enabled bool `json:"enabled" yaml:"enabled"`

	// HandlerTimeout bounds per-message processing
	HandlerTimeout time.Duration `json:"handler_timeout" yaml:"handler_timeout"`
}

// SensorRange bounds acceptable values for one sensor.
type SensorRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// PipelineConfig holds validation and standardization settings.
type PipelineConfig struct {
	// Ranges maps sensor names to acceptable value ranges.
	// Sensors absent from the table are accepted as-is.
	Ranges map[string]SensorRange `json:"ranges" yaml:"ranges"`

	// MaxClockSkew is how far a device timestamp may deviate from
	// received_at before the record is flagged with status=warning.
	MaxClockSkew time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
}

// StoreConfig holds time-series store settings.
type StoreConfig struct {
	// Path is the SQLite database path (defaults under DataDir)
	Path string `json:"path" yaml:"path"`

	// RetryAttempts bounds retries for transient write failures
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`

	// RetryInitialDelay is the first backoff delay
	RetryInitialDelay time.Duration `json:"retry_initial_delay" yaml:"retry_initial_delay"`

	// RetryMaxDelay caps the backoff delay
	RetryMaxDelay time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`

	// DeadLetterDir is the directory for the dead-letter log
	DeadLetterDir string `json:"dead_letter_dir" yaml:"dead_letter_dir"`

	// AuditPath is the audit log file (empty routes audit entries to the
	// process log)
	AuditPath string `json:"audit_path" yaml:"audit_path"`
}

// CatalogConfig holds metadata catalog settings.
type CatalogConfig struct {
	// Path is the catalog database path (defaults under DataDir)
	Path string `json:"path" yaml:"path"`

	// RefreshInterval is the time between automatic refreshes.
	// The original deployment crawled daily; keep that as the default.
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`

	// SampleSize is how many recent records a refresh samples
	SampleSize int `json:"sample_size" yaml:"sample_size"`
}

// ArchiveConfig holds cold-tier archiver settings.
type ArchiveConfig struct {
	// Enabled controls whether the archiver daemon runs
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is the time between archive sweeps
	Interval time.Duration `json:"interval" yaml:"interval"`

	// HotWindow is how long records stay in the live store before
	// they are eligible for archival
	HotWindow time.Duration `json:"hot_window" yaml:"hot_window"`

	// WorkDir is the directory for segment staging files
	WorkDir string `json:"work_dir" yaml:"work_dir"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/telemetra",
		HTTP: HTTPConfig{
			IntakeAddr:   ":8080",
			QueryAddr:    ":8081",
			OpsAddr:      ":8082",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Subject:        "device.*.data",
			Enabled:        true,
			HandlerTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Ranges: map[string]SensorRange{
				"temperature": {Min: -40, Max: 85},
				"humidity":    {Min: 0, Max: 100},
			},
			MaxClockSkew: 24 * time.Hour,
		},
		Store: StoreConfig{
			RetryAttempts:     5,
			RetryInitialDelay: 100 * time.Millisecond,
			RetryMaxDelay:     5 * time.Second,
		},
		Catalog: CatalogConfig{
			RefreshInterval: 24 * time.Hour,
			SampleSize:      1000,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  time.Hour,
			HotWindow: 7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Type: "local",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/telemetra"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "records.db")
	}
	if c.Store.DeadLetterDir == "" {
		c.Store.DeadLetterDir = filepath.Join(c.DataDir, "deadletter")
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Archive.WorkDir == "" {
		c.Archive.WorkDir = filepath.Join(c.DataDir, "archive")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIntake, ModeQuery, ModeCatalog:
	default:
		return fmt.Errorf("invalid mode: %s (must be all, intake, query, or catalog)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Store.RetryAttempts < 1 {
		return fmt.Errorf("store.retry_attempts must be at least 1, got %d", c.Store.RetryAttempts)
	}
	if c.Catalog.SampleSize < 1 {
		return fmt.Errorf("catalog.sample_size must be at least 1, got %d", c.Catalog.SampleSize)
	}
	if c.Catalog.RefreshInterval <= 0 {
		return fmt.Errorf("catalog.refresh_interval must be positive")
	}
	for name, r := range c.Pipeline.Ranges {
		if r.Min > r.Max {
			return fmt.Errorf("pipeline.ranges[%s]: min %v exceeds max %v", name, r.Min, r.Max)
		}
	}

	return nil
}

// ShouldRunIntake returns true if the intake service should run.
func (c *Config) ShouldRunIntake() bool {
	return c.Mode == ModeAll || c.Mode == ModeIntake
}

// ShouldRunQuery returns true if the query service should run.
func (c *Config) ShouldRunQuery() bool {
	return c.Mode == ModeAll || c.Mode == ModeQuery
}

// ShouldRunCatalog returns true if the catalog refresher should run.
func (c *Config) ShouldRunCatalog() bool {
	return c.Mode == ModeAll || c.Mode == ModeQuery || c.Mode == ModeCatalog
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TELEMETRA_ prefix. A .env file in the
// working directory is applied first, without overriding the real
// environment.
func LoadFromEnv(cfg *Config) {
	// Missing .env is the normal case
	_ = godotenv.Load()

	if v := os.Getenv("TELEMETRA_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("TELEMETRA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("TELEMETRA_HTTP_INTAKE_ADDR"); v != "" {
		cfg.HTTP.IntakeAddr = v
	}
	if v := os.Getenv("TELEMETRA_HTTP_QUERY_ADDR"); v != "" {
		cfg.HTTP.QueryAddr = v
	}
	if v := os.Getenv("TELEMETRA_HTTP_OPS_ADDR"); v != "" {
		cfg.HTTP.OpsAddr = v
	}

	// NATS configuration
	if v := os.Getenv("TELEMETRA_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("TELEMETRA_NATS_SUBJECT"); v != "" {
		cfg.NATS.Subject = v
	}
	if v := os.Getenv("TELEMETRA_NATS_ENABLED"); v != "" {
		cfg.NATS.Enabled = v == "true" || v == "1"
	}

	// Store configuration
	if v := os.Getenv("TELEMETRA_STORE_RETRY_ATTEMPTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Store.RetryAttempts)
	}

	// Catalog configuration
	if v := os.Getenv("TELEMETRA_CATALOG_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Catalog.RefreshInterval = d
		}
	}
	if v := os.Getenv("TELEMETRA_CATALOG_SAMPLE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Catalog.SampleSize)
	}

	// Archive configuration
	if v := os.Getenv("TELEMETRA_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TELEMETRA_ARCHIVE_HOT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Archive.HotWindow = d
		}
	}

	// Storage configuration
	if v := os.Getenv("TELEMETRA_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("TELEMETRA_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TELEMETRA_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("TELEMETRA_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("TELEMETRA_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Store.DeadLetterDir,
		c.Archive.WorkDir,
		c.Storage.Path,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
