// Package storage provides the object storage abstraction used by the
// archive tier.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/telemetra/telemetra/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts object storage for archived segments.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Upload uploads a local file to objectPath in storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download fetches objectPath from storage into localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// New builds the ObjectStorage selected by the configuration.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalStorage(cfg.Path)
	case "s3":
		return NewS3Storage(ctx, cfg.S3.Bucket, S3Config{
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
