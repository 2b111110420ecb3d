// Package storage provides temporary and persistent file storage for
// animations: local scratch files for downloaded videos and optional S3
// objects for hosted input images and archived results.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage defines the interface for temporary and persistent file storage.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename; its extension is kept.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// OpenTemp opens a temporary file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	OpenTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Upload stores data under key and returns the object URL.
	// Returns ErrS3NotConfigured if no bucket is configured.
	Upload(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)

	// PresignGet returns a time-limited GET URL for key, suitable for handing
	// to a third party that must fetch a private object.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (url string, err error)

	// Remote reports whether Upload and PresignGet are available.
	Remote() bool
}
