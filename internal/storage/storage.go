// Package storage archives generated media. It defines the Storage interface
// (port) for hexagonal architecture and implementations for local disk and S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// Static errors for storage operations.
var (
	// ErrNotFound is returned when a published reference does not exist or
	// does not belong to this storage.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the media root.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Storage defines temporary file handling and the archive of published media.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish stores the file at path under key and returns a reference to it:
	// a local path for disk storage, an https URL for S3.
	Publish(ctx context.Context, key, path string) (ref string, err error)

	// Remove deletes a reference returned by Publish.
	// Returns ErrNotFound if it does not exist.
	Remove(ctx context.Context, ref string) error
}
