package resource

import (
	"context"
	"io"
	"time"
)

// FileInfo describes a single file that was returned by Store.List().
type FileInfo struct {
	ID               ID
	SizeBytes        int64
	ModificationTime time.Time
}

// Store is a flat byte-stream storage backend addressed by path. It is
// the only means through which Sorted-Merge-Bucket datasets are
// written and read, meaning that datasets may be placed on local disks
// and object stores alike.
//
// All methods report objects that do not exist with status code
// NotFound. Other failures are reported with the code that best
// describes the failure of the underlying storage system.
type Store interface {
	// NewWriter creates a new file, or truncates an existing one.
	// The file only becomes visible after Close() returns
	// successfully.
	NewWriter(ctx context.Context, id ID, mimeType string) (io.WriteCloser, error)
	// NewReader opens an existing file for reading.
	NewReader(ctx context.Context, id ID) (io.ReadCloser, error)
	// Rename moves a file to a new location, replacing any file
	// that already exists there. Renaming a file that was already
	// moved to the target location is not an error, so that a
	// commit that was interrupted may be retried.
	Rename(ctx context.Context, from, to ID) error
	// Delete removes a single file.
	Delete(ctx context.Context, id ID) error
	// Exists returns whether a file is present.
	Exists(ctx context.Context, id ID) (bool, error)
	// List returns all files stored inside a directory, recursing
	// into subdirectories. Files are returned in lexicographic
	// order.
	List(ctx context.Context, directory ID) ([]FileInfo, error)
}

// renameIfNotMoved contains the logic that is shared by all Store
// implementations that implement Rename() by copying and deleting. If
// copying fails with NotFound, but the target is present, a previous
// attempt already completed the copy.
func renameIfNotMoved(ctx context.Context, store Store, from, to ID, copyErr error) error {
	if exists, err := store.Exists(ctx, to); err == nil && exists {
		if sourceExists, err := store.Exists(ctx, from); err == nil && !sourceExists {
			return nil
		}
	}
	return copyErr
}
