package resource

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/buildbarn/bb-smb/pkg/cloud/gcp"
	"github.com/buildbarn/bb-smb/pkg/util"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
)

func convertGCSError(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return util.StatusWrapfWithCode(err, codes.NotFound, format, args...)
	}
	return util.StatusWrapf(err, format, args...)
}

type gcsStore struct {
	bucket gcp.StorageBucketHandle
}

// NewGCSStore creates a Store that is backed by a Google Cloud Storage
// bucket. Renames are performed using server-side copies.
func NewGCSStore(bucket gcp.StorageBucketHandle) Store {
	return &gcsStore{
		bucket: bucket,
	}
}

type gcsWriter struct {
	writer io.WriteCloser
	cancel context.CancelFunc
	id     ID
}

func (w *gcsWriter) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	if err != nil {
		w.cancel()
		return n, convertGCSError(err, "Failed to write to %#v", w.id.String())
	}
	return n, nil
}

func (w *gcsWriter) Close() error {
	err := w.writer.Close()
	w.cancel()
	if err != nil {
		return convertGCSError(err, "Failed to close %#v", w.id.String())
	}
	return nil
}

func (s *gcsStore) NewWriter(ctx context.Context, id ID, mimeType string) (io.WriteCloser, error) {
	// Canceling the context is the only way to prevent a partially
	// written object from being committed.
	ctx, cancel := context.WithCancel(ctx)
	return &gcsWriter{
		writer: s.bucket.Object(id.String()).NewWriter(ctx, mimeType),
		cancel: cancel,
		id:     id,
	}, nil
}

func (s *gcsStore) NewReader(ctx context.Context, id ID) (io.ReadCloser, error) {
	r, err := s.bucket.Object(id.String()).NewRangeReader(ctx, 0, gcp.ReadUntilEOF)
	if err != nil {
		return nil, convertGCSError(err, "Failed to open %#v", id.String())
	}
	return r, nil
}

func (s *gcsStore) Rename(ctx context.Context, from, to ID) error {
	source := s.bucket.Object(from.String())
	if err := s.bucket.Object(to.String()).CopyFrom(ctx, source); err != nil {
		return renameIfNotMoved(ctx, s, from, to, convertGCSError(err, "Failed to copy %#v to %#v", from.String(), to.String()))
	}
	if err := source.Delete(ctx); err != nil {
		return convertGCSError(err, "Failed to delete %#v after copying it to %#v", from.String(), to.String())
	}
	return nil
}

func (s *gcsStore) Delete(ctx context.Context, id ID) error {
	if err := s.bucket.Object(id.String()).Delete(ctx); err != nil {
		return convertGCSError(err, "Failed to delete %#v", id.String())
	}
	return nil
}

func (s *gcsStore) Exists(ctx context.Context, id ID) (bool, error) {
	if _, err := s.bucket.Object(id.String()).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, convertGCSError(err, "Failed to obtain attributes of %#v", id.String())
	}
	return true, nil
}

func (s *gcsStore) List(ctx context.Context, directory ID) ([]FileInfo, error) {
	var files []FileInfo
	objects := s.bucket.Objects(ctx, &storage.Query{
		Prefix: directory.GetDirectory().String(),
	})
	for {
		attrs, err := objects.Next()
		if err == iterator.Done {
			return files, nil
		} else if err != nil {
			return nil, convertGCSError(err, "Failed to list %#v", directory.String())
		}
		files = append(files, FileInfo{
			ID:               NewID(attrs.Name),
			SizeBytes:        attrs.Size,
			ModificationTime: attrs.Updated,
		})
	}
}
