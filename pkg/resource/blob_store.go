package resource

import (
	"context"
	"io"

	"github.com/buildbarn/bb-smb/pkg/util"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"google.golang.org/grpc/codes"
)

var blobErrorCodes = map[gcerrors.ErrorCode]codes.Code{
	gcerrors.NotFound:           codes.NotFound,
	gcerrors.AlreadyExists:      codes.AlreadyExists,
	gcerrors.InvalidArgument:    codes.InvalidArgument,
	gcerrors.Internal:           codes.Internal,
	gcerrors.Unimplemented:      codes.Unimplemented,
	gcerrors.FailedPrecondition: codes.FailedPrecondition,
	gcerrors.PermissionDenied:   codes.PermissionDenied,
	gcerrors.ResourceExhausted:  codes.ResourceExhausted,
	gcerrors.Canceled:           codes.Canceled,
	gcerrors.DeadlineExceeded:   codes.DeadlineExceeded,
}

// convertBlobError converts an error returned by the Go CDK to a gRPC
// status error, so that callers can inspect it using status.Code().
func convertBlobError(err error, format string, args ...any) error {
	code, ok := blobErrorCodes[gcerrors.Code(err)]
	if !ok {
		code = codes.Unknown
	}
	return util.StatusWrapfWithCode(err, code, format, args...)
}

type blobStore struct {
	bucket *blob.Bucket
}

// NewBlobStore creates a Store that is backed by a bucket of the Go
// Cloud Development Kit. This permits the use of local directories
// (file://) and in-memory buckets (mem://), but also any other
// provider for which a driver is linked into the binary.
func NewBlobStore(bucket *blob.Bucket) Store {
	return &blobStore{
		bucket: bucket,
	}
}

type blobWriter struct {
	writer *blob.Writer
	cancel context.CancelFunc
	id     ID
}

func (w *blobWriter) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	if err != nil {
		// Cancelation prevents Close() from committing a
		// partially written file.
		w.cancel()
		return n, convertBlobError(err, "Failed to write to %#v", w.id.String())
	}
	return n, nil
}

func (w *blobWriter) Close() error {
	err := w.writer.Close()
	w.cancel()
	if err != nil {
		return convertBlobError(err, "Failed to close %#v", w.id.String())
	}
	return nil
}

func (s *blobStore) NewWriter(ctx context.Context, id ID, mimeType string) (io.WriteCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := s.bucket.NewWriter(ctx, id.String(), &blob.WriterOptions{
		ContentType: mimeType,
	})
	if err != nil {
		cancel()
		return nil, convertBlobError(err, "Failed to create %#v", id.String())
	}
	return &blobWriter{
		writer: w,
		cancel: cancel,
		id:     id,
	}, nil
}

func (s *blobStore) NewReader(ctx context.Context, id ID) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, id.String(), nil)
	if err != nil {
		return nil, convertBlobError(err, "Failed to open %#v", id.String())
	}
	return r, nil
}

func (s *blobStore) Rename(ctx context.Context, from, to ID) error {
	if err := s.bucket.Copy(ctx, to.String(), from.String(), nil); err != nil {
		return renameIfNotMoved(ctx, s, from, to, convertBlobError(err, "Failed to copy %#v to %#v", from.String(), to.String()))
	}
	if err := s.bucket.Delete(ctx, from.String()); err != nil {
		return convertBlobError(err, "Failed to delete %#v after copying it to %#v", from.String(), to.String())
	}
	return nil
}

func (s *blobStore) Delete(ctx context.Context, id ID) error {
	if err := s.bucket.Delete(ctx, id.String()); err != nil {
		return convertBlobError(err, "Failed to delete %#v", id.String())
	}
	return nil
}

func (s *blobStore) Exists(ctx context.Context, id ID) (bool, error) {
	exists, err := s.bucket.Exists(ctx, id.String())
	if err != nil {
		return false, convertBlobError(err, "Failed to check existence of %#v", id.String())
	}
	return exists, nil
}

func (s *blobStore) List(ctx context.Context, directory ID) ([]FileInfo, error) {
	var files []FileInfo
	iter := s.bucket.List(&blob.ListOptions{
		Prefix: directory.GetDirectory().String(),
	})
	for {
		object, err := iter.Next(ctx)
		if err == io.EOF {
			return files, nil
		} else if err != nil {
			return nil, convertBlobError(err, "Failed to list %#v", directory.String())
		}
		if !object.IsDir {
			files = append(files, FileInfo{
				ID:               NewID(object.Key),
				SizeBytes:        object.Size,
				ModificationTime: object.ModTime,
			})
		}
	}
}
