package gcp

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// StorageClient contains the methods of the Google Cloud SDK's
// storage.Client type that are used by this code base. This interface
// has been added to permit unit testing.
type StorageClient interface {
	Bucket(name string) StorageBucketHandle
}

type wrappedStorageClient struct {
	impl *storage.Client
}

// NewWrappedStorageClient converts a concrete instance of
// storage.Client to the StorageClient interface, so that it can be used
// in code that can be unit tested.
func NewWrappedStorageClient(impl *storage.Client) StorageClient {
	return wrappedStorageClient{
		impl: impl,
	}
}

func (w wrappedStorageClient) Bucket(name string) StorageBucketHandle {
	return wrappedStorageBucketHandle{
		impl: w.impl.Bucket(name),
	}
}

// StorageBucketHandle contains the methods of the Google Cloud SDK's
// storage.BucketHandle type that are used by this code base. This
// interface has been added to permit unit testing.
type StorageBucketHandle interface {
	Object(name string) StorageObjectHandle
	Objects(ctx context.Context, query *storage.Query) StorageObjectIterator
}

type wrappedStorageBucketHandle struct {
	impl *storage.BucketHandle
}

func (w wrappedStorageBucketHandle) Object(name string) StorageObjectHandle {
	return wrappedStorageObjectHandle{
		impl: w.impl.Object(name),
	}
}

func (w wrappedStorageBucketHandle) Objects(ctx context.Context, query *storage.Query) StorageObjectIterator {
	return w.impl.Objects(ctx, query)
}

// StorageObjectIterator contains the methods of the Google Cloud SDK's
// storage.ObjectIterator type that are used by this code base. Next()
// returns iterator.Done once all objects have been returned.
type StorageObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

var _ StorageObjectIterator = (*storage.ObjectIterator)(nil)

// StorageObjectHandle contains the methods of the Google Cloud SDK's
// storage.ObjectHandle type that are used by this code base. This
// interface has been added to permit unit testing.
type StorageObjectHandle interface {
	NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error)
	NewWriter(ctx context.Context, contentType string) io.WriteCloser
	CopyFrom(ctx context.Context, source StorageObjectHandle) error
	Delete(ctx context.Context) error
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
}

type wrappedStorageObjectHandle struct {
	impl *storage.ObjectHandle
}

// ReadUntilEOF is a value to provide to NewRangeReader()'s length
// argument to request reading the object until the end.
const ReadUntilEOF int64 = -1

func (w wrappedStorageObjectHandle) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	return w.impl.NewRangeReader(ctx, offset, length)
}

func (w wrappedStorageObjectHandle) NewWriter(ctx context.Context, contentType string) io.WriteCloser {
	writer := w.impl.NewWriter(ctx)
	writer.ContentType = contentType
	return writer
}

func (w wrappedStorageObjectHandle) CopyFrom(ctx context.Context, source StorageObjectHandle) error {
	// Server-side copies are only possible between objects of the
	// same client library.
	_, err := w.impl.CopierFrom(source.(wrappedStorageObjectHandle).impl).Run(ctx)
	return err
}

func (w wrappedStorageObjectHandle) Delete(ctx context.Context) error {
	return w.impl.Delete(ctx)
}

func (w wrappedStorageObjectHandle) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return w.impl.Attrs(ctx)
}
