package fileops

import (
	"context"
	"io"

	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"
)

const (
	// MimeTypeText is used for uncompressed textual formats.
	MimeTypeText = "text/plain"
	// MimeTypeBinary is used for all other files.
	MimeTypeBinary = "application/octet-stream"
	// MimeTypeCBOR is used for uncompressed CBOR sequences.
	MimeTypeCBOR = "application/cbor"
)

// Writer of records to a single file. Close() needs to be called
// exactly once, even if Write() fails, to release the underlying
// resources. The file is only guaranteed to be complete if Close()
// succeeds.
type Writer[V any] interface {
	Write(record V) error
	Close() error
}

// Iterator over the records stored in a single file. Next() returns
// io.EOF after the last record, at which point the underlying
// resources have been released. Close() may be used to release the
// underlying resources early. Iterators are single pass.
type Iterator[V any] interface {
	Next() (V, error)
	Close() error
}

// FileOperations provides the ability to write and read files
// containing records of type V, using a given file format and
// compression.
type FileOperations[V any] interface {
	CreateWriter(ctx context.Context, store resource.Store, id resource.ID) (Writer[V], error)
	Iterator(ctx context.Context, store resource.Store, id resource.ID) (Iterator[V], error)
	GetCompression() compression.Compression
	GetMimeType() string
	GetDisplayData() util.DisplayData
}

// ReadAll is a helper function for reading all records stored in a
// file.
func ReadAll[V any](ctx context.Context, fileOperations FileOperations[V], store resource.Store, id resource.ID) ([]V, error) {
	iterator, err := fileOperations.Iterator(ctx, store, id)
	if err != nil {
		return nil, err
	}
	defer iterator.Close()
	var records []V
	for {
		record, err := iterator.Next()
		if err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, err
		}
		records = append(records, record)
	}
}

func newDisplayData(implementation, mimeType string, c compression.Compression) util.DisplayData {
	return util.DisplayData{
		"FileOperations": implementation,
		"mimeType":       mimeType,
		"compression":    c.String(),
	}
}
