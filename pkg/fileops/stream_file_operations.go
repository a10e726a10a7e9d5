package fileops

import (
	"bufio"
	"context"
	"io"

	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"
)

// recordEncoder writes records into a byte stream.
type recordEncoder[V any] interface {
	encode(record V) error
}

// recordDecoder reads records from a byte stream, returning io.EOF
// when the stream is exhausted.
type recordDecoder[V any] interface {
	decode() (V, error)
}

// recordCodec is implemented by file formats that consist of a
// sequence of records, and can thus be wrapped by any compression.
type recordCodec[V any] interface {
	newEncoder(w io.Writer) recordEncoder[V]
	newDecoder(r io.Reader) recordDecoder[V]
}

type streamFileOperations[V any] struct {
	implementation string
	codec          recordCodec[V]
	compression    compression.Compression
	mimeType       string
}

func newStreamFileOperations[V any](implementation string, codec recordCodec[V], c compression.Compression, uncompressedMimeType string) FileOperations[V] {
	mimeType := MimeTypeBinary
	if c == compression.Uncompressed {
		mimeType = uncompressedMimeType
	}
	return &streamFileOperations[V]{
		implementation: implementation,
		codec:          codec,
		compression:    c,
		mimeType:       mimeType,
	}
}

func (fo *streamFileOperations[V]) CreateWriter(ctx context.Context, store resource.Store, id resource.ID) (Writer[V], error) {
	w, err := store.NewWriter(ctx, id, fo.mimeType)
	if err != nil {
		return nil, err
	}
	compressedWriter, err := fo.compression.NewWriter(w)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to create %#v", id.String())
	}
	bufferedWriter := bufio.NewWriter(compressedWriter)
	return &streamWriter[V]{
		id:               id,
		compressedWriter: compressedWriter,
		bufferedWriter:   bufferedWriter,
		encoder:          fo.codec.newEncoder(bufferedWriter),
	}, nil
}

func (fo *streamFileOperations[V]) Iterator(ctx context.Context, store resource.Store, id resource.ID) (Iterator[V], error) {
	r, err := store.NewReader(ctx, id)
	if err != nil {
		return nil, err
	}
	decompressedReader, err := fo.compression.NewReader(r)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to open %#v", id.String())
	}
	return &streamIterator[V]{
		id:      id,
		reader:  decompressedReader,
		decoder: fo.codec.newDecoder(bufio.NewReader(decompressedReader)),
	}, nil
}

func (fo *streamFileOperations[V]) GetCompression() compression.Compression {
	return fo.compression
}

func (fo *streamFileOperations[V]) GetMimeType() string {
	return fo.mimeType
}

func (fo *streamFileOperations[V]) GetDisplayData() util.DisplayData {
	return newDisplayData(fo.implementation, fo.mimeType, fo.compression)
}

type streamWriter[V any] struct {
	id               resource.ID
	compressedWriter io.WriteCloser
	bufferedWriter   *bufio.Writer
	encoder          recordEncoder[V]
}

func (w *streamWriter[V]) Write(record V) error {
	if err := w.encoder.encode(record); err != nil {
		return util.StatusWrapf(err, "Failed to write record to %#v", w.id.String())
	}
	return nil
}

func (w *streamWriter[V]) Close() error {
	flushErr := w.bufferedWriter.Flush()
	closeErr := w.compressedWriter.Close()
	if flushErr != nil {
		return util.StatusWrapf(flushErr, "Failed to flush %#v", w.id.String())
	}
	if closeErr != nil {
		return util.StatusWrapf(closeErr, "Failed to close %#v", w.id.String())
	}
	return nil
}

type streamIterator[V any] struct {
	id      resource.ID
	reader  io.ReadCloser
	decoder recordDecoder[V]
}

func (it *streamIterator[V]) Next() (V, error) {
	var zero V
	if it.reader == nil {
		return zero, io.EOF
	}
	record, err := it.decoder.decode()
	if err != nil {
		closeErr := it.Close()
		if err == io.EOF {
			if closeErr != nil {
				return zero, closeErr
			}
			return zero, io.EOF
		}
		return zero, util.StatusWrapf(err, "Failed to read record from %#v", it.id.String())
	}
	return record, nil
}

func (it *streamIterator[V]) Close() error {
	if it.reader == nil {
		return nil
	}
	err := it.reader.Close()
	it.reader = nil
	if err != nil {
		return util.StatusWrapf(err, "Failed to close %#v", it.id.String())
	}
	return nil
}
