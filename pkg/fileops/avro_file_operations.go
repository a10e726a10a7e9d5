package fileops

import (
	"context"
	"io"

	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"
	"github.com/linkedin/goavro/v2"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Number of records that are stored in a single block of an object
// container file.
const avroRecordsPerBlock = 1000

var avroCodecNames = map[compression.Compression]string{
	compression.Uncompressed: goavro.CompressionNullLabel,
	compression.Deflate:      goavro.CompressionDeflateLabel,
	compression.Snappy:       goavro.CompressionSnappyLabel,
}

type avroFileOperations struct {
	schema      string
	compression compression.Compression
	codecName   string
}

// NewAvroFileOperations creates FileOperations that store records in
// Avro object container files. Compression is applied by the container
// format on a per block basis. Records are represented the way goavro
// represents them: maps from field names to native Go values.
func NewAvroFileOperations(schema string, c compression.Compression) (FileOperations[map[string]any], error) {
	codecName, ok := avroCodecNames[c]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "Avro files do not support compression %s", c)
	}
	if _, err := goavro.NewCodec(schema); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid Avro schema: %s", err)
	}
	return &avroFileOperations{
		schema:      schema,
		compression: c,
		codecName:   codecName,
	}, nil
}

func (fo *avroFileOperations) CreateWriter(ctx context.Context, store resource.Store, id resource.ID) (Writer[map[string]any], error) {
	w, err := store.NewWriter(ctx, id, MimeTypeBinary)
	if err != nil {
		return nil, err
	}
	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Schema:          fo.schema,
		CompressionName: fo.codecName,
	})
	if err != nil {
		w.Close()
		return nil, status.Errorf(codes.Internal, "Failed to write Avro header to %#v: %s", id.String(), err)
	}
	return &avroWriter{
		id:        id,
		writer:    w,
		ocfWriter: ocfWriter,
	}, nil
}

func (fo *avroFileOperations) Iterator(ctx context.Context, store resource.Store, id resource.ID) (Iterator[map[string]any], error) {
	r, err := store.NewReader(ctx, id)
	if err != nil {
		return nil, err
	}
	ocfReader, err := goavro.NewOCFReader(r)
	if err != nil {
		r.Close()
		return nil, status.Errorf(codes.InvalidArgument, "Failed to read Avro header of %#v: %s", id.String(), err)
	}
	return &avroIterator{
		id:        id,
		reader:    r,
		ocfReader: ocfReader,
	}, nil
}

func (fo *avroFileOperations) GetCompression() compression.Compression {
	return fo.compression
}

func (fo *avroFileOperations) GetMimeType() string {
	return MimeTypeBinary
}

func (fo *avroFileOperations) GetDisplayData() util.DisplayData {
	dd := newDisplayData("AvroFileOperations", MimeTypeBinary, fo.compression)
	dd["codec"] = fo.codecName
	dd["schema"] = fo.schema
	return dd
}

type avroWriter struct {
	id        resource.ID
	writer    io.WriteCloser
	ocfWriter *goavro.OCFWriter
	pending   []any
}

func (w *avroWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	err := w.ocfWriter.Append(w.pending)
	w.pending = w.pending[:0]
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "Failed to write records to %#v: %s", w.id.String(), err)
	}
	return nil
}

func (w *avroWriter) Write(record map[string]any) error {
	w.pending = append(w.pending, record)
	if len(w.pending) >= avroRecordsPerBlock {
		return w.flush()
	}
	return nil
}

func (w *avroWriter) Close() error {
	flushErr := w.flush()
	if err := w.writer.Close(); err != nil {
		return util.StatusWrapf(err, "Failed to close %#v", w.id.String())
	}
	return flushErr
}

type avroIterator struct {
	id        resource.ID
	reader    io.ReadCloser
	ocfReader *goavro.OCFReader
}

func (it *avroIterator) Next() (map[string]any, error) {
	if it.reader == nil {
		return nil, io.EOF
	}
	if !it.ocfReader.Scan() {
		err := it.ocfReader.Err()
		closeErr := it.Close()
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "Failed to read record from %#v: %s", it.id.String(), err)
		}
		if closeErr != nil {
			return nil, closeErr
		}
		return nil, io.EOF
	}
	datum, err := it.ocfReader.Read()
	if err != nil {
		it.Close()
		return nil, status.Errorf(codes.InvalidArgument, "Failed to read record from %#v: %s", it.id.String(), err)
	}
	record, ok := datum.(map[string]any)
	if !ok {
		it.Close()
		return nil, status.Errorf(codes.InvalidArgument, "File %#v contains a datum of type %T, while records are expected", it.id.String(), datum)
	}
	return record, nil
}

func (it *avroIterator) Close() error {
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
