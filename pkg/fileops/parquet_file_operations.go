package fileops

import (
	"bytes"
	"context"
	"io"

	goparquet "github.com/fraugster/parquet-go"
	"github.com/fraugster/parquet-go/parquet"
	"github.com/fraugster/parquet-go/parquetschema"

	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Magic number at the start and end of every Parquet file.
var parquetMagic = []byte("PAR1")

var parquetCodecs = map[compression.Compression]parquet.CompressionCodec{
	compression.Uncompressed: parquet.CompressionCodec_UNCOMPRESSED,
	compression.Gzip:         parquet.CompressionCodec_GZIP,
	compression.Snappy:       parquet.CompressionCodec_SNAPPY,
}

type parquetFileOperations struct {
	schemaDefinition *parquetschema.SchemaDefinition
	compression      compression.Compression
	codec            parquet.CompressionCodec
}

// NewParquetFileOperations creates FileOperations that store records
// in Parquet files. Compression is applied by the file format on a per
// page basis. Records are represented as maps from column names to
// values, using the types expected by parquet-go (e.g., []byte for
// strings and int64 for INT64 columns).
func NewParquetFileOperations(schemaDefinition string, c compression.Compression) (FileOperations[map[string]any], error) {
	codec, ok := parquetCodecs[c]
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "Parquet files do not support compression %s", c)
	}
	sd, err := parquetschema.ParseSchemaDefinition(schemaDefinition)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid Parquet schema definition: %s", err)
	}
	return &parquetFileOperations{
		schemaDefinition: sd,
		compression:      c,
		codec:            codec,
	}, nil
}

func (fo *parquetFileOperations) CreateWriter(ctx context.Context, store resource.Store, id resource.ID) (Writer[map[string]any], error) {
	w, err := store.NewWriter(ctx, id, MimeTypeBinary)
	if err != nil {
		return nil, err
	}
	return &parquetWriter{
		id:     id,
		writer: w,
		fileWriter: goparquet.NewFileWriter(
			w,
			goparquet.WithSchemaDefinition(fo.schemaDefinition),
			goparquet.WithCompressionCodec(fo.codec)),
	}, nil
}

func (fo *parquetFileOperations) Iterator(ctx context.Context, store resource.Store, id resource.ID) (Iterator[map[string]any], error) {
	r, err := store.NewReader(ctx, id)
	if err != nil {
		return nil, err
	}
	// The footer of a Parquet file needs to be read first, which
	// requires random access.
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to read %#v", id.String())
	}
	fileReader, err := goparquet.NewFileReader(bytes.NewReader(data))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Failed to read Parquet footer of %#v: %s", id.String(), err)
	}
	return &parquetIterator{
		id:         id,
		fileReader: fileReader,
	}, nil
}

func (fo *parquetFileOperations) GetCompression() compression.Compression {
	return fo.compression
}

func (fo *parquetFileOperations) GetMimeType() string {
	return MimeTypeBinary
}

func (fo *parquetFileOperations) GetDisplayData() util.DisplayData {
	dd := newDisplayData("ParquetFileOperations", MimeTypeBinary, fo.compression)
	dd["codec"] = fo.codec.String()
	dd["schema"] = fo.schemaDefinition.String()
	return dd
}

type parquetWriter struct {
	id         resource.ID
	writer     io.WriteCloser
	fileWriter *goparquet.FileWriter
	records    int
}

func (w *parquetWriter) Write(record map[string]any) error {
	if err := w.fileWriter.AddData(record); err != nil {
		return status.Errorf(codes.InvalidArgument, "Failed to write record to %#v: %s", w.id.String(), err)
	}
	w.records++
	return nil
}

func (w *parquetWriter) Close() error {
	// parquet-go only emits the leading magic number when flushing
	// a row group. Files without any records would otherwise
	// consist of a footer only.
	if w.records == 0 {
		if _, err := w.writer.Write(parquetMagic); err != nil {
			w.writer.Close()
			return util.StatusWrapf(err, "Failed to write Parquet header to %#v", w.id.String())
		}
	}
	footerErr := w.fileWriter.Close()
	if err := w.writer.Close(); err != nil {
		return util.StatusWrapf(err, "Failed to close %#v", w.id.String())
	}
	if footerErr != nil {
		return status.Errorf(codes.Internal, "Failed to write Parquet footer to %#v: %s", w.id.String(), footerErr)
	}
	return nil
}

type parquetIterator struct {
	id         resource.ID
	fileReader *goparquet.FileReader
}

func (it *parquetIterator) Next() (map[string]any, error) {
	if it.fileReader == nil {
		return nil, io.EOF
	}
	row, err := it.fileReader.NextRow()
	if err != nil {
		it.fileReader = nil
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, status.Errorf(codes.InvalidArgument, "Failed to read record from %#v: %s", it.id.String(), err)
	}
	return row, nil
}

func (it *parquetIterator) Close() error {
	it.fileReader = nil
	return nil
}
