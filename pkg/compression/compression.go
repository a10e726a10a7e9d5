package compression

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Compression of the byte stream of a file. Formats that have their
// own block compression (Avro, Parquet) interpret this value
// themselves, instead of wrapping the byte stream.
type Compression int

const (
	// Uncompressed files are stored as is.
	Uncompressed Compression = iota
	// Gzip uses the gzip file format (RFC 1952).
	Gzip
	// Deflate uses raw DEFLATE streams (RFC 1951).
	Deflate
	// Zstd uses Zstandard frames.
	Zstd
	// Snappy uses the Snappy framing format.
	Snappy
	// LZ4 uses the LZ4 frame format.
	LZ4
)

type compressionInfo struct {
	name   string
	suffix string
}

var compressionInfos = []compressionInfo{
	Uncompressed: {name: "UNCOMPRESSED", suffix: ""},
	Gzip:         {name: "GZIP", suffix: ".gz"},
	Deflate:      {name: "DEFLATE", suffix: ".deflate"},
	Zstd:         {name: "ZSTD", suffix: ".zst"},
	Snappy:       {name: "SNAPPY", suffix: ".snappy"},
	LZ4:          {name: "LZ4", suffix: ".lz4"},
}

// All compressions that are supported, in declaration order.
var All = []Compression{Uncompressed, Gzip, Deflate, Zstd, Snappy, LZ4}

// Parse the name of a compression, as returned by String().
func Parse(name string) (Compression, error) {
	for c, info := range compressionInfos {
		if strings.EqualFold(info.name, name) {
			return Compression(c), nil
		}
	}
	return 0, status.Errorf(codes.InvalidArgument, "Unknown compression %#v", name)
}

// DetectFromFilename returns the compression corresponding to the
// suffix of a filename. Files with an unknown suffix are assumed to be
// uncompressed.
func DetectFromFilename(filename string) Compression {
	for c, info := range compressionInfos {
		if info.suffix != "" && strings.HasSuffix(filename, info.suffix) {
			return Compression(c)
		}
	}
	return Uncompressed
}

func (c Compression) isValid() bool {
	return c >= 0 && int(c) < len(compressionInfos)
}

func (c Compression) String() string {
	if !c.isValid() {
		return fmt.Sprintf("Compression(%d)", int(c))
	}
	return compressionInfos[c].name
}

// GetSuggestedSuffix returns the filename suffix that is commonly used
// for files having this compression.
func (c Compression) GetSuggestedSuffix() string {
	if !c.isValid() {
		return ""
	}
	return compressionInfos[c].suffix
}

// MarshalJSON emits the name of the compression.
func (c Compression) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON parses the name of the compression.
func (c *Compression) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return status.Errorf(codes.InvalidArgument, "Compression must be a string: %s", err)
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// writeCloser closes a compressor, followed by the writer to which the
// compressed data is written. The underlying writer is closed, even if
// the compressor fails to flush.
type writeCloser struct {
	io.Writer
	closeCompressor func() error
	underlying      io.WriteCloser
}

func (w *writeCloser) Close() error {
	err := w.closeCompressor()
	if closeErr := w.underlying.Close(); err == nil {
		err = closeErr
	}
	return err
}

// NewWriter wraps a writer, so that all data written to it is
// compressed. Closing the resulting writer flushes the compressor and
// closes the underlying writer.
func (c Compression) NewWriter(w io.WriteCloser) (io.WriteCloser, error) {
	switch c {
	case Uncompressed:
		return w, nil
	case Gzip:
		compressor := gzip.NewWriter(w)
		return &writeCloser{Writer: compressor, closeCompressor: compressor.Close, underlying: w}, nil
	case Deflate:
		compressor, err := flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			w.Close()
			return nil, status.Errorf(codes.Internal, "Failed to create DEFLATE compressor: %s", err)
		}
		return &writeCloser{Writer: compressor, closeCompressor: compressor.Close, underlying: w}, nil
	case Zstd:
		compressor, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			w.Close()
			return nil, status.Errorf(codes.Internal, "Failed to create Zstandard compressor: %s", err)
		}
		return &writeCloser{Writer: compressor, closeCompressor: compressor.Close, underlying: w}, nil
	case Snappy:
		compressor := snappy.NewBufferedWriter(w)
		return &writeCloser{Writer: compressor, closeCompressor: compressor.Close, underlying: w}, nil
	case LZ4:
		compressor := lz4.NewWriter(w)
		return &writeCloser{Writer: compressor, closeCompressor: compressor.Close, underlying: w}, nil
	default:
		w.Close()
		return nil, status.Errorf(codes.InvalidArgument, "Unknown compression %d", int(c))
	}
}

// readCloser closes a decompressor, followed by the reader from which
// compressed data is read.
type readCloser struct {
	io.Reader
	closeDecompressor func() error
	underlying        io.ReadCloser
}

func (r *readCloser) Close() error {
	err := r.closeDecompressor()
	if closeErr := r.underlying.Close(); err == nil {
		err = closeErr
	}
	return err
}

func noopClose() error {
	return nil
}

// NewReader wraps a reader, so that all data read from it is
// decompressed. Closing the resulting reader also closes the
// underlying reader.
func (c Compression) NewReader(r io.ReadCloser) (io.ReadCloser, error) {
	switch c {
	case Uncompressed:
		return r, nil
	case Gzip:
		decompressor, err := gzip.NewReader(r)
		if err != nil {
			r.Close()
			return nil, status.Errorf(codes.InvalidArgument, "Failed to read gzip header: %s", err)
		}
		return &readCloser{Reader: decompressor, closeDecompressor: decompressor.Close, underlying: r}, nil
	case Deflate:
		decompressor := flate.NewReader(r)
		return &readCloser{Reader: decompressor, closeDecompressor: decompressor.Close, underlying: r}, nil
	case Zstd:
		return NewZstdReadCloser(r, zstd.WithDecoderConcurrency(1))
	case Snappy:
		return &readCloser{Reader: snappy.NewReader(r), closeDecompressor: noopClose, underlying: r}, nil
	case LZ4:
		return &readCloser{Reader: lz4.NewReader(r), closeDecompressor: noopClose, underlying: r}, nil
	default:
		r.Close()
		return nil, status.Errorf(codes.InvalidArgument, "Unknown compression %d", int(c))
	}
}
