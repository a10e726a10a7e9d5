package fileops

import (
	"io"
	"reflect"

	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/fxamacker/cbor/v2"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Core Deterministic Encoding (RFC 8949, section 4.2) ensures that
// identical records always yield identical files.
var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("Failed to create CBOR encoding mode: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("Failed to create CBOR decoding mode: " + err.Error())
	}
}

type cborCodec[V any] struct{}

func (cborCodec[V]) newEncoder(w io.Writer) recordEncoder[V] {
	return cborEncoder[V]{encoder: cborEncMode.NewEncoder(w)}
}

func (cborCodec[V]) newDecoder(r io.Reader) recordDecoder[V] {
	return cborDecoder[V]{decoder: cborDecMode.NewDecoder(r)}
}

type cborEncoder[V any] struct {
	encoder *cbor.Encoder
}

func (e cborEncoder[V]) encode(record V) error {
	if err := e.encoder.Encode(record); err != nil {
		return status.Errorf(codes.InvalidArgument, "Failed to marshal record: %s", err)
	}
	return nil
}

type cborDecoder[V any] struct {
	decoder *cbor.Decoder
}

func (d cborDecoder[V]) decode() (V, error) {
	var record V
	if err := d.decoder.Decode(&record); err != nil {
		if err == io.EOF {
			return record, io.EOF
		}
		return record, status.Errorf(codes.InvalidArgument, "Failed to unmarshal record: %s", err)
	}
	return record, nil
}

// NewCBORFileOperations creates FileOperations that store records as a
// CBOR sequence (RFC 8742).
func NewCBORFileOperations[V any](c compression.Compression) FileOperations[V] {
	return newStreamFileOperations[V]("CBORFileOperations", cborCodec[V]{}, c, MimeTypeCBOR)
}
