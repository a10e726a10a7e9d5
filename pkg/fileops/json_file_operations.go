package fileops

import (
	"encoding/json"
	"io"

	"github.com/buildbarn/bb-smb/pkg/compression"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type jsonCodec[V any] struct{}

func (jsonCodec[V]) newEncoder(w io.Writer) recordEncoder[V] {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return jsonEncoder[V]{encoder: encoder}
}

func (jsonCodec[V]) newDecoder(r io.Reader) recordDecoder[V] {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	return jsonDecoder[V]{decoder: decoder}
}

type jsonEncoder[V any] struct {
	encoder *json.Encoder
}

func (e jsonEncoder[V]) encode(record V) error {
	// Encode() terminates every record with a newline.
	if err := e.encoder.Encode(record); err != nil {
		return status.Errorf(codes.InvalidArgument, "Failed to marshal record: %s", err)
	}
	return nil
}

type jsonDecoder[V any] struct {
	decoder *json.Decoder
}

func (d jsonDecoder[V]) decode() (V, error) {
	var record V
	if err := d.decoder.Decode(&record); err != nil {
		if err == io.EOF {
			return record, io.EOF
		}
		return record, status.Errorf(codes.InvalidArgument, "Failed to unmarshal record: %s", err)
	}
	return record, nil
}

// NewJSONFileOperations creates FileOperations that store records as
// newline delimited JSON. Records are converted using encoding/json,
// meaning V may be any type that can be marshaled.
func NewJSONFileOperations[V any](c compression.Compression) FileOperations[V] {
	return newStreamFileOperations[V]("JSONFileOperations", jsonCodec[V]{}, c, MimeTypeText)
}
