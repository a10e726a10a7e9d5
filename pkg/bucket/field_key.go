package bucket

import (
	"encoding/base64"
	"encoding/json"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FieldKey creates a KeyFunction for records that are represented as
// generic maps, such as the ones yielded by the Avro, Parquet and
// JSON file formats. The key is obtained from a top-level field. A
// record has no key if the field is absent or null.
//
// Parquet yields STRING columns as byte slices, which are accepted for
// string keys. Byte keys stored as strings are decoded as base64, which
// is how encoding/json marshals byte slices.
func FieldKey(field string, keyType KeyType) KeyFunction[map[string]any] {
	return func(record map[string]any) ([]byte, bool, error) {
		value, ok := record[field]
		if !ok || value == nil {
			return nil, false, nil
		}
		switch keyType {
		case KeyTypeString:
			switch v := value.(type) {
			case string:
				return EncodeStringKey(v), true, nil
			case []byte:
				return EncodeStringKey(string(v)), true, nil
			}
		case KeyTypeBytes:
			switch v := value.(type) {
			case []byte:
				return EncodeBytesKey(v), true, nil
			case string:
				decoded, err := base64.StdEncoding.DecodeString(v)
				if err != nil {
					return nil, false, status.Errorf(codes.InvalidArgument, "Field %#v contains string %#v, which is not base64 encoded", field, v)
				}
				return EncodeBytesKey(decoded), true, nil
			}
		case KeyTypeInt64:
			switch v := value.(type) {
			case int:
				return EncodeInt64Key(int64(v)), true, nil
			case int32:
				return EncodeInt64Key(int64(v)), true, nil
			case int64:
				return EncodeInt64Key(v), true, nil
			case uint64:
				if v <= math.MaxInt64 {
					return EncodeInt64Key(int64(v)), true, nil
				}
			case float64:
				if i := int64(v); float64(i) == v {
					return EncodeInt64Key(i), true, nil
				}
			case json.Number:
				i, err := v.Int64()
				if err != nil {
					return nil, false, status.Errorf(codes.InvalidArgument, "Field %#v contains number %s, which is not a 64-bit integer", field, v)
				}
				return EncodeInt64Key(i), true, nil
			}
		}
		return nil, false, status.Errorf(codes.InvalidArgument, "Field %#v has type %T, which cannot be used as a key of type %s", field, value, keyType)
	}
}

// FormatKey converts the canonical encoding of a key to a value that
// can be displayed or embedded in JSON.
func FormatKey(key []byte, keyType KeyType) (any, error) {
	switch keyType {
	case KeyTypeString:
		return string(key), nil
	case KeyTypeInt64:
		return DecodeInt64Key(key)
	default:
		return key, nil
	}
}
