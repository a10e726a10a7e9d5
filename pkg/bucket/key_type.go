package bucket

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// KeyType describes how the keys of a dataset are encoded into bytes.
// The canonical encoding is used both for hashing and for ordering, so
// two datasets can only be joined if their keys have the same type.
type KeyType int

const (
	// KeyTypeString keys are encoded as their UTF-8 bytes.
	KeyTypeString KeyType = iota + 1
	// KeyTypeBytes keys are used as is.
	KeyTypeBytes
	// KeyTypeInt64 keys are encoded as eight big endian bytes with
	// the sign bit flipped, so that byte order equals numeric order.
	KeyTypeInt64
)

var keyTypeNames = map[KeyType]string{
	KeyTypeString: "STRING",
	KeyTypeBytes:  "BYTES",
	KeyTypeInt64:  "INT64",
}

// ParseKeyType converts the name of a key type, as stored in metadata
// files, to a KeyType.
func ParseKeyType(name string) (KeyType, error) {
	for keyType, keyTypeName := range keyTypeNames {
		if keyTypeName == name {
			return keyType, nil
		}
	}
	return 0, status.Errorf(codes.InvalidArgument, "Unknown key type %#v", name)
}

func (kt KeyType) String() string {
	if name, ok := keyTypeNames[kt]; ok {
		return name
	}
	return fmt.Sprintf("KeyType(%d)", int(kt))
}

func (kt KeyType) isValid() bool {
	_, ok := keyTypeNames[kt]
	return ok
}

// MarshalJSON emits the name of the key type.
func (kt KeyType) MarshalJSON() ([]byte, error) {
	if !kt.isValid() {
		return nil, status.Errorf(codes.InvalidArgument, "Cannot marshal invalid key type %d", int(kt))
	}
	return json.Marshal(kt.String())
}

// UnmarshalJSON parses the name of the key type.
func (kt *KeyType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return status.Errorf(codes.InvalidArgument, "Key type must be a string: %s", err)
	}
	parsed, err := ParseKeyType(name)
	if err != nil {
		return err
	}
	*kt = parsed
	return nil
}

// EncodeStringKey returns the canonical encoding of a string key.
func EncodeStringKey(key string) []byte {
	return []byte(key)
}

// EncodeBytesKey returns the canonical encoding of a byte slice key.
func EncodeBytesKey(key []byte) []byte {
	return key
}

// EncodeInt64Key returns the canonical encoding of an integer key.
func EncodeInt64Key(key int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(key)^(1<<63))
	return b[:]
}

// DecodeInt64Key is the inverse of EncodeInt64Key.
func DecodeInt64Key(key []byte) (int64, error) {
	if len(key) != 8 {
		return 0, status.Errorf(codes.InvalidArgument, "Integer key has length %d, while 8 bytes were expected", len(key))
	}
	return int64(binary.BigEndian.Uint64(key) ^ (1 << 63)), nil
}

// KeyFunction extracts the canonical encoding of the key of a record.
// When ok is false, the record has no key and is stored in the
// null-key partition.
type KeyFunction[V any] func(record V) (key []byte, ok bool, err error)

// StringKey creates a KeyFunction for records with string keys.
func StringKey[V any](extract func(record V) (string, bool)) KeyFunction[V] {
	return func(record V) ([]byte, bool, error) {
		key, ok := extract(record)
		if !ok {
			return nil, false, nil
		}
		return EncodeStringKey(key), true, nil
	}
}

// BytesKey creates a KeyFunction for records with byte slice keys.
func BytesKey[V any](extract func(record V) ([]byte, bool)) KeyFunction[V] {
	return func(record V) ([]byte, bool, error) {
		key, ok := extract(record)
		if !ok {
			return nil, false, nil
		}
		return EncodeBytesKey(key), true, nil
	}
}

// Int64Key creates a KeyFunction for records with integer keys.
func Int64Key[V any](extract func(record V) (int64, bool)) KeyFunction[V] {
	return func(record V) ([]byte, bool, error) {
		key, ok := extract(record)
		if !ok {
			return nil, false, nil
		}
		return EncodeInt64Key(key), true, nil
	}
}
