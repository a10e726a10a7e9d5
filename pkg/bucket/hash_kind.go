package bucket

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HashKind identifies the hash function that is applied to the
// canonical encoding of a key to select its bucket. Datasets can only
// be joined if they were written using the same HashKind.
type HashKind int

const (
	// HashKindMurmur3_32 is 32-bit MurmurHash3 (x86 variant, seed 0).
	HashKindMurmur3_32 HashKind = iota + 1
	// HashKindMurmur3_128 is 128-bit MurmurHash3 (x64 variant, seed
	// 0), of which the lowest 32 bits are used.
	HashKindMurmur3_128
	// HashKindXXHash64 is 64-bit xxHash, of which the lowest 32 bits
	// are used.
	HashKindXXHash64
)

var hashKindNames = map[HashKind]string{
	HashKindMurmur3_32:  "MURMUR3_32",
	HashKindMurmur3_128: "MURMUR3_128",
	HashKindXXHash64:    "XXHASH_64",
}

// ParseHashKind converts the name of a hash function, as stored in
// metadata files, to a HashKind.
func ParseHashKind(name string) (HashKind, error) {
	for hashKind, hashKindName := range hashKindNames {
		if hashKindName == name {
			return hashKind, nil
		}
	}
	return 0, status.Errorf(codes.InvalidArgument, "Unknown hash kind %#v", name)
}

func (hk HashKind) String() string {
	if name, ok := hashKindNames[hk]; ok {
		return name
	}
	return fmt.Sprintf("HashKind(%d)", int(hk))
}

func (hk HashKind) isValid() bool {
	_, ok := hashKindNames[hk]
	return ok
}

// Sum32 computes the 32-bit hash value of a key's canonical encoding.
func (hk HashKind) Sum32(key []byte) uint32 {
	switch hk {
	case HashKindMurmur3_32:
		return murmur3.Sum32(key)
	case HashKindMurmur3_128:
		h1, _ := murmur3.Sum128(key)
		return uint32(h1)
	case HashKindXXHash64:
		return uint32(xxhash.Sum64(key))
	default:
		panic(fmt.Sprintf("Cannot hash using invalid hash kind %d", int(hk)))
	}
}

// MarshalJSON emits the name of the hash function.
func (hk HashKind) MarshalJSON() ([]byte, error) {
	if !hk.isValid() {
		return nil, status.Errorf(codes.InvalidArgument, "Cannot marshal invalid hash kind %d", int(hk))
	}
	return json.Marshal(hk.String())
}

// UnmarshalJSON parses the name of the hash function.
func (hk *HashKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return status.Errorf(codes.InvalidArgument, "Hash kind must be a string: %s", err)
	}
	parsed, err := ParseHashKind(name)
	if err != nil {
		return err
	}
	*hk = parsed
	return nil
}
