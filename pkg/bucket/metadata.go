package bucket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/bits"
	"slices"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Metadata describes how a dataset has been partitioned into buckets
// and shards. It is created once by the writer of a dataset, stored
// next to the data files, and loaded read-only by anything that reads
// the dataset back. Instances are immutable.
type Metadata struct {
	numBuckets         int
	numShards          int
	hashKind           HashKind
	keyType            KeyType
	keyCodecVersion    int
	compatibleVersions []int
}

// NewMetadata creates a new Metadata object. The number of buckets must
// be a positive power of two, which guarantees that the bucket counts
// of any two datasets divide one another.
//
// compatibleVersions lists key codec versions other than
// keyCodecVersion that readers of this dataset may use.
func NewMetadata(numBuckets, numShards int, hashKind HashKind, keyType KeyType, keyCodecVersion int, compatibleVersions ...int) (*Metadata, error) {
	if numBuckets <= 0 || bits.OnesCount(uint(numBuckets)) != 1 {
		return nil, status.Errorf(codes.InvalidArgument, "Number of buckets is %d, while it must be a positive power of two", numBuckets)
	}
	if numShards <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Number of shards is %d, while it must be positive", numShards)
	}
	if !hashKind.isValid() {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid hash kind %d", int(hashKind))
	}
	if !keyType.isValid() {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid key type %d", int(keyType))
	}
	compatible := slices.Clone(compatibleVersions)
	slices.Sort(compatible)
	return &Metadata{
		numBuckets:         numBuckets,
		numShards:          numShards,
		hashKind:           hashKind,
		keyType:            keyType,
		keyCodecVersion:    keyCodecVersion,
		compatibleVersions: slices.Compact(compatible),
	}, nil
}

// GetNumBuckets returns the number of hash partitions of the dataset.
func (m *Metadata) GetNumBuckets() int {
	return m.numBuckets
}

// GetNumShards returns the number of files each bucket is split into.
func (m *Metadata) GetNumShards() int {
	return m.numShards
}

// GetHashKind returns the hash function used to select buckets.
func (m *Metadata) GetHashKind() HashKind {
	return m.hashKind
}

// GetKeyType returns the type of the keys in the dataset.
func (m *Metadata) GetKeyType() KeyType {
	return m.keyType
}

// GetKeyCodecVersion returns the schema version of the keys.
func (m *Metadata) GetKeyCodecVersion() int {
	return m.keyCodecVersion
}

// HashBucket returns the bucket in which records with a given key are
// stored. Buckets are selected using the lowest bits of the hash, so
// that bucket b of a dataset with n buckets contains all of the keys of
// bucket b%m of a dataset with m buckets, where m divides n.
func (m *Metadata) HashBucket(key []byte) int {
	return int(m.hashKind.Sum32(key) & uint32(m.numBuckets-1))
}

// IsCompatibleWith returns whether two datasets can be joined by
// streaming their buckets together.
func (m *Metadata) IsCompatibleWith(other *Metadata) bool {
	if m.hashKind != other.hashKind {
		return false
	}
	larger, smaller := m.numBuckets, other.numBuckets
	if larger < smaller {
		larger, smaller = smaller, larger
	}
	return larger%smaller == 0
}

// CanRead returns an error if a reader using a given key codec version
// is not able to interpret the keys of this dataset.
func (m *Metadata) CanRead(keyCodecVersion int) error {
	if keyCodecVersion == m.keyCodecVersion {
		return nil
	}
	if _, found := slices.BinarySearch(m.compatibleVersions, keyCodecVersion); found {
		return nil
	}
	return status.Errorf(codes.FailedPrecondition, "Key codec version %d cannot read dataset with key codec version %d", keyCodecVersion, m.keyCodecVersion)
}

func (m *Metadata) String() string {
	return fmt.Sprintf("%d buckets, %d shards, %s, %s keys, key codec version %d", m.numBuckets, m.numShards, m.hashKind, m.keyType, m.keyCodecVersion)
}

// ValidateJoin checks that a set of datasets can be joined by a merge
// read. This is done before any data file is opened, so that partial
// joins are never attempted.
func ValidateJoin(metadata ...*Metadata) error {
	for i := 0; i < len(metadata); i++ {
		for j := i + 1; j < len(metadata); j++ {
			a, b := metadata[i], metadata[j]
			if a.hashKind != b.hashKind {
				return status.Errorf(codes.FailedPrecondition, "Source %d uses hash kind %s, while source %d uses hash kind %s", i, a.hashKind, j, b.hashKind)
			}
			if !a.IsCompatibleWith(b) {
				return status.Errorf(codes.FailedPrecondition, "Source %d has %d buckets, which is incompatible with %d buckets of source %d", i, a.numBuckets, b.numBuckets, j)
			}
			if a.keyType != b.keyType {
				return status.Errorf(codes.FailedPrecondition, "Source %d has %s keys, while source %d has %s keys", i, a.keyType, j, b.keyType)
			}
			if err := a.CanRead(b.keyCodecVersion); err != nil {
				return status.Errorf(codes.FailedPrecondition, "Source %d cannot be read alongside source %d: %s", i, j, status.Convert(err).Message())
			}
			if err := b.CanRead(a.keyCodecVersion); err != nil {
				return status.Errorf(codes.FailedPrecondition, "Source %d cannot be read alongside source %d: %s", j, i, status.Convert(err).Message())
			}
		}
	}
	return nil
}

// metadataDocument is the layout of the metadata.json sidecar file.
type metadataDocument struct {
	NumBuckets                 int      `json:"numBuckets"`
	NumShards                  int      `json:"numShards"`
	HashKind                   HashKind `json:"hashKind"`
	KeyType                    KeyType  `json:"keyType"`
	KeyCodecVersion            int      `json:"keyCodecVersion"`
	CompatibleKeyCodecVersions []int    `json:"compatibleKeyCodecVersions,omitempty"`
}

// MarshalJSON converts the metadata to the sidecar file format.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(metadataDocument{
		NumBuckets:                 m.numBuckets,
		NumShards:                  m.numShards,
		HashKind:                   m.hashKind,
		KeyType:                    m.keyType,
		KeyCodecVersion:            m.keyCodecVersion,
		CompatibleKeyCodecVersions: m.compatibleVersions,
	})
}

// ParseMetadata parses the contents of a metadata sidecar file.
func ParseMetadata(data []byte) (*Metadata, error) {
	var document metadataDocument
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&document); err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, status.Errorf(codes.InvalidArgument, "Malformed metadata: %s", err)
	}
	return NewMetadata(
		document.NumBuckets,
		document.NumShards,
		document.HashKind,
		document.KeyType,
		document.KeyCodecVersion,
		document.CompatibleKeyCodecVersions...)
}
