package bucket

import (
	"cmp"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ShardID addresses a single partition of a dataset: either a shard of
// a hashed bucket, or the partition holding records that have no key.
// A ShardID is only meaningful relative to the Metadata of the dataset
// it addresses.
type ShardID struct {
	bucketID int
	shardID  int
	nullKey  bool
}

// NewShardID creates a ShardID for a shard of a hashed bucket.
func NewShardID(bucketID, shardID int) ShardID {
	return ShardID{
		bucketID: bucketID,
		shardID:  shardID,
	}
}

// NullKeyShardID returns the ShardID of the partition that holds all
// records without a key. This partition is never merged with hashed
// buckets.
func NullKeyShardID() ShardID {
	return ShardID{nullKey: true}
}

// IsNullKey returns whether the ShardID addresses the null-key
// partition.
func (id ShardID) IsNullKey() bool {
	return id.nullKey
}

// GetBucketID returns the index of the bucket. It is zero for the
// null-key partition.
func (id ShardID) GetBucketID() int {
	return id.bucketID
}

// GetShardID returns the index of the shard within the bucket. It is
// zero for the null-key partition.
func (id ShardID) GetShardID() int {
	return id.shardID
}

// Validate checks whether the ShardID addresses a partition that
// exists in a dataset with the given metadata.
func (id ShardID) Validate(m *Metadata) error {
	if id.nullKey {
		return nil
	}
	if id.bucketID < 0 || id.bucketID >= m.numBuckets {
		return status.Errorf(codes.InvalidArgument, "Bucket %d is out of range for metadata with %d buckets", id.bucketID, m.numBuckets)
	}
	if id.shardID < 0 || id.shardID >= m.numShards {
		return status.Errorf(codes.InvalidArgument, "Shard %d is out of range for metadata with %d shards", id.shardID, m.numShards)
	}
	return nil
}

// Compare orders ShardIDs by bucket and shard index. The null-key
// partition sorts after all hashed buckets.
func (id ShardID) Compare(other ShardID) int {
	if id.nullKey || other.nullKey {
		if id.nullKey && other.nullKey {
			return 0
		}
		if id.nullKey {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(id.bucketID, other.bucketID); c != 0 {
		return c
	}
	return cmp.Compare(id.shardID, other.shardID)
}

func (id ShardID) String() string {
	if id.nullKey {
		return "null-keys"
	}
	return fmt.Sprintf("bucket %d shard %d", id.bucketID, id.shardID)
}
