package writer

import (
	"github.com/buildbarn/bb-smb/pkg/random"
)

// ShardSelector determines to which shard of a bucket a record is
// written. Each bucket of a write pass has its own instance, meaning
// implementations may be stateful.
type ShardSelector interface {
	SelectShard(key []byte) int
}

// ShardSelectorFactory creates the ShardSelector for a single bucket.
type ShardSelectorFactory func(numShards int) ShardSelector

type roundRobinShardSelector struct {
	numShards int
	next      int
}

// NewRoundRobinShardSelector creates a ShardSelector that distributes
// records evenly across all shards, regardless of their key. The
// first shard is chosen at random, so that buckets receiving few
// records do not all place them in the first shard.
func NewRoundRobinShardSelector(numShards int, generator random.SingleThreadedGenerator) ShardSelector {
	return &roundRobinShardSelector{
		numShards: numShards,
		next:      generator.IntN(numShards),
	}
}

func (ss *roundRobinShardSelector) SelectShard(key []byte) int {
	shard := ss.next
	ss.next++
	if ss.next == ss.numShards {
		ss.next = 0
	}
	return shard
}

// NewRoundRobinShardSelectorFactory returns a ShardSelectorFactory
// that creates round robin shard selectors, drawing their initial
// shard from a generator.
func NewRoundRobinShardSelectorFactory(generator random.SingleThreadedGenerator) ShardSelectorFactory {
	return func(numShards int) ShardSelector {
		return NewRoundRobinShardSelector(numShards, generator)
	}
}
