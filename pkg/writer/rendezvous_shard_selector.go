package writer

import (
	"math/bits"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

type rendezvousShardSelector struct {
	shardHashes []uint64
}

// NewRendezvousShardSelector performs shard selection using the
// Rendezvous Hashing algorithm. All records having the same key are
// placed in the same shard. Changing the number of shards only
// relocates the keys of the shards that are added or removed, meaning
// that datasets written with different shard counts have mostly
// identical shards.
func NewRendezvousShardSelector(numShards int) ShardSelector {
	shardHashes := make([]uint64, 0, numShards)
	for i := 0; i < numShards; i++ {
		shardHashes = append(shardHashes, xxhash.Sum64String("shard-"+strconv.Itoa(i)))
	}
	return &rendezvousShardSelector{shardHashes: shardHashes}
}

func score(x uint64) uint64 {
	// The formula being approximated is -1/log(X), where X is a
	// uniform random number between ]0,1[. Only the relative order
	// of scores is of interest, so log2 may be used, which is
	// simple to approximate numerically. -log2(x/(MaxUint64+1))
	// can be simplified to 64-log2(x).
	logFixed := uint64(64)<<16 - Log2Fixed(x)
	return (uint64(1) << 48) / logFixed
}

const (
	lutEntryBits = 6
)

// Lookup table used for the log2 fraction, it is a fixed point representation
// of log2(x) for x between [1,2] which is a a value between 0 and 1. It uses 16
// bits of precision containing 1<<lutEntryBits+1 entries. The entry is picked
// by truncating to the remaining lutEntryBits of precision. We add the last
// value to simplify interpolation logic.
var lut = [(1 << lutEntryBits) + 1]uint16{
	0x0000, 0x05ba, 0x0b5d, 0x10eb, 0x1664, 0x1bc8, 0x2119, 0x2656,
	0x2b80, 0x3098, 0x359f, 0x3a94, 0x3f78, 0x444c, 0x4910, 0x4dc5,
	0x526a, 0x5700, 0x5b89, 0x6003, 0x646f, 0x68ce, 0x6d20, 0x7165,
	0x759d, 0x79ca, 0x7dea, 0x81ff, 0x8608, 0x8a06, 0x8dfa, 0x91e2,
	0x95c0, 0x9994, 0x9d5e, 0xa11e, 0xa4d4, 0xa881, 0xac24, 0xafbe,
	0xb350, 0xb6d9, 0xba59, 0xbdd1, 0xc140, 0xc4a8, 0xc807, 0xcb5f,
	0xceaf, 0xd1f7, 0xd538, 0xd872, 0xdba5, 0xded0, 0xe1f5, 0xe513,
	0xe82a, 0xeb3b, 0xee45, 0xf149, 0xf446, 0xf73e, 0xfa2f, 0xfd1a,
	0x0000, // the overflow of 0x10000, cancels out when interpolating
}

// Log2Fixed is a fixed point approximation of log2 with a lookup
// table, so that results are identical on every architecture. The 16
// least significant bits hold the fractional value.
//
// Since log2(x) = N+log2(x/2^N), the integer part is computed exactly
// by counting the number of bits in x. log2(x/2^N) is a number between
// 0 and 1, which is obtained from the lookup table and linearly
// interpolated with its successor.
//
// Unlike the mathematical logarithm, this function is defined for
// x=0. The maximum value this function produces is 64 << 16 - 1.
func Log2Fixed(x uint64) uint64 {
	msb := bits.Len64(x >> 1)
	bitfield := x << (64 - msb)
	index := bitfield >> (64 - lutEntryBits)
	interp := bitfield << lutEntryBits >> 16
	base := lut[index]
	next := lut[index+1]
	delta := uint64(next - base)
	frac := uint64(base)<<48 + (delta * interp)
	return (uint64(msb) << 16) | uint64(frac)>>48
}

// A very fast PRNG with strong mixing properties
func splitmix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

func (ss *rendezvousShardSelector) SelectShard(key []byte) int {
	hash := xxhash.Sum64(key)
	var best uint64
	var bestIndex int
	for index, shardHash := range ss.shardHashes {
		if current := score(splitmix64(shardHash ^ hash)); current > best {
			best = current
			bestIndex = index
		}
	}
	return bestIndex
}
