package writer_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/buildbarn/bb-smb/pkg/random"
	"github.com/buildbarn/bb-smb/pkg/writer"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinShardSelector(t *testing.T) {
	ss := writer.NewRoundRobinShardSelector(3, random.NewSeededSingleThreadedGenerator(1, 2))
	first := ss.SelectShard([]byte("a"))
	require.GreaterOrEqual(t, first, 0)
	require.Less(t, first, 3)
	for i := 1; i < 10; i++ {
		require.Equal(t, (first+i)%3, ss.SelectShard([]byte("a")))
	}
}

func TestLog2Fixed(t *testing.T) {
	bits := 16
	// Powers of two should yield exact results.
	for i := 0; i < 64; i++ {
		require.Equal(t, uint64(i)<<bits, writer.Log2Fixed(uint64(1)<<i))
	}
	for i := 2; i < 100_000; i++ {
		expected := math.Log2(float64(i))
		actual := float64(writer.Log2Fixed(uint64(i))) / math.Pow(2, float64(bits))
		require.InEpsilon(t, expected, actual, 1e-5, fmt.Sprintf("Error is too high for %d", i))
	}
}

func TestRendezvousShardSelector(t *testing.T) {
	const numKeys = 100_000

	t.Run("Deterministic", func(t *testing.T) {
		ss1 := writer.NewRendezvousShardSelector(4)
		ss2 := writer.NewRendezvousShardSelector(4)
		for i := 0; i < 1000; i++ {
			key := []byte(fmt.Sprintf("user%d", i))
			require.Equal(t, ss1.SelectShard(key), ss2.SelectShard(key))
		}
	})

	t.Run("Distribution", func(t *testing.T) {
		ss := writer.NewRendezvousShardSelector(4)
		occurrences := make([]int, 4)
		for i := 0; i < numKeys; i++ {
			occurrences[ss.SelectShard([]byte(fmt.Sprintf("user%d", i)))]++
		}
		for _, count := range occurrences {
			require.InEpsilon(t, numKeys/4, count, 0.05)
		}
	})

	t.Run("AddingShard", func(t *testing.T) {
		// Keys may only move to the shard that was added.
		ss4 := writer.NewRendezvousShardSelector(4)
		ss5 := writer.NewRendezvousShardSelector(5)
		moved := 0
		for i := 0; i < numKeys; i++ {
			key := []byte(fmt.Sprintf("user%d", i))
			before, after := ss4.SelectShard(key), ss5.SelectShard(key)
			if before != after {
				require.Equal(t, 4, after)
				moved++
			}
		}
		require.InEpsilon(t, numKeys/5, moved, 0.05)
	})
}
