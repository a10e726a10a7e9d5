package merge

import (
	"bytes"
	"container/heap"
	"context"
	"io"

	"github.com/buildbarn/bb-smb/pkg/bucket"
	"github.com/buildbarn/bb-smb/pkg/fileops"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"golang.org/x/sync/errgroup"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CoGroup contains all records sharing the same key across the sources
// of a merge read. Values contains one list per source, in the order in
// which sources were provided. The list of a source is empty if it
// contains no records with the key.
type CoGroup[V any] struct {
	Key    []byte
	Values [][]V
}

// Reader performs merge reads against one or more datasets that have
// compatible bucket layouts, without requiring any shuffling of data.
type Reader[V any] struct {
	store   resource.Store
	sources []Source[V]

	// Metadata of the source having the largest number of buckets.
	// Bucket indices of the merge read are in its space.
	joinMetadata *bucket.Metadata
}

// NewReader creates a Reader for a set of sources. The bucket layouts
// of all sources are checked for compatibility before returning, so
// that incompatible joins are rejected before any file is opened.
func NewReader[V any](store resource.Store, sources ...Source[V]) (*Reader[V], error) {
	if len(sources) == 0 {
		return nil, status.Error(codes.InvalidArgument, "No sources provided")
	}
	metadata := make([]*bucket.Metadata, 0, len(sources))
	for i := range sources {
		if err := sources[i].validate(i); err != nil {
			return nil, err
		}
		metadata = append(metadata, sources[i].Metadata)
	}
	if err := bucket.ValidateJoin(metadata...); err != nil {
		return nil, err
	}

	joinMetadata := metadata[0]
	for _, m := range metadata[1:] {
		if m.GetNumBuckets() > joinMetadata.GetNumBuckets() {
			joinMetadata = m
		}
	}

	readerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(readerCoGroups)
		prometheus.MustRegister(readerRecords)
	})

	return &Reader[V]{
		store:        store,
		sources:      sources,
		joinMetadata: joinMetadata,
	}, nil
}

// GetNumBuckets returns the number of buckets of the merge read, being
// the largest number of buckets of all sources.
func (r *Reader[V]) GetNumBuckets() int {
	return r.joinMetadata.GetNumBuckets()
}

// ReadBucket opens all files of all sources that may contain records
// belonging to a given bucket. Sources having fewer buckets have their
// files read by multiple buckets, in which case records whose key does
// not belong to the requested bucket are skipped.
func (r *Reader[V]) ReadBucket(ctx context.Context, bucketID int) (*BucketIterator[V], error) {
	if bucketID < 0 || bucketID >= r.GetNumBuckets() {
		return nil, status.Errorf(codes.InvalidArgument, "Bucket %d is out of range for a merge read with %d buckets", bucketID, r.GetNumBuckets())
	}

	it := &BucketIterator[V]{
		sources: make([]streamHeap[V], len(r.sources)),
	}
	for sourceIndex := range r.sources {
		source := &r.sources[sourceIndex]
		sourceBucketID := bucketID % source.Metadata.GetNumBuckets()
		for shardIndex := 0; shardIndex < source.Metadata.GetNumShards(); shardIndex++ {
			id, err := source.Files.ForBucket(bucket.NewShardID(sourceBucketID, shardIndex), source.Metadata)
			if err != nil {
				it.Close()
				return nil, err
			}
			iterator, err := source.FileOperations.Iterator(ctx, r.store, id)
			if err != nil {
				it.Close()
				return nil, util.StatusWrapf(err, "Failed to open shard %d of source %d", shardIndex, sourceIndex)
			}
			s := &stream[V]{
				id:           id,
				shardIndex:   shardIndex,
				iterator:     iterator,
				keyFunction:  source.KeyFunction,
				joinMetadata: r.joinMetadata,
				bucketID:     bucketID,
			}
			it.sources[sourceIndex] = append(it.sources[sourceIndex], s)
			if ok, err := s.advance(); err != nil {
				it.Close()
				return nil, err
			} else if !ok {
				it.sources[sourceIndex] = it.sources[sourceIndex][:len(it.sources[sourceIndex])-1]
				it.done = append(it.done, s)
			}
		}
		heap.Init(&it.sources[sourceIndex])
	}
	return it, nil
}

// ReadAll performs a merge read of all buckets. Buckets are read in
// parallel, meaning the callback may be invoked concurrently. Co-groups
// belonging to the same bucket are provided sequentially and in key
// order.
func (r *Reader[V]) ReadAll(ctx context.Context, parallelism int, f func(ctx context.Context, bucketID int, coGroup *CoGroup[V]) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		group.SetLimit(parallelism)
	}
	for bucketID := 0; bucketID < r.GetNumBuckets(); bucketID++ {
		group.Go(func() error {
			it, err := r.ReadBucket(groupCtx, bucketID)
			if err != nil {
				return err
			}
			defer it.Close()
			for {
				coGroup, err := it.Next()
				if err == io.EOF {
					return nil
				} else if err != nil {
					return util.StatusWrapf(err, "Failed to read bucket %d", bucketID)
				}
				if err := f(groupCtx, bucketID, coGroup); err != nil {
					return err
				}
			}
		})
	}
	return group.Wait()
}

// stream of records belonging to a single bucket, obtained from a
// single shard file.
type stream[V any] struct {
	id           resource.ID
	shardIndex   int
	iterator     fileops.Iterator[V]
	keyFunction  bucket.KeyFunction[V]
	joinMetadata *bucket.Metadata
	bucketID     int

	// Key of the last record read from the file, regardless of
	// whether it belongs to the bucket.
	lastKey []byte
	hasRead bool

	// Current record of the stream.
	key    []byte
	record V
}

// advance the stream to the next record belonging to the bucket.
// Returns false when the file has been exhausted.
func (s *stream[V]) advance() (bool, error) {
	for {
		record, err := s.iterator.Next()
		if err == io.EOF {
			return false, nil
		} else if err != nil {
			return false, err
		}
		key, ok, err := s.keyFunction(record)
		if err != nil {
			return false, util.StatusWrapf(err, "Failed to extract key from record in %#v", s.id.String())
		}
		if !ok {
			readerRecordsNullKey.Inc()
			continue
		}
		if s.hasRead && bytes.Compare(key, s.lastKey) < 0 {
			return false, status.Errorf(codes.InvalidArgument, "File %#v is not sorted by key", s.id.String())
		}
		s.lastKey = key
		s.hasRead = true
		if s.joinMetadata.HashBucket(key) != s.bucketID {
			readerRecordsFiltered.Inc()
			continue
		}
		readerRecordsEmitted.Inc()
		s.key = key
		s.record = record
		return true, nil
	}
}

// streamHeap implements a min-heap of the streams of a single source,
// sorted by key of the current record. Streams with identical keys
// are ordered by shard.
type streamHeap[V any] []*stream[V]

func (h streamHeap[V]) Len() int {
	return len(h)
}

func (h streamHeap[V]) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].shardIndex < h[j].shardIndex
}

func (h streamHeap[V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *streamHeap[V]) Push(x any) {
	*h = append(*h, x.(*stream[V]))
}

func (h *streamHeap[V]) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}

// BucketIterator yields the co-groups of a single bucket in ascending
// key order. It is not safe for concurrent use.
type BucketIterator[V any] struct {
	sources []streamHeap[V]
	// Streams that are exhausted, or have failed. These still need
	// to be closed.
	done []*stream[V]
	err  error
}

// Next returns the co-group having the next smallest key. io.EOF is
// returned when all files have been exhausted, at which point all
// files have been closed.
func (it *BucketIterator[V]) Next() (*CoGroup[V], error) {
	if it.err != nil {
		return nil, it.err
	}

	var key []byte
	found := false
	for _, h := range it.sources {
		if len(h) > 0 && (!found || bytes.Compare(h[0].key, key) < 0) {
			key = h[0].key
			found = true
		}
	}
	if !found {
		if err := it.Close(); err != nil {
			it.err = err
			return nil, err
		}
		it.err = io.EOF
		return nil, io.EOF
	}

	coGroup := &CoGroup[V]{
		Key:    key,
		Values: make([][]V, len(it.sources)),
	}
	for i := range it.sources {
		h := &it.sources[i]
		for h.Len() > 0 && bytes.Equal((*h)[0].key, key) {
			s := (*h)[0]
			coGroup.Values[i] = append(coGroup.Values[i], s.record)
			ok, err := s.advance()
			if err != nil {
				it.Close()
				it.err = err
				return nil, err
			}
			if ok {
				heap.Fix(h, 0)
			} else {
				it.done = append(it.done, heap.Pop(h).(*stream[V]))
			}
		}
	}
	readerCoGroups.Inc()
	return coGroup, nil
}

// Close all files that are still opened by the iterator.
func (it *BucketIterator[V]) Close() error {
	var firstErr error
	closeStream := func(s *stream[V]) {
		if err := s.iterator.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i, h := range it.sources {
		for _, s := range h {
			closeStream(s)
		}
		it.sources[i] = nil
	}
	for _, s := range it.done {
		closeStream(s)
	}
	it.done = nil
	return firstErr
}
