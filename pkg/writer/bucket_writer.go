package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/buildbarn/bb-smb/pkg/bucket"
	"github.com/buildbarn/bb-smb/pkg/fileops"
	"github.com/buildbarn/bb-smb/pkg/filename"
	"github.com/buildbarn/bb-smb/pkg/random"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"
	"github.com/google/btree"
	"github.com/prometheus/client_golang/prometheus"

	"golang.org/x/sync/errgroup"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MetadataMimeType is the MIME type of the metadata file of a dataset.
const MetadataMimeType = "application/json"

// SortMode determines how the records of a partition are brought into
// key order.
type SortMode int

const (
	// SortInMemory buffers all records of a partition in memory
	// until the write pass is closed, at which point they are
	// written in key order. Records with identical keys retain the
	// order in which they were written.
	SortInMemory SortMode = iota
	// RequirePresortedInput writes records immediately. The write
	// pass fails if the records routed to a partition are not
	// provided in key order.
	RequirePresortedInput
)

// Configuration of a BucketWriter.
type Configuration[V any] struct {
	Store          resource.Store
	Metadata       *bucket.Metadata
	FilenamePolicy *filename.Policy
	// Directory underneath which the staging directory is created.
	TempDirectory  resource.ID
	FileOperations fileops.FileOperations[V]
	KeyFunction    bucket.KeyFunction[V]

	// Creates the shard selector of every bucket. If unset, round
	// robin shard selection is used.
	ShardSelectorFactory ShardSelectorFactory
	SortMode             SortMode
	// Maximum number of partitions that are flushed or moved
	// concurrently. If zero, all partitions are processed
	// concurrently.
	Parallelism int
	// Receives errors that occur while cleaning up the staging
	// directory after a write pass is aborted. If unset, errors are
	// logged.
	ErrorLogger util.ErrorLogger
}

// BucketWriter writes datasets consisting of a grid of bucket and
// shard files, accompanied by a metadata file. Each dataset is written
// in a WritePass, which first places all files in a staging directory.
// Files are only moved to their final location when the pass is
// committed.
type BucketWriter[V any] struct {
	configuration Configuration[V]

	lock       sync.Mutex
	passActive bool
}

// NewBucketWriter creates a BucketWriter after validating its
// configuration.
func NewBucketWriter[V any](configuration Configuration[V]) (*BucketWriter[V], error) {
	if configuration.Store == nil {
		return nil, status.Error(codes.InvalidArgument, "No store provided")
	}
	if configuration.Metadata == nil {
		return nil, status.Error(codes.InvalidArgument, "No bucket metadata provided")
	}
	if configuration.FilenamePolicy == nil {
		return nil, status.Error(codes.InvalidArgument, "No filename policy provided")
	}
	if !configuration.TempDirectory.IsDirectory() {
		return nil, status.Errorf(codes.InvalidArgument, "Temporary directory %#v is not a directory", configuration.TempDirectory.String())
	}
	if configuration.FileOperations == nil {
		return nil, status.Error(codes.InvalidArgument, "No file operations provided")
	}
	if configuration.KeyFunction == nil {
		return nil, status.Error(codes.InvalidArgument, "No key function provided")
	}
	if configuration.SortMode != SortInMemory && configuration.SortMode != RequirePresortedInput {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid sort mode %d", configuration.SortMode)
	}
	if configuration.Parallelism < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Parallelism is %d, while it must be non-negative", configuration.Parallelism)
	}
	if configuration.ShardSelectorFactory == nil {
		configuration.ShardSelectorFactory = NewRoundRobinShardSelectorFactory(random.NewFastSingleThreadedGenerator())
	}
	if configuration.ErrorLogger == nil {
		configuration.ErrorLogger = util.DefaultErrorLogger
	}

	bucketWriterPrometheusMetrics.Do(func() {
		prometheus.MustRegister(bucketWriterRecordsRouted)
		prometheus.MustRegister(bucketWriterPartitionsWritten)
		prometheus.MustRegister(bucketWriterPasses)
		prometheus.MustRegister(bucketWriterCommitDurationSeconds)
	})

	return &BucketWriter[V]{
		configuration: configuration,
	}, nil
}

// GetDisplayData returns the properties of the BucketWriter.
func (bw *BucketWriter[V]) GetDisplayData() util.DisplayData {
	c := &bw.configuration
	dd := util.DisplayData{
		"metadata":      c.Metadata.String(),
		"tempDirectory": c.TempDirectory.String(),
	}
	dd.Merge("fileOperations.", c.FileOperations.GetDisplayData())
	dd.Merge("filenamePolicy.", c.FilenamePolicy.ForDestination().GetDisplayData())
	return dd
}

// passState is the state of a WritePass. Passes start in state
// passStateOpen, and end in either passStateCommitted or
// passStateAborted.
type passState int

const (
	passStateOpen passState = iota
	passStateClosed
	passStateCommitted
	passStateAborted
)

var passStateNames = [...]string{
	passStateOpen:      "open",
	passStateClosed:    "closed",
	passStateCommitted: "committed",
	passStateAborted:   "aborted",
}

type bufferedRecord[V any] struct {
	key      []byte
	sequence uint64
	record   V
}

func lessBufferedRecord[V any](a, b bufferedRecord[V]) bool {
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.sequence < b.sequence
}

// partition is a single file that is written as part of a write pass.
type partition[V any] struct {
	shardID bucket.ShardID
	tempID  resource.ID
	finalID resource.ID

	// Set while the file is open for writing.
	writer fileops.Writer[V]
	// Set if the file has been created.
	created bool
	records int64

	// Used if the sort mode is SortInMemory.
	buffer *btree.BTreeG[bufferedRecord[V]]
	// Used if the sort mode is RequirePresortedInput. Only valid if
	// records > 0.
	lastKey []byte
}

// File that has been moved to its final location by a write pass.
type File struct {
	ShardID bucket.ShardID
	ID      resource.ID
	Records int64
}

// Result of a write pass that has been committed successfully.
type Result struct {
	// Files containing records, sorted by ShardID.
	Files []File
	// Location of the metadata file.
	Metadata resource.ID
}

// WritePass of a single dataset. A WritePass is not safe for
// concurrent use. Any error returned by Write() or Close() causes the
// pass to be aborted, after which all further calls fail with
// FailedPrecondition. Errors returned by Commit() leave the pass
// closed, so that committing may be retried.
type WritePass[V any] struct {
	bucketWriter   *BucketWriter[V]
	tempAssignment *filename.FileAssignment
	state          passState

	partitions     []*partition[V]
	nullKey        *partition[V]
	shardSelectors []ShardSelector
	nextSequence   uint64

	// Metadata file in the staging directory that has not been
	// moved to its final location yet, if any. Retries of Commit()
	// overwrite it.
	stagedMetadata *resource.ID
}

// Begin a new write pass. Only a single pass may be active per
// BucketWriter at a time. Begin creates a file for every bucket and
// shard in the staging directory. These files are written through the
// provided context, meaning it must remain valid until the pass is
// closed.
func (bw *BucketWriter[V]) Begin(ctx context.Context) (*WritePass[V], error) {
	bw.lock.Lock()
	if bw.passActive {
		bw.lock.Unlock()
		return nil, status.Error(codes.FailedPrecondition, "Another write pass is still active")
	}
	bw.passActive = true
	bw.lock.Unlock()

	c := &bw.configuration
	tempAssignment, err := c.FilenamePolicy.ForTempFiles(c.TempDirectory)
	if err != nil {
		bw.lock.Lock()
		bw.passActive = false
		bw.lock.Unlock()
		return nil, err
	}
	numBuckets, numShards := c.Metadata.GetNumBuckets(), c.Metadata.GetNumShards()
	wp := &WritePass[V]{
		bucketWriter:   bw,
		tempAssignment: tempAssignment,
		partitions:     make([]*partition[V], 0, numBuckets*numShards),
		shardSelectors: make([]ShardSelector, 0, numBuckets),
	}
	for bucketID := 0; bucketID < numBuckets; bucketID++ {
		wp.shardSelectors = append(wp.shardSelectors, c.ShardSelectorFactory(numShards))
		for shardID := 0; shardID < numShards; shardID++ {
			p, err := wp.newPartition(bucket.NewShardID(bucketID, shardID))
			if err != nil {
				wp.abort(ctx)
				return nil, err
			}
			wp.partitions = append(wp.partitions, p)
		}
	}

	// Create files for all buckets, so that empty buckets are
	// represented in the resulting dataset. Files are bound to the
	// context provided by the caller, as the context of an errgroup
	// is canceled when Wait() returns.
	var group errgroup.Group
	if c.Parallelism > 0 {
		group.SetLimit(c.Parallelism)
	}
	for _, p := range wp.partitions {
		group.Go(func() error {
			return wp.openPartition(ctx, p)
		})
	}
	if err := group.Wait(); err != nil {
		wp.abort(ctx)
		return nil, err
	}
	return wp, nil
}

func (wp *WritePass[V]) newPartition(shardID bucket.ShardID) (*partition[V], error) {
	c := &wp.bucketWriter.configuration
	tempID, err := wp.tempAssignment.ForBucket(shardID, c.Metadata)
	if err != nil {
		return nil, err
	}
	finalID, err := c.FilenamePolicy.ForDestination().ForBucket(shardID, c.Metadata)
	if err != nil {
		return nil, err
	}
	p := &partition[V]{
		shardID: shardID,
		tempID:  tempID,
		finalID: finalID,
	}
	if c.SortMode == SortInMemory && !shardID.IsNullKey() {
		p.buffer = btree.NewG(16, lessBufferedRecord[V])
	}
	return p, nil
}

func (wp *WritePass[V]) openPartition(ctx context.Context, p *partition[V]) error {
	c := &wp.bucketWriter.configuration
	w, err := c.FileOperations.CreateWriter(ctx, c.Store, p.tempID)
	if err != nil {
		return util.StatusWrapf(err, "Failed to create file for %s", p.shardID)
	}
	p.writer = w
	p.created = true
	return nil
}

func (wp *WritePass[V]) checkState(expected passState) error {
	if wp.state != expected {
		return status.Errorf(codes.FailedPrecondition, "Write pass is %s", passStateNames[wp.state])
	}
	return nil
}

// Write a single record. The record is routed to the bucket
// corresponding to its key, and to the shard chosen by the bucket's
// ShardSelector. Records without a key are written to a separate file.
func (wp *WritePass[V]) Write(ctx context.Context, record V) error {
	if err := wp.checkState(passStateOpen); err != nil {
		return err
	}
	if err := wp.write(ctx, record); err != nil {
		wp.abort(ctx)
		return err
	}
	return nil
}

func (wp *WritePass[V]) write(ctx context.Context, record V) error {
	c := &wp.bucketWriter.configuration
	key, ok, err := c.KeyFunction(record)
	if err != nil {
		return util.StatusWrap(err, "Failed to extract key from record")
	}
	if !ok {
		bucketWriterRecordsRoutedNullKey.Inc()
		if wp.nullKey == nil {
			p, err := wp.newPartition(bucket.NullKeyShardID())
			if err != nil {
				return err
			}
			wp.nullKey = p
			if err := wp.openPartition(ctx, p); err != nil {
				return err
			}
		}
		return wp.nullKey.writeRecord(record)
	}

	bucketWriterRecordsRoutedHashed.Inc()
	bucketID := c.Metadata.HashBucket(key)
	shardID := wp.shardSelectors[bucketID].SelectShard(key)
	numShards := c.Metadata.GetNumShards()
	if shardID < 0 || shardID >= numShards {
		return status.Errorf(codes.InvalidArgument, "Shard selector returned shard %d, while metadata only has %d shards", shardID, numShards)
	}
	p := wp.partitions[bucketID*numShards+shardID]

	switch c.SortMode {
	case SortInMemory:
		p.buffer.ReplaceOrInsert(bufferedRecord[V]{
			key:      key,
			sequence: wp.nextSequence,
			record:   record,
		})
		wp.nextSequence++
		p.records++
		return nil
	default:
		if p.records > 0 && bytes.Compare(key, p.lastKey) < 0 {
			return status.Errorf(codes.InvalidArgument, "Records written to %#v are not sorted by key: record %d has a key that is smaller than its predecessor", p.tempID.String(), p.records)
		}
		p.lastKey = key
		return p.writeRecord(record)
	}
}

func (p *partition[V]) writeRecord(record V) error {
	if err := p.writer.Write(record); err != nil {
		return err
	}
	p.records++
	return nil
}

// flush writes any buffered records to the file, and closes it.
func (p *partition[V]) flush() error {
	var writeErr error
	if p.buffer != nil {
		p.buffer.Ascend(func(item bufferedRecord[V]) bool {
			writeErr = p.writer.Write(item.record)
			return writeErr == nil
		})
		p.buffer.Clear(false)
	}
	closeErr := p.writer.Close()
	p.writer = nil
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return closeErr
	}
	bucketWriterPartitionsWritten.Inc()
	return nil
}

func (wp *WritePass[V]) allPartitions() []*partition[V] {
	if wp.nullKey == nil {
		return wp.partitions
	}
	return append(wp.partitions[:len(wp.partitions):len(wp.partitions)], wp.nullKey)
}

// forEachPartition calls a function for every partition that has been
// created, with the configured amount of parallelism.
func (wp *WritePass[V]) forEachPartition(ctx context.Context, f func(ctx context.Context, p *partition[V]) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	if parallelism := wp.bucketWriter.configuration.Parallelism; parallelism > 0 {
		group.SetLimit(parallelism)
	}
	for _, p := range wp.allPartitions() {
		if p.created {
			group.Go(func() error {
				return f(groupCtx, p)
			})
		}
	}
	return group.Wait()
}

// Close flushes and closes all files of the write pass. Records can no
// longer be written afterwards.
func (wp *WritePass[V]) Close(ctx context.Context) error {
	if err := wp.checkState(passStateOpen); err != nil {
		return err
	}
	// Every partition needs to be flushed, even if others fail, so
	// that no files remain open. The context of the errgroup is
	// therefore not used.
	if err := wp.forEachPartition(ctx, func(ctx context.Context, p *partition[V]) error {
		return p.flush()
	}); err != nil {
		wp.abort(ctx)
		return err
	}
	wp.state = passStateClosed
	return nil
}

// Commit the write pass, by moving all files from the staging
// directory to their final location. The metadata file is written
// last, meaning that the dataset only becomes readable once all data
// files are in place.
func (wp *WritePass[V]) Commit(ctx context.Context) (*Result, error) {
	if wp.state == passStateOpen {
		if err := wp.Close(ctx); err != nil {
			return nil, err
		}
	}
	if err := wp.checkState(passStateClosed); err != nil {
		return nil, err
	}

	c := &wp.bucketWriter.configuration
	timeStart := time.Now()
	if err := wp.forEachPartition(ctx, func(ctx context.Context, p *partition[V]) error {
		return c.Store.Rename(ctx, p.tempID, p.finalID)
	}); err != nil {
		return nil, util.StatusWrap(err, "Failed to move data files to their final location")
	}

	metadataID, err := wp.writeMetadata(ctx)
	if err != nil {
		return nil, err
	}
	bucketWriterCommitDurationSeconds.Observe(time.Since(timeStart).Seconds())

	result := &Result{Metadata: metadataID}
	for _, p := range wp.allPartitions() {
		result.Files = append(result.Files, File{
			ShardID: p.shardID,
			ID:      p.finalID,
			Records: p.records,
		})
	}
	wp.finish(passStateCommitted)
	bucketWriterPassesCommitted.Inc()
	return result, nil
}

func (wp *WritePass[V]) writeMetadata(ctx context.Context) (resource.ID, error) {
	c := &wp.bucketWriter.configuration
	data, err := json.Marshal(c.Metadata)
	if err != nil {
		return resource.ID{}, util.StatusWrapWithCode(err, codes.Internal, "Failed to marshal metadata")
	}

	if wp.stagedMetadata == nil {
		tempID := wp.tempAssignment.ForMetadata()
		wp.stagedMetadata = &tempID
	}
	tempID := *wp.stagedMetadata
	w, err := c.Store.NewWriter(ctx, tempID, MetadataMimeType)
	if err != nil {
		return resource.ID{}, util.StatusWrap(err, "Failed to create metadata file")
	}
	_, writeErr := w.Write(data)
	closeErr := w.Close()
	if writeErr != nil {
		return resource.ID{}, util.StatusWrapf(writeErr, "Failed to write metadata file %#v", tempID.String())
	}
	if closeErr != nil {
		return resource.ID{}, util.StatusWrapf(closeErr, "Failed to close metadata file %#v", tempID.String())
	}

	finalID := c.FilenamePolicy.ForDestination().ForMetadata()
	if err := c.Store.Rename(ctx, tempID, finalID); err != nil {
		return resource.ID{}, util.StatusWrap(err, "Failed to move metadata file to its final location")
	}
	wp.stagedMetadata = nil
	return finalID, nil
}

// Abort the write pass, removing all files that have been written to
// the staging directory. Files that fail to be removed are reported
// through the ErrorLogger, and may be removed by a sweeper at a later
// point in time. Aborting a pass that has already been aborted has no
// effect.
func (wp *WritePass[V]) Abort(ctx context.Context) error {
	switch wp.state {
	case passStateAborted:
		return nil
	case passStateCommitted:
		return status.Error(codes.FailedPrecondition, "Write pass is committed")
	}
	wp.abort(ctx)
	return nil
}

func (wp *WritePass[V]) abort(ctx context.Context) {
	errorLogger := wp.bucketWriter.configuration.ErrorLogger
	store := wp.bucketWriter.configuration.Store
	for _, p := range wp.allPartitions() {
		if p.writer != nil {
			p.writer.Close()
			p.writer = nil
		}
		if p.created {
			if err := store.Delete(ctx, p.tempID); err != nil && status.Code(err) != codes.NotFound {
				errorLogger.Log(util.StatusWrapf(err, "Failed to remove file %#v of aborted write pass", p.tempID.String()))
			}
			p.created = false
		}
		if p.buffer != nil {
			p.buffer.Clear(false)
		}
	}
	if tempID := wp.stagedMetadata; tempID != nil {
		if err := store.Delete(ctx, *tempID); err != nil && status.Code(err) != codes.NotFound {
			errorLogger.Log(util.StatusWrapf(err, "Failed to remove metadata file %#v of aborted write pass", tempID.String()))
		}
		wp.stagedMetadata = nil
	}
	if wp.state != passStateAborted {
		wp.finish(passStateAborted)
		bucketWriterPassesAborted.Inc()
	}
}

func (wp *WritePass[V]) finish(state passState) {
	wp.state = state
	bw := wp.bucketWriter
	bw.lock.Lock()
	bw.passActive = false
	bw.lock.Unlock()
}
