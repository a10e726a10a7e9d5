package writer_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/buildbarn/bb-smb/internal/mock"
	"github.com/buildbarn/bb-smb/pkg/bucket"
	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/buildbarn/bb-smb/pkg/fileops"
	"github.com/buildbarn/bb-smb/pkg/filename"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/testutil"
	"github.com/buildbarn/bb-smb/pkg/writer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"gocloud.dev/blob/memblob"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type event struct {
	User     string `json:"user,omitempty"`
	Sequence int    `json:"sequence"`
}

var eventKeyFunction = bucket.StringKey(func(e event) (string, bool) {
	return e.User, e.User != ""
})

func newMemoryStore(t *testing.T) resource.Store {
	b := memblob.OpenBucket(nil)
	t.Cleanup(func() { b.Close() })
	return resource.NewBlobStore(b)
}

func newFixedClock(ctrl *gomock.Controller) *mock.MockClock {
	clock := mock.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Date(2024, 3, 1, 13, 37, 0, 0, time.UTC)).AnyTimes()
	return clock
}

func fixedUUIDGenerator() (uuid.UUID, error) {
	return uuid.MustParse("6d0c3ab6-6e9e-4f8a-9d6c-1f1b8a3a5c11"), nil
}

func newConfiguration(t *testing.T, ctrl *gomock.Controller, store resource.Store, numBuckets, numShards int) writer.Configuration[event] {
	metadata, err := bucket.NewMetadata(numBuckets, numShards, bucket.HashKindMurmur3_32, bucket.KeyTypeString, 1)
	require.NoError(t, err)
	policy, err := filename.NewPolicy(resource.NewID("output/"), "bucket", ".json", newFixedClock(ctrl), fixedUUIDGenerator)
	require.NoError(t, err)
	return writer.Configuration[event]{
		Store:                store,
		Metadata:             metadata,
		FilenamePolicy:       policy,
		TempDirectory:        resource.NewID("tmp/"),
		FileOperations:       fileops.NewJSONFileOperations[event](compression.Uncompressed),
		KeyFunction:          eventKeyFunction,
		ShardSelectorFactory: writer.NewRendezvousShardSelector,
	}
}

func listFiles(ctx context.Context, t *testing.T, store resource.Store, directory string) []string {
	files, err := store.List(ctx, resource.NewID(directory))
	require.NoError(t, err)
	var names []string
	for _, file := range files {
		names = append(names, file.ID.String())
	}
	return names
}

func TestBucketWriterCommit(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	store := newMemoryStore(t)
	configuration := newConfiguration(t, ctrl, store, 4, 2)
	bw, err := writer.NewBucketWriter(configuration)
	require.NoError(t, err)

	pass, err := bw.Begin(ctx)
	require.NoError(t, err)
	var written []event
	for i := 0; i < 1000; i++ {
		e := event{User: fmt.Sprintf("user%d", i%97), Sequence: i}
		if i%100 == 0 {
			e.User = ""
		}
		written = append(written, e)
		require.NoError(t, pass.Write(ctx, e))
	}
	result, err := pass.Commit(ctx)
	require.NoError(t, err)

	// All files are placed in their final location, and the
	// staging directory is empty.
	require.Equal(t, resource.NewID("output/metadata.json"), result.Metadata)
	require.Equal(t, []string{
		"output/bucket-00000-of-00004-shard-00000-of-00002.json",
		"output/bucket-00000-of-00004-shard-00001-of-00002.json",
		"output/bucket-00001-of-00004-shard-00000-of-00002.json",
		"output/bucket-00001-of-00004-shard-00001-of-00002.json",
		"output/bucket-00002-of-00004-shard-00000-of-00002.json",
		"output/bucket-00002-of-00004-shard-00001-of-00002.json",
		"output/bucket-00003-of-00004-shard-00000-of-00002.json",
		"output/bucket-00003-of-00004-shard-00001-of-00002.json",
		"output/bucket-null-keys.json",
		"output/metadata.json",
	}, listFiles(ctx, t, store, "output/"))
	require.Empty(t, listFiles(ctx, t, store, "tmp/"))

	// The metadata file describes the dataset.
	r, err := store.NewReader(ctx, result.Metadata)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	metadata, err := bucket.ParseMetadata(data)
	require.NoError(t, err)
	require.Equal(t, configuration.Metadata.String(), metadata.String())
	require.True(t, metadata.IsCompatibleWith(configuration.Metadata))

	// Every file only contains records belonging to its bucket,
	// sorted by key. Records with identical keys retain their
	// order.
	require.Len(t, result.Files, 9)
	var totalRecords int64
	var read []event
	for _, file := range result.Files {
		records, err := fileops.ReadAll(ctx, configuration.FileOperations, store, file.ID)
		require.NoError(t, err)
		require.Equal(t, file.Records, int64(len(records)))
		totalRecords += file.Records
		read = append(read, records...)

		if file.ShardID.IsNullKey() {
			require.Len(t, records, 10)
			for i, record := range records {
				require.Equal(t, event{Sequence: i * 100}, record)
			}
			continue
		}
		for i, record := range records {
			key := bucket.EncodeStringKey(record.User)
			require.Equal(t, file.ShardID.GetBucketID(), metadata.HashBucket(key))
			if i > 0 {
				previous := records[i-1]
				require.LessOrEqual(t, previous.User, record.User)
				if previous.User == record.User {
					require.Less(t, previous.Sequence, record.Sequence)
				}
			}
		}
	}
	require.Equal(t, int64(1000), totalRecords)
	require.ElementsMatch(t, written, read)
}

func TestBucketWriterEmptyBuckets(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	store := newMemoryStore(t)
	bw, err := writer.NewBucketWriter(newConfiguration(t, ctrl, store, 2, 1))
	require.NoError(t, err)

	pass, err := bw.Begin(ctx)
	require.NoError(t, err)
	result, err := pass.Commit(ctx)
	require.NoError(t, err)

	// Files are created for every bucket. The file for records
	// without a key is only created when needed.
	require.Equal(t, []writer.File{
		{ShardID: bucket.NewShardID(0, 0), ID: resource.NewID("output/bucket-00000-of-00002.json")},
		{ShardID: bucket.NewShardID(1, 0), ID: resource.NewID("output/bucket-00001-of-00002.json")},
	}, result.Files)
	require.Equal(t, []string{
		"output/bucket-00000-of-00002.json",
		"output/bucket-00001-of-00002.json",
		"output/metadata.json",
	}, listFiles(ctx, t, store, "output/"))
}

func TestBucketWriterPresortedInput(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)

	t.Run("Success", func(t *testing.T) {
		store := newMemoryStore(t)
		configuration := newConfiguration(t, ctrl, store, 1, 1)
		configuration.SortMode = writer.RequirePresortedInput
		bw, err := writer.NewBucketWriter(configuration)
		require.NoError(t, err)

		pass, err := bw.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, pass.Write(ctx, event{User: "alice", Sequence: 1}))
		require.NoError(t, pass.Write(ctx, event{User: "alice", Sequence: 2}))
		require.NoError(t, pass.Write(ctx, event{User: "bob", Sequence: 3}))
		result, err := pass.Commit(ctx)
		require.NoError(t, err)

		records, err := fileops.ReadAll(ctx, configuration.FileOperations, store, result.Files[0].ID)
		require.NoError(t, err)
		require.Equal(t, []event{{"alice", 1}, {"alice", 2}, {"bob", 3}}, records)
	})

	t.Run("Unsorted", func(t *testing.T) {
		store := newMemoryStore(t)
		configuration := newConfiguration(t, ctrl, store, 1, 1)
		configuration.SortMode = writer.RequirePresortedInput
		bw, err := writer.NewBucketWriter(configuration)
		require.NoError(t, err)

		pass, err := bw.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, pass.Write(ctx, event{User: "bob", Sequence: 1}))
		err = pass.Write(ctx, event{User: "alice", Sequence: 2})
		require.Equal(t, codes.InvalidArgument, status.Code(err))
		require.Contains(t, status.Convert(err).Message(), "are not sorted by key: record 1 has a key that is smaller than its predecessor")

		// The pass is aborted. Nothing is written to the final
		// location, and the staging directory is cleaned up.
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Write pass is aborted"), pass.Write(ctx, event{User: "carol"}))
		_, err = pass.Commit(ctx)
		testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Write pass is aborted"), err)
		require.Empty(t, listFiles(ctx, t, store, ""))

		// A new pass may be started afterwards.
		pass, err = bw.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, pass.Abort(ctx))
	})
}

func TestBucketWriterAbort(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	store := newMemoryStore(t)
	bw, err := writer.NewBucketWriter(newConfiguration(t, ctrl, store, 2, 2))
	require.NoError(t, err)

	pass, err := bw.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pass.Write(ctx, event{User: "alice"}))
	require.NoError(t, pass.Write(ctx, event{}))

	// Only a single pass may be active at a time.
	_, err = bw.Begin(ctx)
	testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Another write pass is still active"), err)

	require.NoError(t, pass.Abort(ctx))
	require.NoError(t, pass.Abort(ctx))
	require.Empty(t, listFiles(ctx, t, store, ""))

	pass, err = bw.Begin(ctx)
	require.NoError(t, err)
	_, err = pass.Commit(ctx)
	require.NoError(t, err)
	testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Write pass is committed"), pass.Abort(ctx))
	testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Write pass is committed"), pass.Close(ctx))
}

func TestBucketWriterFlushFailure(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	store := mock.NewMockStore(ctrl)
	bw, err := writer.NewBucketWriter(newConfiguration(t, ctrl, store, 1, 1))
	require.NoError(t, err)

	tempID := resource.NewID("tmp/.temp-beam-6d0c3ab6-6e9e-4f8a-9d6c-1f1b8a3a5c11/2024-03-01_13-37-00-bucket-00000-of-00001.json")
	file := mock.NewMockWriteCloser(ctrl)
	store.EXPECT().NewWriter(ctx, tempID, "text/plain").Return(file, nil)

	pass, err := bw.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pass.Write(ctx, event{User: "alice"}))

	// Records are only written when flushing. A failure to do so
	// should cause the staging file to be removed, without any
	// files being moved to their final location.
	file.EXPECT().Write(gomock.Any()).Return(0, status.Error(codes.Unavailable, "Disk on fire"))
	file.EXPECT().Close()
	store.EXPECT().Delete(ctx, tempID)

	testutil.RequireEqualStatus(
		t,
		status.Error(codes.Unavailable, "Failed to flush \"tmp/.temp-beam-6d0c3ab6-6e9e-4f8a-9d6c-1f1b8a3a5c11/2024-03-01_13-37-00-bucket-00000-of-00001.json\": Disk on fire"),
		pass.Close(ctx))
	testutil.RequireEqualStatus(t, status.Error(codes.FailedPrecondition, "Write pass is aborted"), pass.Close(ctx))
}

func TestBucketWriterCommitRetry(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	realStore := newMemoryStore(t)
	store := mock.NewMockStore(ctrl)
	store.EXPECT().NewWriter(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(realStore.NewWriter).AnyTimes()
	bw, err := writer.NewBucketWriter(newConfiguration(t, ctrl, store, 1, 1))
	require.NoError(t, err)

	pass, err := bw.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pass.Write(ctx, event{User: "alice"}))

	// Moving the data file fails. The metadata file should not be
	// written, as the dataset is incomplete.
	store.EXPECT().Rename(gomock.Any(), gomock.Any(), resource.NewID("output/bucket-00000-of-00001.json")).
		Return(status.Error(codes.Unavailable, "Server unreachable"))
	_, err = pass.Commit(ctx)
	testutil.RequireEqualStatus(t, status.Error(codes.Unavailable, "Failed to move data files to their final location: Server unreachable"), err)
	require.Empty(t, listFiles(ctx, t, realStore, "output/"))

	// Committing may be retried.
	store.EXPECT().Rename(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(realStore.Rename).Times(2)
	result, err := pass.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, resource.NewID("output/metadata.json"), result.Metadata)
	require.Equal(t, []string{
		"output/bucket-00000-of-00001.json",
		"output/metadata.json",
	}, listFiles(ctx, t, realStore, "output/"))
}

func TestBucketWriterCloseBeforeCommit(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	store := newMemoryStore(t)
	bw, err := writer.NewBucketWriter(newConfiguration(t, ctrl, store, 2, 1))
	require.NoError(t, err)

	pass, err := bw.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pass.Write(ctx, event{User: "alice"}))
	require.NoError(t, pass.Write(ctx, event{User: "bob"}))

	// Closing flushes all files to the staging directory. Until
	// the pass is committed, nothing may appear in the final
	// location, as a crash at this point would otherwise leave a
	// partial dataset behind.
	require.NoError(t, pass.Close(ctx))
	require.Empty(t, listFiles(ctx, t, store, "output/"))
	require.Equal(t, []string{
		"tmp/.temp-beam-6d0c3ab6-6e9e-4f8a-9d6c-1f1b8a3a5c11/2024-03-01_13-37-00-bucket-00000-of-00002.json",
		"tmp/.temp-beam-6d0c3ab6-6e9e-4f8a-9d6c-1f1b8a3a5c11/2024-03-01_13-37-01-bucket-00001-of-00002.json",
	}, listFiles(ctx, t, store, "tmp/"))

	result, err := pass.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, resource.NewID("output/metadata.json"), result.Metadata)
	require.Equal(t, []string{
		"output/bucket-00000-of-00002.json",
		"output/bucket-00001-of-00002.json",
		"output/metadata.json",
	}, listFiles(ctx, t, store, "output/"))
	require.Empty(t, listFiles(ctx, t, store, "tmp/"))
}

func TestBucketWriterAbortAfterMetadataFailure(t *testing.T) {
	ctrl, ctx := gomock.WithContext(context.Background(), t)
	realStore := newMemoryStore(t)
	store := mock.NewMockStore(ctrl)
	store.EXPECT().NewWriter(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(realStore.NewWriter).AnyTimes()
	store.EXPECT().Delete(gomock.Any(), gomock.Any()).DoAndReturn(realStore.Delete).AnyTimes()
	bw, err := writer.NewBucketWriter(newConfiguration(t, ctrl, store, 1, 1))
	require.NoError(t, err)

	pass, err := bw.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pass.Write(ctx, event{User: "alice"}))

	// The data file is moved, but the metadata file cannot be,
	// leaving it in the staging directory.
	store.EXPECT().Rename(gomock.Any(), gomock.Any(), resource.NewID("output/bucket-00000-of-00001.json")).
		DoAndReturn(realStore.Rename)
	store.EXPECT().Rename(gomock.Any(), gomock.Any(), resource.NewID("output/metadata.json")).
		Return(status.Error(codes.Unavailable, "Server unreachable"))
	_, err = pass.Commit(ctx)
	testutil.RequireEqualStatus(t, status.Error(codes.Unavailable, "Failed to move metadata file to its final location: Server unreachable"), err)
	require.Equal(t, []string{
		"tmp/.temp-beam-6d0c3ab6-6e9e-4f8a-9d6c-1f1b8a3a5c11/2024-03-01_13-37-01-metadata.json",
	}, listFiles(ctx, t, realStore, "tmp/"))

	// Aborting the pass should also remove the staged metadata
	// file. The dataset remains unreadable, as it has no metadata.
	require.NoError(t, pass.Abort(ctx))
	require.Empty(t, listFiles(ctx, t, realStore, "tmp/"))
	require.NotContains(t, listFiles(ctx, t, realStore, "output/"), "output/metadata.json")
}

func TestNewBucketWriterInvalidConfiguration(t *testing.T) {
	ctrl := gomock.NewController(t)
	configuration := newConfiguration(t, ctrl, newMemoryStore(t), 1, 1)
	configuration.TempDirectory = resource.NewID("tmp")

	_, err := writer.NewBucketWriter(configuration)
	testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Temporary directory \"tmp\" is not a directory"), err)
}
