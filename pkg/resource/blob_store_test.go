package resource_test

import (
	"context"
	"io"
	"testing"

	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/stretchr/testify/require"

	"gocloud.dev/blob/memblob"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func writeFile(ctx context.Context, t *testing.T, store resource.Store, id resource.ID, contents string) {
	w, err := store.NewWriter(ctx, id, "text/plain")
	require.NoError(t, err)
	_, err = io.WriteString(w, contents)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(ctx context.Context, t *testing.T, store resource.Store, id resource.ID) string {
	r, err := store.NewReader(ctx, id)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

// These tests use memblob as a fake bucket. blob.Bucket isn't
// reasonably mockable, its methods return struct types which can't be
// constructed.
func TestBlobStore(t *testing.T) {
	ctx := context.Background()

	t.Run("WriteAndRead", func(t *testing.T) {
		bucket := memblob.OpenBucket(nil)
		defer bucket.Close()
		store := resource.NewBlobStore(bucket)

		id := resource.NewID("dir/file.txt")
		writeFile(ctx, t, store, id, "Hello world")
		require.Equal(t, "Hello world", readFile(ctx, t, store, id))

		attrs, err := bucket.Attributes(ctx, "dir/file.txt")
		require.NoError(t, err)
		require.Equal(t, "text/plain", attrs.ContentType)
	})

	t.Run("ReadNotFound", func(t *testing.T) {
		bucket := memblob.OpenBucket(nil)
		defer bucket.Close()
		store := resource.NewBlobStore(bucket)

		_, err := store.NewReader(ctx, resource.NewID("missing"))
		require.Equal(t, codes.NotFound, status.Code(err))
		require.Contains(t, status.Convert(err).Message(), "Failed to open \"missing\"")
	})

	t.Run("Rename", func(t *testing.T) {
		bucket := memblob.OpenBucket(nil)
		defer bucket.Close()
		store := resource.NewBlobStore(bucket)

		from := resource.NewID("tmp/a")
		to := resource.NewID("final/a")
		writeFile(ctx, t, store, from, "data")
		require.NoError(t, store.Rename(ctx, from, to))

		exists, err := store.Exists(ctx, from)
		require.NoError(t, err)
		require.False(t, exists)
		require.Equal(t, "data", readFile(ctx, t, store, to))

		// Retrying a rename that already completed succeeds.
		require.NoError(t, store.Rename(ctx, from, to))
	})

	t.Run("RenameNotFound", func(t *testing.T) {
		bucket := memblob.OpenBucket(nil)
		defer bucket.Close()
		store := resource.NewBlobStore(bucket)

		err := store.Rename(ctx, resource.NewID("tmp/a"), resource.NewID("final/a"))
		require.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Delete", func(t *testing.T) {
		bucket := memblob.OpenBucket(nil)
		defer bucket.Close()
		store := resource.NewBlobStore(bucket)

		id := resource.NewID("a")
		writeFile(ctx, t, store, id, "data")
		require.NoError(t, store.Delete(ctx, id))
		require.Equal(t, codes.NotFound, status.Code(store.Delete(ctx, id)))
	})

	t.Run("List", func(t *testing.T) {
		bucket := memblob.OpenBucket(nil)
		defer bucket.Close()
		store := resource.NewBlobStore(bucket)

		writeFile(ctx, t, store, resource.NewID("out/b"), "bb")
		writeFile(ctx, t, store, resource.NewID("out/a"), "a")
		writeFile(ctx, t, store, resource.NewID("out/sub/c"), "ccc")
		writeFile(ctx, t, store, resource.NewID("other/d"), "d")

		files, err := store.List(ctx, resource.NewID("out/"))
		require.NoError(t, err)
		require.Len(t, files, 3)
		require.Equal(t, resource.NewID("out/a"), files[0].ID)
		require.Equal(t, int64(1), files[0].SizeBytes)
		require.Equal(t, resource.NewID("out/b"), files[1].ID)
		require.Equal(t, resource.NewID("out/sub/c"), files[2].ID)
		require.Equal(t, int64(3), files[2].SizeBytes)
		require.False(t, files[2].ModificationTime.IsZero())
	})
}
