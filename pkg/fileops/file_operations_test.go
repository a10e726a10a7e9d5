package fileops_test

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/buildbarn/bb-smb/pkg/fileops"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/stretchr/testify/require"

	"gocloud.dev/blob/memblob"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type user struct {
	User string `json:"user" cbor:"user"`
	Age  int    `json:"age" cbor:"age"`
}

func newUsers() []user {
	var users []user
	for i := 0; i < 10; i++ {
		users = append(users, user{User: fmt.Sprintf("user%02d", i), Age: i})
	}
	return users
}

func newStore(t *testing.T) resource.Store {
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	return resource.NewBlobStore(bucket)
}

func writeRecords[V any](ctx context.Context, t *testing.T, fileOperations fileops.FileOperations[V], store resource.Store, id resource.ID, records []V) {
	w, err := fileOperations.CreateWriter(ctx, store, id)
	require.NoError(t, err)
	for _, record := range records {
		require.NoError(t, w.Write(record))
	}
	require.NoError(t, w.Close())
}

func TestJSONFileOperations(t *testing.T) {
	ctx := context.Background()
	id := resource.NewID("output/file.json")

	for _, c := range compression.All {
		t.Run(c.String(), func(t *testing.T) {
			store := newStore(t)
			fileOperations := fileops.NewJSONFileOperations[user](c)
			writeRecords(ctx, t, fileOperations, store, id, newUsers())

			records, err := fileops.ReadAll(ctx, fileOperations, store, id)
			require.NoError(t, err)
			require.Equal(t, newUsers(), records)

			expectedMimeType := "application/octet-stream"
			if c == compression.Uncompressed {
				expectedMimeType = "text/plain"
			}
			require.Equal(t, c, fileOperations.GetCompression())
			require.Equal(t, expectedMimeType, fileOperations.GetMimeType())
			displayData := fileOperations.GetDisplayData()
			require.Equal(t, "JSONFileOperations", displayData["FileOperations"])
			require.Equal(t, expectedMimeType, displayData["mimeType"])
			require.Equal(t, c.String(), displayData["compression"])
		})
	}

	t.Run("LineDelimited", func(t *testing.T) {
		store := newStore(t)
		fileOperations := fileops.NewJSONFileOperations[user](compression.Uncompressed)
		writeRecords(ctx, t, fileOperations, store, id, newUsers()[:2])

		r, err := store.NewReader(ctx, id)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Equal(t, "{\"user\":\"user00\",\"age\":0}\n{\"user\":\"user01\",\"age\":1}\n", string(data))
	})

	t.Run("EmptyFile", func(t *testing.T) {
		store := newStore(t)
		fileOperations := fileops.NewJSONFileOperations[user](compression.Gzip)
		writeRecords(ctx, t, fileOperations, store, id, nil)

		it, err := fileOperations.Iterator(ctx, store, id)
		require.NoError(t, err)
		_, err = it.Next()
		require.Equal(t, io.EOF, err)
		_, err = it.Next()
		require.Equal(t, io.EOF, err)
		require.NoError(t, it.Close())
	})

	t.Run("EarlyClose", func(t *testing.T) {
		store := newStore(t)
		fileOperations := fileops.NewJSONFileOperations[user](compression.Zstd)
		writeRecords(ctx, t, fileOperations, store, id, newUsers())

		it, err := fileOperations.Iterator(ctx, store, id)
		require.NoError(t, err)
		record, err := it.Next()
		require.NoError(t, err)
		require.Equal(t, newUsers()[0], record)
		require.NoError(t, it.Close())
		_, err = it.Next()
		require.Equal(t, io.EOF, err)
	})

	t.Run("Malformed", func(t *testing.T) {
		store := newStore(t)
		w, err := store.NewWriter(ctx, id, "text/plain")
		require.NoError(t, err)
		_, err = io.WriteString(w, "{\"user\":")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = fileops.ReadAll(ctx, fileops.NewJSONFileOperations[user](compression.Uncompressed), store, id)
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := fileops.NewJSONFileOperations[user](compression.Uncompressed).Iterator(ctx, newStore(t), id)
		require.Equal(t, codes.NotFound, status.Code(err))
	})
}

func TestCBORFileOperations(t *testing.T) {
	ctx := context.Background()
	id := resource.NewID("output/file.cbor")

	for _, c := range compression.All {
		t.Run(c.String(), func(t *testing.T) {
			store := newStore(t)
			fileOperations := fileops.NewCBORFileOperations[user](c)
			writeRecords(ctx, t, fileOperations, store, id, newUsers())

			records, err := fileops.ReadAll(ctx, fileOperations, store, id)
			require.NoError(t, err)
			require.Equal(t, newUsers(), records)
			require.Equal(t, "CBORFileOperations", fileOperations.GetDisplayData()["FileOperations"])
		})
	}

	t.Run("MimeType", func(t *testing.T) {
		require.Equal(t, "application/cbor", fileops.NewCBORFileOperations[user](compression.Uncompressed).GetMimeType())
		require.Equal(t, "application/octet-stream", fileops.NewCBORFileOperations[user](compression.LZ4).GetMimeType())
	})

	t.Run("Deterministic", func(t *testing.T) {
		// Map keys are sorted, regardless of insertion order.
		store := newStore(t)
		fileOperations := fileops.NewCBORFileOperations[map[string]any](compression.Uncompressed)
		writeRecords(ctx, t, fileOperations, store, id, []map[string]any{{"b": 1, "a": 2}})

		r, err := store.NewReader(ctx, id)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Equal(t, []byte{0xa2, 0x61, 'a', 0x02, 0x61, 'b', 0x01}, data)
	})
}
