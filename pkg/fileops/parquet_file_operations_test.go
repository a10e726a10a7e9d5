package fileops_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/buildbarn/bb-smb/pkg/compression"
	"github.com/buildbarn/bb-smb/pkg/fileops"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const userParquetSchema = `message user {
	required binary user (STRING);
	required int64 age;
}`

func newUserRows() []map[string]any {
	var records []map[string]any
	for i := 0; i < 100; i++ {
		records = append(records, map[string]any{
			"user": []byte(fmt.Sprintf("user%02d", i)),
			"age":  int64(i),
		})
	}
	return records
}

func TestParquetFileOperations(t *testing.T) {
	ctx := context.Background()
	id := resource.NewID("output/file.parquet")

	for _, c := range []compression.Compression{
		compression.Uncompressed,
		compression.Gzip,
		compression.Snappy,
	} {
		t.Run(c.String(), func(t *testing.T) {
			store := newStore(t)
			fileOperations, err := fileops.NewParquetFileOperations(userParquetSchema, c)
			require.NoError(t, err)
			writeRecords(ctx, t, fileOperations, store, id, newUserRows())

			records, err := fileops.ReadAll(ctx, fileOperations, store, id)
			require.NoError(t, err)
			require.Equal(t, newUserRows(), records)
			require.Equal(t, "ParquetFileOperations", fileOperations.GetDisplayData()["FileOperations"])
		})

		t.Run(c.String()+"Empty", func(t *testing.T) {
			// Files without any records must still be
			// readable, as buckets may be empty.
			store := newStore(t)
			fileOperations, err := fileops.NewParquetFileOperations(userParquetSchema, c)
			require.NoError(t, err)
			writeRecords(ctx, t, fileOperations, store, id, nil)

			records, err := fileops.ReadAll(ctx, fileOperations, store, id)
			require.NoError(t, err)
			require.Empty(t, records)
		})
	}

	t.Run("UnsupportedCompression", func(t *testing.T) {
		_, err := fileops.NewParquetFileOperations(userParquetSchema, compression.LZ4)
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Parquet files do not support compression LZ4"), err)
	})

	t.Run("InvalidSchema", func(t *testing.T) {
		_, err := fileops.NewParquetFileOperations("message {", compression.Uncompressed)
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}
