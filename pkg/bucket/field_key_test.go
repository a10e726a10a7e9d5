package bucket_test

import (
	"encoding/json"
	"testing"

	"github.com/buildbarn/bb-smb/pkg/bucket"
	"github.com/buildbarn/bb-smb/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestFieldKey(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		keyFunction := bucket.FieldKey("user", bucket.KeyTypeString)

		key, ok, err := keyFunction(map[string]any{"user": "alice"})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("alice"), key)

		// Parquet yields STRING columns as byte slices.
		key, ok, err = keyFunction(map[string]any{"user": []byte("bob")})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("bob"), key)

		_, ok, err = keyFunction(map[string]any{"amount": 12})
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = keyFunction(map[string]any{"user": nil})
		require.NoError(t, err)
		require.False(t, ok)

		_, _, err = keyFunction(map[string]any{"user": 12})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Field \"user\" has type int, which cannot be used as a key of type STRING"), err)
	})

	t.Run("Int64", func(t *testing.T) {
		keyFunction := bucket.FieldKey("id", bucket.KeyTypeInt64)
		for _, value := range []any{int64(-5), int32(-5), -5, float64(-5), json.Number("-5")} {
			key, ok, err := keyFunction(map[string]any{"id": value})
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, bucket.EncodeInt64Key(-5), key)
		}

		_, _, err := keyFunction(map[string]any{"id": json.Number("1.5")})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Field \"id\" contains number 1.5, which is not a 64-bit integer"), err)

		_, _, err = keyFunction(map[string]any{"id": 1.5})
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Bytes", func(t *testing.T) {
		keyFunction := bucket.FieldKey("digest", bucket.KeyTypeBytes)
		key, ok, err := keyFunction(map[string]any{"digest": []byte{0xde, 0xad}})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte{0xde, 0xad}, key)

		// encoding/json stores byte slices as base64. Records
		// read back as generic maps should yield the original
		// key.
		data, err := json.Marshal(struct {
			Digest []byte `json:"digest"`
		}{Digest: []byte{0xde, 0xad, 0xbe, 0xef}})
		require.NoError(t, err)
		var record map[string]any
		require.NoError(t, json.Unmarshal(data, &record))
		key, ok, err = keyFunction(record)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, key)

		_, _, err = keyFunction(map[string]any{"digest": "not base64!"})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Field \"digest\" contains string \"not base64!\", which is not base64 encoded"), err)
	})
}

func TestFormatKey(t *testing.T) {
	value, err := bucket.FormatKey(bucket.EncodeInt64Key(-42), bucket.KeyTypeInt64)
	require.NoError(t, err)
	require.Equal(t, int64(-42), value)

	value, err = bucket.FormatKey([]byte("alice"), bucket.KeyTypeString)
	require.NoError(t, err)
	require.Equal(t, "alice", value)
}
