package resource_test

import (
	"context"
	"testing"

	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNewStoreFromConfiguration(t *testing.T) {
	ctx := context.Background()

	t.Run("MemoryBucket", func(t *testing.T) {
		store, err := resource.NewStoreFromConfiguration(ctx, &resource.Configuration{
			URL:         "mem://",
			MetricsName: "test",
		})
		require.NoError(t, err)

		id := resource.NewID("a")
		writeFile(ctx, t, store, id, "data")
		require.Equal(t, "data", readFile(ctx, t, store, id))
	})

	t.Run("NoBackend", func(t *testing.T) {
		_, err := resource.NewStoreFromConfiguration(ctx, &resource.Configuration{})
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Store configuration must specify exactly one backend, while 0 were specified"), err)
	})

	t.Run("InvalidURL", func(t *testing.T) {
		_, err := resource.NewStoreFromConfiguration(ctx, &resource.Configuration{
			URL: "nonexistent://bucket",
		})
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}
