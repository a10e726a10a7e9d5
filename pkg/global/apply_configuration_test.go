package global_test

import (
	"context"
	"testing"

	"github.com/buildbarn/bb-smb/pkg/global"
	"github.com/buildbarn/bb-smb/pkg/testutil"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestApplyConfiguration(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		ds, err := global.ApplyConfiguration(nil)
		require.NoError(t, err)

		// Without any servers configured, Serve() should only
		// block until the context is canceled.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, ds.Serve(ctx))
	})

	t.Run("InvalidPushInterval", func(t *testing.T) {
		_, err := global.ApplyConfiguration(&global.Configuration{
			PrometheusPushgateway: &global.PrometheusPushgatewayConfiguration{
				URL:          "http://pushgateway:9091",
				Job:          "bb_smb_cogroup",
				PushInterval: "five minutes",
			},
		})
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})
	t.Run("NonPositivePushInterval", func(t *testing.T) {
		for pushInterval, message := range map[string]string{
			"0s":  "Push interval is 0s, while it must be positive",
			"-1m": "Push interval is -1m0s, while it must be positive",
		} {
			_, err := global.ApplyConfiguration(&global.Configuration{
				PrometheusPushgateway: &global.PrometheusPushgatewayConfiguration{
					URL:          "http://pushgateway:9091",
					Job:          "bb_smb_cogroup",
					PushInterval: pushInterval,
				},
			})
			testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, message), err)
		}
	})
}
