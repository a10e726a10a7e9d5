package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/buildbarn/bb-smb/pkg/clock"
	"github.com/buildbarn/bb-smb/pkg/configuration/bb_smb_sweeper"
	"github.com/buildbarn/bb-smb/pkg/global"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/sweep"
	"github.com/buildbarn/bb-smb/pkg/util"

	"golang.org/x/sync/errgroup"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// bb_smb_sweeper periodically removes files from staging directories
// of bucket writers that crashed before committing or aborting their
// write pass.

func main() {
	if err := run(); err != nil && status.Code(err) != codes.Canceled {
		log.Fatal("Fatal error: ", err)
	}
}

func run() error {
	if len(os.Args) != 2 {
		return status.Error(codes.InvalidArgument, "Usage: bb_smb_sweeper bb_smb_sweeper.jsonnet")
	}
	var configuration bb_smb_sweeper.ApplicationConfiguration
	if err := util.UnmarshalConfigurationFromFile(os.Args[1], &configuration); err != nil {
		return util.StatusWrapf(err, "Failed to read configuration from %s", os.Args[1])
	}
	diagnosticsServer, err := global.ApplyConfiguration(configuration.Global)
	if err != nil {
		return util.StatusWrap(err, "Failed to apply global configuration options")
	}

	maximumAge, err := time.ParseDuration(configuration.MaximumAge)
	if err != nil {
		return util.StatusWrapWithCode(err, codes.InvalidArgument, "Invalid maximum age")
	}
	sweepInterval, err := time.ParseDuration(configuration.SweepInterval)
	if err != nil {
		return util.StatusWrapWithCode(err, codes.InvalidArgument, "Invalid sweep interval")
	}
	if sweepInterval <= 0 {
		return status.Errorf(codes.InvalidArgument, "Sweep interval is %s, while it must be positive", sweepInterval)
	}

	ctx, cancel := global.InstallGracefulTerminationHandler(context.Background())
	defer cancel()

	store, err := resource.NewStoreFromConfiguration(ctx, configuration.Store)
	if err != nil {
		return util.StatusWrap(err, "Failed to create store")
	}
	sweeper, err := sweep.NewSweeper(
		store,
		resource.NewID(configuration.TempDirectory),
		maximumAge,
		clock.SystemClock,
		util.DefaultErrorLogger)
	if err != nil {
		return util.StatusWrap(err, "Failed to create sweeper")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return diagnosticsServer.Serve(groupCtx)
	})
	group.Go(func() error {
		return sweeper.Run(groupCtx, sweepInterval)
	})
	diagnosticsServer.SetReady()
	return group.Wait()
}
