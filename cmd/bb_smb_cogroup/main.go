package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/buildbarn/bb-smb/pkg/bucket"
	"github.com/buildbarn/bb-smb/pkg/configuration/bb_smb_cogroup"
	"github.com/buildbarn/bb-smb/pkg/fileops"
	"github.com/buildbarn/bb-smb/pkg/global"
	"github.com/buildbarn/bb-smb/pkg/merge"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"

	"golang.org/x/sync/errgroup"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// bb_smb_cogroup performs a merge read of one or more datasets
// containing JSON records, and writes every co-group to stdout as a
// single line of JSON. It can be used to inspect datasets, or to
// perform ad hoc joins without shuffling any data.

type coGroupLine struct {
	Bucket int                `json:"bucket"`
	Key    any                `json:"key"`
	Values [][]map[string]any `json:"values"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal("Fatal error: ", err)
	}
}

func run() error {
	if len(os.Args) != 2 {
		return status.Error(codes.InvalidArgument, "Usage: bb_smb_cogroup bb_smb_cogroup.jsonnet")
	}
	var configuration bb_smb_cogroup.ApplicationConfiguration
	if err := util.UnmarshalConfigurationFromFile(os.Args[1], &configuration); err != nil {
		return util.StatusWrapf(err, "Failed to read configuration from %s", os.Args[1])
	}
	diagnosticsServer, err := global.ApplyConfiguration(configuration.Global)
	if err != nil {
		return util.StatusWrap(err, "Failed to apply global configuration options")
	}
	if configuration.KeyField == "" {
		return status.Error(codes.InvalidArgument, "No key field provided")
	}

	ctx, cancel := global.InstallGracefulTerminationHandler(context.Background())
	defer cancel()

	store, err := resource.NewStoreFromConfiguration(ctx, configuration.Store)
	if err != nil {
		return util.StatusWrap(err, "Failed to create store")
	}
	sources := make([]merge.Source[map[string]any], 0, len(configuration.Datasets))
	for i, dataset := range configuration.Datasets {
		source, err := merge.NewSourceFromDirectory[map[string]any](
			ctx,
			store,
			resource.NewID(dataset.Directory),
			dataset.FilenamePrefix,
			dataset.FilenameSuffix,
			fileops.NewJSONFileOperations[map[string]any](dataset.Compression),
			nil)
		if err != nil {
			return util.StatusWrapf(err, "Failed to open dataset %d", i)
		}
		source.KeyFunction = bucket.FieldKey(configuration.KeyField, source.Metadata.GetKeyType())
		sources = append(sources, source)
	}
	reader, err := merge.NewReader(store, sources...)
	if err != nil {
		return util.StatusWrap(err, "Failed to create merge reader")
	}
	keyType := sources[0].Metadata.GetKeyType()

	// Metrics are served for the duration of the merge read.
	diagnosticsCtx, diagnosticsCancel := context.WithCancel(ctx)
	var diagnosticsGroup errgroup.Group
	diagnosticsGroup.Go(func() error {
		return diagnosticsServer.Serve(diagnosticsCtx)
	})
	diagnosticsServer.SetReady()

	stdout := bufio.NewWriter(os.Stdout)
	encoder := json.NewEncoder(stdout)
	encoder.SetEscapeHTML(false)
	var stdoutLock sync.Mutex
	readErr := reader.ReadAll(ctx, configuration.Parallelism, func(ctx context.Context, bucketID int, coGroup *merge.CoGroup[map[string]any]) error {
		key, err := bucket.FormatKey(coGroup.Key, keyType)
		if err != nil {
			return err
		}
		stdoutLock.Lock()
		defer stdoutLock.Unlock()
		if err := encoder.Encode(coGroupLine{
			Bucket: bucketID,
			Key:    key,
			Values: coGroup.Values,
		}); err != nil {
			return util.StatusWrapWithCode(err, codes.Internal, "Failed to write co-group")
		}
		return nil
	})
	flushErr := stdout.Flush()

	diagnosticsCancel()
	if err := diagnosticsGroup.Wait(); err != nil {
		log.Print(err)
	}
	if readErr != nil {
		return readErr
	}
	if flushErr != nil {
		return util.StatusWrapWithCode(flushErr, codes.Internal, "Failed to flush stdout")
	}
	return nil
}
