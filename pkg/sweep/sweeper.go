package sweep

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/buildbarn/bb-smb/pkg/clock"
	"github.com/buildbarn/bb-smb/pkg/filename"
	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/buildbarn/bb-smb/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	sweeperPrometheusMetrics sync.Once

	sweeperFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "sweeper_files_total",
			Help:      "Number of files in staging directories examined by the sweeper, by outcome.",
		},
		[]string{"outcome"})
	sweeperFilesRetained = sweeperFiles.WithLabelValues("Retained")
	sweeperFilesDeleted  = sweeperFiles.WithLabelValues("Deleted")
	sweeperFilesFailed   = sweeperFiles.WithLabelValues("Failed")

	sweeperLastSweepTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "sweeper_last_sweep_timestamp_seconds",
			Help:      "Time at which the sweeper last completed listing staging directories successfully.",
		})
)

// Sweeper removes files from staging directories that have been left
// behind by write passes that crashed, or whose cleanup after an abort
// failed. Only files whose name contains a creation time that is older
// than the configured maximum age are removed. The maximum age should
// thus exceed the duration of the longest write pass.
type Sweeper struct {
	store       resource.Store
	tempRoot    resource.ID
	maxAge      time.Duration
	clock       clock.Clock
	errorLogger util.ErrorLogger
}

// NewSweeper creates a Sweeper for staging directories placed
// underneath a given directory.
func NewSweeper(store resource.Store, tempRoot resource.ID, maxAge time.Duration, clock clock.Clock, errorLogger util.ErrorLogger) (*Sweeper, error) {
	if !tempRoot.IsDirectory() {
		return nil, status.Errorf(codes.InvalidArgument, "Temporary directory %#v is not a directory", tempRoot.String())
	}
	if maxAge <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Maximum age is %s, while it must be positive", maxAge)
	}

	sweeperPrometheusMetrics.Do(func() {
		prometheus.MustRegister(sweeperFiles)
		prometheus.MustRegister(sweeperLastSweepTimestamp)
	})

	return &Sweeper{
		store:       store,
		tempRoot:    tempRoot,
		maxAge:      maxAge,
		clock:       clock,
		errorLogger: errorLogger,
	}, nil
}

// isStagingFile returns true if a file is placed inside a staging
// directory that is located directly underneath the sweeper's
// temporary directory.
func (s *Sweeper) isStagingFile(id resource.ID) bool {
	relative := strings.TrimPrefix(id.String(), s.tempRoot.String())
	directory, _, ok := strings.Cut(relative, "/")
	return ok && strings.HasPrefix(directory, filename.TempDirectoryMarker)
}

// SweepOnce removes all stale files from staging directories, returning
// the number of files removed. Failures to remove individual files are
// reported through the ErrorLogger, as these are retried by the next
// sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	files, err := s.store.List(ctx, s.tempRoot)
	if err != nil {
		return 0, util.StatusWrap(err, "Failed to list staging directories")
	}
	now := s.clock.Now()
	sweeperLastSweepTimestamp.Set(float64(now.Unix()))

	deleted := 0
	for _, file := range files {
		if !s.isStagingFile(file.ID) {
			continue
		}
		created, ok := filename.ParseTempFilename(file.ID.GetFilename())
		if !ok {
			continue
		}
		// Creation times are truncated to the minute.
		if now.Sub(created.Add(time.Minute)) < s.maxAge {
			sweeperFilesRetained.Inc()
			continue
		}
		if err := s.store.Delete(ctx, file.ID); err != nil {
			if status.Code(err) != codes.NotFound {
				sweeperFilesFailed.Inc()
				s.errorLogger.Log(util.StatusWrapf(err, "Failed to remove stale staging file %#v", file.ID.String()))
			}
			continue
		}
		sweeperFilesDeleted.Inc()
		deleted++
	}
	return deleted, nil
}

// Run sweeps staging directories at a regular interval, until the
// provided context is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker, t := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.errorLogger.Log(err)
		}
		select {
		case <-ctx.Done():
			return util.StatusFromContext(ctx)
		case <-t:
		}
	}
}
