package writer

import (
	"sync"

	"github.com/buildbarn/bb-smb/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bucketWriterPrometheusMetrics sync.Once

	bucketWriterRecordsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "bucket_writer_records_routed_total",
			Help:      "Number of records routed to partitions by bucket writers.",
		},
		[]string{"partition_type"})
	bucketWriterRecordsRoutedHashed  = bucketWriterRecordsRouted.WithLabelValues("Hashed")
	bucketWriterRecordsRoutedNullKey = bucketWriterRecordsRouted.WithLabelValues("NullKey")

	bucketWriterPartitionsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "bucket_writer_partitions_written_total",
			Help:      "Number of partition files that were flushed and closed by bucket writers.",
		})

	bucketWriterPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "bucket_writer_passes_total",
			Help:      "Number of write passes that were completed, by outcome.",
		},
		[]string{"outcome"})
	bucketWriterPassesCommitted = bucketWriterPasses.WithLabelValues("Committed")
	bucketWriterPassesAborted   = bucketWriterPasses.WithLabelValues("Aborted")

	bucketWriterCommitDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "bucket_writer_commit_duration_seconds",
			Help:      "Amount of time spent moving files of write passes to their final location, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		})
)
