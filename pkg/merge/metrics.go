package merge

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	readerPrometheusMetrics sync.Once

	readerCoGroups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "merge_reader_cogroups_total",
			Help:      "Number of co-groups emitted by merge readers.",
		})

	readerRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "merge_reader_records_total",
			Help:      "Number of records read from bucket files by merge readers, by whether they belonged to the bucket being read.",
		},
		[]string{"outcome"})
	readerRecordsEmitted  = readerRecords.WithLabelValues("Emitted")
	readerRecordsFiltered = readerRecords.WithLabelValues("Filtered")
	readerRecordsNullKey  = readerRecords.WithLabelValues("NullKey")
)
