package resource

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/buildbarn/bb-smb/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/status"
)

var (
	storePrometheusMetrics sync.Once

	storeOperationsDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "store_operations_duration_seconds",
			Help:      "Amount of time spent per operation on stores, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		},
		[]string{"name", "operation", "grpc_code"})
	storeWrittenBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "store_written_bytes_total",
			Help:      "Number of bytes written to stores.",
		},
		[]string{"name"})
)

type operationMetrics struct {
	vec prometheus.ObserverVec
}

func (om operationMetrics) observe(timeStart time.Time, err error) {
	om.vec.WithLabelValues(status.Code(err).String()).Observe(time.Since(timeStart).Seconds())
}

type metricsStore struct {
	store Store

	newWriter    operationMetrics
	newReader    operationMetrics
	rename       operationMetrics
	delete       operationMetrics
	exists       operationMetrics
	list         operationMetrics
	writtenBytes prometheus.Counter
}

// NewMetricsStore creates an adapter for Store that adds basic
// instrumentation in the form of Prometheus metrics.
func NewMetricsStore(store Store, name string) Store {
	storePrometheusMetrics.Do(func() {
		prometheus.MustRegister(storeOperationsDurationSeconds)
		prometheus.MustRegister(storeWrittenBytes)
	})

	newOperationMetrics := func(operation string) operationMetrics {
		return operationMetrics{
			vec: storeOperationsDurationSeconds.MustCurryWith(prometheus.Labels{
				"name":      name,
				"operation": operation,
			}),
		}
	}
	return &metricsStore{
		store: store,

		newWriter:    newOperationMetrics("NewWriter"),
		newReader:    newOperationMetrics("NewReader"),
		rename:       newOperationMetrics("Rename"),
		delete:       newOperationMetrics("Delete"),
		exists:       newOperationMetrics("Exists"),
		list:         newOperationMetrics("List"),
		writtenBytes: storeWrittenBytes.WithLabelValues(name),
	}
}

type metricsWriter struct {
	io.WriteCloser
	writtenBytes prometheus.Counter
}

func (w metricsWriter) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	w.writtenBytes.Add(float64(n))
	return n, err
}

func (s *metricsStore) NewWriter(ctx context.Context, id ID, mimeType string) (io.WriteCloser, error) {
	timeStart := time.Now()
	w, err := s.store.NewWriter(ctx, id, mimeType)
	s.newWriter.observe(timeStart, err)
	if err != nil {
		return nil, err
	}
	return metricsWriter{
		WriteCloser:  w,
		writtenBytes: s.writtenBytes,
	}, nil
}

func (s *metricsStore) NewReader(ctx context.Context, id ID) (io.ReadCloser, error) {
	timeStart := time.Now()
	r, err := s.store.NewReader(ctx, id)
	s.newReader.observe(timeStart, err)
	return r, err
}

func (s *metricsStore) Rename(ctx context.Context, from, to ID) error {
	timeStart := time.Now()
	err := s.store.Rename(ctx, from, to)
	s.rename.observe(timeStart, err)
	return err
}

func (s *metricsStore) Delete(ctx context.Context, id ID) error {
	timeStart := time.Now()
	err := s.store.Delete(ctx, id)
	s.delete.observe(timeStart, err)
	return err
}

func (s *metricsStore) Exists(ctx context.Context, id ID) (bool, error) {
	timeStart := time.Now()
	exists, err := s.store.Exists(ctx, id)
	s.exists.observe(timeStart, err)
	return exists, err
}

func (s *metricsStore) List(ctx context.Context, directory ID) ([]FileInfo, error) {
	timeStart := time.Now()
	files, err := s.store.List(ctx, directory)
	s.list.observe(timeStart, err)
	return files, err
}
