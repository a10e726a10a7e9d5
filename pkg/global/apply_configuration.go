package global

import (
	"context"
	"log"
	"net/http"
	// The pprof package does not provide a function for registering
	// its endpoints against an arbitrary mux. Load it to force
	// registration against the default mux, so we can forward
	// traffic to that mux instead.
	_ "net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buildbarn/bb-smb/pkg/util"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"golang.org/x/sync/errgroup"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	pushgatewayPrometheusMetrics sync.Once

	pushgatewayRequestsDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "smb",
			Name:      "pushgateway_requests_duration_seconds",
			Help:      "Amount of time spent per request to the Prometheus Pushgateway, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		},
		[]string{"code", "method"})
)

// DiagnosticsServer is returned by ApplyConfiguration. It runs the
// diagnostics web server and pushes metrics to a Pushgateway, if
// configured.
type DiagnosticsServer struct {
	httpConfiguration *DiagnosticsHTTPServerConfiguration
	pusher            *push.Pusher
	pushInterval      time.Duration
	ready             atomic.Bool
}

// Serve the diagnostics web server and push metrics until the provided
// context is canceled.
func (ds *DiagnosticsServer) Serve(terminationContext context.Context) error {
	group, groupCtx := errgroup.WithContext(terminationContext)
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})
	if config := ds.httpConfiguration; config != nil {
		router := mux.NewRouter()
		router.HandleFunc("/-/healthy", func(http.ResponseWriter, *http.Request) {})
		router.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
			if !ds.ready.Load() {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			}
		})
		if config.EnablePrometheus {
			router.Handle("/metrics", promhttp.Handler())
		}
		if config.EnablePprof {
			router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
		}

		server := &http.Server{
			Addr:    config.ListenAddress,
			Handler: router,
		}
		group.Go(func() error {
			<-groupCtx.Done()
			ds.ready.Store(false)
			return server.Shutdown(context.Background())
		})
		group.Go(func() error {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return util.StatusWrap(err, "Diagnostics server")
			}
			return nil
		})
	}
	if ds.pusher != nil {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					ds.Push()
					return nil
				case <-time.After(ds.pushInterval):
					ds.Push()
				}
			}
		})
	}
	return group.Wait()
}

// Push metrics to the Pushgateway, if configured.
func (ds *DiagnosticsServer) Push() {
	if ds.pusher != nil {
		if err := ds.pusher.Push(); err != nil {
			log.Print("Failed to push metrics to Prometheus Pushgateway: ", err)
		}
	}
}

// SetReady updates the health probe to report healthy and ready.
func (ds *DiagnosticsServer) SetReady() {
	ds.ready.Store(true)
}

// ApplyConfiguration applies configuration options to the running
// process. These configuration options are global, in that they apply
// to all binaries, regardless of their purpose.
func ApplyConfiguration(configuration *Configuration) (*DiagnosticsServer, error) {
	ds := &DiagnosticsServer{}
	if configuration == nil {
		return ds, nil
	}
	ds.httpConfiguration = configuration.DiagnosticsHTTPServer

	// Periodically push metrics to a Prometheus Pushgateway, as
	// opposed to letting the Prometheus server scrape the metrics.
	if pushgateway := configuration.PrometheusPushgateway; pushgateway != nil {
		pushInterval, err := time.ParseDuration(pushgateway.PushInterval)
		if err != nil {
			return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to parse push interval")
		}
		if pushInterval <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "Push interval is %s, while it must be positive", pushInterval)
		}
		pushgatewayPrometheusMetrics.Do(func() {
			prometheus.MustRegister(pushgatewayRequestsDurationSeconds)
		})
		pusher := push.New(pushgateway.URL, pushgateway.Job).
			Gatherer(prometheus.DefaultGatherer).
			Client(&http.Client{
				Transport: promhttp.InstrumentRoundTripperDuration(
					pushgatewayRequestsDurationSeconds,
					http.DefaultTransport),
			})
		for key, value := range pushgateway.Grouping {
			pusher = pusher.Grouping(key, value)
		}
		ds.pusher = pusher
		ds.pushInterval = pushInterval
	}
	return ds, nil
}
