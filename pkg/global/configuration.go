package global

// DiagnosticsHTTPServerConfiguration controls the web server that
// exposes health checks, Prometheus metrics and profiling endpoints.
type DiagnosticsHTTPServerConfiguration struct {
	ListenAddress    string `json:"listenAddress"`
	EnablePrometheus bool   `json:"enablePrometheus,omitempty"`
	EnablePprof      bool   `json:"enablePprof,omitempty"`
}

// PrometheusPushgatewayConfiguration controls periodic pushing of
// metrics to a Prometheus Pushgateway. This is useful for batch jobs
// that terminate before Prometheus gets a chance to scrape them.
type PrometheusPushgatewayConfiguration struct {
	URL      string            `json:"url"`
	Job      string            `json:"job"`
	Grouping map[string]string `json:"grouping,omitempty"`
	// Interval at which metrics are pushed, using the syntax of
	// time.ParseDuration(). Metrics are always pushed once more
	// upon termination.
	PushInterval string `json:"pushInterval"`
}

// Configuration options that apply to all binaries, regardless of
// their purpose.
type Configuration struct {
	DiagnosticsHTTPServer *DiagnosticsHTTPServerConfiguration `json:"diagnosticsHttpServer,omitempty"`
	PrometheusPushgateway *PrometheusPushgatewayConfiguration `json:"prometheusPushgateway,omitempty"`
}
