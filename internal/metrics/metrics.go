// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamRetries   *prometheus.CounterVec

	StreamResponses    *prometheus.CounterVec
	StreamBytes        prometheus.Counter
	StreamPumpErrors   *prometheus.CounterVec
	ManifestURIs       prometheus.Counter
	CatalogCacheLookup *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "animebite_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "animebite_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "animebite_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "animebite_proxy_upstream_request_duration_seconds",
			Help:    "Upstream time to response headers in seconds.",
			Buckets: defaultBuckets,
		}, []string{"target"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "animebite_proxy_upstream_responses_total",
			Help: "Total upstream responses by target and status code.",
		}, []string{"target", "status_code"}),

		UpstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "animebite_proxy_upstream_retries_total",
			Help: "Upstream attempts repeated after a transient failure.",
		}, []string{"target"}),

		StreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "animebite_proxy_stream_responses_total",
			Help: "Stream proxy responses by payload kind.",
		}, []string{"kind"}),

		StreamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "animebite_proxy_stream_bytes_total",
			Help: "Bytes of media segments and images written to clients.",
		}),

		StreamPumpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "animebite_proxy_stream_pump_errors_total",
			Help: "Streams terminated after headers were sent.",
		}, []string{"reason"}),

		ManifestURIs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "animebite_proxy_manifest_uris_rewritten_total",
			Help: "Playlist URI lines rewritten to point at the stream proxy.",
		}),

		CatalogCacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "animebite_proxy_catalog_cache_lookups_total",
			Help: "Catalog response cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamRetries,
		m.StreamResponses,
		m.StreamBytes,
		m.StreamPumpErrors,
		m.ManifestURIs,
		m.CatalogCacheLookup,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
// More specific prefixes come first.
var knownPrefixes = []string{
	"/api/proxy/stream",
	"/api/proxy/image",
	"/api",
	"/healthz",
	"/proxy/status",
	"/metrics",
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
