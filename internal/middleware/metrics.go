package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	// Gateway-specific metrics
	HealthProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_health_probes_total",
			Help: "Total number of health probes by resulting status",
		},
		[]string{"status"},
	)

	ProxyForwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_forwards_total",
			Help: "Total number of proxied requests by outcome",
		},
		[]string{"outcome"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_requests_total",
			Help: "Total number of cache reads by result",
		},
		[]string{"result"},
	)

	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	FederationConflicts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_federation_conflicts",
			Help: "Namespace conflicts found in the most recent federation",
		},
	)

	FederationServers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_federation_servers",
			Help: "Servers contributing to the most recent federated schema",
		},
	)

	RegistryServersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_registry_servers_total",
			Help: "Total number of servers in the registry snapshot",
		},
	)
)

// Metrics returns a middleware that records Prometheus metrics
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(ww.Status())
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		httpResponseSize.WithLabelValues(r.Method, path).Observe(float64(ww.BytesWritten()))
	})
}

// normalizePath normalizes URL paths for metrics labels
// This prevents cardinality explosion from dynamic path segments
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/api/servers/") {
		if strings.HasSuffix(path, "/schema") {
			return "/api/servers/{id}/schema"
		}
		return "/api/servers/{id}"
	}
	return path
}
