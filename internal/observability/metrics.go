package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsMu sync.Mutex
	// Registry is the process metrics registry; nil until InitMetrics.
	Registry *prometheus.Registry
	// HTTP holds the request metrics; nil until InitMetrics.
	HTTP *HTTPMetrics
)

// HTTPMetrics instruments the API server.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// InitMetrics creates Registry with runtime collectors and the HTTP
// metrics. Repeated calls return the existing registry.
func InitMetrics() *prometheus.Registry {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if Registry != nil {
		return Registry
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	HTTP = newHTTPMetrics(reg)
	Registry = reg
	return reg
}

func newHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gomian_http_requests_total",
			Help: "HTTP requests by route pattern, method, and status.",
		}, []string{"route", "method", "status"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gomian_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 60, 180},
		}, []string{"route", "method"}),
	}
}

// MetricsHandler serves Registry in the Prometheus exposition format.
func MetricsHandler() http.Handler {
	reg := InitMetrics()
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
