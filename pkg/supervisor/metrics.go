package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the supervisor's Prometheus collectors.
type Metrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

// NewMetrics registers the supervisor collectors with reg. A nil reg
// yields unregistered collectors, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: variant, outcome (completed, timed_out, failed)
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gomian",
			Subsystem: "analysis",
			Name:      "jobs_total",
			Help:      "Supervised analysis jobs by variant and outcome",
		}, []string{"variant", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gomian",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Wall-clock time from worker start to outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		}, []string{"variant", "outcome"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "gomian",
			Subsystem: "analysis",
			Name:      "active_workers",
			Help:      "Worker processes currently supervised",
		}),
	}
}
