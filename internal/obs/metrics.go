package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder adapts ratelimiter.MetricsRecorder onto a set of
// Prometheus vectors. Add/Observe carry an open "tags" map (the ratelimiter
// package only ever sends {"op": ...}), so vectors are built with a single
// "op" label and any unrecognized tag key is dropped rather than causing a
// cardinality explosion.
type PrometheusRecorder struct {
	calls   *prometheus.CounterVec
	errors  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the ratelimiter vectors against reg and
// returns a recorder ready to pass to ratelimiter.WithRecorder.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimiter_store_calls_total",
				Help: "Total store round trips, by operation",
			},
			[]string{"op"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimiter_store_errors_total",
				Help: "Total store round trips that returned an error, by operation",
			},
			[]string{"op"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimiter_store_latency_seconds",
				Help:    "Store round-trip latency in seconds, by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
	reg.MustRegister(r.calls, r.errors, r.latency)
	return r
}

func (r *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	op := tags["op"]
	switch name {
	case "ratelimiter.calls":
		r.calls.WithLabelValues(op).Add(value)
	case "ratelimiter.errors":
		r.errors.WithLabelValues(op).Add(value)
	}
}

func (r *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	if name != "ratelimiter.latency" {
		return
	}
	r.latency.WithLabelValues(tags["op"]).Observe(value)
}
