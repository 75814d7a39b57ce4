package observability

import "github.com/prometheus/client_golang/prometheus"

var httpLabels = []string{"method", "route", "status"}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableqa_http_requests_total",
			Help: "HTTP requests by method, mux route and status.",
		},
		httpLabels,
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tableqa_http_request_duration_seconds",
			Help: "HTTP request latency by route. Ask requests include model round trips.",
			// Ask latency is dominated by two completion calls.
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		httpLabels,
	)
	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tableqa_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpInFlight)
}
