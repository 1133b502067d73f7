package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide Prometheus metric set. Both cmd/gateway and
// cmd/worker construct one and pass it down; collectors register against the
// default registry. cmd/gateway serves that registry on /metrics; cmd/worker
// runs no HTTP listener, so the metrics it populates are not served.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RequestsAcceptedTotal *prometheus.CounterVec
	DispatchAttemptsTotal *prometheus.CounterVec
	DispatchDuration      *prometheus.HistogramVec
	DeadLettersTotal      *prometheus.CounterVec
	RetryScheduledTotal   prometheus.Counter
}

// NewMetrics registers and returns the full metric set. Safe to call once
// per process; calling it twice in the same process panics (duplicate
// registration), matching promauto's usual contract.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smsgateway_http_requests_total",
			Help: "HTTP requests served by cmd/gateway, by route and status code.",
		}, []string{"route", "status"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smsgateway_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		RequestsAcceptedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smsgateway_requests_accepted_total",
			Help: "Requests admitted (or rejected) at intake, by outcome.",
		}, []string{"outcome"}),

		DispatchAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smsgateway_dispatch_attempts_total",
			Help: "Dispatch attempts by provider and outcome (ok/transient/permanent).",
		}, []string{"provider_id", "outcome"}),

		DispatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smsgateway_dispatch_duration_seconds",
			Help:    "Outbound provider call latency, by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider_id"}),

		DeadLettersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smsgateway_dead_letters_total",
			Help: "Requests dead-lettered, by reason.",
		}, []string{"reason"}),

		RetryScheduledTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smsgateway_retry_scheduled_total",
			Help: "Dispatch tasks handed to the retry scheduler.",
		}),
	}
}
