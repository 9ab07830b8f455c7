package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	PublishedRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "api_published_campaign_runs_total", Help: "Campaign run jobs published to queue"},
	)
	TrackingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_tracking_events_total", Help: "Open and click tracking events ingested"},
		[]string{"type"},
	)

	RunnerRunsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "runner_runs_consumed_total", Help: "Campaign run jobs consumed"},
	)
	RunnerSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "runner_sends_total", Help: "Per-recipient send attempts"},
		[]string{"status"},
	)
	RunnerSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runner_send_duration_seconds",
			Help:    "Time spent dispatching one recipient",
			Buckets: prometheus.DefBuckets,
		},
	)
	RunnerRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runner_run_duration_seconds",
			Help:    "Wall time of a full campaign run",
			Buckets: []float64{1, 15, 60, 300, 900, 1800, 3600},
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration, PublishedRunsTotal, TrackingEventsTotal,
		RunnerRunsConsumed, RunnerSendsTotal, RunnerSendDuration, RunnerRunDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
