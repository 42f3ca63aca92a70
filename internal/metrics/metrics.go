// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlItemsTotal          *prometheus.CounterVec
	crawlActiveWorkers       prometheus.Gauge
	crawlQueueDepth          prometheus.Gauge
	remoteRequestsTotal      *prometheus.CounterVec
	remoteRequestDurationSec *prometheus.HistogramVec
	remotePermitWaitSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbcrawl_items_total",
				Help: "Total number of crawl items resolved, labeled by service and status.",
			},
			[]string{"service", "status"},
		)

		crawlActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbcrawl_active_workers",
				Help: "Number of workers currently processing a crawl item.",
			},
		)

		crawlQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbcrawl_queue_depth",
				Help: "Number of work items waiting in the crawl queue.",
			},
		)

		remoteRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbcrawl_remote_requests_total",
				Help: "Total remote API requests, labeled by service and status code.",
			},
			[]string{"service", "code"},
		)

		remoteRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbcrawl_remote_request_duration_seconds",
				Help:    "Histogram of remote API request latencies, labeled by service.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"service"},
		)

		remotePermitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbcrawl_remote_permit_wait_seconds",
				Help:    "Histogram of time spent waiting on the per-service permit pool.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"service"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem increments the item counter for one resolved crawl item.
func ObserveItem(service, status string) {
	if crawlItemsTotal == nil {
		return
	}
	crawlItemsTotal.WithLabelValues(service, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if crawlActiveWorkers == nil {
		return
	}
	crawlActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if crawlActiveWorkers == nil {
		return
	}
	crawlActiveWorkers.Dec()
}

// SetQueueDepth records the current queue depth.
func SetQueueDepth(depth int) {
	if crawlQueueDepth == nil {
		return
	}
	crawlQueueDepth.Set(float64(depth))
}

// ObserveRemoteRequest records one remote API round trip.
func ObserveRemoteRequest(service, code string, duration time.Duration) {
	if remoteRequestsTotal == nil {
		return
	}
	remoteRequestsTotal.WithLabelValues(service, code).Inc()
	remoteRequestDurationSec.WithLabelValues(service).Observe(duration.Seconds())
}

// ObservePermitWait records how long a caller waited for a call permit.
func ObservePermitWait(service string, duration time.Duration) {
	if remotePermitWaitSeconds == nil {
		return
	}
	remotePermitWaitSeconds.WithLabelValues(service).Observe(duration.Seconds())
}
