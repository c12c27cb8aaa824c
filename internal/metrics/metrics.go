// Package metrics exposes Prometheus counters for the HTTP surface, backend
// gateway and mail delivery.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	gatewayFailures *prometheus.CounterVec
	mailsSent       prometheus.Counter
	cacheLookups    *prometheus.CounterVec
}

// NewCollector registers every metric on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "universal_comments_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "status_code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "universal_comments_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		gatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "universal_comments_gateway_failures_total",
			Help: "Failed backend gateway calls by operation.",
		}, []string{"operation"}),
		mailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "universal_comments_notifications_sent_total",
			Help: "Notification e-mails handed to the mailer.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "universal_comments_count_cache_lookups_total",
			Help: "Count cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(c.requests, c.latency, c.gatewayFailures, c.mailsSent, c.cacheLookups)
	return c
}

func (c *Collector) RecordRequest(route string, statusCode int, d time.Duration) {
	c.requests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	c.latency.WithLabelValues(route).Observe(d.Seconds())
}

func (c *Collector) RecordGatewayFailure(operation string) {
	c.gatewayFailures.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// NotificationsSent is handed to the notify service.
func (c *Collector) NotificationsSent() prometheus.Counter {
	return c.mailsSent
}

// Handler serves the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
