// Package metrics exposes the hub's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the hub.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shopchat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	changesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopchat_changes_published_total",
			Help: "Row change events published to channels.",
		},
		[]string{"kind"},
	)
	slowSubscribersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopchat_slow_subscribers_total",
			Help: "Feeds disconnected because they fell behind.",
		},
	)
	relayErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopchat_relay_errors_total",
			Help: "Failed cross-instance relay publishes.",
		},
	)
	auditPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopchat_audit_publish_errors_total",
			Help: "Total number of audit publish errors.",
		},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopchat_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		changesPublishedTotal,
		slowSubscribersTotal,
		relayErrorsTotal,
		auditPublishErrorsTotal,
		rateLimitedTotal,
	)
}

// HTTPMiddleware records request counts and latencies per route.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncChangePublished(kind string) {
	changesPublishedTotal.WithLabelValues(kind).Inc()
}

func IncSlowSubscriber() {
	slowSubscribersTotal.Inc()
}

func IncRelayError() {
	relayErrorsTotal.Inc()
}

func IncAuditPublishError() {
	auditPublishErrorsTotal.Inc()
}

func IncRateLimited() {
	rateLimitedTotal.Inc()
}
