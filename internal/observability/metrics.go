package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_http_requests_total",
			Help: "Total number of HTTP requests processed by the signaling service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signaling_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_ws_events_total",
			Help: "Total number of websocket events by name and outcome.",
		},
		[]string{"event", "outcome"},
	)
	iceFlushBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signaling_ice_flush_batch_size",
			Help:    "Number of queued ICE writes drained per flush.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
	reassemblyEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_reassembly_entries",
			Help: "Number of in-flight chunked upload reassembly entries.",
		},
	)
	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_cache_hits_total",
			Help: "Total number of cache hits.",
		},
	)
	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_cache_misses_total",
			Help: "Total number of cache misses.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		iceFlushBatchSize,
		reassemblyEntries,
		cacheHitsTotal,
		cacheMissesTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() { wsActiveConnections.Inc() }
func DecWSActive() { wsActiveConnections.Dec() }

func IncWSEvent(event, outcome string) {
	wsEventsTotal.WithLabelValues(event, outcome).Inc()
}

func ObserveIceFlush(batchSize int) {
	iceFlushBatchSize.Observe(float64(batchSize))
}

func SetReassemblyEntries(n int) {
	reassemblyEntries.Set(float64(n))
}

func IncCacheHit()  { cacheHitsTotal.Inc() }
func IncCacheMiss() { cacheMissesTotal.Inc() }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
