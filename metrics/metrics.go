// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgw_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgw_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatgw_ws_active_connections",
			Help: "Number of live gateway sessions.",
		},
	)
	wsFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgw_ws_frames_total",
			Help: "Inbound frames by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	messagesPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgw_messages_persisted_total",
			Help: "Messages appended to the log, by channel type.",
		},
		[]string{"channel_type"},
	)
	moderationDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgw_moderation_denials_total",
			Help: "Actions rejected by the moderation gate, by reason.",
		},
		[]string{"reason"},
	)
	sinkDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgw_sink_drops_total",
			Help: "Sessions dropped after a failed or timed-out write.",
		},
	)
	amqpPublishErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgw_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsFramesTotal,
		messagesPersisted,
		moderationDenials,
		sinkDrops,
		amqpPublishErrors,
	)
}

// HTTPMiddleware records request counts and latencies.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}

func IncWSActive() { wsActiveConnections.Inc() }
func DecWSActive() { wsActiveConnections.Dec() }

func IncFrame(typ, outcome string) { wsFramesTotal.WithLabelValues(typ, outcome).Inc() }

func IncMessagePersisted(channelType string) {
	messagesPersisted.WithLabelValues(channelType).Inc()
}

func IncModerationDenial(reason string) { moderationDenials.WithLabelValues(reason).Inc() }

func IncSinkDrop() { sinkDrops.Inc() }

func IncAMQPPublishError() { amqpPublishErrors.Inc() }
