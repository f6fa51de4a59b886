package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rentledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentledger_operations_total",
		Help: "Total ledger operations by operation and result code.",
	}, []string{"op", "result"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentledger_events_total",
		Help: "Total committed ledger events by type.",
	}, []string{"type"})

	transferredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentledger_transferred_value_total",
		Help: "Total value moved through the transfer gateway by kind.",
	}, []string{"kind"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentledger_health_checks_total",
		Help: "Total dependency probes by probe and result.",
	}, []string{"probe", "result"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentledger_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// LedgerMetrics records ledger outcomes on the process-wide collectors.
// It satisfies service.MetricsRecorder.
type LedgerMetrics struct{}

func (LedgerMetrics) RecordOperation(op, code string) {
	operationsTotal.WithLabelValues(op, code).Inc()
}

func (LedgerMetrics) RecordEvent(typ string) {
	eventsTotal.WithLabelValues(typ).Inc()
}

func (LedgerMetrics) RecordTransfer(kind string, amount int64) {
	transferredTotal.WithLabelValues(kind).Add(float64(amount))
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(probe string, success bool) {
	if success {
		healthChecksTotal.WithLabelValues(probe, "success").Inc()
	} else {
		healthChecksTotal.WithLabelValues(probe, "failure").Inc()
	}
}
