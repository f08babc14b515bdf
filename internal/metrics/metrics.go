package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_gate_decisions_total",
			Help: "Request gate decisions by outcome.",
		},
		[]string{"outcome"},
	)

	PermissionStoreFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_permission_store_fallbacks_total",
			Help: "Authoritative permission checks answered by the default catalog.",
		},
		[]string{"reason"},
	)

	AuditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ats_audit_write_failures_total",
		Help: "Audit entries that could not be recorded.",
	})

	AuditPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ats_audit_purged_total",
		Help: "Audit entries deleted by retention.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Register adds every collector to reg. Call once at process start.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		GateDecisions,
		PermissionStoreFallbacks,
		AuditWriteFailures,
		AuditPurged,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

// Middleware records request count and latency labelled by route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
