package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const requestIDKey = "request_id"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvshard_http_requests_total",
			Help: "Total HTTP requests handled, by route and status class.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvshard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MustRegisterMetrics registers this package's collectors against reg. It
// panics on a duplicate registration, matching the teacher's "fail loudly at
// startup, never silently" posture for wiring mistakes.
func MustRegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(requestsTotal, requestDuration)
}

// RequestID stamps every request with a fresh UUID, reusing an inbound
// X-Request-Id if the caller already supplied one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// Logger logs every request through logrus, tagged with its request ID —
// generalized from the teacher's Logger() middleware, which used the
// stdlib log package and no request correlation.
func Logger(base *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := base.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
		} else {
			entry.Info("request handled")
		}
	}
}

// Metrics records the Prometheus counter/histogram pair for every request.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requestsTotal.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Recovery wraps gin's panic recovery and logs through logrus instead of the
// teacher's stdlib log package, attaching the request ID.
func Recovery(base *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				base.WithFields(logrus.Fields{
					"request_id": c.GetString(requestIDKey),
					"panic":      r,
				}).Error("panic recovered")
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// NotFoundRewrite rewrites a bare router 404 (no route matched) into a 400,
// guarding against an accidental router miss being mistaken by a client for
// a real "key not found" response from GET /v0/entity.
func NotFoundRewrite() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(400, gin.H{"error": "no such route"})
	}
}
