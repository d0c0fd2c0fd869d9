package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tusdrive"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// UploadsCreated counts successful single-shot creations.
	UploadsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_created_total",
		Help:      "Uploads created.",
	})

	// UploadConflicts counts creations rejected as duplicate content.
	UploadConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_conflicts_total",
		Help:      "Creations rejected because identical content already exists.",
	})

	// BytesAppended counts payload bytes written by creations and chunk appends.
	BytesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_bytes_total",
		Help:      "Payload bytes written to the object store.",
	})

	// UploadsTerminated counts terminated uploads.
	UploadsTerminated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_terminated_total",
		Help:      "Uploads removed by termination.",
	})

	// StoreErrors counts object store failures by operation.
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Object store and index failures by operation.",
	}, []string{"op"})

	registerOnce sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			requestsTotal,
			requestDuration,
			UploadsCreated,
			UploadConflicts,
			BytesAppended,
			UploadsTerminated,
			StoreErrors,
		)
	})
}

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}
