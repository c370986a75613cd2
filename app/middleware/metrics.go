package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Total HTTP requests partitioned by method, route, and status code
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	// Request duration in seconds; event streams are excluded
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	progressStreamsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_progress_streams_opened_total",
			Help: "Total number of progress event streams opened",
		},
	)
)

// Metrics returns a Fiber v3 middleware that records basic Prometheus metrics.
// The matched route template is used as label; unmatched paths collapse into one series.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
			route = r.Path
		}
		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  route,
			"status": strconv.Itoa(c.Response().StatusCode()),
		}
		httpRequestsTotal.With(labels).Inc()

		if strings.HasPrefix(string(c.Response().Header.ContentType()), "text/event-stream") {
			progressStreamsOpened.Inc()
			return err
		}
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}
