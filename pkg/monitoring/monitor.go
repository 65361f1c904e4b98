package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attempts_started_total",
			Help: "Total number of attempts started",
		},
	)

	AttemptsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempts_finalized_total",
			Help: "Total number of attempts moved to a terminal status",
		},
		[]string{"status"},
	)

	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_sweep_runs_total",
			Help: "Deadline sweep passes by outcome",
		},
		[]string{"outcome"},
	)

	SweepItemFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attempt_sweep_item_failures_total",
			Help: "Overdue attempts the sweep failed to close",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attempt_sweep_duration_seconds",
			Help:    "Duration of a deadline sweep pass",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	BackfillUpdated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attempt_backfill_updated_total",
			Help: "Attempts whose duration snapshot was repaired",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptsStarted,
			AttemptsFinalized,
			SweepRuns,
			SweepItemFailures,
			SweepDuration,
			BackfillUpdated,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
