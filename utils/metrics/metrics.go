package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_registrations_total",
			Help: "Registration attempts by admission result.",
		},
		[]string{"result"},
	)

	EnrichmentJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_enrichment_jobs_total",
			Help: "Enrichment job runs by outcome.",
		},
		[]string{"outcome"},
	)

	EnrichmentDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notes_enrichment_duration_seconds",
			Help:    "Time spent in the AI collaborator per enrichment run.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	EnrichmentQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notes_enrichment_queue_depth",
			Help: "Enrichment jobs waiting for a worker.",
		},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector with the default registry. Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			RegistrationsTotal,
			EnrichmentJobsTotal,
			EnrichmentDurationSeconds,
			EnrichmentQueueDepth,
		)
	})
}

// Middleware records request count and latency labelled by the matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = "unmatched"
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		HTTPRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		HTTPRequestDurationSeconds.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}
