// Package metrics exposes the server's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	authAttempts     *prometheus.CounterVec
	notesGenerated   *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_upstream_requests_total",
				Help: "Calls to external AI providers by outcome",
			},
			[]string{"provider", "operation", "outcome"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ai_upstream_duration_seconds",
				Help:    "Duration of external AI provider calls, retries included",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "operation"},
		),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Registration and login attempts by outcome",
			},
			[]string{"method", "status"},
		),
		notesGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notes_generated_total",
				Help: "Clinical notes generated, split by critical flag",
			},
			[]string{"critical"},
		),
	}

	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.upstreamRequests,
		c.upstreamDuration,
		c.authAttempts,
		c.notesGenerated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveHTTP records one handled request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveUpstream records one call to an AI provider. outcome is "ok" or a
// short failure class such as "error" or "malformed".
func (c *Collector) ObserveUpstream(provider, operation, outcome string, elapsed time.Duration) {
	c.upstreamRequests.WithLabelValues(provider, operation, outcome).Inc()
	c.upstreamDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// AuthAttempt records a register or login attempt.
func (c *Collector) AuthAttempt(method, status string) {
	c.authAttempts.WithLabelValues(method, status).Inc()
}

func (c *Collector) NoteGenerated(critical bool) {
	c.notesGenerated.WithLabelValues(strconv.FormatBool(critical)).Inc()
}

// RegisterPool exports connection pool gauges for pool.
func (c *Collector) RegisterPool(pool *pgxpool.Pool) {
	gauge := func(name, help string, f func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return f(pool.Stat())
		})
	}
	c.registry.MustRegister(
		gauge("db_pool_total_conns", "Connections currently open",
			func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("db_pool_acquired_conns", "Connections currently in use",
			func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("db_pool_idle_conns", "Connections currently idle",
			func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
