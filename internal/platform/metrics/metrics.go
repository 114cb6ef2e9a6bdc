// Package metrics holds the Prometheus instruments of the service: HTTP
// server metrics recorded by an Echo middleware and per-operation counters
// and latency for the case mutator.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labforense/oficios/internal/platform/apperr"
)

const namespace = "oficios"

// OutcomeOK labels a committed operation.
const OutcomeOK = "ok"

// Mutations records one observation per case mutator operation.
type Mutations struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMutations registers the mutator instruments on reg.
func NewMutations(reg prometheus.Registerer) *Mutations {
	m := &Mutations{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Case mutator operations by outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Latency of case mutator operations, including commit or rollback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.total, m.duration)
	return m
}

// Observe records op. The outcome is OutcomeOK or the error kind. A nil
// receiver is a no-op so services can run without metrics.
func (m *Mutations) Observe(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(op, Outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// Outcome is the label value recorded for err.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return apperr.KindOf(err).String()
}

// HTTP holds the request instruments used by Middleware.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	h := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Requests currently being served.",
		}),
	}
	reg.MustRegister(h.requests, h.duration, h.active)
	return h
}

// Middleware records every request under its route pattern.
func (h *HTTP) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.active.Inc()
			start := time.Now()

			err := next(c)

			h.active.Dec()
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			method := c.Request().Method
			h.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			h.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves g in the Prometheus text exposition format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
