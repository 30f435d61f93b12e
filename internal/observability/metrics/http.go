package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics holds the prometheus collectors scraped from /metrics.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP collectors on the default registerer.
func NewHTTPMetrics(cfg Config) (*HTTPMetrics, error) {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) (*HTTPMetrics, error) {
	constLabels := serviceLabels(cfg)
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldops_http_requests_total",
			Help:        "HTTP requests by route, method and status.",
			ConstLabels: constLabels,
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fieldops_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"route", "method"}),
	}
	if err := registerCollector(registerer, m.requests, func(existing prometheus.Collector) {
		m.requests = existing.(*prometheus.CounterVec)
	}); err != nil {
		return nil, err
	}
	if err := registerCollector(registerer, m.duration, func(existing prometheus.Collector) {
		m.duration = existing.(*prometheus.HistogramVec)
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// GinMiddleware records one observation per request, keyed by the matched route.
func (m *HTTPMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)
		m.requests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

func serviceLabels(cfg Config) prometheus.Labels {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "fieldops"
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}
	return prometheus.Labels{"service": service, "env": env}
}

// registerCollector tolerates re-registration so fx apps built repeatedly in
// tests share one set of collectors.
func registerCollector(registerer prometheus.Registerer, c prometheus.Collector, reuse func(prometheus.Collector)) error {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if err := registerer.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			reuse(already.ExistingCollector)
			return nil
		}
		return err
	}
	return nil
}
