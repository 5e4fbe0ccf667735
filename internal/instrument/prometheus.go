package instrument

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the Prometheus-backed Recorder. It owns its registry so tests
// and multiple servers in one process do not collide.
type Collector struct {
	registry *prometheus.Registry

	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	AccessDenials    *prometheus.CounterVec
	DanglingRefs     *prometheus.CounterVec
	ReferenceErrors  *prometheus.CounterVec
	SeedRecords      *prometheus.CounterVec
	SchemaReloads    *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Name:      "operations_total",
				Help:      "Document operations by schema, operation and outcome",
			},
			[]string{"schema", "op", "outcome"},
		),
		OperationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cms",
				Name:      "operation_duration_seconds",
				Help:      "Document operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"schema", "op"},
		),
		AccessDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Name:      "access_denied_total",
				Help:      "Operations refused by access rules",
			},
			[]string{"schema", "op"},
		),
		DanglingRefs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Name:      "dangling_references_total",
				Help:      "References whose target document no longer exists",
			},
			[]string{"schema", "field", "target"},
		),
		ReferenceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Name:      "reference_errors_total",
				Help:      "References left unexpanded because their target could not be loaded",
			},
			[]string{"schema", "field", "target"},
		),
		SeedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Name:      "seed_records_total",
				Help:      "Seed records by target and outcome",
			},
			[]string{"target", "outcome"},
		),
		SchemaReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Name:      "schema_reloads_total",
				Help:      "Schema registry rebuilds by result",
			},
			[]string{"result"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cms",
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cms",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
}

func (c *Collector) Operation(schema, op, outcome string, d time.Duration) {
	c.Operations.WithLabelValues(schema, op, outcome).Inc()
	c.OperationLatency.WithLabelValues(schema, op).Observe(d.Seconds())
}

func (c *Collector) AccessDenied(schema, op string) {
	c.AccessDenials.WithLabelValues(schema, op).Inc()
}

func (c *Collector) DanglingReference(schema, field, target string) {
	c.DanglingRefs.WithLabelValues(schema, field, target).Inc()
}

func (c *Collector) ReferenceError(schema, field, target string) {
	c.ReferenceErrors.WithLabelValues(schema, field, target).Inc()
}

func (c *Collector) SeedRecord(target, outcome string) {
	c.SeedRecords.WithLabelValues(target, outcome).Inc()
}

func (c *Collector) SchemaReload(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.SchemaReloads.WithLabelValues(result).Inc()
}

func (c *Collector) HTTPRequest(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
