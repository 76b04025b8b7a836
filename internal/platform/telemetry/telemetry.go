// Package telemetry owns the process metrics registry and the HTTP
// instrumentation middleware. Metrics are exposed in Prometheus text format at
// /metrics; spans go to whatever OpenTelemetry tracer provider is installed
// globally (a no-op one unless main configures an exporter).
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "mednexus"

// Config controls which instrumentation is active.
type Config struct {
	ServiceName    string
	MetricsEnabled bool
	TracingEnabled bool
	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool
}

// Provider groups the metrics registry, the tracer, and the pipeline collectors.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry
	tracer   trace.Tracer

	Pipeline *PipelineMetrics

	httpDuration *prometheus.HistogramVec
	httpActive   prometheus.Gauge
}

func NewProvider(cfg Config) *Provider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mednexus"
	}
	reg := prometheus.NewRegistry()
	if cfg.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Provider{
		cfg:      cfg,
		registry: reg,
		tracer:   otel.Tracer(cfg.ServiceName),
		Pipeline: NewPipelineMetrics(reg),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "HTTP requests currently being served",
		}),
	}
}

// Registry returns the registry backing /metrics.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// Tracer returns the tracer used for request and pipeline spans.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown is a hook for flushing exporters; the Prometheus registry needs none.
func (p *Provider) Shutdown(_ context.Context) error { return nil }

// Handler serves the registry in Prometheus exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// MetricsMiddleware records request latency and the in-flight request gauge.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.MetricsEnabled {
				return next(c)
			}
			p.httpActive.Inc()
			start := time.Now()

			err := next(c)

			p.httpActive.Dec()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			p.httpDuration.
				WithLabelValues(c.Request().Method, route(c), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// TracingMiddleware opens a server span named "HTTP {method} {route}" per
// request, continuing any W3C trace context the caller sent.
func (p *Provider) TracingMiddleware() echo.MiddlewareFunc {
	prop := propagation.TraceContext{}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.TracingEnabled {
				return next(c)
			}
			req := c.Request()
			ctx := prop.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := p.tracer.Start(ctx, "HTTP "+req.Method+" "+route(c),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route(c)),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= 500 {
				span.SetStatus(codes.Error, strconv.Itoa(status))
			}
			if err != nil {
				span.RecordError(err)
			}
			return err
		}
	}
}

// route prefers the registered route pattern so label cardinality stays bounded.
func route(c echo.Context) string {
	if r := c.Path(); r != "" {
		return r
	}
	return "unmatched"
}
