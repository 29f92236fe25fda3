package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the telemetry pipeline of the relay.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "lybot".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps spans in process only,
	// which is enough for trace ids in logs and the X-Correlation-ID header.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of new traces recorded, between 0 and 1.
	// Incoming sampled parents are always honoured. Default: 1.
	SampleRatio *float64
}

// metricsHandler is what [MetricsHandler] serves once [InitProvider] ran.
var metricsHandler atomic.Pointer[http.Handler]

// telemetry is one configured pipeline. InitProvider installs it globally.
type telemetry struct {
	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
	handler http.Handler
}

func newTelemetry(cfg ProviderConfig) (*telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lybot"
	}
	ratio := 1.0
	if cfg.SampleRatio != nil {
		ratio = *cfg.SampleRatio
	}
	if ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("observe: sample ratio %g outside [0, 1]", ratio)
	}

	// Schemaless, so the SDK's default resource schema never conflicts.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	// A private registry keeps /metrics to the relay's own series plus the
	// Go runtime and process collectors.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}

	return &telemetry{
		meters:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)),
		tracers: sdktrace.NewTracerProvider(tpOpts...),
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}, nil
}

// shutdown stops the tracer provider, then the meter provider.
func (t *telemetry) shutdown(ctx context.Context) error {
	return errors.Join(t.tracers.Shutdown(ctx), t.meters.Shutdown(ctx))
}

// InitProvider builds the OTel meter and tracer providers, installs them and
// the W3C trace-context propagator globally, and points [MetricsHandler] at a
// Prometheus registry fed by the meter provider.
//
// Call it before anything asks for [DefaultMetrics]. The returned function
// flushes and stops both providers.
func InitProvider(_ context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	t, err := newTelemetry(cfg)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.tracers)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	metricsHandler.Store(&t.handler)
	return t.shutdown, nil
}

// MetricsHandler serves /metrics. Before [InitProvider] it falls back to the
// default Prometheus registry.
func MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := metricsHandler.Load(); h != nil {
			(*h).ServeHTTP(w, r)
			return
		}
		promhttp.Handler().ServeHTTP(w, r)
	})
}
