// Package observability wires OpenTelemetry tracing into the runtime.
package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects the trace exporter. Tracing is off unless Enabled is set.
type Config struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	Exporter       string  `json:"exporter" yaml:"exporter"` // otlp-http, none
	Endpoint       string  `json:"endpoint" yaml:"endpoint"` // localhost:4318
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"` // 0.0 to 1.0
}

type provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

var current atomic.Pointer[provider]

func init() {
	disable()
}

func disable() {
	current.Store(&provider{tracer: noop.NewTracerProvider().Tracer("")})
}

// Init installs the process tracer provider. A disabled config installs a
// no-op tracer.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		disable()
		return nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pulsar"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		// the platform's trace header carries the sampling decision
		sdktrace.WithSampler(sdktrace.ParentBased(ratioSampler(cfg.SampleRate))),
	}
	switch cfg.Exporter {
	case "otlp-http", "otlp", "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "none":
	default:
		return fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}

	install(sdktrace.NewTracerProvider(opts...), cfg.ServiceName)
	return nil
}

func ratioSampler(rate float64) sdktrace.Sampler {
	if rate >= 1 || rate < 0 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// InitWithExporter installs a provider that exports synchronously to exp.
func InitWithExporter(exp sdktrace.SpanExporter, serviceName string) {
	install(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp)), serviceName)
}

func install(tp *sdktrace.TracerProvider, serviceName string) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	current.Store(&provider{tp: tp, tracer: tp.Tracer(serviceName)})
}

// Shutdown flushes pending spans and reverts to the no-op tracer.
func Shutdown(ctx context.Context) error {
	p := current.Load()
	if p.tp == nil {
		return nil
	}
	disable()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// Tracer returns the process tracer.
func Tracer() trace.Tracer {
	return current.Load().tracer
}

// Enabled reports whether spans are recorded.
func Enabled() bool {
	return current.Load().tp != nil
}
