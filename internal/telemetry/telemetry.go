// Package telemetry wires OpenTelemetry tracing and metrics for the orchestrator.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/orchestrator/internal/config"
)

// InstrumentationName scopes tracers and meters created by this module.
const InstrumentationName = "github.com/vinayprograms/orchestrator"

// ShutdownFunc flushes and stops exporters.
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer and meter providers and the propagator
// described by cfg. With telemetry disabled or protocol "noop" the global
// no-op providers stay in place and only the propagator is set.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	noop := func(context.Context) error { return nil }
	protocol := strings.ToLower(cfg.Protocol)
	if !cfg.Enabled || protocol == "" || protocol == "noop" {
		return noop, nil
	}

	var (
		spans   sdktrace.SpanExporter
		metrics sdkmetric.Exporter
		err     error
	)
	switch protocol {
	case "http":
		spans, metrics, err = httpExporters(ctx, cfg)
	case "grpc":
		spans, metrics, err = grpcExporters(ctx, cfg)
	default:
		return noop, fmt.Errorf("unknown telemetry protocol %q", cfg.Protocol)
	}
	if err != nil {
		return noop, fmt.Errorf("create %s exporter: %w", protocol, err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "orchestrator"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics)),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func httpExporters(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	topts := []otlptracehttp.Option{}
	mopts := []otlpmetrichttp.Option{}
	if cfg.Endpoint != "" {
		topts = append(topts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		mopts = append(mopts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		topts = append(topts, otlptracehttp.WithInsecure())
		mopts = append(mopts, otlpmetrichttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		topts = append(topts, otlptracehttp.WithHeaders(cfg.Headers))
		mopts = append(mopts, otlpmetrichttp.WithHeaders(cfg.Headers))
	}
	spans, err := otlptracehttp.New(ctx, topts...)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := otlpmetrichttp.New(ctx, mopts...)
	if err != nil {
		spans.Shutdown(ctx)
		return nil, nil, err
	}
	return spans, metrics, nil
}

func grpcExporters(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	topts := []otlptracegrpc.Option{}
	mopts := []otlpmetricgrpc.Option{}
	if cfg.Endpoint != "" {
		topts = append(topts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		mopts = append(mopts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		topts = append(topts, otlptracegrpc.WithInsecure())
		mopts = append(mopts, otlpmetricgrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		topts = append(topts, otlptracegrpc.WithHeaders(cfg.Headers))
		mopts = append(mopts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	spans, err := otlptracegrpc.New(ctx, topts...)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := otlpmetricgrpc.New(ctx, mopts...)
	if err != nil {
		spans.Shutdown(ctx)
		return nil, nil, err
	}
	return spans, metrics, nil
}

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Meter returns the module meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
