// Package telemetry wires madoguchi's OpenTelemetry export.
//
// The workflow package opens a "workflow.process" span per ticket with one
// child span per stage, and records the madoguchi.tickets.processed and
// madoguchi.tickets.escalated counters plus the madoguchi.stage.duration and
// madoguchi.retrieval.confidence histograms. The workflow log reports its
// buffer depth and dropped entries. The HTTP server and the Ollama client add
// otelhttp spans. Until Init runs with an endpoint every instrument is backed
// by the global no-op providers, so packages create them unconditionally.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scopes.
const (
	ScopeWorkflow    = "madoguchi/workflow"
	ScopeWorkflowLog = "madoguchi/workflowlog"
)

// Config selects the OTLP/HTTP collector. An empty Endpoint disables export.
type Config struct {
	Endpoint    string
	ServiceName string
	Version     string
	Insecure    bool

	// Zero values use 5s and 15s.
	TraceBatchTimeout time.Duration
	MetricInterval    time.Duration
}

// Shutdown flushes pending spans and metric points and stops the exporters.
type Shutdown func(ctx context.Context) error

// Init installs the global tracer and meter providers that export ticket
// spans and pipeline metrics to cfg.Endpoint. Without an endpoint it leaves
// the no-op providers in place and returns a Shutdown that does nothing.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.TraceBatchTimeout <= 0 {
		cfg.TraceBatchTimeout = 5 * time.Second
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = 15 * time.Second
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	spans, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: span exporter: %w", err)
	}
	points, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(cfg.TraceBatchTimeout)),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(cfg.MetricInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	// Ollama requests carry the ticket's trace context.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Meter returns a meter from the current global provider.
func Meter(scope string) metric.Meter {
	return otel.GetMeterProvider().Meter(scope)
}

// Tracer returns a tracer from the current global provider.
func Tracer(scope string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(scope)
}
