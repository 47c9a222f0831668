// Package telemetry bootstraps the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"

	"github.com/homer-bot/homerbot/pkg/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ShutdownFunc flushes and stops span export.
type ShutdownFunc func(context.Context) error

// Setup returns a TracerProvider exporting over OTLP/HTTP when an endpoint is
// configured, or a no-op provider otherwise.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (trace.TracerProvider, ShutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.Service),
		attribute.String("service.version", cfg.Version),
		attribute.String("deployment.environment", cfg.Env),
		attribute.String("ml_app", cfg.MLApp),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	return tp, tp.Shutdown, nil
}
