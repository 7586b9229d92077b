// Package otelcol sets up the process-wide OpenTelemetry tracer provider.
// Spans carry the trace and span ids written to every log line; an exporter
// is attached only when one is provided.
package otelcol

import (
	"context"

	"flowmarket/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		provideTracerProvider,
		func(tp *sdktrace.TracerProvider) trace.TracerProvider { return tp },
	),
)

type tracerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Exporter  sdktrace.SpanExporter `optional:"true"`
}

func provideTracerProvider(p tracerParams) (*sdktrace.TracerProvider, error) {
	opts, err := traceProviderOptions(p.Config)
	if err != nil {
		return nil, err
	}

	tp := ProvideTrace(p.Exporter, opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("[Otel] Shutting down tracer provider")
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

func traceProviderOptions(cfg *config.Config) ([]sdktrace.TracerProviderOption, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return nil, err
	}

	ratio := cfg.Tracing.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	return []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}, nil
}

// ProvideTrace builds a tracer provider. A nil exporter still yields real
// trace and span ids; spans are just not shipped anywhere.
func ProvideTrace(exporter sdktrace.SpanExporter, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...)
}
