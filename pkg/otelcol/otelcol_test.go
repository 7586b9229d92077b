package otelcol

import (
	"context"
	"testing"

	"flowmarket/pkg/config"
	"flowmarket/pkg/logger"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestProvideTraceWithoutExporter(t *testing.T) {
	tp := ProvideTrace(nil)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "reconcile")
	defer span.End()

	require.True(t, span.SpanContext().IsValid())
	fields := logger.TraceFields(ctx)
	require.Len(t, fields, 2)
	require.Equal(t, span.SpanContext().TraceID().String(), fields[0].String)
}

func TestProvideTraceExports(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := &config.Config{AppName: "flowmarket", AppVersion: "1.2.3", AppEnv: "test"}

	opts, err := traceProviderOptions(cfg)
	require.NoError(t, err)
	tp := ProvideTrace(exporter, opts...)

	_, span := tp.Tracer("test").Start(context.Background(), "checkout")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "checkout", spans[0].Name)
	require.Contains(t, spans[0].Resource.Attributes(), attribute.String("service.name", "flowmarket"))
	require.NoError(t, tp.Shutdown(context.Background()))
}
