package task

import (
	"context"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing runs each task in its own consumer span.
func Tracing(tp trace.TracerProvider) asynq.MiddlewareFunc {
	tracer := tp.Tracer("flowmarket/task")
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			ctx, span := tracer.Start(ctx, t.Type(), trace.WithSpanKind(trace.SpanKindConsumer))
			defer span.End()

			if id, ok := asynq.GetTaskID(ctx); ok {
				span.SetAttributes(attribute.String("asynq.task_id", id))
			}

			err := next.ProcessTask(ctx, t)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		})
	}
}
