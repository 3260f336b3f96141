package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

// tracerName is the instrumentation scope name for connector tracing.
const tracerName = "github.com/eclipse-edc/Connector-sub001"

// Tracing returns middleware that wraps handler execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: connector.entity.id, connector.entity.type,
// connector.entity.state, connector.entity.version, connector.attempt.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, e *entity.Entity, next Handler) (handler.Result, error) {
		ctx, span := tracer.Start(ctx, "connector.handler.execute",
			trace.WithAttributes(
				attribute.String("connector.entity.id", e.ID.String()),
				attribute.String("connector.entity.type", string(e.Type)),
				attribute.String("connector.entity.state", string(e.State)),
				attribute.Int64("connector.entity.version", e.Version),
				attribute.Int("connector.attempt", e.AttemptCount+1),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("connector.outcome", Outcome(err)))
		} else {
			span.SetAttributes(attribute.String("connector.entity.next_state", string(res.Next)))
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
