package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

// meterName is the instrumentation scope name for connector metrics.
const meterName = "github.com/eclipse-edc/Connector-sub001"

// Metrics returns middleware that records per-handler execution metrics
// using the global OTel MeterProvider.
//
// Instruments:
//   - connector.handler.duration (Float64Histogram): execution time in
//     seconds, with attributes: entity_type, state, outcome
//   - connector.handler.executions (Int64Counter): total executions,
//     with attributes: entity_type, state, outcome
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"connector.handler.duration",
		metric.WithDescription("Duration of state handler execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"connector.handler.executions",
		metric.WithDescription("Total number of state handler executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, e *entity.Entity, next Handler) (handler.Result, error) {
		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("entity_type", string(e.Type)),
			attribute.String("state", string(e.State)),
			attribute.String("outcome", Outcome(err)),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return res, err
	}
}
