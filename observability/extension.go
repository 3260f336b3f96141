package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.EntityCreated      = (*MetricsExtension)(nil)
	_ ext.EntityLeased       = (*MetricsExtension)(nil)
	_ ext.EntityTransitioned = (*MetricsExtension)(nil)
	_ ext.EntityRetrying     = (*MetricsExtension)(nil)
	_ ext.EntityFailed       = (*MetricsExtension)(nil)
	_ ext.EntityAbandoned    = (*MetricsExtension)(nil)
)

const meterName = "github.com/eclipse-edc/Connector-sub001/observability"

// MetricsExtension records lifecycle counters through an OTel meter.
// Register it as an engine extension to track creation rates, lease
// throughput, transitions per state, retries and terminal failures.
type MetricsExtension struct {
	Created      metric.Int64Counter
	Leased       metric.Int64Counter
	Transitioned metric.Int64Counter
	Retried      metric.Int64Counter
	Failed       metric.Int64Counter
	Abandoned    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors fall back to noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{entity}"))
		return c
	}
	return &MetricsExtension{
		Created:      counter("connector.entity.created", "Entities persisted in their initial state"),
		Leased:       counter("connector.entity.leased", "Leases acquired by this instance"),
		Transitioned: counter("connector.entity.transitioned", "Handler results persisted"),
		Retried:      counter("connector.entity.retried", "Failures rescheduled for another attempt"),
		Failed:       counter("connector.entity.failed", "Entities forced to their FAILED state"),
		Abandoned:    counter("connector.entity.abandoned", "Results discarded without persisting"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(e *entity.Entity) attribute.KeyValue {
	return attribute.String("entity_type", string(e.Type))
}

// OnEntityCreated implements ext.EntityCreated.
func (m *MetricsExtension) OnEntityCreated(ctx context.Context, e *entity.Entity) error {
	m.Created.Add(ctx, 1, metric.WithAttributes(typeAttr(e)))
	return nil
}

// OnEntityLeased implements ext.EntityLeased.
func (m *MetricsExtension) OnEntityLeased(ctx context.Context, e *entity.Entity) error {
	m.Leased.Add(ctx, 1, metric.WithAttributes(typeAttr(e), attribute.String("state", string(e.State))))
	return nil
}

// OnEntityTransitioned implements ext.EntityTransitioned.
func (m *MetricsExtension) OnEntityTransitioned(ctx context.Context, e *entity.Entity, from entity.State, _ time.Duration) error {
	m.Transitioned.Add(ctx, 1, metric.WithAttributes(
		typeAttr(e),
		attribute.String("from", string(from)),
		attribute.String("to", string(e.State)),
	))
	return nil
}

// OnEntityRetrying implements ext.EntityRetrying.
func (m *MetricsExtension) OnEntityRetrying(ctx context.Context, e *entity.Entity, _ int, _ time.Time, _ error) error {
	m.Retried.Add(ctx, 1, metric.WithAttributes(typeAttr(e), attribute.String("state", string(e.State))))
	return nil
}

// OnEntityFailed implements ext.EntityFailed.
func (m *MetricsExtension) OnEntityFailed(ctx context.Context, e *entity.Entity, _ error) error {
	m.Failed.Add(ctx, 1, metric.WithAttributes(typeAttr(e)))
	return nil
}

// OnEntityAbandoned implements ext.EntityAbandoned.
func (m *MetricsExtension) OnEntityAbandoned(ctx context.Context, e *entity.Entity, reason string) error {
	m.Abandoned.Add(ctx, 1, metric.WithAttributes(typeAttr(e), attribute.String("reason", reason)))
	return nil
}
