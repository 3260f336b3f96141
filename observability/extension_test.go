package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func counterTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func newTestEntity() *entity.Entity {
	return entity.New(id.NewTransferID(), "transfer", "STARTED", nil, time.Now())
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	assert.Equal(t, "observability-metrics", e.Name())
}

func TestMetricsExtension_CountsEachHook(t *testing.T) {
	m, reader := newTestExtension()
	ctx := context.Background()
	e := newTestEntity()

	require.NoError(t, m.OnEntityCreated(ctx, e))
	require.NoError(t, m.OnEntityLeased(ctx, e))
	require.NoError(t, m.OnEntityLeased(ctx, e))
	require.NoError(t, m.OnEntityTransitioned(ctx, e, "REQUESTING", time.Millisecond))
	require.NoError(t, m.OnEntityRetrying(ctx, e, 1, time.Now(), errors.New("timeout")))
	require.NoError(t, m.OnEntityFailed(ctx, e, errors.New("x")))
	require.NoError(t, m.OnEntityAbandoned(ctx, e, "shutdown"))

	assert.Equal(t, map[string]int64{
		"connector.entity.created":      1,
		"connector.entity.leased":       2,
		"connector.entity.transitioned": 1,
		"connector.entity.retried":      1,
		"connector.entity.failed":       1,
		"connector.entity.abandoned":    1,
	}, counterTotals(t, reader))
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	m, reader := newTestExtension()
	r := ext.NewRegistry(slog.Default())
	r.Register(m)

	r.EmitEntityFailed(context.Background(), newTestEntity(), errors.New("x"))
	r.EmitShutdown(context.Background())

	assert.Equal(t, int64(1), counterTotals(t, reader)["connector.entity.failed"])
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	m := observability.NewMetricsExtension()
	assert.NoError(t, m.OnEntityCreated(context.Background(), newTestEntity()))
}
