package stream_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/engine"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/statemachine"
	"github.com/eclipse-edc/Connector-sub001/store/memory"
	"github.com/eclipse-edc/Connector-sub001/stream"
)

func TestBrokerFollowsEngineLifecycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	broker := stream.NewBroker(logger, stream.WithClock(clk))

	cfg := connector.DefaultConfig()
	cfg.CycleJitter = 0
	cfg.BackoffJitter = 0

	eng, err := engine.New(cfg, memory.New(memory.WithClock(clk)),
		engine.WithClock(clk),
		engine.WithLogger(logger),
		engine.WithExtension(broker),
	)
	require.NoError(t, err)

	eng.Registry().Describe(statemachine.New("job").
		Initial("PENDING").
		Transition("PENDING", "DONE").
		Terminal("DONE", "FAILED").
		Failed("FAILED").
		MustBuild())
	eng.Registry().Register("job", "PENDING", func(context.Context, *entity.Entity) (handler.Result, error) {
		return handler.Transition("DONE", nil), nil
	})

	ctx := context.Background()
	job := entity.New(id.NewTransferID(), "job", "PENDING", nil, clk.Now())
	sub := broker.Subscribe("watcher", stream.EntityTopic(job.ID.String()))

	require.NoError(t, eng.Create(ctx, job))
	require.NoError(t, eng.Tick(ctx))

	var got []stream.EventType
	for len(got) < 3 {
		select {
		case evt := <-sub.C():
			got = append(got, evt.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %v", got)
		}
	}
	assert.Equal(t, []stream.EventType{
		stream.EventEntityCreated,
		stream.EventEntityLeased,
		stream.EventEntityTransitioned,
	}, got)

	require.NoError(t, eng.Stop(ctx))
	_, open := <-sub.C()
	assert.False(t, open)
}
