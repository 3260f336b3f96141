package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/store"
	redisstore "github.com/eclipse-edc/Connector-sub001/store/redis"
	"github.com/eclipse-edc/Connector-sub001/store/storetest"
)

func client(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("CONNECTOR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONNECTOR_TEST_REDIS_ADDR not set")
	}
	c := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// isolated returns a store under a fresh key prefix and removes its keys
// when the test ends.
func isolated(t *testing.T, c *goredis.Client, clk clock.Clock) *redisstore.Store {
	t.Helper()
	ctx := context.Background()
	prefix := "connector-test:" + id.NewInstanceID().String() + ":"

	s := redisstore.New(c, redisstore.WithClock(clk), redisstore.WithKeyPrefix(prefix))
	require.NoError(t, s.Migrate(ctx))

	t.Cleanup(func() {
		keys, err := c.Keys(ctx, prefix+"*").Result()
		if err == nil && len(keys) > 0 {
			c.Del(ctx, keys...)
		}
	})
	return s
}

func TestConformance(t *testing.T) {
	c := client(t)

	storetest.Run(t, func(t *testing.T, clk clock.Clock) store.Store {
		return isolated(t, c, clk)
	})
}

func TestSaveMovesDueIndex(t *testing.T) {
	c := client(t)
	ctx := context.Background()
	clk := clock.NewFake(storetest.Epoch)
	s := isolated(t, c, clk)

	e := entity.New(id.NewTransferID(), "redis.move", "A", nil, clk.Now())
	require.NoError(t, s.Create(ctx, e))

	e.State = "B"
	require.NoError(t, s.Save(ctx, e, 0))

	inA, err := s.FindEligible(ctx, "redis.move", []entity.State{"A"}, 10)
	require.NoError(t, err)
	assert.Empty(t, inA)

	inB, err := s.FindEligible(ctx, "redis.move", []entity.State{"B"}, 10)
	require.NoError(t, err)
	require.Len(t, inB, 1)
	assert.Equal(t, e.ID, inB[0].ID)
}

func TestLeaseExpiryComparedAtNanosecondPrecision(t *testing.T) {
	c := client(t)
	ctx := context.Background()
	clk := clock.NewFake(storetest.Epoch)
	s := isolated(t, c, clk)

	e := entity.New(id.NewTransferID(), "redis.ns", "A", nil, clk.Now())
	require.NoError(t, s.Create(ctx, e))

	ok, err := s.TryAcquireLease(ctx, e.ID, "holder-a", time.Hour, 0)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(time.Hour - time.Nanosecond)
	ok, err = s.TryAcquireLease(ctx, e.ID, "holder-b", time.Hour, 0)
	require.NoError(t, err)
	assert.False(t, ok, "lease still live for one more nanosecond")

	found, err := s.FindEligible(ctx, "redis.ns", []entity.State{"A"}, 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	clk.Advance(time.Nanosecond)
	ok, err = s.TryAcquireLease(ctx, e.ID, "holder-b", time.Hour, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFindEligibleSkipsSubMicrosecondFutureEntities(t *testing.T) {
	c := client(t)
	ctx := context.Background()
	clk := clock.NewFake(storetest.Epoch)
	s := isolated(t, c, clk)

	// Same microsecond score; the future one sorts first by member.
	future := entity.New(id.NewTransferID(), "redis.us", "A", nil, clk.Now().Add(100*time.Nanosecond))
	due := entity.New(id.NewTransferID(), "redis.us", "A", nil, clk.Now())
	require.NoError(t, s.Create(ctx, future))
	require.NoError(t, s.Create(ctx, due))

	found, err := s.FindEligible(ctx, "redis.us", []entity.State{"A"}, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)
}
