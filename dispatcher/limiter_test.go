package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-edc/Connector-sub001/dispatcher"
)

func TestLimiter_Unlimited(t *testing.T) {
	lim := dispatcher.NewLimiter(dispatcher.Limit{})

	for range 100 {
		release, err := lim.Acquire(context.Background(), "https://a.example")
		require.NoError(t, err)
		release()
	}
	assert.Equal(t, 0, lim.InFlight("https://a.example"))
}

func TestLimiter_MaxInFlight(t *testing.T) {
	lim := dispatcher.NewLimiter(dispatcher.Limit{}, dispatcher.Limit{Counterparty: "https://a.example", MaxInFlight: 2})

	r1, err := lim.Acquire(context.Background(), "https://a.example")
	require.NoError(t, err)
	r2, err := lim.Acquire(context.Background(), "https://a.example")
	require.NoError(t, err)
	assert.Equal(t, 2, lim.InFlight("https://a.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lim.Acquire(ctx, "https://a.example")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Other counterparties are unaffected.
	r3, err := lim.Acquire(context.Background(), "https://b.example")
	require.NoError(t, err)
	r3()

	r1()
	r1()
	assert.Equal(t, 1, lim.InFlight("https://a.example"))

	r4, err := lim.Acquire(context.Background(), "https://a.example")
	require.NoError(t, err)
	r4()
	r2()
	assert.Equal(t, 0, lim.InFlight("https://a.example"))
}

func TestLimiter_RatePerCounterparty(t *testing.T) {
	lim := dispatcher.NewLimiter(dispatcher.Limit{Rate: 0.001})

	for _, peer := range []string{"https://a.example", "https://b.example"} {
		release, err := lim.Acquire(context.Background(), peer)
		require.NoError(t, err, peer)
		release()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := lim.Acquire(ctx, "https://a.example")
	assert.Error(t, err)
}

func TestLimiter_SetLimit(t *testing.T) {
	lim := dispatcher.NewLimiter(dispatcher.Limit{Rate: 0.001})

	release, err := lim.Acquire(context.Background(), "https://a.example")
	require.NoError(t, err)
	release()

	lim.SetLimit(dispatcher.Limit{Counterparty: "https://a.example"})

	release, err = lim.Acquire(context.Background(), "https://a.example")
	require.NoError(t, err)
	release()
}

func TestLimiter_KeysByHost(t *testing.T) {
	lim := dispatcher.NewLimiter(dispatcher.Limit{}, dispatcher.Limit{Counterparty: "https://a.example/dsp", MaxInFlight: 1})

	release, err := lim.Acquire(context.Background(), "https://a.example/dsp/negotiations/request")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, 1, lim.InFlight("https://a.example"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lim.Acquire(ctx, "https://a.example/other/path")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "same host shares the cap")
	assert.Equal(t, 1, lim.Peers())
}

func TestLimiter_EvictsIdlePeers(t *testing.T) {
	lim := dispatcher.NewLimiter(dispatcher.Limit{}, dispatcher.Limit{Counterparty: "https://pinned.example", MaxInFlight: 4})
	lim.SetIdleTTL(10 * time.Millisecond)

	for _, peer := range []string{"https://a.example", "https://b.example"} {
		release, err := lim.Acquire(context.Background(), peer)
		require.NoError(t, err)
		release()
	}
	busy, err := lim.Acquire(context.Background(), "https://busy.example")
	require.NoError(t, err)
	defer busy()
	assert.Equal(t, 4, lim.Peers())

	time.Sleep(20 * time.Millisecond)
	release, err := lim.Acquire(context.Background(), "https://c.example")
	require.NoError(t, err)
	release()

	// a and b are gone; pinned, busy and c remain.
	assert.Equal(t, 3, lim.Peers())
	assert.Equal(t, 1, lim.InFlight("https://busy.example"))
}

func TestLimiter_KeepsPeersUntilBucketRefills(t *testing.T) {
	lim := dispatcher.NewLimiter(dispatcher.Limit{Rate: 0.001})
	lim.SetIdleTTL(time.Millisecond)

	release, err := lim.Acquire(context.Background(), "https://a.example")
	require.NoError(t, err)
	release()

	time.Sleep(5 * time.Millisecond)
	release, err = lim.Acquire(context.Background(), "https://b.example")
	require.NoError(t, err)
	release()
	assert.Equal(t, 2, lim.Peers())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lim.Acquire(ctx, "https://a.example")
	assert.Error(t, err, "eviction must not reset a drained bucket")
}
