// Package storetest is a conformance suite for store.Store backends.
//
// A backend test calls Run with a factory that returns an empty store bound
// to the supplied clock:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T, c clock.Clock) store.Store {
//	        return memory.New(memory.WithClock(c))
//	    })
//	}
//
// Times are kept at millisecond granularity so backends with coarser
// timestamp columns pass the same assertions.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/store"
)

// Factory returns an empty, migrated store that reads time from c.
type Factory func(t *testing.T, c clock.Clock) store.Store

// Epoch is the fake clock's start time in every suite test.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	typeA entity.Type = "suite.a"
	typeB entity.Type = "suite.b"

	stateNew  entity.State = "NEW"
	stateBusy entity.State = "BUSY"
	stateDone entity.State = "DONE"
)

// Run executes the full suite against the factory's backend.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store, c *clock.Fake)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetNotFound", testGetNotFound},
		{"List", testList},
		{"FindEligibleFilters", testFindEligibleFilters},
		{"FindEligibleOrderAndLimit", testFindEligibleOrderAndLimit},
		{"FindEligibleFutureTimestamp", testFindEligibleFutureTimestamp},
		{"FindEligibleLeaseExpiry", testFindEligibleLeaseExpiry},
		{"TryAcquireLease", testTryAcquireLease},
		{"TryAcquireLeaseStaleVersion", testTryAcquireLeaseStaleVersion},
		{"TryAcquireLeaseNotFound", testTryAcquireLeaseNotFound},
		{"SaveIncrementsVersion", testSaveIncrementsVersion},
		{"SaveConflict", testSaveConflict},
		{"SaveNotFound", testSaveNotFound},
		{"SaveFencedByHolder", testSaveFencedByHolder},
		{"Release", testRelease},
		{"ConcurrentLease", testConcurrentLease},
		{"ConcurrentSave", testConcurrentSave},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := clock.NewFake(Epoch)
			s := newStore(t, c)
			tt.fn(t, s, c)
		})
	}
}

func newEntity(t *testing.T, s store.Store, c clock.Clock, typ entity.Type, state entity.State) *entity.Entity {
	t.Helper()
	e := entity.New(id.NewTransferID(), typ, state, []byte(`{"k":"v"}`), c.Now())
	require.NoError(t, s.Create(context.Background(), e))
	return e
}

func ids(list []*entity.Entity) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID.String()
	}
	return out
}

func testCreateAndGet(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, typeA, got.Type)
	assert.Equal(t, stateNew, got.State)
	assert.Equal(t, int64(0), got.Version)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Empty(t, got.LeaseHolder)
	assert.Nil(t, got.LeaseExpiry)
	assert.JSONEq(t, `{"k":"v"}`, string(got.Payload))
	assert.True(t, Epoch.Equal(got.StateTimestamp), "state timestamp %v", got.StateTimestamp)
	assert.True(t, Epoch.Equal(got.CreatedAt), "created at %v", got.CreatedAt)
}

func testCreateDuplicate(t *testing.T, s store.Store, c *clock.Fake) {
	e := newEntity(t, s, c, typeA, stateNew)
	err := s.Create(context.Background(), e.Clone())
	assert.ErrorIs(t, err, connector.ErrEntityExists)
}

func testGetNotFound(t *testing.T, s store.Store, _ *clock.Fake) {
	_, err := s.Get(context.Background(), id.NewTransferID())
	assert.ErrorIs(t, err, connector.ErrEntityNotFound)
}

func testList(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	a1 := newEntity(t, s, c, typeA, stateNew)
	c.Advance(time.Millisecond)
	a2 := newEntity(t, s, c, typeA, stateBusy)
	c.Advance(time.Millisecond)
	b1 := newEntity(t, s, c, typeB, stateNew)

	all, err := s.List(ctx, entity.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, ids([]*entity.Entity{a1, a2, b1}), ids(all))

	onlyA, err := s.List(ctx, entity.ListOpts{Type: typeA})
	require.NoError(t, err)
	assert.Equal(t, ids([]*entity.Entity{a1, a2}), ids(onlyA))

	busy, err := s.List(ctx, entity.ListOpts{Type: typeA, State: stateBusy})
	require.NoError(t, err)
	assert.Equal(t, ids([]*entity.Entity{a2}), ids(busy))

	page, err := s.List(ctx, entity.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, ids([]*entity.Entity{a2}), ids(page))
}

func testFindEligibleFilters(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	want := newEntity(t, s, c, typeA, stateNew)
	newEntity(t, s, c, typeA, stateDone)
	newEntity(t, s, c, typeB, stateNew)

	got, err := s.FindEligible(ctx, typeA, []entity.State{stateNew, stateBusy}, 10)
	require.NoError(t, err)
	assert.Equal(t, ids([]*entity.Entity{want}), ids(got))
}

func testFindEligibleOrderAndLimit(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	newest := newEntity(t, s, c, typeA, stateNew)
	c.Advance(-time.Second)
	oldest := newEntity(t, s, c, typeA, stateNew)
	c.Advance(500 * time.Millisecond)
	middle := newEntity(t, s, c, typeA, stateNew)
	c.Set(Epoch)

	got, err := s.FindEligible(ctx, typeA, []entity.State{stateNew}, 10)
	require.NoError(t, err)
	assert.Equal(t, ids([]*entity.Entity{oldest, middle, newest}), ids(got))

	limited, err := s.FindEligible(ctx, typeA, []entity.State{stateNew}, 2)
	require.NoError(t, err)
	assert.Equal(t, ids([]*entity.Entity{oldest, middle}), ids(limited))
}

func testFindEligibleFutureTimestamp(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	e.StateTimestamp = Epoch.Add(time.Minute)
	require.NoError(t, s.Save(ctx, e, 0))

	got, err := s.FindEligible(ctx, typeA, []entity.State{stateNew}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	c.Advance(time.Minute)
	got, err = s.FindEligible(ctx, typeA, []entity.State{stateNew}, 10)
	require.NoError(t, err)
	assert.Equal(t, ids([]*entity.Entity{e}), ids(got))
}

func testFindEligibleLeaseExpiry(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	ok, err := s.TryAcquireLease(ctx, e.ID, "holder-1", 10*time.Second, 0)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.FindEligible(ctx, typeA, []entity.State{stateNew}, 10)
	require.NoError(t, err)
	assert.Empty(t, got, "leased entity must not be eligible")

	c.Advance(10*time.Second - time.Millisecond)
	got, err = s.FindEligible(ctx, typeA, []entity.State{stateNew}, 10)
	require.NoError(t, err)
	assert.Empty(t, got, "lease not yet expired")

	c.Advance(time.Millisecond)
	got, err = s.FindEligible(ctx, typeA, []entity.State{stateNew}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "lease expiring exactly now is free")
	assert.Equal(t, "holder-1", got[0].LeaseHolder)
}

func testTryAcquireLease(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	ok, err := s.TryAcquireLease(ctx, e.ID, "holder-1", time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "holder-1", got.LeaseHolder)
	require.NotNil(t, got.LeaseExpiry)
	assert.True(t, Epoch.Add(time.Minute).Equal(*got.LeaseExpiry), "lease expiry %v", *got.LeaseExpiry)
	assert.Equal(t, int64(0), got.Version, "acquire does not bump the version")

	ok, err = s.TryAcquireLease(ctx, e.ID, "holder-2", time.Minute, 0)
	require.NoError(t, err)
	assert.False(t, ok, "held lease cannot be taken")

	c.Advance(time.Minute)
	ok, err = s.TryAcquireLease(ctx, e.ID, "holder-2", time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	got, err = s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "holder-2", got.LeaseHolder)
}

func testTryAcquireLeaseStaleVersion(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)
	require.NoError(t, s.Save(ctx, e, 0))

	ok, err := s.TryAcquireLease(ctx, e.ID, "holder-1", time.Minute, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.TryAcquireLease(ctx, e.ID, "holder-1", time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testTryAcquireLeaseNotFound(t *testing.T, s store.Store, _ *clock.Fake) {
	_, err := s.TryAcquireLease(context.Background(), id.NewTransferID(), "holder-1", time.Minute, 0)
	assert.ErrorIs(t, err, connector.ErrEntityNotFound)
}

func testSaveIncrementsVersion(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	ok, err := s.TryAcquireLease(ctx, e.ID, "holder-1", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	c.Advance(time.Second)
	e.State = stateBusy
	e.StateTimestamp = c.Now()
	e.AttemptCount = 2
	e.ErrorDetail = "boom"
	e.Payload = []byte(`{"k":"w"}`)
	e.ClearLease()
	require.NoError(t, s.Save(ctx, e, 0))
	assert.Equal(t, int64(1), e.Version)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, stateBusy, got.State)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, "boom", got.ErrorDetail)
	assert.JSONEq(t, `{"k":"w"}`, string(got.Payload))
	assert.Empty(t, got.LeaseHolder)
	assert.Nil(t, got.LeaseExpiry)
	assert.True(t, c.Now().Equal(got.StateTimestamp))
	assert.True(t, Epoch.Equal(got.CreatedAt), "created at is immutable")
}

func testSaveConflict(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)
	require.NoError(t, s.Save(ctx, e.Clone(), 0))

	stale := e.Clone()
	stale.State = stateDone
	err := s.Save(ctx, stale, 0)
	assert.ErrorIs(t, err, connector.ErrVersionConflict)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, stateNew, got.State)
	assert.Equal(t, int64(1), got.Version)
}

func testSaveNotFound(t *testing.T, s store.Store, c *clock.Fake) {
	e := entity.New(id.NewTransferID(), typeA, stateNew, nil, c.Now())
	err := s.Save(context.Background(), e, 0)
	assert.ErrorIs(t, err, connector.ErrEntityNotFound)
}

func testSaveFencedByHolder(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	ok, err := s.TryAcquireLease(ctx, e.ID, "holder-1", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	c.Advance(time.Minute)
	ok, err = s.TryAcquireLease(ctx, e.ID, "holder-2", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	late := e.Clone()
	late.State = stateDone
	late.ClearLease()
	err = s.Save(ctx, late, 0, entity.HeldBy("holder-1"))
	assert.ErrorIs(t, err, connector.ErrVersionConflict)

	current := e.Clone()
	current.State = stateBusy
	current.ClearLease()
	require.NoError(t, s.Save(ctx, current, 0, entity.HeldBy("holder-2")))

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, stateBusy, got.State)
}

func testRelease(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	ok, err := s.TryAcquireLease(ctx, e.ID, "holder-1", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, e.ID, "holder-2"))
	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "holder-1", got.LeaseHolder, "foreign release is a no-op")

	require.NoError(t, s.Release(ctx, e.ID, "holder-1"))
	got, err = s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LeaseHolder)
	assert.Nil(t, got.LeaseExpiry)
	assert.Equal(t, int64(0), got.Version, "release does not bump the version")

	eligible, err := s.FindEligible(ctx, typeA, []entity.State{stateNew}, 10)
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
}

func testConcurrentLease(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	const contenders = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := range contenders {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.TryAcquireLease(ctx, e.ID, "holder-"+string(rune('a'+n)), time.Minute, 0)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testConcurrentSave(t *testing.T, s store.Store, c *clock.Fake) {
	ctx := context.Background()
	e := newEntity(t, s, c, typeA, stateNew)

	const writers = 16
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := e.Clone()
			cp.State = stateBusy
			err := s.Save(ctx, cp, 0)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, connector.ErrVersionConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}
