package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
	"github.com/eclipse-edc/Connector-sub001/id"
)

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnEntityCreated(_ context.Context, _ *entity.Entity) error {
	e.calls = append(e.calls, "OnEntityCreated")
	return nil
}

func (e *allHooksExt) OnEntityLeased(_ context.Context, _ *entity.Entity) error {
	e.calls = append(e.calls, "OnEntityLeased")
	return nil
}

func (e *allHooksExt) OnEntityTransitioned(_ context.Context, _ *entity.Entity, _ entity.State, _ time.Duration) error {
	e.calls = append(e.calls, "OnEntityTransitioned")
	return nil
}

func (e *allHooksExt) OnEntityRetrying(_ context.Context, _ *entity.Entity, _ int, _ time.Time, _ error) error {
	e.calls = append(e.calls, "OnEntityRetrying")
	return nil
}

func (e *allHooksExt) OnEntityFailed(_ context.Context, _ *entity.Entity, _ error) error {
	e.calls = append(e.calls, "OnEntityFailed")
	return nil
}

func (e *allHooksExt) OnEntityAbandoned(_ context.Context, _ *entity.Entity, _ string) error {
	e.calls = append(e.calls, "OnEntityAbandoned")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// failedOnlyExt implements only EntityFailed.
type failedOnlyExt struct {
	failed int
}

func (e *failedOnlyExt) Name() string { return "failed-only" }

func (e *failedOnlyExt) OnEntityFailed(_ context.Context, _ *entity.Entity, _ error) error {
	e.failed++
	return nil
}

// failingExt returns errors from its hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnEntityLeased(_ context.Context, _ *entity.Entity) error {
	return errors.New("hook exploded")
}

func testEntity() *entity.Entity {
	return entity.New(id.NewNegotiationID(), "negotiation", "REQUESTING", nil, time.Now())
}

func emitAll(ctx context.Context, r *ext.Registry, e *entity.Entity) {
	r.EmitEntityCreated(ctx, e)
	r.EmitEntityLeased(ctx, e)
	r.EmitEntityTransitioned(ctx, e, "INITIAL", time.Second)
	r.EmitEntityRetrying(ctx, e, 1, time.Now(), errors.New("x"))
	r.EmitEntityFailed(ctx, e, errors.New("x"))
	r.EmitEntityAbandoned(ctx, e, "version conflict")
	r.EmitShutdown(ctx)
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	emitAll(context.Background(), r, testEntity())

	assert.Equal(t, []string{
		"OnEntityCreated",
		"OnEntityLeased",
		"OnEntityTransitioned",
		"OnEntityRetrying",
		"OnEntityFailed",
		"OnEntityAbandoned",
		"OnShutdown",
	}, all.calls)
	assert.Len(t, r.Extensions(), 1)
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	only := &failedOnlyExt{}
	r.Register(only)

	emitAll(context.Background(), r, testEntity())

	assert.Equal(t, 1, only.failed)
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	all := &allHooksExt{}

	r.Register(&failingExt{})
	r.Register(all)

	r.EmitEntityLeased(context.Background(), testEntity())

	require.Equal(t, []string{"OnEntityLeased"}, all.calls, "later extensions still fire")
	assert.Contains(t, buf.String(), "extension hook error")
	assert.Contains(t, buf.String(), "extension=failing")
	assert.Contains(t, buf.String(), "hook exploded")
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	emitAll(context.Background(), ext.NewRegistry(slog.Default()), testEntity())
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})

	r.EmitShutdown(context.Background())

	assert.Equal(t, []string{"first", "second"}, order)
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnShutdown(_ context.Context) error {
	*e.order = append(*e.order, e.name)
	return nil
}
