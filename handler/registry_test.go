package handler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/statemachine"
)

func transferDescriptor() *statemachine.Descriptor {
	return statemachine.New("transfer").
		Initial("INITIAL").
		Transition("INITIAL", "STARTED").
		Transition("STARTED", "COMPLETED").
		Terminal("COMPLETED").
		Failed("FAILED").
		MustBuild()
}

func noop(next entity.State) handler.Func {
	return func(context.Context, *entity.Entity) (handler.Result, error) {
		return handler.Transition(next, nil), nil
	}
}

func TestRegistry_ValidComplete(t *testing.T) {
	r := handler.NewRegistry()
	r.Describe(transferDescriptor())
	r.Register("transfer", "INITIAL", noop("STARTED"))
	r.Register("transfer", "STARTED", noop("COMPLETED"))

	require.NoError(t, r.Validate())
	assert.Equal(t, []entity.Type{"transfer"}, r.Types())

	fn, ok := r.Lookup("transfer", "INITIAL")
	require.True(t, ok)
	res, err := fn(context.Background(), &entity.Entity{})
	require.NoError(t, err)
	assert.Equal(t, entity.State("STARTED"), res.Next)
}

func TestRegistry_MissingHandler(t *testing.T) {
	r := handler.NewRegistry()
	r.Describe(transferDescriptor())
	r.Register("transfer", "INITIAL", noop("STARTED"))

	err := r.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, connector.ErrNoHandler))
	assert.Contains(t, err.Error(), `"STARTED"`)
}

func TestRegistry_ReportsEveryProblem(t *testing.T) {
	r := handler.NewRegistry()
	r.Describe(transferDescriptor())
	r.Describe(transferDescriptor())
	r.Register("transfer", "INITIAL", noop("STARTED"))
	r.Register("transfer", "INITIAL", noop("STARTED"))
	r.Register("transfer", "STARTED", noop("COMPLETED"))
	r.Register("transfer", "COMPLETED", noop("COMPLETED"))
	r.Register("transfer", "UNKNOWN", noop("COMPLETED"))
	r.Register("ghost", "INITIAL", noop("COMPLETED"))

	err := r.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "described twice")
	assert.Contains(t, msg, "registered twice")
	assert.Contains(t, msg, `terminal state "COMPLETED"`)
	assert.Contains(t, msg, `undeclared state "UNKNOWN"`)
	assert.True(t, errors.Is(err, connector.ErrUnknownType))
}

func TestRegistry_Empty(t *testing.T) {
	assert.Error(t, handler.NewRegistry().Validate())
}

func TestPermanent(t *testing.T) {
	base := errors.New("rejected")
	err := handler.Permanent(base)

	assert.True(t, handler.IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.False(t, handler.IsPermanent(base))
	assert.Nil(t, handler.Permanent(nil))

	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, handler.IsPermanent(wrapped))
}

func TestTyped(t *testing.T) {
	type offer struct {
		Asset string `json:"asset"`
	}
	fn := handler.Typed(func(_ context.Context, _ *entity.Entity, p offer) (handler.Result, error) {
		return handler.Transition(entity.State(p.Asset), nil), nil
	})

	res, err := fn(context.Background(), &entity.Entity{Payload: []byte(`{"asset":"A1"}`)})
	require.NoError(t, err)
	assert.Equal(t, entity.State("A1"), res.Next)

	_, err = fn(context.Background(), &entity.Entity{Type: "negotiation", Payload: []byte(`{`)})
	require.Error(t, err)
	assert.True(t, handler.IsPermanent(err))
}
