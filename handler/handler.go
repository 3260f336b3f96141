// Package handler defines the unit of business logic that advances an entity
// out of one state, and the registry that maps every non-terminal state of
// every entity type to exactly one handler.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eclipse-edc/Connector-sub001/entity"
)

// Func advances e out of its current state. It receives a copy of the
// entity; mutations other than through the returned Result are discarded.
//
// Returning an error is a retryable failure unless it is wrapped with
// Permanent.
type Func func(ctx context.Context, e *entity.Entity) (Result, error)

// Result is a successful handler outcome: the next state and, optionally,
// an updated payload and a delay before the entity becomes eligible again.
type Result struct {
	// Next is the state to move to. It must be a declared edge.
	Next entity.State
	// Payload replaces the entity payload. Nil keeps the current payload.
	Payload []byte
	// Delay pushes the new state timestamp into the future.
	Delay time.Duration
}

// Transition moves to next with an optional new payload.
func Transition(next entity.State, payload []byte) Result {
	return Result{Next: next, Payload: payload}
}

// TransitionAfter moves to next but keeps the entity ineligible for delay.
func TransitionAfter(next entity.State, payload []byte, delay time.Duration) Result {
	return Result{Next: next, Payload: payload, Delay: delay}
}

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as a business or validation failure: the engine forces
// the entity to FAILED immediately instead of spending its retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent anywhere in its
// chain.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Typed adapts a handler over a JSON payload of type T. A payload that does
// not decode into T is a permanent failure.
func Typed[T any](fn func(ctx context.Context, e *entity.Entity, payload T) (Result, error)) Func {
	return func(ctx context.Context, e *entity.Entity) (Result, error) {
		var p T
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return Result{}, Permanent(fmt.Errorf("decode %s payload: %w", e.Type, err))
			}
		}
		return fn(ctx, e, p)
	}
}

// Encode marshals a typed payload for a Result, wrapping encode failures as
// permanent.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode payload: %w", err))
	}
	return b, nil
}
