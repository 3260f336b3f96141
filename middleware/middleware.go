package middleware

import (
	"context"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

// Handler is the terminal function that runs the state handler.
type Handler func(ctx context.Context) (handler.Result, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the entity being processed, and the
// next handler to call.
type Middleware func(ctx context.Context, e *entity.Entity, next Handler) (handler.Result, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, e *entity.Entity, next Handler) (handler.Result, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (handler.Result, error) {
				return mw(ctx, e, prev)
			}
		}
		return h(ctx)
	}
}

// Outcome classifies a handler return for logs and metrics:
// "ok", "retryable" or "permanent".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case handler.IsPermanent(err):
		return "permanent"
	default:
		return "retryable"
	}
}
