package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to retryable errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *entity.Entity, next Handler) (res handler.Result, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panicked",
					slog.String("entity_id", e.ID.String()),
					slog.String("entity_type", string(e.Type)),
					slog.String("state", string(e.State)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				res = handler.Result{}
				retErr = fmt.Errorf("panic in %s handler for state %s: %v", e.Type, e.State, r)
			}
		}()
		return next(ctx)
	}
}
