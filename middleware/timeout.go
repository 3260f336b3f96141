package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

// Timeout returns middleware that enforces a per-invocation deadline.
// When d is positive a context.WithTimeout wraps the handler call; a
// handler that overruns should return context.DeadlineExceeded, which the
// engine treats as a retryable failure. A zero d disables the deadline.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, e *entity.Entity, next Handler) (handler.Result, error) {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		res, err := next(ctx)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			logger.Debug("handler deadline exceeded",
				slog.String("entity_id", e.ID.String()),
				slog.String("state", string(e.State)),
				slog.Duration("timeout", d),
			)
		}
		return res, err
	}
}
