package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

// Logging returns middleware that logs handler start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *entity.Entity, next Handler) (handler.Result, error) {
		logger.Debug("handler started",
			slog.String("entity_id", e.ID.String()),
			slog.String("entity_type", string(e.Type)),
			slog.String("state", string(e.State)),
			slog.Int("attempt", e.AttemptCount+1),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("handler failed",
				slog.String("entity_id", e.ID.String()),
				slog.String("entity_type", string(e.Type)),
				slog.String("state", string(e.State)),
				slog.Duration("elapsed", elapsed),
				slog.String("outcome", Outcome(err)),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("handler completed",
				slog.String("entity_id", e.ID.String()),
				slog.String("entity_type", string(e.Type)),
				slog.String("state", string(e.State)),
				slog.String("next", string(res.Next)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return res, err
	}
}
