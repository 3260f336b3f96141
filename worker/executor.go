// Package worker provides the process engine: an Executor that runs one
// leased entity through middleware and its state handler and persists the
// three-way outcome, and a Manager that selects, leases and dispatches
// eligible entities onto a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/backoff"
	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/middleware"
	"github.com/eclipse-edc/Connector-sub001/statemachine"
)

// Outcome is what an execution did to the stored entity.
type Outcome int

const (
	// Transitioned means the handler result was saved.
	Transitioned Outcome = iota + 1
	// Retrying means the failure was saved and the entity rescheduled.
	Retrying
	// Failed means the entity was forced to its FAILED state.
	Failed
	// Abandoned means nothing was saved.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Transitioned:
		return "transitioned"
	case Retrying:
		return "retrying"
	case Failed:
		return "failed"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Abandon reasons reported to extensions.
const (
	ReasonConflict   = "version conflict"
	ReasonShutdown   = "shutdown"
	ReasonStoreError = "store error"
	ReasonUnknown    = "unknown type"
)

// Executor runs a single leased entity through middleware and its handler,
// then applies retry accounting, transition validation and persistence.
type Executor struct {
	store      entity.Store
	registry   *handler.Registry
	extensions *ext.Registry
	policy     backoff.Policy
	mw         middleware.Middleware
	clock      clock.Clock
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	store entity.Store,
	registry *handler.Registry,
	extensions *ext.Registry,
	policy backoff.Policy,
	clk clock.Clock,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		store:      store,
		registry:   registry,
		extensions: extensions,
		policy:     policy,
		mw:         middleware.Chain(mws...),
		clock:      clk,
		logger:     logger,
	}
}

// Execute runs the handler for e, which must be leased by holder at
// version e.Version, and persists exactly one of:
//
//   - the handler's transition, when it is a declared edge
//   - a rescheduled retry, when the failure is retryable and attempts remain
//   - the FAILED state, when attempts are spent, the error is permanent, or
//     the handler or transition is misconfigured
//
// If ctx is cancelled and the handler fails, the result is abandoned
// without consuming an attempt. Persistence is not bound to ctx.
func (x *Executor) Execute(ctx context.Context, e *entity.Entity, holder string) Outcome {
	pctx := context.WithoutCancel(ctx)

	d, ok := x.registry.Descriptor(e.Type)
	if !ok {
		x.logger.Error("no state machine for entity type",
			slog.String("entity_id", e.ID.String()),
			slog.String("entity_type", string(e.Type)),
		)
		return x.abandon(pctx, e, holder, ReasonUnknown, true)
	}

	fn, ok := x.registry.Lookup(e.Type, e.State)
	if !ok {
		cause := fmt.Errorf("%w: %s in state %s", connector.ErrNoHandler, e.Type, e.State)
		x.logger.Error("configuration error, forcing failed state",
			slog.String("entity_id", e.ID.String()),
			slog.String("entity_type", string(e.Type)),
			slog.String("state", string(e.State)),
			slog.String("error", cause.Error()),
		)
		return x.fail(pctx, e, d, holder, e.AttemptCount, cause)
	}

	start := x.clock.Now()
	work := e.Clone()
	res, err := x.mw(ctx, work, func(ctx context.Context) (handler.Result, error) {
		return fn(ctx, work)
	})

	if err != nil {
		if ctx.Err() != nil {
			x.logger.Info("handler interrupted by shutdown",
				slog.String("entity_id", e.ID.String()),
				slog.String("state", string(e.State)),
			)
			return x.abandon(pctx, e, holder, ReasonShutdown, false)
		}
		if handler.IsPermanent(err) {
			return x.fail(pctx, e, d, holder, e.AttemptCount, err)
		}
		return x.retry(pctx, e, d, holder, err)
	}

	if !d.CanTransition(e.State, res.Next) {
		cause := fmt.Errorf("%w: %s %s -> %q", connector.ErrInvalidTransition, e.Type, e.State, res.Next)
		x.logger.Error("configuration error, forcing failed state",
			slog.String("entity_id", e.ID.String()),
			slog.String("entity_type", string(e.Type)),
			slog.String("state", string(e.State)),
			slog.String("error", cause.Error()),
		)
		return x.fail(pctx, e, d, holder, e.AttemptCount, cause)
	}

	return x.transition(pctx, e, holder, res, start)
}

// transition persists a successful handler result.
func (x *Executor) transition(ctx context.Context, e *entity.Entity, holder string, res handler.Result, start time.Time) Outcome {
	now := x.clock.Now()
	next := e.Clone()
	next.State = res.Next
	next.StateTimestamp = now.Add(res.Delay)
	next.AttemptCount = 0
	next.ErrorDetail = ""
	if res.Payload != nil {
		next.Payload = res.Payload
	}
	next.ClearLease()

	if !x.save(ctx, next, e, holder) {
		return Abandoned
	}

	x.extensions.EmitEntityTransitioned(ctx, next, e.State, now.Sub(start))
	return Transitioned
}

// retry counts the failed attempt and either reschedules or fails.
func (x *Executor) retry(ctx context.Context, e *entity.Entity, d *statemachine.Descriptor, holder string, cause error) Outcome {
	attempt := e.AttemptCount + 1
	if x.policy.Exhausted(attempt) {
		exhausted := fmt.Errorf("%w after %d attempts: %w", connector.ErrRetriesExhausted, attempt, cause)
		return x.fail(ctx, e, d, holder, attempt, exhausted)
	}

	now := x.clock.Now()
	nextEligible := x.policy.NextEligible(now, attempt)

	next := e.Clone()
	next.AttemptCount = attempt
	next.StateTimestamp = nextEligible
	next.ClearLease()

	if !x.save(ctx, next, e, holder) {
		return Abandoned
	}

	x.logger.Warn("handler failed, retry scheduled",
		slog.String("entity_id", e.ID.String()),
		slog.String("entity_type", string(e.Type)),
		slog.String("state", string(e.State)),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", x.policy.MaxAttempts),
		slog.Duration("delay", nextEligible.Sub(now)),
		slog.String("error", cause.Error()),
	)
	x.extensions.EmitEntityRetrying(ctx, next, attempt, nextEligible, cause)
	return Retrying
}

// fail forces the designated FAILED state, which is reachable from every
// non-terminal state regardless of the transition table.
func (x *Executor) fail(ctx context.Context, e *entity.Entity, d *statemachine.Descriptor, holder string, attempts int, cause error) Outcome {
	next := e.Clone()
	next.State = d.Failed()
	next.StateTimestamp = x.clock.Now()
	next.AttemptCount = attempts
	next.ErrorDetail = cause.Error()
	next.ClearLease()

	if !x.save(ctx, next, e, holder) {
		return Abandoned
	}

	x.logger.Warn("entity failed",
		slog.String("entity_id", e.ID.String()),
		slog.String("entity_type", string(e.Type)),
		slog.String("from", string(e.State)),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	)
	x.extensions.EmitEntityFailed(ctx, next, cause)
	return Failed
}

// save writes next fenced on the leased version and holder. On failure the
// result is abandoned and the lease released.
func (x *Executor) save(ctx context.Context, next, leased *entity.Entity, holder string) bool {
	err := x.store.Save(ctx, next, leased.Version, entity.HeldBy(holder))
	if err == nil {
		return true
	}

	if errors.Is(err, connector.ErrVersionConflict) {
		x.logger.Warn("result abandoned, entity changed concurrently",
			slog.String("entity_id", leased.ID.String()),
			slog.String("state", string(leased.State)),
			slog.Int64("version", leased.Version),
		)
		x.abandon(ctx, leased, holder, ReasonConflict, true)
		return false
	}

	x.logger.Error("failed to save entity",
		slog.String("entity_id", leased.ID.String()),
		slog.String("state", string(leased.State)),
		slog.String("error", err.Error()),
	)
	x.abandon(ctx, leased, holder, ReasonStoreError, true)
	return false
}

// abandon reports a discarded result. When release is set the lease is
// returned early; otherwise it expires on its own.
func (x *Executor) abandon(ctx context.Context, e *entity.Entity, holder, reason string, release bool) Outcome {
	if release {
		if err := x.store.Release(ctx, e.ID, holder); err != nil {
			x.logger.Debug("lease release failed",
				slog.String("entity_id", e.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	x.extensions.EmitEntityAbandoned(ctx, e, reason)
	return Abandoned
}
