package ext

import (
	"context"
	"time"

	"github.com/eclipse-edc/Connector-sub001/entity"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Entity lifecycle hooks
// ──────────────────────────────────────────────────

// EntityCreated is called after an entity is persisted.
type EntityCreated interface {
	OnEntityCreated(ctx context.Context, e *entity.Entity) error
}

// EntityLeased is called when a worker acquires an entity's lease.
type EntityLeased interface {
	OnEntityLeased(ctx context.Context, e *entity.Entity) error
}

// EntityTransitioned is called after a handler result is saved. e is
// already in its new state; from is the state the handler ran for.
type EntityTransitioned interface {
	OnEntityTransitioned(ctx context.Context, e *entity.Entity, from entity.State, elapsed time.Duration) error
}

// EntityRetrying is called when a failed entity keeps its state and is
// rescheduled for nextEligibleAt. cause is the handler error; it is not
// persisted on the entity.
type EntityRetrying interface {
	OnEntityRetrying(ctx context.Context, e *entity.Entity, attempt int, nextEligibleAt time.Time, cause error) error
}

// EntityFailed is called when an entity is forced to its FAILED state.
type EntityFailed interface {
	OnEntityFailed(ctx context.Context, e *entity.Entity, err error) error
}

// EntityAbandoned is called when a worker discards its result without
// persisting it.
type EntityAbandoned interface {
	OnEntityAbandoned(ctx context.Context, e *entity.Entity, reason string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
