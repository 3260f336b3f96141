package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/eclipse-edc/Connector-sub001/entity"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type entityCreatedEntry struct {
	name string
	hook EntityCreated
}

type entityLeasedEntry struct {
	name string
	hook EntityLeased
}

type entityTransitionedEntry struct {
	name string
	hook EntityTransitioned
}

type entityRetryingEntry struct {
	name string
	hook EntityRetrying
}

type entityFailedEntry struct {
	name string
	hook EntityFailed
}

type entityAbandonedEntry struct {
	name string
	hook EntityAbandoned
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register is not safe to call concurrently with the emitters; register
// every extension before the engine starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	created      []entityCreatedEntry
	leased       []entityLeasedEntry
	transitioned []entityTransitionedEntry
	retrying     []entityRetryingEntry
	failed       []entityFailedEntry
	abandoned    []entityAbandonedEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(EntityCreated); ok {
		r.created = append(r.created, entityCreatedEntry{name, h})
	}
	if h, ok := e.(EntityLeased); ok {
		r.leased = append(r.leased, entityLeasedEntry{name, h})
	}
	if h, ok := e.(EntityTransitioned); ok {
		r.transitioned = append(r.transitioned, entityTransitionedEntry{name, h})
	}
	if h, ok := e.(EntityRetrying); ok {
		r.retrying = append(r.retrying, entityRetryingEntry{name, h})
	}
	if h, ok := e.(EntityFailed); ok {
		r.failed = append(r.failed, entityFailedEntry{name, h})
	}
	if h, ok := e.(EntityAbandoned); ok {
		r.abandoned = append(r.abandoned, entityAbandonedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Entity event emitters
// ──────────────────────────────────────────────────

// EmitEntityCreated notifies all extensions that implement EntityCreated.
func (r *Registry) EmitEntityCreated(ctx context.Context, e *entity.Entity) {
	for _, x := range r.created {
		if err := x.hook.OnEntityCreated(ctx, e); err != nil {
			r.logHookError("OnEntityCreated", x.name, err)
		}
	}
}

// EmitEntityLeased notifies all extensions that implement EntityLeased.
func (r *Registry) EmitEntityLeased(ctx context.Context, e *entity.Entity) {
	for _, x := range r.leased {
		if err := x.hook.OnEntityLeased(ctx, e); err != nil {
			r.logHookError("OnEntityLeased", x.name, err)
		}
	}
}

// EmitEntityTransitioned notifies all extensions that implement
// EntityTransitioned.
func (r *Registry) EmitEntityTransitioned(ctx context.Context, e *entity.Entity, from entity.State, elapsed time.Duration) {
	for _, x := range r.transitioned {
		if err := x.hook.OnEntityTransitioned(ctx, e, from, elapsed); err != nil {
			r.logHookError("OnEntityTransitioned", x.name, err)
		}
	}
}

// EmitEntityRetrying notifies all extensions that implement EntityRetrying.
func (r *Registry) EmitEntityRetrying(ctx context.Context, e *entity.Entity, attempt int, nextEligibleAt time.Time, cause error) {
	for _, x := range r.retrying {
		if err := x.hook.OnEntityRetrying(ctx, e, attempt, nextEligibleAt, cause); err != nil {
			r.logHookError("OnEntityRetrying", x.name, err)
		}
	}
}

// EmitEntityFailed notifies all extensions that implement EntityFailed.
func (r *Registry) EmitEntityFailed(ctx context.Context, e *entity.Entity, cause error) {
	for _, x := range r.failed {
		if err := x.hook.OnEntityFailed(ctx, e, cause); err != nil {
			r.logHookError("OnEntityFailed", x.name, err)
		}
	}
}

// EmitEntityAbandoned notifies all extensions that implement
// EntityAbandoned.
func (r *Registry) EmitEntityAbandoned(ctx context.Context, e *entity.Entity, reason string) {
	for _, x := range r.abandoned {
		if err := x.hook.OnEntityAbandoned(ctx, e, reason); err != nil {
			r.logHookError("OnEntityAbandoned", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, x := range r.shutdown {
		if err := x.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", x.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
