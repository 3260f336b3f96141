package entity

import (
	"context"
	"time"

	"github.com/eclipse-edc/Connector-sub001/id"
)

// ListOpts controls filtering and pagination for List.
type ListOpts struct {
	// Type filters by entity type. Empty means all types.
	Type Type
	// State filters by state. Empty means all states.
	State State
	// Limit is the maximum number of entities to return. Zero means no limit.
	Limit int
	// Offset is the number of entities to skip.
	Offset int
}

// SaveOptions carries optional preconditions for Save.
type SaveOptions struct {
	// Holder, when set, additionally requires the stored lease holder to
	// equal it, fencing out a writer whose lease was taken over.
	Holder string
}

// SaveOption configures a Save call.
type SaveOption func(*SaveOptions)

// HeldBy fences a save on the stored lease holder.
func HeldBy(holder string) SaveOption {
	return func(o *SaveOptions) { o.Holder = holder }
}

// ApplySaveOptions folds opts into a SaveOptions value. Backends call it.
func ApplySaveOptions(opts []SaveOption) SaveOptions {
	var o SaveOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is the persistence contract the process engine requires.
//
// Implementations must make TryAcquireLease and Save atomic with respect
// to the entity's version: a check-then-write split across two round trips
// is not compliant.
type Store interface {
	// Create persists a new entity at version 0. Returns
	// connector.ErrEntityExists if the ID is taken.
	Create(ctx context.Context, e *Entity) error

	// Get retrieves an entity by ID. Returns connector.ErrEntityNotFound.
	Get(ctx context.Context, entityID id.ID) (*Entity, error)

	// List returns entities matching opts ordered by creation time.
	List(ctx context.Context, opts ListOpts) ([]*Entity, error)

	// FindEligible returns up to limit entities of typ whose state is in
	// states, whose lease is free and whose state timestamp is not in the
	// future, ordered by state timestamp ascending (oldest first).
	FindEligible(ctx context.Context, typ Type, states []State, limit int) ([]*Entity, error)

	// TryAcquireLease atomically sets the lease to holder until now+ttl if
	// the stored version equals expectedVersion and the lease is free.
	// Losing the race returns false with a nil error. The version is not
	// changed. Returns connector.ErrEntityNotFound for unknown IDs.
	TryAcquireLease(ctx context.Context, entityID id.ID, holder string, ttl time.Duration, expectedVersion int64) (bool, error)

	// Save atomically writes e's mutable fields if the stored version
	// equals expectedVersion, and stores version expectedVersion+1. On
	// success e.Version and e.UpdatedAt are updated in place. Returns
	// connector.ErrVersionConflict if the precondition fails and
	// connector.ErrEntityNotFound for unknown IDs.
	Save(ctx context.Context, e *Entity, expectedVersion int64, opts ...SaveOption) error

	// Release clears the lease if it is held by holder. Best effort: a
	// mismatched holder is a no-op. The version is not changed.
	Release(ctx context.Context, entityID id.ID, holder string) error
}
