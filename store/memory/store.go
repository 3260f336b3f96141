// Package memory provides a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/store"
)

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to evaluate leases and eligibility.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store keeps entities in a map guarded by a single mutex; every
// compare-and-swap runs under the write lock.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*entity.Entity
	clock    clock.Clock
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entities: make(map[string]*entity.Entity),
		clock:    clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Entity store
// ──────────────────────────────────────────────────

// Create persists a new entity at version 0.
func (m *Store) Create(_ context.Context, e *entity.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.entities[key]; exists {
		return connector.ErrEntityExists
	}
	e.Version = 0
	m.entities[key] = e.Clone()
	return nil
}

// Get retrieves an entity by ID.
func (m *Store) Get(_ context.Context, entityID id.ID) (*entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[entityID.String()]
	if !ok {
		return nil, connector.ErrEntityNotFound
	}
	return e.Clone(), nil
}

// List returns entities matching opts ordered by creation time.
func (m *Store) List(_ context.Context, opts entity.ListOpts) ([]*entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*entity.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if opts.State != "" && e.State != opts.State {
			continue
		}
		result = append(result, e.Clone())
	}

	slices.SortFunc(result, func(a, b *entity.Entity) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a, b)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// FindEligible returns up to limit eligible entities of typ in states,
// oldest state timestamp first.
func (m *Store) FindEligible(_ context.Context, typ entity.Type, states []entity.State, limit int) ([]*entity.Entity, error) {
	if len(states) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	var candidates []*entity.Entity
	for _, e := range m.entities {
		if e.Type != typ || !slices.Contains(states, e.State) {
			continue
		}
		if !e.Eligible(now) {
			continue
		}
		candidates = append(candidates, e)
	}

	slices.SortFunc(candidates, func(a, b *entity.Entity) int {
		if c := a.StateTimestamp.Compare(b.StateTimestamp); c != 0 {
			return c
		}
		return compareIDs(a, b)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*entity.Entity, len(candidates))
	for i, e := range candidates {
		result[i] = e.Clone()
	}
	return result, nil
}

// TryAcquireLease sets the lease if the version matches and the lease is free.
func (m *Store) TryAcquireLease(_ context.Context, entityID id.ID, holder string, ttl time.Duration, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[entityID.String()]
	if !ok {
		return false, connector.ErrEntityNotFound
	}

	now := m.clock.Now()
	if e.Version != expectedVersion || !e.LeaseFree(now) {
		return false, nil
	}

	expiry := now.Add(ttl)
	e.LeaseHolder = holder
	e.LeaseExpiry = &expiry
	return true, nil
}

// Save writes e if the stored version equals expectedVersion.
func (m *Store) Save(_ context.Context, e *entity.Entity, expectedVersion int64, opts ...entity.SaveOption) error {
	o := entity.ApplySaveOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entities[e.ID.String()]
	if !ok {
		return connector.ErrEntityNotFound
	}
	if stored.Version != expectedVersion {
		return connector.ErrVersionConflict
	}
	if o.Holder != "" && stored.LeaseHolder != o.Holder {
		return connector.ErrVersionConflict
	}

	e.Version = expectedVersion + 1
	e.UpdatedAt = m.clock.Now()
	cp := e.Clone()
	cp.CreatedAt = stored.CreatedAt
	m.entities[e.ID.String()] = cp
	return nil
}

// Release clears the lease when held by holder.
func (m *Store) Release(_ context.Context, entityID id.ID, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[entityID.String()]
	if !ok {
		return connector.ErrEntityNotFound
	}
	if e.LeaseHolder == holder {
		e.ClearLease()
	}
	return nil
}

func compareIDs(a, b *entity.Entity) int {
	return a.ID.Compare(b.ID)
}
