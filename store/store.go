// Package store defines the aggregate persistence interface every backend
// implements: the entity contract plus schema and connection lifecycle.
package store

import (
	"context"

	"github.com/eclipse-edc/Connector-sub001/entity"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, sqlite, redis, mongo, memory) implements it.
type Store interface {
	entity.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
