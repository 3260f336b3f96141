package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/store"
)

var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used to evaluate leases and eligibility.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithKeyPrefix namespaces every key. The default is "connector:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client redis.Cmdable
	clock  clock.Clock
	logger *slog.Logger
	prefix string
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		clock:  clock.Real{},
		logger: slog.Default(),
		prefix: defaultKeyPrefix,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate loads the Lua scripts into the server script cache. Redis has no
// schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, script := range []*redis.Script{createScript, acquireScript, saveScript, releaseScript, findScript} {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
