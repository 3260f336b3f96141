package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/store"
)

const colEntities = "connector_entities"

var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock sets the clock used to evaluate leases and eligibility.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// New creates a store on an existing database handle. The caller owns the
// client lifecycle; Close does not disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a store on database. The returned Store owns
// the client and disconnects it on Close.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connector/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("connector/mongo: ping: %w", err)
	}

	s := New(client.Database(database), opts...)
	s.client = client
	return s, nil
}

// DB returns the underlying database handle for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the entity collection indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.entities().Indexes().CreateMany(ctx, []mongod.IndexModel{
		// Eligibility scan: type + state + state timestamp.
		{Keys: bson.D{
			{Key: "type", Value: 1},
			{Key: "state", Value: 1},
			{Key: "state_ts", Value: 1},
		}},
		// List ordering.
		{Keys: bson.D{
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		}},
	})
	if err != nil {
		return fmt.Errorf("connector/mongo: migrate %s indexes: %w", colEntities, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client if the Store dialed it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) entities() *mongod.Collection {
	return s.db.Collection(colEntities)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}
