package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/grove/migrate"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/store"
)

var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used to evaluate leases and eligibility.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (or creates) the database at path. ":memory:" yields a private
// in-memory database. The returned Store owns the handle and closes it on
// Close.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("connector/sqlite: path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connector/sqlite: open: %w", err)
	}
	// One writer at a time; ":memory:" also needs every query on the same
	// connection to see the same database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connector/sqlite: connect: %w", err)
	}

	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing *sql.DB opened with the "sqlite" driver. The caller
// owns the handle; Close does not close it.
func New(db *sql.DB, opts ...Option) *Store {
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

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	orch := migrate.NewOrchestrator(newExecutor(s.db), Migrations)
	res, err := orch.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("connector/sqlite: migration failed: %w", err)
	}
	for _, m := range res.Applied {
		s.logger.Info("applied migration", "name", m.Name, "version", m.Version)
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func (s *Store) Rollback(ctx context.Context) error {
	orch := migrate.NewOrchestrator(newExecutor(s.db), Migrations)
	if _, err := orch.Rollback(ctx); err != nil {
		return fmt.Errorf("connector/sqlite: rollback failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure.
func isUniqueViolation(err error) bool {
	var serr *msqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
}
