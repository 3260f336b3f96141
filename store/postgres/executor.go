package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/migrate"
)

// migrationLockKey is the advisory lock key held while migrating.
const migrationLockKey int64 = 0x636f6e6e6563746f // "connecto"

var (
	_ migrate.Executor      = (*executor)(nil)
	_ migrate.LockInspector = (*executor)(nil)
)

// querier is satisfied by both *pgxpool.Pool and *pgxpool.Conn.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// executor runs grove migrations over a pgx pool. While the migration
// lock is held every statement goes through the connection that took the
// session advisory lock, so the unlock happens on the same session.
type executor struct {
	pool      *pgxpool.Pool
	dedicated *pgxpool.Conn
}

func newExecutor(pool *pgxpool.Pool) *executor {
	return &executor{pool: pool}
}

func (e *executor) conn() querier {
	if e.dedicated != nil {
		return e.dedicated
	}
	return e.pool
}

func (e *executor) releaseDedicated() {
	if e.dedicated == nil {
		return
	}
	_, _ = e.dedicated.Exec(context.Background(), `SELECT pg_advisory_unlock_all()`)
	e.dedicated.Release()
	e.dedicated = nil
}

func (e *executor) Exec(ctx context.Context, query string, args ...any) (driver.Result, error) {
	tag, err := e.conn().Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return commandResult{tag: tag}, nil
}

func (e *executor) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.conn().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{Rows: rows}, nil
}

func (e *executor) EnsureMigrationTable(ctx context.Context) error {
	_, err := e.conn().Exec(ctx, migrate.MigrationTableSchema())
	return ignoreConcurrentCreate(err)
}

func (e *executor) EnsureLockTable(ctx context.Context) error {
	_, err := e.conn().Exec(ctx, migrate.MigrationLockTableSchema())
	return ignoreConcurrentCreate(err)
}

func (e *executor) AcquireLock(ctx context.Context, lockedBy string) error {
	c, err := e.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("connector/postgres: acquire migration conn: %w", err)
	}
	e.dedicated = c

	var acquired bool
	if err := c.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, migrationLockKey).Scan(&acquired); err != nil {
		e.releaseDedicated()
		return fmt.Errorf("connector/postgres: advisory lock: %w", err)
	}
	if !acquired {
		e.releaseDedicated()
		return fmt.Errorf("connector/postgres: %w", migrate.ErrLockHeld)
	}

	if _, err := c.Exec(ctx, `
		INSERT INTO `+migrate.MigrationLockTable+` (id, locked_at, locked_by)
		VALUES (1, NOW(), $1)
		ON CONFLICT (id) DO UPDATE SET locked_at = NOW(), locked_by = $1`, lockedBy); err != nil {
		e.releaseDedicated()
		return fmt.Errorf("connector/postgres: record lock holder: %w", err)
	}
	return nil
}

func (e *executor) ReleaseLock(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	_, _ = e.conn().Exec(ctx, `
		UPDATE `+migrate.MigrationLockTable+` SET locked_at = NULL, locked_by = NULL WHERE id = 1`)
	_, err := e.conn().Exec(ctx, `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	e.releaseDedicated()
	return err
}

func (e *executor) LockInfo(ctx context.Context) (*migrate.LockInfo, error) {
	var by, at *string
	err := e.conn().QueryRow(ctx, `
		SELECT locked_by, locked_at::text FROM `+migrate.MigrationLockTable+` WHERE id = 1`,
	).Scan(&by, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return &migrate.LockInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connector/postgres: read lock info: %w", err)
	}
	info := &migrate.LockInfo{Held: by != nil}
	if by != nil {
		info.LockedBy = *by
	}
	if at != nil {
		info.LockedAt = *at
	}
	return info, nil
}

func (e *executor) ListApplied(ctx context.Context) ([]*migrate.AppliedMigration, error) {
	rows, err := e.conn().Query(ctx, `
		SELECT id, version, name, "group", migrated_at::text
		FROM `+migrate.MigrationTable+` ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []*migrate.AppliedMigration
	for rows.Next() {
		a := &migrate.AppliedMigration{}
		if err := rows.Scan(&a.ID, &a.Version, &a.Name, &a.Group, &a.MigratedAt); err != nil {
			return nil, fmt.Errorf("connector/postgres: scan applied migration: %w", err)
		}
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

func (e *executor) RecordApplied(ctx context.Context, m *migrate.Migration) error {
	_, err := e.conn().Exec(ctx, `
		INSERT INTO `+migrate.MigrationTable+` (version, name, "group") VALUES ($1, $2, $3)`,
		m.Version, m.Name, m.Group)
	return err
}

func (e *executor) RemoveApplied(ctx context.Context, m *migrate.Migration) error {
	_, err := e.conn().Exec(ctx, `
		DELETE FROM `+migrate.MigrationTable+` WHERE version = $1 AND "group" = $2`,
		m.Version, m.Group)
	return err
}

// ignoreConcurrentCreate treats the unique violation raised by two
// sessions racing CREATE TABLE IF NOT EXISTS as success.
func ignoreConcurrentCreate(err error) error {
	if isDuplicateKey(err) {
		return nil
	}
	return err
}

// commandResult adapts a pgconn.CommandTag to driver.Result.
type commandResult struct {
	tag pgconn.CommandTag
}

func (r commandResult) RowsAffected() (int64, error) { return r.tag.RowsAffected(), nil }

func (r commandResult) LastInsertId() (int64, error) {
	return 0, errors.New("connector/postgres: LastInsertId is not supported")
}

// pgxRows adapts pgx.Rows to driver.Rows.
type pgxRows struct {
	pgx.Rows
}

func (r *pgxRows) Columns() ([]string, error) {
	fields := r.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names, nil
}

func (r *pgxRows) Close() error {
	r.Rows.Close()
	return r.Rows.Err()
}
