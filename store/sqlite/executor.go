package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/migrate"
)

var (
	_ migrate.Executor      = (*executor)(nil)
	_ migrate.LockInspector = (*executor)(nil)
)

// executor runs grove migrations against a *sql.DB. The lock is a single
// row in the lock table; a non-NULL locked_by means it is held.
type executor struct {
	db *sql.DB
}

func newExecutor(db *sql.DB) *executor {
	return &executor{db: db}
}

func (e *executor) Exec(ctx context.Context, query string, args ...any) (driver.Result, error) {
	return e.db.ExecContext(ctx, query, args...)
}

func (e *executor) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *executor) EnsureMigrationTable(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrate.MigrationTable+` (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			version     TEXT NOT NULL,
			name        TEXT NOT NULL,
			"group"     TEXT NOT NULL,
			migrated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			UNIQUE(version, "group")
		)`)
	return err
}

func (e *executor) EnsureLockTable(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrate.MigrationLockTable+` (
			id        INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			locked_at TEXT,
			locked_by TEXT
		)`)
	return err
}

func (e *executor) AcquireLock(ctx context.Context, lockedBy string) error {
	res, err := e.db.ExecContext(ctx, `
		INSERT INTO `+migrate.MigrationLockTable+` (id, locked_at, locked_by)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE
			SET locked_at = excluded.locked_at, locked_by = excluded.locked_by
			WHERE `+migrate.MigrationLockTable+`.locked_by IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), lockedBy)
	if err != nil {
		return fmt.Errorf("connector/sqlite: acquire migration lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("connector/sqlite: acquire migration lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("connector/sqlite: %w", migrate.ErrLockHeld)
	}
	return nil
}

func (e *executor) ReleaseLock(ctx context.Context) error {
	_, err := e.db.ExecContext(context.WithoutCancel(ctx), `
		UPDATE `+migrate.MigrationLockTable+`
		SET locked_at = NULL, locked_by = NULL WHERE id = 1`)
	return err
}

func (e *executor) LockInfo(ctx context.Context) (*migrate.LockInfo, error) {
	var by, at sql.NullString
	err := e.db.QueryRowContext(ctx, `
		SELECT locked_by, locked_at FROM `+migrate.MigrationLockTable+` WHERE id = 1`,
	).Scan(&by, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return &migrate.LockInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connector/sqlite: read lock info: %w", err)
	}
	return &migrate.LockInfo{Held: by.Valid, LockedBy: by.String, LockedAt: at.String}, nil
}

func (e *executor) ListApplied(ctx context.Context) ([]*migrate.AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, version, name, "group", migrated_at
		FROM `+migrate.MigrationTable+` ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var applied []*migrate.AppliedMigration
	for rows.Next() {
		a := &migrate.AppliedMigration{}
		if err := rows.Scan(&a.ID, &a.Version, &a.Name, &a.Group, &a.MigratedAt); err != nil {
			return nil, fmt.Errorf("connector/sqlite: scan applied migration: %w", err)
		}
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

func (e *executor) RecordApplied(ctx context.Context, m *migrate.Migration) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO `+migrate.MigrationTable+` (version, name, "group") VALUES (?, ?, ?)`,
		m.Version, m.Name, m.Group)
	return err
}

func (e *executor) RemoveApplied(ctx context.Context, m *migrate.Migration) error {
	_, err := e.db.ExecContext(ctx, `
		DELETE FROM `+migrate.MigrationTable+` WHERE version = ? AND "group" = ?`,
		m.Version, m.Group)
	return err
}
