package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/id"
)

const entityColumns = `id, type, state, state_timestamp, version, lease_holder, lease_expiry,
	attempt_count, error_detail, payload, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*entity.Entity, error) {
	var (
		e                            entity.Entity
		typ, state                   string
		stateTS, createdAt, updateAt int64
		leaseExpiry                  sql.NullInt64
	)
	if err := row.Scan(
		&e.ID, &typ, &state, &stateTS, &e.Version, &e.LeaseHolder, &leaseExpiry,
		&e.AttemptCount, &e.ErrorDetail, &e.Payload, &createdAt, &updateAt,
	); err != nil {
		return nil, err
	}
	e.Type = entity.Type(typ)
	e.State = entity.State(state)
	e.StateTimestamp = fromNanos(stateTS)
	e.CreatedAt = fromNanos(createdAt)
	e.UpdatedAt = fromNanos(updateAt)
	if leaseExpiry.Valid {
		t := fromNanos(leaseExpiry.Int64)
		e.LeaseExpiry = &t
	}
	return &e, nil
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

// Create persists a new entity at version 0.
func (s *Store) Create(ctx context.Context, e *entity.Entity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), string(e.State), toNanos(e.StateTimestamp),
		e.LeaseHolder, nullNanos(e.LeaseExpiry), e.AttemptCount, e.ErrorDetail, e.Payload,
		toNanos(e.CreatedAt), toNanos(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return connector.ErrEntityExists
		}
		return fmt.Errorf("connector/sqlite: create entity: %w", err)
	}
	e.Version = 0
	return nil
}

// Get retrieves an entity by ID.
func (s *Store) Get(ctx context.Context, entityID id.ID) (*entity.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM connector_entities WHERE id = ?`, entityID)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, connector.ErrEntityNotFound
		}
		return nil, fmt.Errorf("connector/sqlite: get entity: %w", err)
	}
	return e, nil
}

// List returns entities matching opts ordered by creation time.
func (s *Store) List(ctx context.Context, opts entity.ListOpts) ([]*entity.Entity, error) {
	var (
		where []string
		args  []any
	)
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(opts.State))
	}

	query := `SELECT ` + entityColumns + ` FROM connector_entities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	return s.query(ctx, "list entities", query, args...)
}

// FindEligible returns up to limit unleased, due entities of typ in states,
// oldest state timestamp first. A non-positive limit returns all of them.
func (s *Store) FindEligible(ctx context.Context, typ entity.Type, states []entity.State, limit int) ([]*entity.Entity, error) {
	if len(states) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	now := toNanos(s.clock.Now())
	args := make([]any, 0, len(states)+4)
	args = append(args, string(typ))
	for _, st := range states {
		args = append(args, string(st))
	}
	args = append(args, now, now, limit)

	query := `SELECT ` + entityColumns + ` FROM connector_entities
		WHERE type = ?
		  AND state IN (` + placeholders(len(states)) + `)
		  AND state_timestamp <= ?
		  AND (lease_holder = '' OR lease_expiry IS NULL OR lease_expiry <= ?)
		ORDER BY state_timestamp, id
		LIMIT ?`

	return s.query(ctx, "find eligible", query, args...)
}

// TryAcquireLease sets the lease in a single conditional UPDATE.
func (s *Store) TryAcquireLease(ctx context.Context, entityID id.ID, holder string, ttl time.Duration, expectedVersion int64) (bool, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE connector_entities
		SET lease_holder = ?, lease_expiry = ?
		WHERE id = ? AND version = ?
		  AND (lease_holder = '' OR lease_expiry IS NULL OR lease_expiry <= ?)`,
		holder, toNanos(now.Add(ttl)), entityID, expectedVersion, toNanos(now),
	)
	if err != nil {
		return false, fmt.Errorf("connector/sqlite: acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("connector/sqlite: acquire lease: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, entityID)
}

// Save writes e's mutable fields if the stored version equals
// expectedVersion, storing expectedVersion+1.
func (s *Store) Save(ctx context.Context, e *entity.Entity, expectedVersion int64, opts ...entity.SaveOption) error {
	o := entity.ApplySaveOptions(opts)
	now := s.clock.Now().UTC()

	query := `
		UPDATE connector_entities
		SET state = ?, state_timestamp = ?, version = ?, lease_holder = ?, lease_expiry = ?,
		    attempt_count = ?, error_detail = ?, payload = ?, updated_at = ?
		WHERE id = ? AND version = ?`
	args := []any{
		string(e.State), toNanos(e.StateTimestamp), expectedVersion + 1, e.LeaseHolder, nullNanos(e.LeaseExpiry),
		e.AttemptCount, e.ErrorDetail, e.Payload, toNanos(now),
		e.ID, expectedVersion,
	}
	if o.Holder != "" {
		query += " AND lease_holder = ?"
		args = append(args, o.Holder)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("connector/sqlite: save entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("connector/sqlite: save entity: %w", err)
	}
	if n == 0 {
		if err := s.mustExist(ctx, e.ID); err != nil {
			return err
		}
		return connector.ErrVersionConflict
	}

	e.Version = expectedVersion + 1
	e.UpdatedAt = now
	return nil
}

// Release clears the lease if holder owns it.
func (s *Store) Release(ctx context.Context, entityID id.ID, holder string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connector_entities SET lease_holder = '', lease_expiry = NULL
		WHERE id = ? AND lease_holder = ?`,
		entityID, holder,
	)
	if err != nil {
		return fmt.Errorf("connector/sqlite: release lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.mustExist(ctx, entityID)
}

// mustExist returns connector.ErrEntityNotFound when no row has entityID.
func (s *Store) mustExist(ctx context.Context, entityID id.ID) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM connector_entities WHERE id = ?`, entityID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return connector.ErrEntityNotFound
	case err != nil:
		return fmt.Errorf("connector/sqlite: lookup entity: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]*entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("connector/sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var out []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("connector/sqlite: %s: scan: %w", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connector/sqlite: %s: %w", op, err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
