package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/id"
)

// now returns the store clock truncated to the column precision.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// Create persists a new entity at version 0.
func (s *Store) Create(ctx context.Context, e *entity.Entity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO connector_entities (`+entityColumns+`)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID.String(), string(e.Type), string(e.State), e.StateTimestamp.UTC(),
		e.LeaseHolder, e.LeaseExpiry, e.AttemptCount, e.ErrorDetail, e.Payload,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return connector.ErrEntityExists
		}
		return fmt.Errorf("connector/postgres: create entity: %w", err)
	}
	e.Version = 0
	return nil
}

// Get retrieves an entity by ID.
func (s *Store) Get(ctx context.Context, entityID id.ID) (*entity.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM connector_entities WHERE id = $1`, entityID.String())
	e, err := scanEntity(row)
	if err != nil {
		if isNoRows(err) {
			return nil, connector.ErrEntityNotFound
		}
		return nil, fmt.Errorf("connector/postgres: get entity: %w", err)
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
		args = append(args, string(opts.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if opts.State != "" {
		args = append(args, string(opts.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + entityColumns + ` FROM connector_entities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.query(ctx, "list entities", query, args...)
}

// FindEligible returns up to limit unleased, due entities of typ in states,
// oldest state timestamp first. A non-positive limit returns all of them.
func (s *Store) FindEligible(ctx context.Context, typ entity.Type, states []entity.State, limit int) ([]*entity.Entity, error) {
	if len(states) == 0 {
		return nil, nil
	}

	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}

	query := `SELECT ` + entityColumns + ` FROM connector_entities
		WHERE type = $1
		  AND state = ANY($2)
		  AND state_timestamp <= $3
		  AND (lease_holder = '' OR lease_expiry IS NULL OR lease_expiry <= $3)
		ORDER BY state_timestamp, id`
	args := []any{string(typ), names, s.now()}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	return s.query(ctx, "find eligible", query, args...)
}

// TryAcquireLease sets the lease in a single conditional UPDATE.
func (s *Store) TryAcquireLease(ctx context.Context, entityID id.ID, holder string, ttl time.Duration, expectedVersion int64) (bool, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE connector_entities
		SET lease_holder = $1, lease_expiry = $2
		WHERE id = $3 AND version = $4
		  AND (lease_holder = '' OR lease_expiry IS NULL OR lease_expiry <= $5)`,
		holder, now.Add(ttl), entityID.String(), expectedVersion, now,
	)
	if err != nil {
		return false, fmt.Errorf("connector/postgres: acquire lease: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, entityID)
}

// Save writes e's mutable fields if the stored version equals
// expectedVersion, storing expectedVersion+1.
func (s *Store) Save(ctx context.Context, e *entity.Entity, expectedVersion int64, opts ...entity.SaveOption) error {
	o := entity.ApplySaveOptions(opts)
	now := s.now()

	query := `
		UPDATE connector_entities
		SET state = $1, state_timestamp = $2, version = $3, lease_holder = $4, lease_expiry = $5,
		    attempt_count = $6, error_detail = $7, payload = $8, updated_at = $9
		WHERE id = $10 AND version = $11`
	args := []any{
		string(e.State), e.StateTimestamp.UTC(), expectedVersion + 1, e.LeaseHolder, e.LeaseExpiry,
		e.AttemptCount, e.ErrorDetail, e.Payload, now,
		e.ID.String(), expectedVersion,
	}
	if o.Holder != "" {
		query += " AND lease_holder = $12"
		args = append(args, o.Holder)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("connector/postgres: save entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE connector_entities SET lease_holder = '', lease_expiry = NULL
		WHERE id = $1 AND lease_holder = $2`,
		entityID.String(), holder,
	)
	if err != nil {
		return fmt.Errorf("connector/postgres: release lease: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.mustExist(ctx, entityID)
}

func (s *Store) mustExist(ctx context.Context, entityID id.ID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM connector_entities WHERE id = $1)`, entityID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("connector/postgres: lookup entity: %w", err)
	}
	if !exists {
		return connector.ErrEntityNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]*entity.Entity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("connector/postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("connector/postgres: %s: scan: %w", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connector/postgres: %s: %w", op, err)
	}
	return out, nil
}
