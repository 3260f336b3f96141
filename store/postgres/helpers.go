package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/id"
)

// SQLSTATE codes the store translates into sentinels.
const codeUniqueViolation = "23505"

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

const entityColumns = `id, type, state, state_timestamp, version, lease_holder, lease_expiry,
	attempt_count, error_detail, payload, created_at, updated_at`

func scanEntity(row pgx.Row) (*entity.Entity, error) {
	var (
		e          entity.Entity
		rawID      string
		typ, state string
	)
	if err := row.Scan(
		&rawID, &typ, &state, &e.StateTimestamp, &e.Version, &e.LeaseHolder, &e.LeaseExpiry,
		&e.AttemptCount, &e.ErrorDetail, &e.Payload, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := id.Parse(rawID)
	if err != nil {
		return nil, err
	}
	e.ID = parsed
	e.Type = entity.Type(typ)
	e.State = entity.State(state)
	e.StateTimestamp = e.StateTimestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	e.LeaseExpiry = utcPtr(e.LeaseExpiry)
	return &e, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
