package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the connector postgres store.
var Migrations = migrate.NewGroup("connector")

func init() {
	Migrations.MustRegister(
		// 001: entity table and scan indexes.
		&migrate.Migration{
			Name:    "create_entities_table",
			Version: "20240301120000",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
					CREATE TABLE IF NOT EXISTS connector_entities (
						id              TEXT PRIMARY KEY,
						type            TEXT NOT NULL,
						state           TEXT NOT NULL,
						state_timestamp TIMESTAMPTZ NOT NULL,
						version         BIGINT NOT NULL DEFAULT 0,
						lease_holder    TEXT NOT NULL DEFAULT '',
						lease_expiry    TIMESTAMPTZ,
						attempt_count   INTEGER NOT NULL DEFAULT 0,
						error_detail    TEXT NOT NULL DEFAULT '',
						payload         BYTEA,
						created_at      TIMESTAMPTZ NOT NULL,
						updated_at      TIMESTAMPTZ NOT NULL
					)`)
				if err != nil {
					return err
				}

				_, err = exec.Exec(ctx, `
					CREATE INDEX IF NOT EXISTS idx_connector_entities_eligible
						ON connector_entities (type, state, state_timestamp)`)
				if err != nil {
					return err
				}

				_, err = exec.Exec(ctx, `
					CREATE INDEX IF NOT EXISTS idx_connector_entities_created
						ON connector_entities (created_at, id)`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS connector_entities`)
				return err
			},
		},
	)
}
