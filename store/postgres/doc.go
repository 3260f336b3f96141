// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL. The schema is a grove migration group applied by Migrate.
//
// Lease acquisition and saves are single conditional UPDATE statements, so
// any number of connector instances may share one database. Timestamps are
// TIMESTAMPTZ and keep microsecond precision.
package postgres
