package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/store"
	"github.com/eclipse-edc/Connector-sub001/store/postgres"
	"github.com/eclipse-edc/Connector-sub001/store/storetest"
)

func dsn(t *testing.T) string {
	t.Helper()
	v := os.Getenv("CONNECTOR_TEST_POSTGRES_DSN")
	if v == "" {
		t.Skip("CONNECTOR_TEST_POSTGRES_DSN not set")
	}
	return v
}

func TestConformance(t *testing.T) {
	conn := dsn(t)

	storetest.Run(t, func(t *testing.T, c clock.Clock) store.Store {
		ctx := context.Background()
		s, err := postgres.New(ctx, conn, postgres.WithClock(c))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		require.NoError(t, s.Migrate(ctx))
		_, err = s.Pool().Exec(ctx, `TRUNCATE connector_entities`)
		require.NoError(t, err)
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := postgres.New(ctx, dsn(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))

	var applied int
	require.NoError(t, s.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM grove_migrations WHERE "group" = 'connector'`).Scan(&applied))
	require.Equal(t, 1, applied)
}

func TestConcurrentMigrate(t *testing.T) {
	ctx := context.Background()
	conn := dsn(t)

	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			s, err := postgres.New(ctx, conn)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Migrate(ctx)
		})
	}
	require.NoError(t, g.Wait())
}
