package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/store"
	mongostore "github.com/eclipse-edc/Connector-sub001/store/mongo"
	"github.com/eclipse-edc/Connector-sub001/store/storetest"
)

func TestConformance(t *testing.T) {
	uri := os.Getenv("CONNECTOR_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CONNECTOR_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T, c clock.Clock) store.Store {
		ctx := context.Background()
		database := "connector_test_" + id.NewInstanceID().String()

		s, err := mongostore.Connect(ctx, uri, database, mongostore.WithClock(c))
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.DB().Drop(ctx)
			_ = s.Close()
		})

		require.NoError(t, s.Migrate(ctx))
		return s
	})
}
