package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/regdocs/regdocs/internal/database"
	"github.com/regdocs/regdocs/internal/document/repository"
	"github.com/regdocs/regdocs/internal/document/repository/storetest"
)

// Needs a replica set, e.g. MONGODB_TEST_URI=mongodb://localhost:27017/?replicaSet=rs0
func TestMongoRepoConformance(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := database.ConnectMongo(ctx, uri, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	storetest.TestStore(t, func(t *testing.T) repository.Store {
		db := client.Database("regdocs_test_" + uuid.NewString()[:8])
		t.Cleanup(func() { _ = db.Drop(context.Background()) })
		r, err := repository.NewMongoRepo(ctx, db)
		require.NoError(t, err)
		return r
	})
}
