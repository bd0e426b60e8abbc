package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore"
)

// RunTest runs testFunc against a migrated, empty metrics table. It skips
// unless TEST_DATABASE_URL names a reachable database.
func RunTest(t *testing.T, testFunc func(t *testing.T, pool *pgxpool.Pool)) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")
	defer pool.Close()
	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, "TRUNCATE blob_store_metrics")
	require.NoError(t, err, "Failed to truncate blob_store_metrics table")

	testFunc(t, pool)
}

func TestBackend(t *testing.T) {
	RunTest(t, func(t *testing.T, pool *pgxpool.Pool) {
		ctx := context.Background()
		backend := NewWithPool(pool)
		scope := metricsstore.Scope{Bucket: "bucket-a"}

		totals, err := backend.Load(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, metricsstore.Totals{}, totals)

		require.NoError(t, backend.Add(ctx, scope, metricsstore.Totals{BlobCount: 4, TotalSize: 40}))
		require.NoError(t, backend.Add(ctx, scope, metricsstore.Totals{BlobCount: -1, TotalSize: -15}))

		totals, err = backend.Load(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, metricsstore.Totals{BlobCount: 3, TotalSize: 25}, totals)

		require.NoError(t, backend.Remove(ctx, scope))
		totals, err = backend.Load(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, metricsstore.Totals{}, totals)
	})
}

func TestBackend_PersistsAcrossRestart(t *testing.T) {
	RunTest(t, func(t *testing.T, pool *pgxpool.Pool) {
		ctx := context.Background()

		first := metricsstore.New(NewWithPool(pool))
		require.NoError(t, first.Start(ctx, "bucket", nil))
		first.RecordAddition(12)
		first.RecordAddition(8)
		require.NoError(t, first.Stop(ctx))

		second := metricsstore.New(NewWithPool(pool))
		require.NoError(t, second.Start(ctx, "bucket", nil))
		defer second.Stop(ctx)

		m := second.Metrics()
		assert.Equal(t, int64(2), m.BlobCount)
		assert.Equal(t, int64(20), m.TotalSize)
	})
}
