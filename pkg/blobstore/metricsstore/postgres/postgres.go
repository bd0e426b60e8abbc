// Package postgres persists blob store metrics in a PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS blob_store_metrics (
	bucket     VARCHAR(255) PRIMARY KEY,
	blob_count BIGINT NOT NULL DEFAULT 0,
	total_size BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
)`

// Migrate creates the metrics table if it does not exist
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return handlePostgresError("migrate", err)
	}
	return nil
}

// Backend implements metricsstore.Backend using PostgreSQL
type Backend struct {
	db DBTX
}

var _ metricsstore.Backend = (*Backend)(nil)

// New creates a new PostgreSQL metrics backend
func New(db DBTX) *Backend {
	return &Backend{db: db}
}

// NewWithPool creates a new PostgreSQL metrics backend with connection pool
func NewWithPool(pool *pgxpool.Pool) *Backend {
	return &Backend{db: pool}
}

func (b *Backend) Load(ctx context.Context, scope metricsstore.Scope) (metricsstore.Totals, error) {
	var totals metricsstore.Totals
	err := b.db.QueryRow(ctx,
		`SELECT blob_count, total_size FROM blob_store_metrics WHERE bucket = $1`,
		scope.Bucket,
	).Scan(&totals.BlobCount, &totals.TotalSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return metricsstore.Totals{}, nil
		}
		return metricsstore.Totals{}, handlePostgresError("load metrics", err)
	}
	return totals, nil
}

func (b *Backend) Add(ctx context.Context, scope metricsstore.Scope, delta metricsstore.Totals) error {
	query := `
		INSERT INTO blob_store_metrics (bucket, blob_count, total_size, updated_at)
		VALUES ($1, $2, $3, now() AT TIME ZONE 'utc')
		ON CONFLICT (bucket) DO UPDATE SET
			blob_count = blob_store_metrics.blob_count + EXCLUDED.blob_count,
			total_size = blob_store_metrics.total_size + EXCLUDED.total_size,
			updated_at = EXCLUDED.updated_at`

	if _, err := b.db.Exec(ctx, query, scope.Bucket, delta.BlobCount, delta.TotalSize); err != nil {
		return handlePostgresError("add metrics", err)
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, scope metricsstore.Scope) error {
	if _, err := b.db.Exec(ctx, `DELETE FROM blob_store_metrics WHERE bucket = $1`, scope.Bucket); err != nil {
		return handlePostgresError("remove metrics", err)
	}
	return nil
}

func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}
