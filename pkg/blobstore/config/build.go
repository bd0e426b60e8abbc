package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/location"
	"github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore"
	ddbmetrics "github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore/dynamodb"
	pgmetrics "github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore/postgres"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore/memory"
	miniostore "github.com/tendant/simple-blobstore/pkg/blobstore/objectstore/minio"
	s3store "github.com/tendant/simple-blobstore/pkg/blobstore/objectstore/s3"
)

// Instance is an initialized, not yet started, blob store together with the
// resources built for it.
type Instance struct {
	Store   *blobstore.Store
	Metrics *metricsstore.Store

	closers []func()
}

// Close releases connections opened for the instance. It does not stop the store.
func (i *Instance) Close() {
	for _, c := range i.closers {
		c()
	}
	i.closers = nil
}

// BuildStore wires the object store, path layout and metrics backend, then
// runs Init against the configured bucket.
func (c *ServerConfig) BuildStore(ctx context.Context, logger *slog.Logger) (*Instance, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inst := &Instance{}

	backend, err := c.buildMetricsBackend(ctx, inst)
	if err != nil {
		inst.Close()
		return nil, fmt.Errorf("failed to build metrics backend: %w", err)
	}
	inst.Metrics = metricsstore.New(backend,
		metricsstore.WithFlushInterval(c.Metrics.FlushInterval),
		metricsstore.WithLogger(logger),
	)

	inst.Store = blobstore.New(
		blobstore.WithLogger(logger),
		blobstore.WithObjectStoreFactory(c.objectStoreFactory()),
		blobstore.WithLocationStrategies(c.permanentLayout(), location.Temporary{}),
		blobstore.WithMetricsStore(inst.Metrics),
	)

	if err := inst.Store.Init(ctx, c.Configuration()); err != nil {
		inst.Close()
		return nil, fmt.Errorf("failed to initialize blob store %s: %w", c.StoreName, err)
	}
	logger.Info("Blob store initialized", "store", c.StoreName, "backend", c.Backend, "bucket", c.S3.Bucket, "metrics", c.Metrics.Backend)
	return inst, nil
}

func (c *ServerConfig) objectStoreFactory() blobstore.ObjectStoreFactory {
	var factory blobstore.ObjectStoreFactory
	switch c.Backend {
	case BackendS3:
		factory = s3store.Factory{PartSize: c.S3.PartSize}
	case BackendMinio:
		factory = miniostore.Factory{}
	default:
		factory = blobstore.StaticObjectStore(memory.New())
	}

	if c.RateLimit <= 0 {
		return factory
	}
	rps, burst := c.RateLimit, c.RateBurst
	return blobstore.ObjectStoreFactoryFunc(func(ctx context.Context, cfg *blobstore.Configuration) (objectstore.ObjectStore, error) {
		objects, err := factory.Create(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return objectstore.NewRateLimited(objects, rps, burst), nil
	})
}

func (c *ServerConfig) permanentLayout() location.Strategy {
	if c.Layout == LayoutFlat {
		return location.StrategyFunc(func(id string) string { return id })
	}
	return location.VolumeChapter{}
}

func (c *ServerConfig) buildMetricsBackend(ctx context.Context, inst *Instance) (metricsstore.Backend, error) {
	switch c.Metrics.Backend {
	case MetricsObject:
		return metricsstore.NewObjectBackend(), nil
	case MetricsMemory:
		return metricsstore.NewMemoryBackend(), nil
	case MetricsDynamoDB:
		var opts []func(*awsconfig.LoadOptions) error
		if c.S3.Region != "" {
			opts = append(opts, awsconfig.WithRegion(c.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return ddbmetrics.New(dynamodb.NewFromConfig(awsCfg), c.Metrics.DynamoDBTable), nil
	case MetricsPostgres:
		pool, err := newPool(ctx, c.Metrics.DatabaseURL, c.Metrics.DBSchema)
		if err != nil {
			return nil, err
		}
		inst.closers = append(inst.closers, pool.Close)
		if err := pgmetrics.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		return pgmetrics.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported metrics backend: %s", c.Metrics.Backend)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
