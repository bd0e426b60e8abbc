package blobstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/tendant/simple-blobstore/pkg/blobstore/location"
	"github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

// Metrics are aggregate usage figures for a store.
type Metrics = metricsstore.Metrics

// MetricsStore accumulates blob count and size for a started store.
// RecordAddition and RecordDeletion are called concurrently and must not
// block on I/O.
type MetricsStore interface {
	Start(ctx context.Context, bucket string, objects objectstore.ObjectStore) error
	Stop(ctx context.Context) error
	RecordAddition(size int64)
	RecordDeletion(size int64)
	Metrics() Metrics
	Remove(ctx context.Context, bucket string, objects objectstore.ObjectStore) error
}

// Option represents a functional option for configuring the store
type Option func(*Store)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObjectStoreFactory sets how Init builds the object-store client
func WithObjectStoreFactory(factory ObjectStoreFactory) Option {
	return func(s *Store) {
		s.factory = factory
	}
}

// WithLocationStrategies overrides the path strategies for permanent and
// temporary blobs
func WithLocationStrategies(permanent, temporary location.Strategy) Option {
	return func(s *Store) {
		if permanent != nil {
			s.paths.permanent = permanent
		}
		if temporary != nil {
			s.paths.temporary = temporary
		}
	}
}

// WithMetricsStore sets the metrics accumulator. The default keeps totals in
// a properties object inside the bucket.
func WithMetricsStore(metrics MetricsStore) Option {
	return func(s *Store) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}
