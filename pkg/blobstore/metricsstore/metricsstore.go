// Package metricsstore accumulates blob count and total size for a blob
// store and periodically persists the deltas to a Backend.
package metricsstore

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
	"golang.org/x/sync/errgroup"
)

const defaultFlushInterval = 2 * time.Second

// Metrics are aggregate usage figures for a store.
type Metrics struct {
	BlobCount      int64 `json:"blob_count"`
	TotalSize      int64 `json:"total_size"`
	AvailableSpace int64 `json:"available_space"`
	Unlimited      bool  `json:"unlimited"`
}

// Totals is a persisted count/size pair, or a delta to apply to one.
type Totals struct {
	BlobCount int64
	TotalSize int64
}

// Scope identifies whose totals a backend reads or writes.
type Scope struct {
	Bucket  string
	Objects objectstore.ObjectStore
}

// Backend persists totals for a scope. Add must apply delta atomically with
// respect to other Add calls for the same scope.
type Backend interface {
	Load(ctx context.Context, scope Scope) (Totals, error)
	Add(ctx context.Context, scope Scope, delta Totals) error
	Remove(ctx context.Context, scope Scope) error
}

// Store keeps in-process totals and flushes pending deltas to its backend
// on a ticker. Record calls never block on I/O.
type Store struct {
	backend  Backend
	interval time.Duration
	logger   *slog.Logger

	blobCount    atomic.Int64
	totalSize    atomic.Int64
	pendingCount atomic.Int64
	pendingSize  atomic.Int64

	mu     sync.Mutex
	scope  Scope
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures a Store
type Option func(*Store)

// WithFlushInterval sets how often pending deltas are persisted
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger used for flush failures
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a metrics store over backend
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		interval: defaultFlushInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the persisted totals for bucket and begins flushing.
func (s *Store) Start(ctx context.Context, bucket string, objects objectstore.ObjectStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group != nil {
		return errors.New("metrics store already started")
	}

	scope := Scope{Bucket: bucket, Objects: objects}

	// Records that landed after the last Stop belong to the previous scope.
	leftover := s.scope
	if leftover.Bucket == "" {
		leftover = scope
	}
	if err := s.flush(ctx, leftover); err != nil {
		return err
	}

	totals, err := s.backend.Load(ctx, scope)
	if err != nil {
		return err
	}
	s.scope = scope
	s.blobCount.Store(totals.BlobCount)
	s.totalSize.Store(totals.TotalSize)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		s.flushLoop(loopCtx, scope)
		return nil
	})
	return nil
}

func (s *Store) flushLoop(ctx context.Context, scope Scope) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.flush(ctx, scope); err != nil {
				s.logger.Warn("failed to flush blob store metrics", "bucket", scope.Bucket, "err", err)
			}
		}
	}
}

// Stop halts the flush loop and persists anything still pending.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.group == nil {
		return nil
	}
	s.cancel()
	_ = s.group.Wait()
	s.group = nil
	s.cancel = nil

	return s.flush(ctx, s.scope)
}

// Flush persists pending deltas immediately.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	scope := s.scope
	s.mu.Unlock()
	return s.flush(ctx, scope)
}

func (s *Store) flush(ctx context.Context, scope Scope) error {
	delta := Totals{
		BlobCount: s.pendingCount.Swap(0),
		TotalSize: s.pendingSize.Swap(0),
	}
	if delta == (Totals{}) {
		return nil
	}
	if err := s.backend.Add(ctx, scope, delta); err != nil {
		s.pendingCount.Add(delta.BlobCount)
		s.pendingSize.Add(delta.TotalSize)
		return err
	}
	return nil
}

func (s *Store) RecordAddition(size int64) {
	s.record(1, size)
}

func (s *Store) RecordDeletion(size int64) {
	s.record(-1, -size)
}

func (s *Store) record(count, size int64) {
	s.blobCount.Add(count)
	s.totalSize.Add(size)
	s.pendingCount.Add(count)
	s.pendingSize.Add(size)
}

// Metrics returns the current totals. Object storage has no capacity limit.
func (s *Store) Metrics() Metrics {
	return Metrics{
		BlobCount:      s.blobCount.Load(),
		TotalSize:      s.totalSize.Load(),
		AvailableSpace: math.MaxInt64,
		Unlimited:      true,
	}
}

// Remove deletes the persisted totals for bucket.
func (s *Store) Remove(ctx context.Context, bucket string, objects objectstore.ObjectStore) error {
	return s.backend.Remove(ctx, Scope{Bucket: bucket, Objects: objects})
}
