package metricsstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/tendant/simple-blobstore/internal/propfile"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

const (
	metricsSuffix = "-metrics.properties"
	blobCountKey  = "blobCount"
	totalSizeKey  = "totalSize"
)

// ObjectBackend keeps totals in "<bucket>-metrics.properties" at the root of
// the bucket itself. Updates are read-modify-write, so a bucket must have a
// single writing process.
type ObjectBackend struct {
	mu sync.Mutex
}

// NewObjectBackend returns a backend storing totals inside the bucket
func NewObjectBackend() *ObjectBackend {
	return &ObjectBackend{}
}

func (b *ObjectBackend) file(scope Scope) (*propfile.File, error) {
	if scope.Objects == nil {
		return nil, errors.New("object backend requires an object store")
	}
	return propfile.New(scope.Objects, scope.Bucket, scope.Bucket+metricsSuffix), nil
}

func (b *ObjectBackend) Load(ctx context.Context, scope Scope) (Totals, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx, scope)
}

func (b *ObjectBackend) load(ctx context.Context, scope Scope) (Totals, error) {
	f, err := b.file(scope)
	if err != nil {
		return Totals{}, err
	}
	if err := f.Load(ctx); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return Totals{}, nil
		}
		return Totals{}, err
	}

	var totals Totals
	if totals.BlobCount, err = parseInt(f, blobCountKey); err != nil {
		return Totals{}, err
	}
	if totals.TotalSize, err = parseInt(f, totalSizeKey); err != nil {
		return Totals{}, err
	}
	return totals, nil
}

func (b *ObjectBackend) Add(ctx context.Context, scope Scope, delta Totals) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	totals, err := b.load(ctx, scope)
	if err != nil {
		return err
	}
	f, err := b.file(scope)
	if err != nil {
		return err
	}
	f.Set(blobCountKey, strconv.FormatInt(totals.BlobCount+delta.BlobCount, 10))
	f.Set(totalSizeKey, strconv.FormatInt(totals.TotalSize+delta.TotalSize, 10))
	return f.Store(ctx)
}

func (b *ObjectBackend) Remove(ctx context.Context, scope Scope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := b.file(scope)
	if err != nil {
		return err
	}
	return f.Remove(ctx)
}

func parseInt(f *propfile.File, key string) (int64, error) {
	raw, ok := f.Get(key)
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s in %s: %w", key, f, err)
	}
	return v, nil
}

// MemoryBackend keeps totals in process, keyed by bucket
type MemoryBackend struct {
	mu     sync.Mutex
	totals map[string]Totals
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{totals: make(map[string]Totals)}
}

func (b *MemoryBackend) Load(ctx context.Context, scope Scope) (Totals, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totals[scope.Bucket], nil
}

func (b *MemoryBackend) Add(ctx context.Context, scope Scope, delta Totals) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.totals[scope.Bucket]
	t.BlobCount += delta.BlobCount
	t.TotalSize += delta.TotalSize
	b.totals[scope.Bucket] = t
	return nil
}

func (b *MemoryBackend) Remove(ctx context.Context, scope Scope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.totals, scope.Bucket)
	return nil
}
