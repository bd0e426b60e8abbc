package memory

import (
	"bytes"
	"context"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

type object struct {
	data         []byte
	lastModified time.Time
}

// Backend is an in-memory implementation of the objectstore.ObjectStore interface
type Backend struct {
	mu      sync.RWMutex
	buckets map[string]map[string]object
}

// New creates a new in-memory object store
func New() *Backend {
	return &Backend{
		buckets: make(map[string]map[string]object),
	}
}

// PutObject reads the whole reader and stores it under bucket/key
func (b *Backend) PutObject(ctx context.Context, bucket, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	objects, ok := b.buckets[bucket]
	if !ok {
		return objectstore.ErrBucketNotFound
	}
	objects[key] = object{data: data, lastModified: time.Now().UTC()}
	return nil
}

// GetObject returns a reader over the stored bytes
func (b *Backend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, err := b.lookup(bucket, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// ObjectExists reports whether bucket/key exists
func (b *Backend) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.buckets[bucket]; !ok {
		return false, objectstore.ErrBucketNotFound
	}
	_, ok := b.buckets[bucket][key]
	return ok, nil
}

// CopyObject copies bucket/key to another location
func (b *Backend) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, err := b.lookup(srcBucket, srcKey)
	if err != nil {
		return err
	}
	dst, ok := b.buckets[dstBucket]
	if !ok {
		return objectstore.ErrBucketNotFound
	}
	dst[dstKey] = object{data: src.data, lastModified: time.Now().UTC()}
	return nil
}

// DeleteObject removes bucket/key; missing objects are ignored
func (b *Backend) DeleteObject(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	objects, ok := b.buckets[bucket]
	if !ok {
		return objectstore.ErrBucketNotFound
	}
	delete(objects, key)
	return nil
}

// ListObjects lists a sorted snapshot of keys under prefix
func (b *Backend) ListObjects(ctx context.Context, bucket, prefix string) iter.Seq2[objectstore.ObjectInfo, error] {
	return func(yield func(objectstore.ObjectInfo, error) bool) {
		b.mu.RLock()
		objects, ok := b.buckets[bucket]
		if !ok {
			b.mu.RUnlock()
			yield(objectstore.ObjectInfo{}, objectstore.ErrBucketNotFound)
			return
		}
		infos := make([]objectstore.ObjectInfo, 0, len(objects))
		for key, obj := range objects {
			if strings.HasPrefix(key, prefix) {
				infos = append(infos, objectstore.ObjectInfo{
					Key:          key,
					Size:         int64(len(obj.data)),
					LastModified: obj.lastModified,
				})
			}
		}
		b.mu.RUnlock()

		slices.SortFunc(infos, func(a, b objectstore.ObjectInfo) int {
			return strings.Compare(a.Key, b.Key)
		})
		for _, info := range infos {
			if err := ctx.Err(); err != nil {
				yield(objectstore.ObjectInfo{}, err)
				return
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

// BucketExists reports whether the bucket exists
func (b *Backend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.buckets[bucket]
	return ok, nil
}

// CreateBucket creates the bucket if it doesn't exist
func (b *Backend) CreateBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.buckets[bucket]; !ok {
		b.buckets[bucket] = make(map[string]object)
	}
	return nil
}

// DeleteBucket deletes the bucket including any remaining objects
func (b *Backend) DeleteBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.buckets[bucket]; !ok {
		return objectstore.ErrBucketNotFound
	}
	delete(b.buckets, bucket)
	return nil
}

// Len returns the number of objects in bucket
func (b *Backend) Len(bucket string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buckets[bucket])
}

func (b *Backend) lookup(bucket, key string) (object, error) {
	objects, ok := b.buckets[bucket]
	if !ok {
		return object{}, objectstore.ErrBucketNotFound
	}
	obj, ok := objects[key]
	if !ok {
		return object{}, objectstore.ErrNotFound
	}
	return obj, nil
}
