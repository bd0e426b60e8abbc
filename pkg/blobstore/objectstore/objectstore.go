// Package objectstore defines the bucket-scoped object storage client used by
// the blob store, plus decorators shared by every backend.
package objectstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"
)

var (
	// ErrNotFound indicates an object does not exist
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound indicates a bucket does not exist
	ErrBucketNotFound = errors.New("bucket not found")
)

// ObjectStore defines the interface for object storage backends
type ObjectStore interface {
	// PutObject streams reader into bucket/key, replacing any existing object
	PutObject(ctx context.Context, bucket, key string, reader io.Reader) error

	// GetObject opens bucket/key for reading. Returns ErrNotFound if missing.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// ObjectExists reports whether bucket/key exists
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)

	// CopyObject copies an object server-side
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error

	// DeleteObject deletes bucket/key. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, key string) error

	// ListObjects lazily lists objects under prefix, fetching pages on demand.
	// Stopping the iteration stops the listing.
	ListObjects(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error]

	// BucketExists reports whether the bucket exists
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// CreateBucket creates the bucket
	CreateBucket(ctx context.Context, bucket string) error

	// DeleteBucket deletes the (empty) bucket
	DeleteBucket(ctx context.Context, bucket string) error
}

// ObjectInfo describes one listed object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// IsEmpty reports whether no object exists under prefix.
func IsEmpty(ctx context.Context, store ObjectStore, bucket, prefix string) (bool, error) {
	for _, err := range store.ListObjects(ctx, bucket, prefix) {
		if err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
