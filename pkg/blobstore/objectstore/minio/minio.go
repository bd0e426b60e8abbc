// Package minio implements objectstore.ObjectStore for MinIO and other
// S3-compatible services using minio-go.
package minio

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

// Store implements objectstore.ObjectStore over a minio client.
type Store struct {
	client *minio.Client
	region string
}

// New wraps client. region is used when creating buckets.
func New(client *minio.Client, region string) *Store {
	return &Store{client: client, region: region}
}

// PutObject streams reader with an unknown size; minio-go switches to a
// multipart upload as needed.
func (s *Store) PutObject(ctx context.Context, bucket, key string, reader io.Reader) error {
	_, err := s.client.PutObject(ctx, bucket, key, reader, -1, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, classify(err))
	}
	return nil
}

// GetObject opens the object. minio-go fetches lazily, so the object is
// stat'ed first to surface a missing key here rather than on first read.
func (s *Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, classify(err))
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			return nil, objectstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, classify(err))
	}
	return obj, nil
}

func (s *Store) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, classify(err))
}

func (s *Store) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		if isNotFound(err) {
			return objectstore.ErrNotFound
		}
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, classify(err))
	}
	return nil
}

func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, classify(err))
	}
	return nil
}

// ListObjects walks the listing channel. Breaking out of the loop cancels
// the listing goroutine inside minio-go.
func (s *Store) ListObjects(ctx context.Context, bucket, prefix string) iter.Seq2[objectstore.ObjectInfo, error] {
	return func(yield func(objectstore.ObjectInfo, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				yield(objectstore.ObjectInfo{}, fmt.Errorf("failed to list %s: %w", prefix, classify(obj.Err)))
				return
			}
			info := objectstore.ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				ETag:         obj.ETag,
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

func (s *Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	return exists, nil
}

func (s *Store) CreateBucket(ctx context.Context, bucket string) error {
	err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *Store) DeleteBucket(ctx context.Context, bucket string) error {
	if err := s.client.RemoveBucket(ctx, bucket); err != nil {
		return fmt.Errorf("failed to delete bucket %s: %w", bucket, classify(err))
	}
	return nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func classify(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return fmt.Errorf("%w: %w", objectstore.ErrBucketNotFound, err)
	}
	return err
}

// Factory builds minio stores from the "s3" attributes of a blob store
// configuration. The endpoint attribute is required; its scheme selects TLS.
type Factory struct{}

var _ blobstore.ObjectStoreFactory = Factory{}

func (Factory) Create(ctx context.Context, cfg *blobstore.Configuration) (objectstore.ObjectStore, error) {
	attrs := cfg.Attributes(blobstore.ConfigKey)

	raw, err := attrs.Require(blobstore.EndpointKey)
	if err != nil {
		return nil, err
	}
	host, secure, err := parseEndpoint(raw)
	if err != nil {
		return nil, err
	}

	lookup := minio.BucketLookupAuto
	if attrs.GetBool(blobstore.ForcePathStyleKey) {
		lookup = minio.BucketLookupPath
	}

	region := attrs.GetString(blobstore.RegionKey)
	client, err := minio.New(host, &minio.Options{
		Creds: credentials.NewStaticV4(
			attrs.GetString(blobstore.AccessKeyIDKey),
			attrs.GetString(blobstore.SecretAccessKeyKey),
			attrs.GetString(blobstore.SessionTokenKey),
		),
		Secure:       secure,
		Region:       region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return New(client, region), nil
}

// parseEndpoint accepts "host:port" or a URL with an http/https scheme.
func parseEndpoint(raw string) (host string, secure bool, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw, true, nil
	}
	switch u.Scheme {
	case "http":
		return u.Host, false, nil
	case "https":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}
