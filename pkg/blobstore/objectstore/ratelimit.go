package objectstore

import (
	"context"
	"io"
	"iter"

	"golang.org/x/time/rate"
)

// RateLimited throttles every request issued to the wrapped store.
// Listings are charged once, when iteration begins.
type RateLimited struct {
	inner   ObjectStore
	limiter *rate.Limiter
}

// NewRateLimited wraps store so that at most rps requests per second (with
// the given burst) reach it. rps <= 0 returns store unchanged.
func NewRateLimited(store ObjectStore, rps float64, burst int) ObjectStore {
	if rps <= 0 {
		return store
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		inner:   store,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) PutObject(ctx context.Context, bucket, key string, reader io.Reader) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.inner.PutObject(ctx, bucket, key, reader)
}

func (r *RateLimited) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetObject(ctx, bucket, key)
}

func (r *RateLimited) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return r.inner.ObjectExists(ctx, bucket, key)
}

func (r *RateLimited) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.inner.CopyObject(ctx, srcBucket, srcKey, dstBucket, dstKey)
}

func (r *RateLimited) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.inner.DeleteObject(ctx, bucket, key)
}

func (r *RateLimited) ListObjects(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		if err := r.limiter.Wait(ctx); err != nil {
			yield(ObjectInfo{}, err)
			return
		}
		for info, err := range r.inner.ListObjects(ctx, bucket, prefix) {
			if !yield(info, err) {
				return
			}
		}
	}
}

func (r *RateLimited) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return r.inner.BucketExists(ctx, bucket)
}

func (r *RateLimited) CreateBucket(ctx context.Context, bucket string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.inner.CreateBucket(ctx, bucket)
}

func (r *RateLimited) DeleteBucket(ctx context.Context, bucket string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.inner.DeleteBucket(ctx, bucket)
}
