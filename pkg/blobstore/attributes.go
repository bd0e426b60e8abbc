package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-blobstore/internal/propfile"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

// Property names used in a blob's attribute object.
const (
	headerPrefix           = "@"
	sha1Attribute          = "sha1"
	sizeAttribute          = "size"
	creationTimeAttribute  = "creationTime"
	deletedAttribute       = "deleted"
	deletedReasonAttribute = "deletedReason"
)

// BlobAttributes is the persisted description of one blob.
type BlobAttributes struct {
	Headers       map[string]string `json:"headers"`
	Metrics       BlobMetrics       `json:"metrics"`
	Deleted       bool              `json:"deleted"`
	DeletedReason string            `json:"deleted_reason,omitempty"`
}

func (a *BlobAttributes) writeTo(f *propfile.File) {
	for k, v := range a.Headers {
		f.Set(headerPrefix+k, v)
	}
	f.Set(sha1Attribute, a.Metrics.SHA1)
	f.Set(sizeAttribute, strconv.FormatInt(a.Metrics.ContentSize, 10))
	f.Set(creationTimeAttribute, strconv.FormatInt(a.Metrics.CreationTime.UnixMilli(), 10))
	f.Set(deletedAttribute, strconv.FormatBool(a.Deleted))
	if a.DeletedReason != "" {
		f.Set(deletedReasonAttribute, a.DeletedReason)
	}
	f.Set(TypeKey, TypeV1)
}

func (a *BlobAttributes) readFrom(f *propfile.File) error {
	if typ, _ := f.Get(TypeKey); typ != TypeV1 {
		return fmt.Errorf("%w: %q in %s", ErrVersionMismatch, typ, f)
	}

	headers := make(map[string]string)
	for _, k := range f.Keys() {
		if name, ok := strings.CutPrefix(k, headerPrefix); ok {
			headers[name], _ = f.Get(k)
		}
	}

	sha1, ok := f.Get(sha1Attribute)
	if !ok {
		return fmt.Errorf("missing %s in %s", sha1Attribute, f)
	}
	size, err := intProperty(f, sizeAttribute)
	if err != nil {
		return err
	}
	created, err := intProperty(f, creationTimeAttribute)
	if err != nil {
		return err
	}
	deleted, _ := f.Get(deletedAttribute)
	reason, _ := f.Get(deletedReasonAttribute)

	a.Headers = headers
	a.Metrics = BlobMetrics{
		CreationTime: time.UnixMilli(created).UTC(),
		SHA1:         sha1,
		ContentSize:  size,
	}
	a.Deleted = deleted == "true"
	a.DeletedReason = reason
	return nil
}

func intProperty(f *propfile.File, key string) (int64, error) {
	raw, ok := f.Get(key)
	if !ok {
		return 0, fmt.Errorf("missing %s in %s", key, f)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s in %s: %w", key, f, err)
	}
	return v, nil
}

// loadAttributes reads the attribute object at key. A missing object is
// reported as found == false.
func loadAttributes(ctx context.Context, objects objectstore.ObjectStore, bucket, key string) (*BlobAttributes, bool, error) {
	f := propfile.New(objects, bucket, key)
	if err := f.Load(ctx); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	attrs := &BlobAttributes{}
	if err := attrs.readFrom(f); err != nil {
		return nil, false, err
	}
	return attrs, true, nil
}

func storeAttributes(ctx context.Context, objects objectstore.ObjectStore, bucket, key string, attrs *BlobAttributes) error {
	f := propfile.New(objects, bucket, key)
	attrs.writeTo(f)
	return f.Store(ctx)
}
