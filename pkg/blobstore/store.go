package blobstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-blobstore/pkg/blobstore/location"
	"github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

// Store is a blob store persisting content and attributes as objects in a
// single bucket. Create a Store with New, then Init, then Start.
type Store struct {
	factory ObjectStoreFactory
	paths   pathScheme
	metrics MetricsStore
	logger  *slog.Logger
	now     func() time.Time

	locks     *keyedMutex
	compactMu sync.Mutex

	mu      sync.RWMutex
	state   State
	cfg     *Configuration
	objects objectstore.ObjectStore
	bucket  string
	live    *liveBlobs
}

// session is the state a data operation needs, captured at the state gate.
type session struct {
	objects objectstore.ObjectStore
	bucket  string
	live    *liveBlobs
}

// New creates a store in the NEW state with the given options
func New(options ...Option) *Store {
	s := &Store{
		paths: pathScheme{
			permanent: location.VolumeChapter{},
			temporary: location.Temporary{},
		},
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		locks:  newKeyedMutex(),
	}
	for _, option := range options {
		option(s)
	}
	if s.metrics == nil {
		s.metrics = metricsstore.New(metricsstore.NewObjectBackend(), metricsstore.WithLogger(s.logger))
	}
	return s
}

func (s *Store) gate(op string) (session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateStarted {
		return session{}, &StateError{Op: op, State: s.state, Allowed: []State{StateStarted}}
	}
	return session{objects: s.objects, bucket: s.bucket, live: s.live}, nil
}

// client returns the object store once Init has succeeded, in any state.
func (s *Store) client() (objectstore.ObjectStore, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.objects == nil {
		return nil, "", ErrNotInitialized
	}
	return s.objects, s.bucket, nil
}

func validateHeaders(headers map[string]string) error {
	for _, key := range []string{BlobNameHeader, CreatedByHeader} {
		if _, ok := headers[key]; !ok {
			return &ValidationError{Header: key}
		}
	}
	return nil
}

func newBlobIDFor(headers map[string]string) BlobID {
	if _, ok := headers[TemporaryBlobHeader]; ok {
		return NewTemporaryBlobID()
	}
	return NewBlobID()
}

type byteCounter int64

func (c *byteCounter) Write(p []byte) (int, error) {
	*c += byteCounter(len(p))
	return len(p), nil
}

// ingester writes content to contentPath and reports what was written.
type ingester func(ctx context.Context, contentPath string) (BlobMetrics, error)

// Create streams r into a new blob, measuring SHA-1 and size on the way.
// The headers must include BlobNameHeader and CreatedByHeader; the
// TemporaryBlobHeader puts the blob in the temporary subspace.
func (s *Store) Create(ctx context.Context, r io.Reader, headers map[string]string) (*Blob, error) {
	sess, err := s.gate("create")
	if err != nil {
		return nil, err
	}
	if err := validateHeaders(headers); err != nil {
		return nil, err
	}

	return s.create(ctx, sess, newBlobIDFor(headers), headers, func(ctx context.Context, contentPath string) (BlobMetrics, error) {
		digest := sha1.New()
		var size byteCounter
		body := io.TeeReader(r, io.MultiWriter(digest, &size))

		if err := sess.objects.PutObject(ctx, sess.bucket, contentPath, body); err != nil {
			return BlobMetrics{}, err
		}
		return BlobMetrics{
			CreationTime: s.now(),
			SHA1:         hex.EncodeToString(digest.Sum(nil)),
			ContentSize:  int64(size),
		}, nil
	})
}

// CreateFromPath would hard-link a local file into the store. Object
// storage has no such primitive, so it always fails with ErrUnsupported.
func (s *Store) CreateFromPath(ctx context.Context, sourcePath string, headers map[string]string, size int64, digest string) (*Blob, error) {
	if _, err := s.gate("createFromPath"); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("hard links not supported: %w", ErrUnsupported)
}

func (s *Store) create(ctx context.Context, sess session, id BlobID, headers map[string]string, ingest ingester) (*Blob, error) {
	contentPath := s.paths.contentPath(id)
	attributePath := s.paths.attributePath(id)

	unlock := s.locks.lock(id)
	defer unlock()

	handle := sess.live.handleFor(id)
	s.logger.Debug("Writing blob", "blob_id", id, "path", contentPath)

	metrics, err := ingest(ctx, contentPath)
	if err != nil {
		return nil, s.rollback(ctx, sess, id, err)
	}
	handle.refresh(headers, metrics)

	attrs := &BlobAttributes{Headers: headers, Metrics: metrics}
	if err := storeAttributes(ctx, sess.objects, sess.bucket, attributePath, attrs); err != nil {
		return nil, s.rollback(ctx, sess, id, err)
	}
	s.metrics.RecordAddition(metrics.ContentSize)

	return s.newBlob(sess, id, &handleState{headers: headers, metrics: metrics}), nil
}

// rollback removes whatever a failed create wrote. Cleanup failures are
// logged; the original cause is returned.
func (s *Store) rollback(ctx context.Context, sess session, id BlobID, cause error) error {
	cleanupCtx := context.WithoutCancel(ctx)
	for _, key := range []string{s.paths.attributePath(id), s.paths.contentPath(id)} {
		if err := sess.objects.DeleteObject(cleanupCtx, sess.bucket, key); err != nil {
			s.logger.Warn("Failed to clean up partial blob", "blob_id", id, "path", key, "err", err)
		}
	}
	sess.live.invalidate(id)
	return &StorageError{BlobID: id, Op: "create", Err: cause}
}

func (s *Store) newBlob(sess session, id BlobID, state *handleState) *Blob {
	contentPath := s.paths.contentPath(id)
	objects, bucket := sess.objects, sess.bucket
	return &Blob{
		ID:      id,
		Headers: cloneHeaders(state.headers),
		Metrics: state.metrics,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			rc, err := objects.GetObject(ctx, bucket, contentPath)
			if err != nil {
				if errors.Is(err, objectstore.ErrNotFound) {
					err = ErrBlobNotFound
				}
				return nil, &StorageError{BlobID: id, Op: "open", Err: err}
			}
			return rc, nil
		},
	}
}

// Copy creates a new blob with the given headers and the content of
// sourceID, copied server side. The copy keeps the source digest and size.
func (s *Store) Copy(ctx context.Context, sourceID BlobID, headers map[string]string) (*Blob, error) {
	sess, err := s.gate("copy")
	if err != nil {
		return nil, err
	}
	if err := validateHeaders(headers); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sourceID)
	defer unlock()

	source, found, err := s.resolve(ctx, sess, sess.live.handleFor(sourceID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &StorageError{BlobID: sourceID, Op: "copy", Err: ErrBlobNotFound}
	}

	sourcePath := s.paths.contentPath(sourceID)
	return s.create(ctx, sess, newBlobIDFor(headers), headers, func(ctx context.Context, contentPath string) (BlobMetrics, error) {
		if err := sess.objects.CopyObject(ctx, sess.bucket, sourcePath, sess.bucket, contentPath); err != nil {
			return BlobMetrics{}, err
		}
		return BlobMetrics{
			CreationTime: s.now(),
			SHA1:         source.metrics.SHA1,
			ContentSize:  source.metrics.ContentSize,
		}, nil
	})
}

// Get returns the blob, or found == false when it does not exist or is
// marked deleted.
func (s *Store) Get(ctx context.Context, id BlobID) (*Blob, bool, error) {
	sess, err := s.gate("get")
	if err != nil {
		return nil, false, err
	}

	handle := sess.live.handleFor(id)
	if state, ok := handle.snapshot(); ok {
		return s.newBlob(sess, id, state), true, nil
	}

	unlock := s.locks.lock(id)
	defer unlock()

	state, found, err := s.resolve(ctx, sess, handle)
	if err != nil || !found {
		return nil, false, err
	}
	return s.newBlob(sess, id, state), true, nil
}

// resolve reloads a stale handle from its attributes. The caller holds the
// identifier's lock.
func (s *Store) resolve(ctx context.Context, sess session, handle *blobHandle) (*handleState, bool, error) {
	if state, ok := handle.snapshot(); ok {
		return state, true, nil
	}

	attributePath := s.paths.attributePath(handle.id)
	attrs, found, err := loadAttributes(ctx, sess.objects, sess.bucket, attributePath)
	if err != nil {
		return nil, false, &StorageError{BlobID: handle.id, Op: "get", Err: err}
	}
	if !found {
		s.logger.Warn("Attempt to access non-existent blob", "blob_id", handle.id, "path", attributePath)
		return nil, false, nil
	}
	if attrs.Deleted {
		s.logger.Warn("Attempt to access soft-deleted blob", "blob_id", handle.id, "path", attributePath)
		return nil, false, nil
	}

	handle.refresh(attrs.Headers, attrs.Metrics)
	return &handleState{headers: attrs.Headers, metrics: attrs.Metrics}, true, nil
}

// Delete removes the blob. Soft deletion is not implemented; reason is only
// logged and the blob is hard deleted.
func (s *Store) Delete(ctx context.Context, id BlobID, reason string) (bool, error) {
	sess, err := s.gate("delete")
	if err != nil {
		return false, err
	}
	s.logger.Debug("Deleting blob", "blob_id", id, "reason", reason)
	return s.deleteHard(ctx, sess, id)
}

// DeleteHard removes both objects of the blob. It reports true once the
// content object is gone.
func (s *Store) DeleteHard(ctx context.Context, id BlobID) (bool, error) {
	sess, err := s.gate("deleteHard")
	if err != nil {
		return false, err
	}
	return s.deleteHard(ctx, sess, id)
}

func (s *Store) deleteHard(ctx context.Context, sess session, id BlobID) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	defer sess.live.invalidate(id)

	s.logger.Debug("Hard deleting blob", "blob_id", id)

	attributePath := s.paths.attributePath(id)
	size := int64(-1)
	attrs, found, err := loadAttributes(ctx, sess.objects, sess.bucket, attributePath)
	switch {
	case err != nil:
		s.logger.Warn("Unable to load attributes, delete will not be added to metrics", "blob_id", id, "path", attributePath, "err", err)
	case found:
		size = attrs.Metrics.ContentSize
	}

	if err := sess.objects.DeleteObject(ctx, sess.bucket, s.paths.contentPath(id)); err != nil {
		return false, &StorageError{BlobID: id, Op: "deleteHard", Err: err}
	}
	attrErr := sess.objects.DeleteObject(ctx, sess.bucket, attributePath)

	if size >= 0 {
		s.metrics.RecordDeletion(size)
	}
	if attrErr != nil {
		return false, &StorageError{BlobID: id, Op: "deleteHard", Err: attrErr}
	}
	return true, nil
}

// Metrics returns the current aggregate metrics
func (s *Store) Metrics() (Metrics, error) {
	if _, err := s.gate("metrics"); err != nil {
		return Metrics{}, err
	}
	return s.metrics.Metrics(), nil
}

// Compact is a maintenance hook. Object storage needs no compaction, so it
// only serializes callers.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.gate("compact"); err != nil {
		return err
	}
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	s.logger.Debug("Compact requested, nothing to do")
	return nil
}

// BlobIDs lazily lists the identifiers of permanent blobs. The sequence is a
// point-in-time walk of the bucket with no ordering guarantee; breaking out
// of the loop stops the listing.
func (s *Store) BlobIDs(ctx context.Context) iter.Seq2[BlobID, error] {
	return func(yield func(BlobID, error) bool) {
		objects, bucket, err := s.client()
		if err != nil {
			yield("", err)
			return
		}
		for info, err := range objects.ListObjects(ctx, bucket, ContentPrefix+"/") {
			if err != nil {
				yield("", &StorageError{Op: "list", Err: err})
				return
			}
			name := path.Base(info.Key)
			if !strings.HasSuffix(name, BlobAttributeSuffix) || strings.HasPrefix(name, TemporaryBlobIDPrefix) {
				continue
			}
			if !yield(BlobID(strings.TrimSuffix(name, BlobAttributeSuffix)), nil) {
				return
			}
		}
	}
}

// BlobAttributes loads the persisted attributes of id, including blobs
// marked deleted. It works in any state once Init has succeeded.
func (s *Store) BlobAttributes(ctx context.Context, id BlobID) (*BlobAttributes, bool, error) {
	objects, bucket, err := s.client()
	if err != nil {
		return nil, false, err
	}
	attrs, found, err := loadAttributes(ctx, objects, bucket, s.paths.attributePath(id))
	if err != nil {
		s.logger.Error("Unable to load blob attributes", "blob_id", id, "err", err)
		return nil, false, &StorageError{BlobID: id, Op: "attributes", Err: err}
	}
	return attrs, found, nil
}
