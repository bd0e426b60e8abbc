package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore/memory"
)

const testBucket = "test-bucket"

func testHeaders(name string) map[string]string {
	return map[string]string{
		BlobNameHeader:  name,
		CreatedByHeader: "tester",
	}
}

func testConfiguration() *Configuration {
	cfg := NewConfiguration("default", "s3")
	cfg.Attributes(ConfigKey).Set(BucketKey, testBucket)
	return cfg
}

func newTestStore(t *testing.T, objects objectstore.ObjectStore) *Store {
	t.Helper()
	metrics := metricsstore.New(metricsstore.NewMemoryBackend(), metricsstore.WithFlushInterval(time.Hour))
	return New(
		WithObjectStoreFactory(StaticObjectStore(objects)),
		WithMetricsStore(metrics),
	)
}

func setupTestStore(t *testing.T) (*Store, *memory.Backend) {
	t.Helper()
	ctx := context.Background()
	objects := memory.New()
	store := newTestStore(t, objects)

	require.NoError(t, store.Init(ctx, testConfiguration()))
	require.NoError(t, store.Start(ctx))
	t.Cleanup(func() {
		if store.State() == StateStarted {
			_ = store.Stop(context.Background())
		}
	})
	return store, objects
}

func readBlob(t *testing.T, blob *Blob) string {
	t.Helper()
	rc, err := blob.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestCreateAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	blob, err := store.Create(ctx, strings.NewReader("hello"), testHeaders("greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", blob.Metrics.SHA1)
	assert.Equal(t, int64(5), blob.Metrics.ContentSize)
	assert.False(t, blob.Metrics.CreationTime.IsZero())
	assert.False(t, blob.ID.IsTemporary())

	got, found, err := store.Get(ctx, blob.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, blob.Metrics.SHA1, got.Metrics.SHA1)
	assert.Equal(t, "greeting.txt", got.Headers[BlobNameHeader])
	assert.Equal(t, "hello", readBlob(t, got))

	metrics, err := store.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.BlobCount)
	assert.Equal(t, int64(5), metrics.TotalSize)
	assert.True(t, metrics.Unlimited)
}

func TestCreate_EmptyContent(t *testing.T) {
	store, _ := setupTestStore(t)

	blob, err := store.Create(context.Background(), bytes.NewReader(nil), testHeaders("empty"))
	require.NoError(t, err)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", blob.Metrics.SHA1)
	assert.Equal(t, int64(0), blob.Metrics.ContentSize)
}

func TestCreate_Paths(t *testing.T) {
	store, objects := setupTestStore(t)
	ctx := context.Background()

	t.Run("permanent blob is spread over volumes", func(t *testing.T) {
		blob, err := store.Create(ctx, strings.NewReader("permanent"), testHeaders("p"))
		require.NoError(t, err)

		contentPath := store.paths.contentPath(blob.ID)
		assert.True(t, strings.HasPrefix(contentPath, "content/vol-"))
		exists, err := objects.ObjectExists(ctx, testBucket, contentPath)
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = objects.ObjectExists(ctx, testBucket, store.paths.attributePath(blob.ID))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("temporary blob goes to tmp", func(t *testing.T) {
		headers := testHeaders("t")
		headers[TemporaryBlobHeader] = "true"
		blob, err := store.Create(ctx, strings.NewReader("temporary"), headers)
		require.NoError(t, err)
		assert.True(t, blob.ID.IsTemporary())

		contentPath := store.paths.contentPath(blob.ID)
		assert.Equal(t, "content/tmp/"+blob.ID.String()+BlobContentSuffix, contentPath)
		exists, err := objects.ObjectExists(ctx, testBucket, contentPath)
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestCreate_MissingHeaders(t *testing.T) {
	store, objects := setupTestStore(t)
	before := objects.Len(testBucket)

	tests := []struct {
		name    string
		headers map[string]string
		missing string
	}{
		{
			name:    "no blob name",
			headers: map[string]string{CreatedByHeader: "tester"},
			missing: BlobNameHeader,
		},
		{
			name:    "no created by",
			headers: map[string]string{BlobNameHeader: "x"},
			missing: CreatedByHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(context.Background(), strings.NewReader("x"), tt.headers)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidHeaders)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.missing, verr.Header)
		})
	}
	assert.Equal(t, before, objects.Len(testBucket))
}

func TestCreateFromPath_Unsupported(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.CreateFromPath(context.Background(), "/tmp/file", testHeaders("f"), 1, "abc")
	assert.ErrorIs(t, err, ErrUnsupported)
}

// failingPuts fails writes of attribute objects.
type failingPuts struct {
	objectstore.ObjectStore
}

func (f failingPuts) PutObject(ctx context.Context, bucket, key string, r io.Reader) error {
	if strings.HasSuffix(key, BlobAttributeSuffix) {
		return errors.New("disk full")
	}
	return f.ObjectStore.PutObject(ctx, bucket, key, r)
}

func TestCreate_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	objects := memory.New()
	require.NoError(t, objects.CreateBucket(ctx, testBucket))
	store := newTestStore(t, failingPuts{objects})
	require.NoError(t, store.Init(ctx, testConfiguration()))

	// metadata is written through the same store, so seed it directly
	require.NoError(t, objects.PutObject(ctx, testBucket, MetadataFilename, strings.NewReader("type=s3/1\n")))
	require.NoError(t, store.Start(ctx))
	defer store.Stop(ctx)

	_, err := store.Create(ctx, strings.NewReader("doomed"), testHeaders("doomed"))
	require.Error(t, err)
	var serr *StorageError
	assert.ErrorAs(t, err, &serr)

	// only the metadata object is left behind
	assert.Equal(t, 1, objects.Len(testBucket))
	metrics, err := store.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(0), metrics.BlobCount)
}

// partialPuts stores whatever was read of a content stream before the
// stream failed.
type partialPuts struct {
	objectstore.ObjectStore
}

func (p partialPuts) PutObject(ctx context.Context, bucket, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if perr := p.ObjectStore.PutObject(ctx, bucket, key, bytes.NewReader(data)); perr != nil {
		return perr
	}
	return err
}

// brokenReader yields some data, then fails.
type brokenReader struct {
	data []byte
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, errors.New("connection reset by peer")
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func TestCreate_RollbackOnStreamFailure(t *testing.T) {
	ctx := context.Background()
	objects := memory.New()
	store := newTestStore(t, partialPuts{objects})
	require.NoError(t, store.Init(ctx, testConfiguration()))
	require.NoError(t, store.Start(ctx))
	defer store.Stop(ctx)

	before := objects.Len(testBucket)

	_, err := store.Create(ctx, &brokenReader{data: []byte("half of the content")}, testHeaders("broken"))
	require.Error(t, err)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.NotEmpty(t, serr.BlobID)
	assert.Equal(t, "create", serr.Op)

	exists, err := objects.ObjectExists(ctx, testBucket, store.paths.contentPath(serr.BlobID))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, before, objects.Len(testBucket))

	_, found, err := store.BlobAttributes(ctx, serr.BlobID)
	require.NoError(t, err)
	assert.False(t, found)

	metrics, err := store.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(0), metrics.BlobCount)
	assert.Equal(t, int64(0), metrics.TotalSize)
}

func TestHeadersRoundTripAfterReload(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	headers := testHeaders("a b=c.txt")
	headers["a=b"] = "v"
	headers["x:y"] = "z:w"
	headers["#hash"] = "!bang"
	headers["multi\nline"] = "one\ntwo"
	headers["path"] = `C:\data\`
	headers["expand"] = "${home}"
	headers["padded"] = " spaced "

	blob, err := store.Create(ctx, strings.NewReader("round trip"), headers)
	require.NoError(t, err)
	assert.Equal(t, headers, blob.Headers)

	attrs, found, err := store.BlobAttributes(ctx, blob.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, headers, attrs.Headers)

	require.NoError(t, store.Stop(ctx))
	require.NoError(t, store.Start(ctx))

	got, found, err := store.Get(ctx, blob.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, headers, got.Headers)
	assert.Equal(t, "round trip", readBlob(t, got))
}

func TestGet_Missing(t *testing.T) {
	store, _ := setupTestStore(t)

	blob, found, err := store.Get(context.Background(), NewBlobID())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, blob)
}

func TestGet_SoftDeletedIsAbsent(t *testing.T) {
	store, objects := setupTestStore(t)
	ctx := context.Background()
	id := NewBlobID()

	attrs := &BlobAttributes{
		Headers:       testHeaders("gone"),
		Metrics:       BlobMetrics{CreationTime: time.Now(), SHA1: "abc", ContentSize: 3},
		Deleted:       true,
		DeletedReason: "cleanup",
	}
	require.NoError(t, storeAttributes(ctx, objects, testBucket, store.paths.attributePath(id), attrs))

	_, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	loaded, found, err := store.BlobAttributes(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, loaded.Deleted)
	assert.Equal(t, "cleanup", loaded.DeletedReason)
}

func TestGet_CorruptAttributes(t *testing.T) {
	store, objects := setupTestStore(t)
	ctx := context.Background()
	id := NewBlobID()

	require.NoError(t, objects.PutObject(ctx, testBucket, store.paths.attributePath(id), strings.NewReader("type=file/1\n")))

	_, found, err := store.Get(ctx, id)
	assert.False(t, found)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, id, serr.BlobID)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestBlobAttributes_LogsFailure(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	objects := memory.New()
	store := New(
		WithObjectStoreFactory(StaticObjectStore(objects)),
		WithMetricsStore(metricsstore.New(metricsstore.NewMemoryBackend())),
		WithLogger(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelError}))),
	)
	require.NoError(t, store.Init(ctx, testConfiguration()))

	id := NewBlobID()
	require.NoError(t, objects.PutObject(ctx, testBucket, store.paths.attributePath(id), strings.NewReader("type=file/1\n")))

	_, _, err := store.BlobAttributes(ctx, id)
	require.Error(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, string(id), entry["blob_id"])
	assert.Contains(t, entry["err"], ErrVersionMismatch.Error())
}

func TestBlobOpen_ContentRemoved(t *testing.T) {
	store, objects := setupTestStore(t)
	ctx := context.Background()

	blob, err := store.Create(ctx, strings.NewReader("data"), testHeaders("d"))
	require.NoError(t, err)
	require.NoError(t, objects.DeleteObject(ctx, testBucket, store.paths.contentPath(blob.ID)))

	_, err = blob.Open(ctx)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestCopy(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	source, err := store.Create(ctx, strings.NewReader("copy me"), testHeaders("source"))
	require.NoError(t, err)

	t.Run("copies content and digest", func(t *testing.T) {
		copied, err := store.Copy(ctx, source.ID, testHeaders("target"))
		require.NoError(t, err)
		assert.NotEqual(t, source.ID, copied.ID)
		assert.Equal(t, source.Metrics.SHA1, copied.Metrics.SHA1)
		assert.Equal(t, source.Metrics.ContentSize, copied.Metrics.ContentSize)
		assert.Equal(t, "target", copied.Headers[BlobNameHeader])
		assert.Equal(t, "copy me", readBlob(t, copied))

		metrics, err := store.Metrics()
		require.NoError(t, err)
		assert.Equal(t, int64(2), metrics.BlobCount)
		assert.Equal(t, int64(14), metrics.TotalSize)
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := store.Copy(ctx, NewBlobID(), testHeaders("target"))
		assert.ErrorIs(t, err, ErrBlobNotFound)
	})

	t.Run("copy into temporary space", func(t *testing.T) {
		headers := testHeaders("temp-copy")
		headers[TemporaryBlobHeader] = "true"
		copied, err := store.Copy(ctx, source.ID, headers)
		require.NoError(t, err)
		assert.True(t, copied.ID.IsTemporary())
	})
}

func TestDelete(t *testing.T) {
	store, objects := setupTestStore(t)
	ctx := context.Background()

	blob, err := store.Create(ctx, strings.NewReader("hello"), testHeaders("h"))
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, blob.ID, "no longer needed")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err := store.Get(ctx, blob.ID)
	require.NoError(t, err)
	assert.False(t, found)

	attrs, found, err := store.BlobAttributes(ctx, blob.ID)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, attrs)

	exists, err := objects.ObjectExists(ctx, testBucket, store.paths.contentPath(blob.ID))
	require.NoError(t, err)
	assert.False(t, exists)

	metrics, err := store.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(0), metrics.BlobCount)
	assert.Equal(t, int64(0), metrics.TotalSize)
}

func TestDeleteHard_MissingBlob(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	deleted, err := store.DeleteHard(ctx, NewBlobID())
	require.NoError(t, err)
	assert.True(t, deleted)

	metrics, err := store.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(0), metrics.BlobCount)
}

func TestConcurrentGetAndDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	blob, err := store.Create(ctx, strings.NewReader("racy"), testHeaders("r"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, found, err := store.Get(ctx, blob.ID)
			assert.NoError(t, err)
			if found {
				assert.Equal(t, blob.Metrics.SHA1, got.Metrics.SHA1)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := store.DeleteHard(ctx, blob.ID)
		assert.NoError(t, err)
	}()
	wg.Wait()

	_, found, err := store.Get(ctx, blob.ID)
	require.NoError(t, err)
	assert.False(t, found)

	metrics, err := store.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(0), metrics.BlobCount)
	assert.Equal(t, 0, store.locks.len())
}

func TestBlobIDs(t *testing.T) {
	store, objects := setupTestStore(t)
	ctx := context.Background()

	var want []BlobID
	for _, name := range []string{"a", "b", "c"} {
		blob, err := store.Create(ctx, strings.NewReader(name), testHeaders(name))
		require.NoError(t, err)
		want = append(want, blob.ID)
	}
	headers := testHeaders("temp")
	headers[TemporaryBlobHeader] = "true"
	_, err := store.Create(ctx, strings.NewReader("temp"), headers)
	require.NoError(t, err)
	require.NoError(t, objects.PutObject(ctx, testBucket, "content/vol-01/chap-01/stray.txt", strings.NewReader("x")))

	t.Run("lists permanent blobs only", func(t *testing.T) {
		var got []BlobID
		for id, err := range store.BlobIDs(ctx) {
			require.NoError(t, err)
			got = append(got, id)
		}
		assert.ElementsMatch(t, want, got)
	})

	t.Run("stops when the caller breaks", func(t *testing.T) {
		count := 0
		for _, err := range store.BlobIDs(ctx) {
			require.NoError(t, err)
			count++
			break
		}
		assert.Equal(t, 1, count)
	})
}

func TestBlobIDs_NotInitialized(t *testing.T) {
	store := newTestStore(t, memory.New())

	for _, err := range store.BlobIDs(context.Background()) {
		assert.ErrorIs(t, err, ErrNotInitialized)
	}
}

func TestHandleReclamation(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	blob, err := store.Create(ctx, strings.NewReader("reclaim"), testHeaders("r"))
	require.NoError(t, err)
	id := blob.ID

	assert.Eventually(t, func() bool {
		runtime.GC()
		return store.live.len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	got, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "reclaim", readBlob(t, got))
}

func TestMetricsCountWithClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	objects := memory.New()
	store := New(
		WithObjectStoreFactory(StaticObjectStore(objects)),
		WithMetricsStore(metricsstore.New(metricsstore.NewMemoryBackend())),
		withClock(func() time.Time { return fixed }),
	)
	require.NoError(t, store.Init(ctx, testConfiguration()))
	require.NoError(t, store.Start(ctx))
	defer store.Stop(ctx)

	blob, err := store.Create(ctx, strings.NewReader("tick"), testHeaders("t"))
	require.NoError(t, err)
	assert.Equal(t, fixed, blob.Metrics.CreationTime)

	attrs, found, err := store.BlobAttributes(ctx, blob.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, fixed.Equal(attrs.Metrics.CreationTime))
}
