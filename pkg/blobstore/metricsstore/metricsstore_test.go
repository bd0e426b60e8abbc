package metricsstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore/memory"
)

func TestStore_RecordAndFlush(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := New(backend, WithFlushInterval(time.Hour))

	require.NoError(t, store.Start(ctx, "bucket", nil))
	store.RecordAddition(5)
	store.RecordAddition(10)
	store.RecordDeletion(5)

	m := store.Metrics()
	assert.Equal(t, int64(1), m.BlobCount)
	assert.Equal(t, int64(10), m.TotalSize)
	assert.True(t, m.Unlimited)

	persisted, _ := backend.Load(ctx, Scope{Bucket: "bucket"})
	assert.Equal(t, Totals{}, persisted, "nothing is persisted before a flush")

	require.NoError(t, store.Stop(ctx))
	persisted, _ = backend.Load(ctx, Scope{Bucket: "bucket"})
	assert.Equal(t, Totals{BlobCount: 1, TotalSize: 10}, persisted)

	t.Run("RestartLoadsPersistedTotals", func(t *testing.T) {
		restarted := New(backend)
		require.NoError(t, restarted.Start(ctx, "bucket", nil))
		defer restarted.Stop(ctx)
		assert.Equal(t, int64(1), restarted.Metrics().BlobCount)
		assert.Equal(t, int64(10), restarted.Metrics().TotalSize)
	})
}

func TestStore_FlushLoop(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := New(backend, WithFlushInterval(10*time.Millisecond))

	require.NoError(t, store.Start(ctx, "bucket", nil))
	defer store.Stop(ctx)

	store.RecordAddition(7)
	assert.Eventually(t, func() bool {
		totals, _ := backend.Load(ctx, Scope{Bucket: "bucket"})
		return totals == Totals{BlobCount: 1, TotalSize: 7}
	}, time.Second, 10*time.Millisecond)
}

func TestStore_DoubleStart(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryBackend())
	require.NoError(t, store.Start(ctx, "bucket", nil))
	defer store.Stop(ctx)
	assert.Error(t, store.Start(ctx, "bucket", nil))
}

type failingBackend struct {
	*MemoryBackend
	fail bool
}

func (b *failingBackend) Add(ctx context.Context, scope Scope, delta Totals) error {
	if b.fail {
		return errors.New("backend unavailable")
	}
	return b.MemoryBackend.Add(ctx, scope, delta)
}

func TestStore_FailedFlushKeepsPending(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), fail: true}
	store := New(backend, WithFlushInterval(time.Hour))
	require.NoError(t, store.Start(ctx, "bucket", nil))

	store.RecordAddition(3)
	assert.Error(t, store.Flush(ctx))

	backend.fail = false
	require.NoError(t, store.Stop(ctx))
	totals, _ := backend.Load(ctx, Scope{Bucket: "bucket"})
	assert.Equal(t, Totals{BlobCount: 1, TotalSize: 3}, totals)
}

func TestStore_RecordAfterStopSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := New(backend, WithFlushInterval(time.Hour))

	require.NoError(t, store.Start(ctx, "bucket", nil))
	store.RecordAddition(4)
	require.NoError(t, store.Stop(ctx))

	// a delete that passed its state check before Stop
	store.RecordDeletion(4)
	store.RecordAddition(9)

	require.NoError(t, store.Start(ctx, "bucket", nil))
	assert.Equal(t, int64(1), store.Metrics().BlobCount)
	assert.Equal(t, int64(9), store.Metrics().TotalSize)

	totals, _ := backend.Load(ctx, Scope{Bucket: "bucket"})
	assert.Equal(t, Totals{BlobCount: 1, TotalSize: 9}, totals)

	require.NoError(t, store.Stop(ctx))
	totals, _ = backend.Load(ctx, Scope{Bucket: "bucket"})
	assert.Equal(t, Totals{BlobCount: 1, TotalSize: 9}, totals)
}

func TestStore_ConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := New(backend, WithFlushInterval(time.Millisecond))
	require.NoError(t, store.Start(ctx, "bucket", nil))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				store.RecordAddition(2)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, store.Stop(ctx))

	assert.Equal(t, int64(1000), store.Metrics().BlobCount)
	totals, _ := backend.Load(ctx, Scope{Bucket: "bucket"})
	assert.Equal(t, Totals{BlobCount: 1000, TotalSize: 2000}, totals)
}

func TestObjectBackend(t *testing.T) {
	ctx := context.Background()
	objects := memory.New()
	require.NoError(t, objects.CreateBucket(ctx, "bucket"))
	scope := Scope{Bucket: "bucket", Objects: objects}
	backend := NewObjectBackend()

	totals, err := backend.Load(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, Totals{}, totals)

	require.NoError(t, backend.Add(ctx, scope, Totals{BlobCount: 2, TotalSize: 15}))
	require.NoError(t, backend.Add(ctx, scope, Totals{BlobCount: -1, TotalSize: -5}))

	rc, err := objects.GetObject(ctx, "bucket", "bucket-metrics.properties")
	require.NoError(t, err)
	raw, _ := io.ReadAll(rc)
	assert.True(t, strings.Contains(string(raw), "blobCount = 1"), string(raw))
	assert.True(t, strings.Contains(string(raw), "totalSize = 10"), string(raw))

	totals, err = backend.Load(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, Totals{BlobCount: 1, TotalSize: 10}, totals)

	require.NoError(t, backend.Remove(ctx, scope))
	exists, err := objects.ObjectExists(ctx, "bucket", "bucket-metrics.properties")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = backend.Load(ctx, Scope{Bucket: "bucket"})
	assert.Error(t, err)
}

func TestCollector(t *testing.T) {
	store := New(NewMemoryBackend())
	store.RecordAddition(5)
	store.RecordAddition(6)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector("default", store))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1)
		metric := mf.GetMetric()[0]
		assert.Equal(t, "store", metric.GetLabel()[0].GetName())
		assert.Equal(t, "default", metric.GetLabel()[0].GetValue())
		values[mf.GetName()] = metric.GetGauge().GetValue()
	}
	assert.Equal(t, 2.0, values["blobstore_blob_count"])
	assert.Equal(t, 11.0, values["blobstore_total_size_bytes"])
}
