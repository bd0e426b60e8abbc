package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, LayoutVolumeChapter, cfg.Layout)
	assert.Equal(t, MetricsObject, cfg.Metrics.Backend)
	assert.Equal(t, 2*time.Second, cfg.Metrics.FlushInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr string
	}{
		{
			name:    "unknown backend",
			opts:    []Option{func(c *ServerConfig) error { c.Backend = "gcs"; return nil }},
			wantErr: "backend must be",
		},
		{
			name:    "minio without endpoint",
			opts:    []Option{func(c *ServerConfig) error { c.Backend = BackendMinio; return nil }},
			wantErr: "endpoint is required",
		},
		{
			name:    "postgres metrics without url",
			opts:    []Option{WithMetricsBackend(MetricsPostgres)},
			wantErr: "database_url is required",
		},
		{
			name:    "unknown layout",
			opts:    []Option{WithLayout("spiral")},
			wantErr: "layout must be",
		},
		{
			name:    "unknown metrics backend",
			opts:    []Option{WithMetricsBackend("redis")},
			wantErr: "metrics backend must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.opts...)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOptions(t *testing.T) {
	cfg, err := Load(
		WithPort("9090"),
		WithS3Backend("my-bucket", "eu-west-1"),
		WithS3Credentials("AKID", "SECRET"),
		WithS3Endpoint("http://localhost:9000", true),
		WithRateLimit(50, 10),
		WithDynamoDBMetrics("metrics-table"),
		WithMetricsFlushInterval(time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendS3, cfg.Backend)
	assert.Equal(t, "my-bucket", cfg.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
	assert.Equal(t, 50.0, cfg.RateLimit)
	assert.Equal(t, MetricsDynamoDB, cfg.Metrics.Backend)
	assert.Equal(t, "metrics-table", cfg.Metrics.DynamoDBTable)

	_, err = Load(WithPort(""))
	assert.Error(t, err)
	_, err = Load(WithRateLimit(-1, 0))
	assert.Error(t, err)
}

func TestWithEnv(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("BLOBSTORE_BACKEND", "minio")
	t.Setenv("AWS_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("AWS_S3_BUCKET", "env-bucket")
	t.Setenv("METRICS_BACKEND", "memory")
	t.Setenv("METRICS_FLUSH_INTERVAL", "5s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(WithEnv())
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, BackendMinio, cfg.Backend)
	assert.Equal(t, "http://minio:9000", cfg.S3.Endpoint)
	assert.Equal(t, "env-bucket", cfg.S3.Bucket)
	assert.Equal(t, MetricsMemory, cfg.Metrics.Backend)
	assert.Equal(t, 5*time.Second, cfg.Metrics.FlushInterval)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobstore.yaml")
	content := `
port: "8181"
backend: memory
layout: flat
s3:
  bucket: file-bucket
metrics:
  backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, "8181", cfg.Port)
	assert.Equal(t, LayoutFlat, cfg.Layout)
	assert.Equal(t, "file-bucket", cfg.S3.Bucket)
	assert.Equal(t, MetricsMemory, cfg.Metrics.Backend)

	_, err = Load(WithFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestConfiguration(t *testing.T) {
	cfg, err := Load(
		WithStoreName("primary"),
		WithS3Backend("blobs", "us-west-2"),
		WithS3Endpoint("http://localhost:9000", true),
	)
	require.NoError(t, err)

	bc := cfg.Configuration()
	assert.Equal(t, "primary", bc.Name)
	assert.Equal(t, BackendS3, bc.Type)

	attrs := bc.Attributes(blobstore.ConfigKey)
	assert.Equal(t, "blobs", attrs.GetString(blobstore.BucketKey))
	assert.Equal(t, "us-west-2", attrs.GetString(blobstore.RegionKey))
	assert.Equal(t, "http://localhost:9000", attrs.GetString(blobstore.EndpointKey))
	assert.True(t, attrs.GetBool(blobstore.ForcePathStyleKey))
	_, ok := attrs.Get(blobstore.AccessKeyIDKey)
	assert.False(t, ok)
}

func TestBuildStore_Memory(t *testing.T) {
	ctx := context.Background()
	cfg, err := Load(WithMemoryBackend(), WithMetricsBackend(MetricsMemory), WithRateLimit(1000, 100), WithLayout(LayoutFlat))
	require.NoError(t, err)

	inst, err := cfg.BuildStore(ctx, nil)
	require.NoError(t, err)
	defer inst.Close()

	store := inst.Store
	assert.Equal(t, blobstore.StateNew, store.State())
	require.NoError(t, store.Start(ctx))
	defer store.Stop(ctx)

	blob, err := store.Create(ctx, strings.NewReader("hello"), map[string]string{
		blobstore.BlobNameHeader:  "hello.txt",
		blobstore.CreatedByHeader: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inst.Metrics.Metrics().BlobCount)

	var ids []blobstore.BlobID
	for id, err := range store.BlobIDs(ctx) {
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, []blobstore.BlobID{blob.ID}, ids)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &ServerConfig{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "blob_id", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"blob_id":"abc"`)

	assert.Equal(t, parseLevel("bogus"), parseLevel("info"))
}
