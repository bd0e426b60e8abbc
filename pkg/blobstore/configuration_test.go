package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationAttributes(t *testing.T) {
	cfg := NewConfiguration("primary", "s3")
	attrs := cfg.Attributes(ConfigKey)

	_, ok := attrs.Get(BucketKey)
	assert.False(t, ok)

	_, err := attrs.Require(BucketKey)
	assert.Error(t, err)

	attrs.Set(BucketKey, "blobs")
	attrs.Set(ForcePathStyleKey, "true")

	bucket, err := attrs.Require(BucketKey)
	require.NoError(t, err)
	assert.Equal(t, "blobs", bucket)
	assert.True(t, attrs.GetBool(ForcePathStyleKey))
	assert.False(t, attrs.GetBool(RegionKey))
	assert.Equal(t, "", attrs.GetString(RegionKey))

	all := attrs.All()
	assert.Equal(t, map[string]string{BucketKey: "blobs", ForcePathStyleKey: "true"}, all)

	all[BucketKey] = "mutated"
	assert.Equal(t, "blobs", attrs.GetString(BucketKey))

	_, ok = cfg.Attributes("other").Get(BucketKey)
	assert.False(t, ok, "namespaces are separate")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NEW", StateNew.String())
	assert.Equal(t, "STARTED", StateStarted.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "FAILED", StateFailed.String())
}

func TestBlobID(t *testing.T) {
	assert.False(t, NewBlobID().IsTemporary())
	assert.True(t, NewTemporaryBlobID().IsTemporary())
	assert.NotEqual(t, NewBlobID(), NewBlobID())
}
