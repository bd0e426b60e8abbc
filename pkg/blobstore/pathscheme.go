package blobstore

import (
	"github.com/tendant/simple-blobstore/pkg/blobstore/location"
)

// Persisted layout constants.
const (
	ContentPrefix       = "content"
	BlobContentSuffix   = ".bytes"
	BlobAttributeSuffix = ".properties"
	MetadataFilename    = "metadata.properties"
	TypeKey             = "type"
	TypeV1              = "s3/1"
)

// pathScheme derives object keys for a blob, picking the strategy by the
// identifier's subspace.
type pathScheme struct {
	permanent location.Strategy
	temporary location.Strategy
}

func (p pathScheme) location(id BlobID) string {
	if id.IsTemporary() {
		return ContentPrefix + "/" + p.temporary.Location(string(id))
	}
	return ContentPrefix + "/" + p.permanent.Location(string(id))
}

func (p pathScheme) contentPath(id BlobID) string {
	return p.location(id) + BlobContentSuffix
}

func (p pathScheme) attributePath(id BlobID) string {
	return p.location(id) + BlobAttributeSuffix
}
