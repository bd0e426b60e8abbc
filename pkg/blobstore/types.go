package blobstore

import (
	"context"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemporaryBlobIDPrefix marks identifiers in the temporary subspace.
const TemporaryBlobIDPrefix = "tmp$"

// Header keys recognised by the store.
const (
	BlobNameHeader      = "BlobStore.blob-name"
	CreatedByHeader     = "BlobStore.created-by"
	CreatedByIPHeader   = "BlobStore.created-by-ip"
	ContentTypeHeader   = "BlobStore.content-type"
	TemporaryBlobHeader = "BlobStore.temporary-blob"
)

// BlobID identifies a blob. Identifiers are never reused.
type BlobID string

// NewBlobID returns a fresh permanent identifier.
func NewBlobID() BlobID {
	return BlobID(uuid.NewString())
}

// NewTemporaryBlobID returns a fresh identifier in the temporary subspace.
func NewTemporaryBlobID() BlobID {
	return BlobID(TemporaryBlobIDPrefix + uuid.NewString())
}

// IsTemporary reports whether id belongs to the temporary subspace.
func (id BlobID) IsTemporary() bool {
	return strings.HasPrefix(string(id), TemporaryBlobIDPrefix)
}

func (id BlobID) String() string { return string(id) }

// BlobMetrics is measured once, while the content is ingested.
type BlobMetrics struct {
	CreationTime time.Time `json:"creation_time"`
	SHA1         string    `json:"sha1"`
	ContentSize  int64     `json:"content_size"`
}

// Blob is a snapshot of one live blob.
type Blob struct {
	ID      BlobID            `json:"id"`
	Headers map[string]string `json:"headers"`
	Metrics BlobMetrics       `json:"metrics"`

	open func(ctx context.Context) (io.ReadCloser, error)
}

// Open streams the blob content. A content object that has disappeared
// since the snapshot was taken yields ErrBlobNotFound.
func (b *Blob) Open(ctx context.Context) (io.ReadCloser, error) {
	if b.open == nil {
		return nil, ErrBlobNotFound
	}
	return b.open(ctx)
}

// State is the lifecycle state of a Store.
type State int

const (
	StateNew State = iota
	StateStarted
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateStarted:
		return "STARTED"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return maps.Clone(h)
}
