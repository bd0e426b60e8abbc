package blobstore

import (
	"errors"
	"fmt"
	"strings"
)

// Error types
var (
	// ErrInvalidHeaders indicates a mandatory blob header is missing
	ErrInvalidHeaders = errors.New("invalid blob headers")

	// ErrUnsupported indicates an operation this backend cannot perform
	ErrUnsupported = errors.New("operation not supported")

	// ErrInvalidState indicates an operation was called in the wrong lifecycle state
	ErrInvalidState = errors.New("invalid blob store state")

	// ErrBlobNotFound indicates a blob does not exist
	ErrBlobNotFound = errors.New("blob not found")

	// ErrVersionMismatch indicates the bucket holds a store of another format
	ErrVersionMismatch = errors.New("unsupported blob store type/version")

	// ErrNotInitialized indicates Init has not completed successfully
	ErrNotInitialized = errors.New("blob store not initialized")
)

// ValidationError reports a missing mandatory header
type ValidationError struct {
	Header string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing header: %s", e.Header)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidHeaders
}

// StateError reports an operation invoked outside its allowed states
type StateError struct {
	Op      string
	State   State
	Allowed []State
}

func (e *StateError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = s.String()
	}
	return fmt.Sprintf("%s not allowed in state %s (allowed: %s)", e.Op, e.State, strings.Join(allowed, ", "))
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// StorageError wraps an object-store failure, tagged with the blob when known
type StorageError struct {
	BlobID BlobID
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	if e.BlobID == "" {
		return fmt.Sprintf("storage operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed for blob %s: %v", e.Op, e.BlobID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
