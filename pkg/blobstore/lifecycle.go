package blobstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tendant/simple-blobstore/internal/propfile"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

// State returns the current lifecycle state
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Configuration returns the configuration passed to Init, or nil
func (s *Store) Configuration() *Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) requireState(op string, allowed ...State) error {
	if !slices.Contains(allowed, s.state) {
		return &StateError{Op: op, State: s.state, Allowed: allowed}
	}
	return nil
}

// Init builds the object-store client from cfg and makes sure the bucket
// exists. It may be repeated while the store is NEW.
func (s *Store) Init(ctx context.Context, cfg *Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState("init", StateNew); err != nil {
		return err
	}
	if s.factory == nil {
		return fmt.Errorf("no object store factory configured: %w", ErrNotInitialized)
	}

	attrs := cfg.Attributes(ConfigKey)
	bucket, err := attrs.Require(BucketKey)
	if err != nil {
		return err
	}

	objects, err := s.factory.Create(ctx, cfg)
	if err != nil {
		return &StorageError{Op: "init", Err: fmt.Errorf("unable to initialize blob store bucket %s: %w", bucket, err)}
	}

	exists, err := objects.BucketExists(ctx, bucket)
	if err != nil {
		return &StorageError{Op: "init", Err: fmt.Errorf("unable to initialize blob store bucket %s: %w", bucket, err)}
	}
	if !exists {
		s.logger.Info("Creating bucket", "bucket", bucket, "store", cfg.Name)
		if err := objects.CreateBucket(ctx, bucket); err != nil {
			return &StorageError{Op: "init", Err: fmt.Errorf("unable to initialize blob store bucket %s: %w", bucket, err)}
		}
	}
	attrs.Set(BucketKey, bucket)

	s.cfg = cfg
	s.objects = objects
	s.bucket = bucket
	return nil
}

// Start verifies the store metadata and begins serving data operations.
// A stopped store may be started again.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState("start", StateNew, StateStopped); err != nil {
		return err
	}
	if s.objects == nil {
		return ErrNotInitialized
	}

	if err := s.checkMetadata(ctx); err != nil {
		s.state = StateFailed
		return err
	}

	if err := s.metrics.Start(ctx, s.bucket, s.objects); err != nil {
		s.state = StateFailed
		return &StorageError{Op: "start", Err: fmt.Errorf("unable to start metrics: %w", err)}
	}

	s.live = newLiveBlobs()
	s.state = StateStarted
	s.logger.Info("Blob store started", "store", s.cfg.Name, "bucket", s.bucket)
	return nil
}

// checkMetadata writes the type marker on first start and rejects buckets
// holding another format.
func (s *Store) checkMetadata(ctx context.Context) error {
	f := propfile.New(s.objects, s.bucket, MetadataFilename)
	err := f.Load(ctx)
	switch {
	case errors.Is(err, objectstore.ErrNotFound):
		f.Set(TypeKey, TypeV1)
		if err := f.Store(ctx); err != nil {
			return &StorageError{Op: "start", Err: err}
		}
		return nil
	case err != nil:
		return &StorageError{Op: "start", Err: err}
	}

	if typ, _ := f.Get(TypeKey); typ != TypeV1 {
		return fmt.Errorf("%s has type %q, expected %q: %w", f, typ, TypeV1, ErrVersionMismatch)
	}
	return nil
}

// Stop drops cached blob state and flushes metrics.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState("stop", StateStarted); err != nil {
		return err
	}

	s.live = nil
	if err := s.metrics.Stop(ctx); err != nil {
		s.state = StateFailed
		return &StorageError{Op: "stop", Err: fmt.Errorf("unable to stop metrics: %w", err)}
	}

	s.state = StateStopped
	s.logger.Info("Blob store stopped", "store", s.cfg.Name)
	return nil
}

// Remove deletes the store metadata, its metrics and the bucket, but only
// when no blob content is left. A refusal is reported as removed == false.
func (s *Store) Remove(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState("remove", StateNew, StateStopped, StateFailed); err != nil {
		return false, err
	}
	if s.objects == nil {
		return false, ErrNotInitialized
	}

	empty, err := objectstore.IsEmpty(ctx, s.objects, s.bucket, ContentPrefix+"/")
	if err != nil {
		return false, &StorageError{Op: "remove", Err: err}
	}
	if !empty {
		s.logger.Warn("Unable to delete non-empty blob store content directory in bucket", "bucket", s.bucket)
		return false, nil
	}

	if err := propfile.New(s.objects, s.bucket, MetadataFilename).Remove(ctx); err != nil {
		return false, &StorageError{Op: "remove", Err: err}
	}
	if err := s.metrics.Remove(ctx, s.bucket, s.objects); err != nil {
		return false, &StorageError{Op: "remove", Err: err}
	}
	if err := s.objects.DeleteBucket(ctx, s.bucket); err != nil {
		return false, &StorageError{Op: "remove", Err: err}
	}
	s.logger.Info("Blob store removed", "bucket", s.bucket)
	return true, nil
}
